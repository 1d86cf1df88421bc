// Package commands is the host command registry the toolkit executes
// lab commands against.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jupyter-ai-contrib/labcmd-gateway/pkg/sdk"
	"go.uber.org/zap"
)

var (
	ErrCommandNotFound  = errors.New("commands: command not found")
	ErrDuplicateCommand = errors.New("commands: command already registered")
)

// Func runs a command with its argument object.
type Func func(ctx context.Context, args any) (any, error)

// Command is a locally registered command.
type Command struct {
	Label   string
	Caption string
	Execute Func
}

// Provider contributes commands that run elsewhere, such as a connected
// JupyterLab frontend.
type Provider interface {
	Name() string
	Commands() []string
	Execute(ctx context.Context, id string, args any) (any, error)
}

// Info describes a command known to the registry.
type Info struct {
	ID      string `json:"id"`
	Label   string `json:"label,omitempty"`
	Caption string `json:"caption,omitempty"`
	Source  string `json:"source"`
}

const sourceLocal = "gateway"

type provider struct {
	id uint64
	p  Provider
}

// Registry resolves command ids to local commands first, then to providers,
// newest provider first.
type Registry struct {
	log *zap.Logger

	mu        sync.RWMutex
	commands  map[string]Command
	providers []provider
	nextID    uint64
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{log: log, commands: make(map[string]Command)}
}

var _ sdk.CommandExecutor = (*Registry)(nil)

// AddCommand registers cmd under id. The returned func unregisters it.
func (r *Registry) AddCommand(id string, cmd Command) (remove func(), err error) {
	if id == "" || cmd.Execute == nil {
		return nil, fmt.Errorf("commands: command %q needs an id and an Execute func", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commands[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCommand, id)
	}
	r.commands[id] = cmd
	r.log.Debug("command added", zap.String("command", id))

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.commands, id)
			r.mu.Unlock()
		})
	}, nil
}

// AddProvider adds p to the lookup chain until the returned func is called.
func (r *Registry) AddProvider(p Provider) (remove func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.providers = append(r.providers, provider{id: id, p: p})
	r.mu.Unlock()
	r.log.Info("command provider added", zap.String("provider", p.Name()))

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			for i, e := range r.providers {
				if e.id == id {
					r.providers = append(r.providers[:i:i], r.providers[i+1:]...)
					break
				}
			}
			r.mu.Unlock()
			r.log.Info("command provider removed", zap.String("provider", p.Name()))
		})
	}
}

// HasCommand reports whether id resolves to a command.
func (r *Registry) HasCommand(id string) bool {
	_, _, ok := r.resolve(id)
	return ok
}

// List returns every resolvable command sorted by id. A provider command
// shadowed by a local one or a newer provider is listed once.
func (r *Registry) List() []Info {
	r.mu.RLock()
	seen := make(map[string]bool)
	var out []Info
	for id, cmd := range r.commands {
		seen[id] = true
		out = append(out, Info{ID: id, Label: cmd.Label, Caption: cmd.Caption, Source: sourceLocal})
	}
	for i := len(r.providers) - 1; i >= 0; i-- {
		p := r.providers[i].p
		for _, id := range p.Commands() {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, Info{ID: id, Source: p.Name()})
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) resolve(id string) (Func, Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cmd, ok := r.commands[id]; ok {
		return cmd.Execute, nil, true
	}
	for i := len(r.providers) - 1; i >= 0; i-- {
		p := r.providers[i].p
		for _, c := range p.Commands() {
			if c == id {
				return nil, p, true
			}
		}
	}
	return nil, nil, false
}

// Execute runs the command registered under id. Errors from the command
// itself are returned unchanged.
func (r *Registry) Execute(ctx context.Context, id string, args any) (any, error) {
	fn, p, ok := r.resolve(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	r.log.Debug("executing command", zap.String("command", id))
	if p != nil {
		return p.Execute(ctx, id, args)
	}
	return fn(ctx, args)
}
