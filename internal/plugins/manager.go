package plugins

import (
	"errors"
	"fmt"
	"os"
	"plugin"
	"sync"

	"github.com/jupyter-ai-contrib/labcmd-gateway/pkg/sdk"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	ErrDuplicatePlugin = errors.New("plugins: plugin already registered")
	ErrUnknownPlugin   = errors.New("plugins: unknown plugin")
	ErrMissingService  = errors.New("plugins: required service not provided")
)

// Manifest describes plugins.yaml.
type Manifest struct {
	Plugins []Entry `yaml:"plugins"`
}

// Entry either tunes a registered plugin (ID) or loads a Go plugin from
// Path, looking up Symbol (default "Plugin", an sdk.Plugin variable).
type Entry struct {
	ID       string         `yaml:"id"`
	Disabled bool           `yaml:"disabled"`
	Config   map[string]any `yaml:"config"`
	Path     string         `yaml:"path"`
	Symbol   string         `yaml:"symbol"`
}

type registered struct {
	plugin   sdk.Plugin
	disabled bool
	config   map[string]any
	active   bool
}

// Manager activates plugins against the host services.
type Manager struct {
	log      *zap.Logger
	commands sdk.CommandExecutor
	services map[sdk.Token]any

	mu      sync.Mutex
	plugins map[string]*registered
	order   []string
}

func NewManager(log *zap.Logger, commands sdk.CommandExecutor, services map[sdk.Token]any) *Manager {
	return &Manager{
		log:      log,
		commands: commands,
		services: services,
		plugins:  make(map[string]*registered),
	}
}

// Register adds p. It is activated by ActivateAll if AutoStart is set.
func (m *Manager) Register(p sdk.Plugin) error {
	if p.ID == "" || p.Activate == nil {
		return fmt.Errorf("plugins: plugin %q needs an id and an Activate func", p.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plugins[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, p.ID)
	}
	m.plugins[p.ID] = &registered{plugin: p}
	m.order = append(m.order, p.ID)
	return nil
}

// Activate activates id once; later calls are no-ops.
func (m *Manager) Activate(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.plugins[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}
	return m.activate(r)
}

func (m *Manager) activate(r *registered) error {
	if r.active {
		return nil
	}
	p := r.plugin
	for _, token := range p.Requires {
		if _, ok := m.services[token]; !ok {
			return fmt.Errorf("%w: %s requires %s", ErrMissingService, p.ID, token)
		}
	}

	log := m.log.With(zap.String("plugin", p.ID))
	if err := p.Activate(newPluginContext(log, m.commands, m.services, r.config)); err != nil {
		return fmt.Errorf("plugins: activate %s: %w", p.ID, err)
	}
	r.active = true
	m.log.Info("plugin activated", zap.String("id", p.ID))
	return nil
}

// ActivateAll activates every enabled AutoStart plugin in registration order.
// A failing plugin does not stop the others.
func (m *Manager) ActivateAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, id := range m.order {
		r := m.plugins[id]
		if !r.plugin.AutoStart || r.disabled {
			continue
		}
		if err := m.activate(r); err != nil {
			m.log.Error("failed to activate plugin", zap.String("id", id), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsActive reports whether id has been activated.
func (m *Manager) IsActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.plugins[id]
	return ok && r.active
}

// Active returns the ids of active plugins in registration order.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, id := range m.order {
		if m.plugins[id].active {
			out = append(out, id)
		}
	}
	return out
}

// LoadManifest applies the manifest at path. Entries that fail are logged
// and skipped.
func (m *Manager) LoadManifest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("plugins: manifest %s: %w", path, err)
	}
	for _, e := range manifest.Plugins {
		if err := m.apply(e); err != nil {
			m.log.Error("failed to load plugin", zap.String("id", e.ID), zap.String("path", e.Path), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) apply(e Entry) error {
	if e.Path != "" {
		p, err := open(e.Path, e.Symbol)
		if err != nil {
			return err
		}
		if err := m.Register(p); err != nil && !errors.Is(err, ErrDuplicatePlugin) {
			return err
		}
		if e.ID == "" {
			e.ID = p.ID
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.plugins[e.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlugin, e.ID)
	}
	if r.active && e.Disabled {
		m.log.Warn("plugin already active, disable applies after restart", zap.String("id", e.ID))
	}
	r.disabled = e.Disabled
	if e.Config != nil {
		r.config = e.Config
	}
	return nil
}

func open(path, symbol string) (sdk.Plugin, error) {
	if symbol == "" {
		symbol = "Plugin"
	}
	so, err := plugin.Open(path)
	if err != nil {
		return sdk.Plugin{}, err
	}
	sym, err := so.Lookup(symbol)
	if err != nil {
		return sdk.Plugin{}, err
	}
	p, ok := sym.(*sdk.Plugin)
	if !ok {
		return sdk.Plugin{}, fmt.Errorf("plugins: %s: symbol %s is %T, not *sdk.Plugin", path, symbol, sym)
	}
	return *p, nil
}

// Reload re-applies the manifest and activates what it newly enabled.
func (m *Manager) Reload(path string) error {
	if err := m.LoadManifest(path); err != nil {
		return err
	}
	return m.ActivateAll()
}

// Shutdown deactivates active plugins in reverse registration order.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		r := m.plugins[m.order[i]]
		if !r.active {
			continue
		}
		r.active = false
		if r.plugin.Deactivate == nil {
			continue
		}
		if err := r.plugin.Deactivate(); err != nil {
			m.log.Warn("plugin stop failed", zap.String("id", r.plugin.ID), zap.Error(err))
		}
	}
}
