// Package events is the gateway's event listener service: schema-keyed
// callbacks plus a fan-out stream of every emission.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jupyter-ai-contrib/labcmd-gateway/pkg/sdk"
	"go.uber.org/zap"
)

var ErrMissingSchemaID = errors.New("events: emission has no schema_id")

// Validator checks an emission payload against its schema.
type Validator interface {
	Validate(schemaID string, data map[string]any) error
}

// ErrorHandler receives listener failures.
type ErrorHandler func(schemaID string, ev sdk.Event, err error)

type listener struct {
	id uint64
	fn sdk.ListenerFunc
}

// Manager delivers emissions to listeners registered for their schema and
// to stream subscribers.
//
// Every listener call runs in its own goroutine; the manager imposes no
// ordering between deliveries and never cancels one.
type Manager struct {
	log       *zap.Logger
	validator Validator
	onError   ErrorHandler

	mu        sync.RWMutex
	listeners map[string][]listener
	nextID    uint64

	smu  sync.RWMutex
	subs map[chan sdk.Event]struct{}

	wg sync.WaitGroup
}

type Option func(*Manager)

// WithValidator makes Emit reject payloads that v does not accept.
func WithValidator(v Validator) Option {
	return func(m *Manager) { m.validator = v }
}

// WithErrorHandler adds fn to the reporting of listener failures.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(m *Manager) { m.onError = fn }
}

func NewManager(log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		log:       log,
		listeners: make(map[string][]listener),
		subs:      make(map[chan sdk.Event]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ sdk.EventManager = (*Manager)(nil)

// AddListener registers fn for schemaID.
func (m *Manager) AddListener(schemaID string, fn sdk.ListenerFunc) {
	m.Listen(schemaID, fn)
}

// Listen registers fn for schemaID and returns a func removing it.
func (m *Manager) Listen(schemaID string, fn sdk.ListenerFunc) (remove func()) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.listeners[schemaID] = append(m.listeners[schemaID], listener{id: id, fn: fn})
	m.mu.Unlock()
	m.log.Debug("listener added", zap.String("schema_id", schemaID))

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			ls := m.listeners[schemaID]
			for i, l := range ls {
				if l.id == id {
					m.listeners[schemaID] = append(ls[:i:i], ls[i+1:]...)
					break
				}
			}
			if len(m.listeners[schemaID]) == 0 {
				delete(m.listeners, schemaID)
			}
		})
	}
}

// Listeners returns the number of listeners registered for schemaID.
func (m *Manager) Listeners(schemaID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners[schemaID])
}

// Emit validates data and delivers it. Listener failures are reported, not
// returned; the error is only about the emission itself.
func (m *Manager) Emit(ctx context.Context, schemaID string, data map[string]any) error {
	if schemaID == "" {
		return ErrMissingSchemaID
	}
	if m.validator != nil {
		if err := m.validator.Validate(schemaID, data); err != nil {
			return err
		}
	}
	m.deliver(ctx, sdk.NewEvent(schemaID, data))
	return nil
}

// Publish emits an already built emission such as one read from an upstream
// Jupyter server.
func (m *Manager) Publish(ctx context.Context, ev sdk.Event) error {
	id := ev.SchemaID()
	if id == "" {
		return ErrMissingSchemaID
	}
	return m.Emit(ctx, id, ev.Data())
}

// EmitAfter validates data now and delivers it after delay. The returned
// func cancels a delivery that has not started yet.
func (m *Manager) EmitAfter(ctx context.Context, delay time.Duration, schemaID string, data map[string]any) (cancel func() bool, err error) {
	if schemaID == "" {
		return nil, ErrMissingSchemaID
	}
	if m.validator != nil {
		if err := m.validator.Validate(schemaID, data); err != nil {
			return nil, err
		}
	}
	ev := sdk.NewEvent(schemaID, data)
	ctx = context.WithoutCancel(ctx)

	m.wg.Add(1)
	var once sync.Once
	done := func() { once.Do(m.wg.Done) }
	t := time.AfterFunc(delay, func() {
		defer done()
		m.deliver(ctx, ev)
	})
	return func() bool {
		if t.Stop() {
			done()
			return true
		}
		return false
	}, nil
}

func (m *Manager) deliver(ctx context.Context, ev sdk.Event) {
	schemaID := ev.SchemaID()
	deliveryID := uuid.NewString()

	m.smu.RLock()
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	m.smu.RUnlock()

	m.mu.RLock()
	ls := append([]listener(nil), m.listeners[schemaID]...)
	m.mu.RUnlock()

	if len(ls) == 0 {
		m.log.Debug("no listeners", zap.String("schema_id", schemaID), zap.String("delivery_id", deliveryID))
		return
	}

	// Deliveries outlive the emitter (an HTTP request, a tool call).
	ctx = context.WithoutCancel(ctx)
	m.wg.Add(len(ls))
	for _, l := range ls {
		go func(fn sdk.ListenerFunc) {
			defer m.wg.Done()
			if err := m.call(ctx, fn, schemaID, ev); err != nil {
				m.report(schemaID, deliveryID, ev, err)
			}
		}(l.fn)
	}
}

func (m *Manager) call(ctx context.Context, fn sdk.ListenerFunc, schemaID string, ev sdk.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("events: listener panic: %v", r)
		}
	}()
	return fn(ctx, m, schemaID, ev)
}

func (m *Manager) report(schemaID, deliveryID string, ev sdk.Event, err error) {
	m.log.Warn("listener failed",
		zap.String("schema_id", schemaID),
		zap.String("delivery_id", deliveryID),
		zap.Error(err))
	if m.onError != nil {
		m.onError(schemaID, ev, err)
	}
}

// Wait blocks until every delivery started so far, including pending
// delayed ones, has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Subscribe returns a channel receiving every emission. Slow subscribers
// miss emissions instead of blocking delivery.
func (m *Manager) Subscribe() chan sdk.Event {
	ch := make(chan sdk.Event, 64)
	m.smu.Lock()
	m.subs[ch] = struct{}{}
	m.smu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan sdk.Event) {
	m.smu.Lock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
	m.smu.Unlock()
}
