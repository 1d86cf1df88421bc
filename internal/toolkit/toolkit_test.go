package toolkit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jupyter-ai-contrib/labcmd-gateway/pkg/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type execCall struct {
	name string
	args any
}

// mockExecutor records Execute calls and answers with result/err.
type mockExecutor struct {
	mu     sync.Mutex
	calls  []execCall
	result any
	err    error
	wait   chan struct{}
}

func (m *mockExecutor) Execute(ctx context.Context, name string, args any) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, execCall{name: name, args: args})
	wait := m.wait
	m.mu.Unlock()
	if wait != nil {
		<-wait
	}
	return m.result, m.err
}

func (m *mockExecutor) Calls() []execCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]execCall(nil), m.calls...)
}

type listenerCall struct {
	schemaID string
	fn       sdk.ListenerFunc
}

// mockListener records AddListener calls.
type mockListener struct {
	calls []listenerCall
}

func (m *mockListener) AddListener(schemaID string, fn sdk.ListenerFunc) {
	m.calls = append(m.calls, listenerCall{schemaID: schemaID, fn: fn})
}

// deliver invokes the registered callback the way a listener service would.
func (m *mockListener) deliver(t *testing.T, ev sdk.Event) error {
	t.Helper()
	require.Len(t, m.calls, 1)
	return m.calls[0].fn(context.Background(), nil, m.calls[0].schemaID, ev)
}

func activate(t *testing.T, exec sdk.CommandExecutor) *mockListener {
	t.Helper()
	l := &mockListener{}
	Activate(zap.NewNop(), exec, l)
	return l
}

func TestActivateRegistersOnce(t *testing.T) {
	l := activate(t, &mockExecutor{})

	require.Len(t, l.calls, 1)
	assert.Equal(t, "https://events.jupyter.org/jupyterlab_command_toolkit/lab_command/v1", l.calls[0].schemaID)
	assert.NotNil(t, l.calls[0].fn)
}

func TestForwardRunCell(t *testing.T) {
	exec := &mockExecutor{result: "ok"}
	l := activate(t, exec)

	ev := sdk.NewEvent(SchemaID, map[string]any{
		"name": "notebook:run-cell",
		"args": map[string]any{"index": 2},
	})
	require.NoError(t, l.deliver(t, ev))

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "notebook:run-cell", calls[0].name)
	assert.Equal(t, map[string]any{"index": 2}, calls[0].args)
}

func TestForwardPassesArgsUnchanged(t *testing.T) {
	tests := []struct {
		name string
		args any
	}{
		{"object", map[string]any{"path": "a.ipynb", "options": map[string]any{"mode": nil}}},
		{"empty object", map[string]any{}},
		{"list", []any{1.0, "two"}},
		{"scalar", 3.5},
		{"null", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &mockExecutor{}
			l := activate(t, exec)

			require.NoError(t, l.deliver(t, sdk.Event{"schema_id": SchemaID, "name": "x:y", "args": tt.args}))

			calls := exec.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, "x:y", calls[0].name)
			assert.Equal(t, tt.args, calls[0].args)
		})
	}
}

func TestForwardPropagatesExecutorError(t *testing.T) {
	boom := errors.New("command not found: nope:nope")
	exec := &mockExecutor{err: boom}
	l := activate(t, exec)

	err := l.deliver(t, sdk.Event{"name": "nope:nope", "args": map[string]any{}})
	require.Error(t, err)
	assert.Same(t, boom, err)
	assert.Len(t, exec.Calls(), 1)
}

func TestForwardRejectsMalformedEvents(t *testing.T) {
	tests := []struct {
		name string
		ev   sdk.Event
	}{
		{"missing name", sdk.Event{"args": map[string]any{}}},
		{"name not a string", sdk.Event{"name": 42, "args": map[string]any{}}},
		{"empty name", sdk.Event{"name": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &mockExecutor{}
			l := activate(t, exec)

			err := l.deliver(t, tt.ev)
			require.ErrorIs(t, err, ErrInvalidCommand)
			assert.Empty(t, exec.Calls())
		})
	}
}

func TestForwardConcurrentEvents(t *testing.T) {
	exec := &mockExecutor{wait: make(chan struct{})}
	l := activate(t, exec)

	require.Len(t, l.calls, 1)
	fn := l.calls[0].fn

	errs := make(chan error, 2)
	for _, name := range []string{"a", "b"} {
		ev := sdk.Event{"name": name, "args": map[string]any{}}
		go func() { errs <- fn(context.Background(), nil, SchemaID, ev) }()
	}

	// Both forwards are in flight before either completes.
	require.Eventually(t, func() bool { return len(exec.Calls()) == 2 }, time.Second, time.Millisecond)
	close(exec.wait)
	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
	}

	var names []string
	for _, c := range exec.Calls() {
		names = append(names, c.name)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestParseCommandMissingArgs(t *testing.T) {
	req, err := ParseCommand(sdk.Event{"name": "notebook:clear-all-cell-outputs"})
	require.NoError(t, err)
	assert.Equal(t, "notebook:clear-all-cell-outputs", req.Name)
	assert.Nil(t, req.Args)
}

// fakeContext is a host context providing a fixed set of services.
type fakeContext struct {
	commands sdk.CommandExecutor
	services map[sdk.Token]any
}

func (c fakeContext) Log() *zap.Logger              { return zap.NewNop() }
func (c fakeContext) Commands() sdk.CommandExecutor { return c.commands }
func (c fakeContext) Config() map[string]any        { return nil }
func (c fakeContext) Service(token sdk.Token) (any, bool) {
	svc, ok := c.services[token]
	return svc, ok
}

func TestPluginDescriptor(t *testing.T) {
	p := Plugin()
	assert.Equal(t, "jupyterlab-commands-toolkit:plugin", p.ID)
	assert.True(t, p.AutoStart)
	assert.Equal(t, []sdk.Token{sdk.TokenEventListener}, p.Requires)

	t.Run("activate", func(t *testing.T) {
		l := &mockListener{}
		exec := &mockExecutor{}
		err := p.Activate(fakeContext{commands: exec, services: map[sdk.Token]any{sdk.TokenEventListener: l}})
		require.NoError(t, err)
		require.Len(t, l.calls, 1)
		assert.Equal(t, SchemaID, l.calls[0].schemaID)
	})

	t.Run("missing listener", func(t *testing.T) {
		err := p.Activate(fakeContext{commands: &mockExecutor{}})
		require.Error(t, err)
	})
}
