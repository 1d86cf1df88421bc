package mcptools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/toolkit"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emission struct {
	delay    time.Duration
	schemaID string
	data     map[string]any
}

// fakeEmitter records emissions instead of scheduling them.
type fakeEmitter struct {
	mu        sync.Mutex
	emissions []emission
}

func (f *fakeEmitter) EmitAfter(_ context.Context, delay time.Duration, schemaID string, data map[string]any) (func() bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emissions = append(f.emissions, emission{delay: delay, schemaID: schemaID, data: data})
	return func() bool { return false }, nil
}

func (f *fakeEmitter) Emissions() []emission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emission(nil), f.emissions...)
}

func connect(t *testing.T, emitter Emitter) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	server := NewServer(emitter, 100*time.Millisecond, zap.NewNop())

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func decode[T any](t *testing.T, v any) T {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestListTools(t *testing.T) {
	session := connect(t, &fakeEmitter{})

	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		if strings.HasSuffix(tool.Name, "_notebook") {
			assert.Contains(t, tool.Description, "run is false", tool.Name)
		}
	}
	assert.ElementsMatch(t, []string{
		"open_document",
		"open_markdown_file_in_preview_mode",
		"clear_all_outputs_in_notebook",
		"show_diff_of_current_notebook",
	}, names)
}

func TestToolsEmitLabCommands(t *testing.T) {
	tests := []struct {
		tool string
		args map[string]any
		want map[string]any
	}{
		{
			tool: "open_document",
			args: map[string]any{"relative_path": "notebook.ipynb"},
			want: map[string]any{
				"name": "docmanager:open",
				"args": map[string]any{"path": "notebook.ipynb", "options": map[string]any{"mode": nil}},
			},
		},
		{
			tool: "open_document",
			args: map[string]any{"relative_path": "script.py", "mode": "split-right"},
			want: map[string]any{
				"name": "docmanager:open",
				"args": map[string]any{"path": "script.py", "options": map[string]any{"mode": "split-right"}},
			},
		},
		{
			tool: "open_markdown_file_in_preview_mode",
			args: map[string]any{"relative_path": "README.md", "mode": "tab-after"},
			want: map[string]any{
				"name": "markdownviewer:open",
				"args": map[string]any{"path": "README.md", "options": map[string]any{"mode": "tab-after"}},
			},
		},
		{
			tool: "clear_all_outputs_in_notebook",
			args: map[string]any{"run": true},
			want: map[string]any{"name": "notebook:clear-all-cell-outputs", "args": map[string]any{}},
		},
		{
			tool: "show_diff_of_current_notebook",
			args: map[string]any{"run": true},
			want: map[string]any{"name": "nbdime:diff-git", "args": map[string]any{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			emitter := &fakeEmitter{}
			session := connect(t, emitter)

			res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: tt.tool, Arguments: tt.args})
			require.NoError(t, err)
			require.False(t, res.IsError, "tool error: %+v", res.Content)

			out := decode[EmitResult](t, res.StructuredContent)
			assert.Equal(t, tt.want["name"], out.Command)

			emissions := emitter.Emissions()
			require.Len(t, emissions, 1)
			assert.Equal(t, toolkit.SchemaID, emissions[0].schemaID)
			assert.Equal(t, 100*time.Millisecond, emissions[0].delay)
			assert.Equal(t, tt.want, emissions[0].data)
		})
	}
}

func TestRunFalseSkips(t *testing.T) {
	emitter := &fakeEmitter{}
	session := connect(t, emitter)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "clear_all_outputs_in_notebook",
		Arguments: map[string]any{"run": false},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.True(t, decode[EmitResult](t, res.StructuredContent).Skipped)
	assert.Empty(t, emitter.Emissions())
}

func TestInvalidModeIsToolError(t *testing.T) {
	emitter := &fakeEmitter{}
	session := connect(t, emitter)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "open_document",
		Arguments: map[string]any{"relative_path": "a.ipynb", "mode": "split-diagonal"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Empty(t, emitter.Emissions())
}
