// Package mcptools exposes the commands toolkit to AI assistants as MCP
// tools. Each tool emits a lab command event; the frontend runs it.
package mcptools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/toolkit"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

const (
	serverName    = "jupyterlab_commands_toolkit"
	serverVersion = "0.1.0"
)

const instructions = `Controls the JupyterLab interface through lab commands.
Open files and notebooks with layout control (split-top, split-left, split-right, split-bottom,
merge-top, merge-left, merge-right, merge-bottom, tab-before, tab-after), open markdown files
rendered, clear notebook outputs and show nbdime git diffs. Paths are relative to the Jupyter
server root.`

// Emitter schedules lab command events.
type Emitter interface {
	EmitAfter(ctx context.Context, delay time.Duration, schemaID string, data map[string]any) (func() bool, error)
}

// NewServer returns an MCP server whose tools emit through emitter after
// delay.
func NewServer(emitter Emitter, delay time.Duration, log *zap.Logger) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, &mcp.ServerOptions{
		Instructions: instructions,
	})
	t := &tools{emitter: emitter, delay: delay, log: log}

	mcp.AddTool(s, &mcp.Tool{
		Name:        "open_document",
		Description: "Open a document in JupyterLab, optionally controlling where it is placed.",
	}, t.openDocument)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "open_markdown_file_in_preview_mode",
		Description: "Open a markdown file rendered in preview mode instead of as editable source.",
	}, t.openMarkdownPreview)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "clear_all_outputs_in_notebook",
		Description: "Clear all cell outputs in the active notebook. Sources are kept; this cannot be undone. " + skipNote,
	}, t.clearAllOutputs)
	mcp.AddTool(s, &mcp.Tool{
		Name:        "show_diff_of_current_notebook",
		Description: "Show the nbdime git diff of the active notebook against the last commit. " + skipNote,
	}, t.showNotebookDiff)
	return s
}

const skipNote = "Nothing is sent to JupyterLab when run is false."

// OpenInput is the input of the document opening tools.
type OpenInput struct {
	RelativePath string `json:"relative_path" jsonschema:"path relative to the Jupyter server root, e.g. notebook.ipynb or docs/guide.md"`
	Mode         string `json:"mode,omitempty" jsonschema:"where to open: split-top, split-left, split-right, split-bottom, merge-top, merge-left, merge-right, merge-bottom, tab-before or tab-after"`
}

// RunInput is the input of the notebook tools.
type RunInput struct {
	Run bool `json:"run" jsonschema:"run this command; false skips it"`
}

// EmitResult reports the lab command that was scheduled.
type EmitResult struct {
	Command string `json:"command" jsonschema:"lab command scheduled for the frontend"`
	Skipped bool   `json:"skipped,omitempty" jsonschema:"true when run was false and nothing was emitted"`
}

var errEmptyPath = errors.New("relative_path is required")

type tools struct {
	emitter Emitter
	delay   time.Duration
	log     *zap.Logger
}

func (t *tools) emit(ctx context.Context, req toolkit.CommandRequest) (EmitResult, error) {
	if _, err := t.emitter.EmitAfter(ctx, t.delay, toolkit.SchemaID, req.Data()); err != nil {
		return EmitResult{}, fmt.Errorf("emit %s: %w", req.Name, err)
	}
	t.log.Debug("lab command scheduled", zap.String("command", req.Name))
	return EmitResult{Command: req.Name}, nil
}

func (t *tools) open(ctx context.Context, in OpenInput, build func(string, toolkit.InsertMode) toolkit.CommandRequest) (*mcp.CallToolResult, EmitResult, error) {
	if in.RelativePath == "" {
		return nil, EmitResult{}, errEmptyPath
	}
	mode, err := toolkit.ParseInsertMode(in.Mode)
	if err != nil {
		return nil, EmitResult{}, err
	}
	out, err := t.emit(ctx, build(in.RelativePath, mode))
	return nil, out, err
}

func (t *tools) openDocument(ctx context.Context, _ *mcp.CallToolRequest, in OpenInput) (*mcp.CallToolResult, EmitResult, error) {
	return t.open(ctx, in, toolkit.OpenDocument)
}

func (t *tools) openMarkdownPreview(ctx context.Context, _ *mcp.CallToolRequest, in OpenInput) (*mcp.CallToolResult, EmitResult, error) {
	return t.open(ctx, in, toolkit.OpenMarkdownPreview)
}

func (t *tools) run(ctx context.Context, in RunInput, req toolkit.CommandRequest) (*mcp.CallToolResult, EmitResult, error) {
	if !in.Run {
		return nil, EmitResult{Command: req.Name, Skipped: true}, nil
	}
	out, err := t.emit(ctx, req)
	return nil, out, err
}

func (t *tools) clearAllOutputs(ctx context.Context, _ *mcp.CallToolRequest, in RunInput) (*mcp.CallToolResult, EmitResult, error) {
	return t.run(ctx, in, toolkit.ClearAllOutputs())
}

func (t *tools) showNotebookDiff(ctx context.Context, _ *mcp.CallToolRequest, in RunInput) (*mcp.CallToolResult, EmitResult, error) {
	return t.run(ctx, in, toolkit.ShowNotebookDiff())
}
