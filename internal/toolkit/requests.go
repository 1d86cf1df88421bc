package toolkit

import "fmt"

// InsertMode controls where a document opens relative to the current area.
type InsertMode string

const (
	ModeDefault     InsertMode = ""
	ModeSplitTop    InsertMode = "split-top"
	ModeSplitLeft   InsertMode = "split-left"
	ModeSplitRight  InsertMode = "split-right"
	ModeSplitBottom InsertMode = "split-bottom"
	ModeMergeTop    InsertMode = "merge-top"
	ModeMergeLeft   InsertMode = "merge-left"
	ModeMergeRight  InsertMode = "merge-right"
	ModeMergeBottom InsertMode = "merge-bottom"
	ModeTabBefore   InsertMode = "tab-before"
	ModeTabAfter    InsertMode = "tab-after"
)

// InsertModes lists every non-default mode.
var InsertModes = []InsertMode{
	ModeSplitTop, ModeSplitLeft, ModeSplitRight, ModeSplitBottom,
	ModeMergeTop, ModeMergeLeft, ModeMergeRight, ModeMergeBottom,
	ModeTabBefore, ModeTabAfter,
}

// ParseInsertMode accepts "" and the modes in InsertModes.
func ParseInsertMode(s string) (InsertMode, error) {
	if s == "" {
		return ModeDefault, nil
	}
	for _, m := range InsertModes {
		if string(m) == s {
			return m, nil
		}
	}
	return ModeDefault, fmt.Errorf("toolkit: unknown insert mode %q", s)
}

func (m InsertMode) value() any {
	if m == ModeDefault {
		return nil
	}
	return string(m)
}

// Lab command identifiers used by the toolkit requests.
const (
	CommandOpenDocument    = "docmanager:open"
	CommandMarkdownPreview = "markdownviewer:open"
	CommandClearAllOutputs = "notebook:clear-all-cell-outputs"
	CommandNotebookDiff    = "nbdime:diff-git"
)

// OpenDocument opens path, relative to the server root, in the lab.
func OpenDocument(path string, mode InsertMode) CommandRequest {
	return CommandRequest{
		Name: CommandOpenDocument,
		Args: map[string]any{
			"path":    path,
			"options": map[string]any{"mode": mode.value()},
		},
	}
}

// OpenMarkdownPreview opens a markdown file rendered instead of as source.
func OpenMarkdownPreview(path string, mode InsertMode) CommandRequest {
	return CommandRequest{
		Name: CommandMarkdownPreview,
		Args: map[string]any{
			"path":    path,
			"options": map[string]any{"mode": mode.value()},
		},
	}
}

// ClearAllOutputs clears every cell output of the active notebook.
func ClearAllOutputs() CommandRequest {
	return CommandRequest{Name: CommandClearAllOutputs, Args: map[string]any{}}
}

// ShowNotebookDiff shows the nbdime git diff of the active notebook.
func ShowNotebookDiff() CommandRequest {
	return CommandRequest{Name: CommandNotebookDiff, Args: map[string]any{}}
}
