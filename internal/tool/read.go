package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/atelier-ai/atelier/internal/llm"
	"github.com/atelier-ai/atelier/internal/workspace"
)

// readMaxBytes caps what a single read_file call returns to the model.
const readMaxBytes = 200 * 1024

// ReadTool reads files inside a project's browsable roots.
type ReadTool struct {
	project *workspace.Project
	logger  zerolog.Logger
}

// NewReadTool creates a ReadTool bound to one project.
func NewReadTool(p *workspace.Project, logger zerolog.Logger) *ReadTool {
	return &ReadTool{project: p, logger: logger.With().Str("tool", "read_file").Logger()}
}

type readInput struct {
	Path string `json:"path"`
}

func (t *ReadTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name: "read_file",
		Description: "Read a text file from the project. Path is relative to the project root, " +
			"e.g. 'input/notes.md' or 'guideline/style.md'.",
		InputSchema: MustSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]string{
					"type":        "string",
					"description": "Project-relative file path",
				},
			},
			"required": []string{"path"},
		}),
	}
}

func (t *ReadTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var inp readInput
	if err := json.Unmarshal(input, &inp); err != nil {
		return "", fmt.Errorf("read_file: unmarshal input: %w", err)
	}
	if inp.Path == "" {
		return "", fmt.Errorf("read_file: path is required")
	}

	abs, err := t.project.ResolveBrowse(inp.Path)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err), nil
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err), nil
	}
	if len(raw) > readMaxBytes {
		raw = raw[:readMaxBytes]
	}

	t.logger.Debug().Str("path", inp.Path).Int("bytes", len(raw)).Msg("file read")
	return string(raw), nil
}

// ListTool lists files under a project's browsable roots.
type ListTool struct {
	project *workspace.Project
}

// NewListTool creates a ListTool bound to one project.
func NewListTool(p *workspace.Project) *ListTool {
	return &ListTool{project: p}
}

type listInput struct {
	Path string `json:"path,omitempty"`
}

func (t *ListTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name: "list_files",
		Description: "List directory entries in the project. With no path, lists the project's " +
			"top-level directories. Directories end with '/'.",
		InputSchema: MustSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]string{
					"type":        "string",
					"description": "Project-relative directory path (optional)",
				},
			},
		}),
	}
}

func (t *ListTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var inp listInput
	if err := json.Unmarshal(input, &inp); err != nil {
		return "", fmt.Errorf("list_files: unmarshal input: %w", err)
	}

	if inp.Path == "" {
		roots := t.project.BrowseRoots()
		sort.Strings(roots)
		for i, r := range roots {
			roots[i] = r + "/"
		}
		return strings.Join(roots, "\n"), nil
	}

	abs, err := t.project.ResolveBrowse(inp.Path)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err), nil
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err), nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty)", nil
	}
	return strings.Join(names, "\n"), nil
}
