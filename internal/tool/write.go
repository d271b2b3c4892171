package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/atelier-ai/atelier/internal/llm"
	"github.com/atelier-ai/atelier/internal/sandbox"
	"github.com/atelier-ai/atelier/internal/stream"
	"github.com/atelier-ai/atelier/internal/workspace"
)

// WriteTool stages file writes for one agent run. The model asks to write
// into the output tree; the content actually lands in staging, and the
// committed tree stays untouched until a promote.
type WriteTool struct {
	project *workspace.Project
	stage   StageFunc
	sink    stream.Emitter
	logger  zerolog.Logger

	mu     sync.Mutex
	staged []string
}

// StageFunc stages content at a write-root-relative path.
type StageFunc func(ctx context.Context, p *workspace.Project, rel string, content []byte) error

// NewWriteTool creates a WriteTool for one run. Staged paths accumulate and
// are read back with Staged after the run.
func NewWriteTool(p *workspace.Project, stage StageFunc, sink stream.Emitter, logger zerolog.Logger) *WriteTool {
	if sink == nil {
		sink = stream.Discard
	}
	return &WriteTool{
		project: p,
		stage:   stage,
		sink:    sink,
		logger:  logger.With().Str("tool", "write_file").Logger(),
	}
}

type writeInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name: "write_file",
		Description: "Write a text file into the project's output tree, e.g. '" +
			t.project.WriteRoot + "/result.md'. Writes are staged for review, not committed directly.",
		InputSchema: MustSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]string{
					"type":        "string",
					"description": "Output file path, relative to the project root",
				},
				"content": map[string]string{
					"type":        "string",
					"description": "Full file content",
				},
			},
			"required": []string{"path", "content"},
		}),
	}
}

// writeRel maps the model-supplied path onto a write-root-relative one.
// "output/x.md", "output_pending/x.md" and bare "x.md" all stage at x.md.
func (t *WriteTool) writeRel(p string) string {
	rel := sandbox.Normalize(p)
	for _, prefix := range []string{t.project.WriteRoot + "/", t.project.StagingRoot + "/"} {
		if strings.HasPrefix(rel, prefix) {
			return strings.TrimPrefix(rel, prefix)
		}
	}
	return rel
}

func (t *WriteTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var inp writeInput
	if err := json.Unmarshal(input, &inp); err != nil {
		return "", fmt.Errorf("write_file: unmarshal input: %w", err)
	}
	if inp.Path == "" {
		return "", fmt.Errorf("write_file: path is required")
	}

	rel := t.writeRel(inp.Path)
	if err := t.stage(ctx, t.project, rel, []byte(inp.Content)); err != nil {
		return fmt.Sprintf("ERROR: %v", err), nil
	}

	t.mu.Lock()
	already := false
	for _, s := range t.staged {
		if s == rel {
			already = true
			break
		}
	}
	if !already {
		t.staged = append(t.staged, rel)
	}
	t.mu.Unlock()

	mention := "@" + t.project.StagingRoot + "/" + rel
	t.sink.FileWritten(mention)
	t.logger.Info().Str("path", rel).Int("bytes", len(inp.Content)).Msg("write staged")
	return fmt.Sprintf("staged %s (%d bytes), pending approval", mention, len(inp.Content)), nil
}

// Staged returns the write-root-relative paths staged during this run, in
// first-write order.
func (t *WriteTool) Staged() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.staged))
	copy(out, t.staged)
	return out
}
