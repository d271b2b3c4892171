// Package agent runs free-form requests through an LLM tool loop. The model
// gets read/list/exec/write tools scoped to one project; every write lands
// in staging. This is the fallback path for prompts the structured pipeline
// does not cover.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/atelier-ai/atelier/internal/apperr"
	"github.com/atelier-ai/atelier/internal/llm"
	"github.com/atelier-ai/atelier/internal/stream"
	"github.com/atelier-ai/atelier/internal/tool"
	"github.com/atelier-ai/atelier/internal/workspace"
)

// Result is the outcome of one agent run.
type Result struct {
	Text   string   // final assistant text
	Staged []string // write-root-relative paths staged during the run
	Turns  int      // LLM round trips used
}

// Config holds agent tuning knobs.
type Config struct {
	MaxTurns    int           // LLM round trips before giving up (0 = 8)
	ExecTimeout time.Duration // per exec tool call
}

// Agent executes prompts with a per-run tool registry.
type Agent struct {
	gen    llm.Generator
	stage  tool.StageFunc
	cfg    Config
	logger zerolog.Logger
}

// New creates an Agent. stage is how write_file persists content.
func New(gen llm.Generator, stage tool.StageFunc, cfg Config, logger zerolog.Logger) *Agent {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 8
	}
	return &Agent{
		gen:    gen,
		stage:  stage,
		cfg:    cfg,
		logger: logger.With().Str("component", "agent").Logger(),
	}
}

// systemPrompt describes the project layout and the write discipline to the
// model.
func systemPrompt(p *workspace.Project) string {
	var sb strings.Builder
	sb.WriteString("You are a document assistant working inside a single project directory.\n\n")
	sb.WriteString("Project layout:\n")
	for _, r := range p.ReadRoots {
		sb.WriteString(fmt.Sprintf("- %s/ : read-only source material\n", r))
	}
	sb.WriteString(fmt.Sprintf("- %s/ : committed outputs (read-only to you)\n", p.WriteRoot))
	sb.WriteString(fmt.Sprintf("- %s/ : your writes land here, pending human approval\n\n", p.StagingRoot))
	sb.WriteString("Rules:\n")
	sb.WriteString("- Use read_file and list_files to inspect sources before answering.\n")
	sb.WriteString(fmt.Sprintf("- To produce a file, call write_file with a path under %s/. Never write files any other way.\n", p.WriteRoot))
	sb.WriteString("- Answer in the language the user writes in.\n")

	if len(p.Aliases) > 0 {
		names := make([]string, 0, len(p.Aliases))
		for a := range p.Aliases {
			names = append(names, a)
		}
		sort.Strings(names)
		sb.WriteString("\nPath shortcuts the user may mention:\n")
		for _, a := range names {
			sb.WriteString(fmt.Sprintf("- @%s refers to %s\n", a, p.Aliases[a]))
		}
	}
	return sb.String()
}

// Run executes prompt against project p, emitting progress to sink. The
// returned error wraps the generation-failure sentinel when the model side
// fails; tool-level failures are fed back to the model instead.
func (a *Agent) Run(ctx context.Context, p *workspace.Project, prompt string, sink stream.Emitter) (*Result, error) {
	if sink == nil {
		sink = stream.Discard
	}

	reg := tool.NewRegistry()
	reg.Register(tool.NewReadTool(p, a.logger))
	reg.Register(tool.NewListTool(p))
	reg.Register(tool.NewExecTool(p, a.cfg.ExecTimeout, a.logger))
	writeTool := tool.NewWriteTool(p, a.stage, sink, a.logger)
	reg.Register(writeTool)

	log := a.logger.With().Str("project", p.ID).Logger()
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}

	for turn := 1; turn <= a.cfg.MaxTurns; turn++ {
		sink.Status("thinking")

		resp, err := a.gen.Complete(ctx, llm.Request{
			Messages:     messages,
			SystemPrompt: systemPrompt(p),
			Tools:        reg.Schemas(),
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", apperr.ErrGenerationFailure, err)
		}

		if resp.StopReason != llm.StopReasonToolUse || resp.ToolUse == nil {
			if resp.Text != "" {
				sink.Chunk(resp.Text)
			}
			log.Info().Int("turns", turn).Int("staged", len(writeTool.Staged())).Msg("agent run finished")
			return &Result{Text: resp.Text, Staged: writeTool.Staged(), Turns: turn}, nil
		}

		tu := resp.ToolUse
		sink.Status("tool:" + tu.Name)
		log.Debug().Str("tool", tu.Name).Int("turn", turn).Msg("tool call")

		output, err := reg.Execute(ctx, tu.Name, tu.Input)
		isErr := false
		if err != nil {
			// Malformed calls go back to the model as errors so it can retry.
			output = err.Error()
			isErr = true
		}

		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Text, ToolUse: tu},
			llm.ToolResultMessage(tu.ID, output, isErr),
		)
	}

	return nil, fmt.Errorf("%w: tool loop exceeded %d turns", apperr.ErrGenerationFailure, a.cfg.MaxTurns)
}
