package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/atelier-ai/atelier/internal/llm"
	"github.com/atelier-ai/atelier/internal/workspace"
)

// ExecTool executes shell commands with the staging root as working
// directory, so relative-path side effects land in staging rather than the
// committed tree. The model cannot pick another cwd; file writes still go
// through write_file.
type ExecTool struct {
	project *workspace.Project
	timeout time.Duration
	logger  zerolog.Logger
}

// NewExecTool creates an ExecTool. timeout 0 means a 30s default.
func NewExecTool(p *workspace.Project, timeout time.Duration, logger zerolog.Logger) *ExecTool {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ExecTool{
		project: p,
		timeout: timeout,
		logger:  logger.With().Str("tool", "exec").Logger(),
	}
}

type execInput struct {
	Command string `json:"command"`
}

func (t *ExecTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Name: "exec",
		Description: "Execute a shell command inside the staging directory and return stdout+stderr. " +
			"Project files are reachable at ../<dir>, e.g. ../input. Use for inspecting files " +
			"(wc, grep, head). Do not write output files with it; use write_file.",
		InputSchema: MustSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command": map[string]string{
					"type":        "string",
					"description": "Shell command to execute (passed to /bin/sh -c)",
				},
			},
			"required": []string{"command"},
		}),
	}
}

func (t *ExecTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var inp execInput
	if err := json.Unmarshal(input, &inp); err != nil {
		return "", fmt.Errorf("exec: unmarshal input: %w", err)
	}
	if inp.Command == "" {
		return "", fmt.Errorf("exec: command is required")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", inp.Command)
	cmd.Dir = t.project.AbsStagingRoot()

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	t.logger.Debug().Str("command", inp.Command).Msg("exec tool")

	err := cmd.Run()
	output := strings.TrimSpace(buf.String())

	if err != nil {
		// The agent needs to see stderr, so failures come back as text.
		return fmt.Sprintf("ERROR: %v\n%s", err, output), nil
	}
	return output, nil
}
