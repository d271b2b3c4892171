// Package pipeline implements the structured generation path: read the
// mentioned inputs, apply the mentioned guidelines, generate once, stage the
// result under every mentioned output path. No tool loop, one model call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/atelier-ai/atelier/internal/apperr"
	"github.com/atelier-ai/atelier/internal/llm"
	"github.com/atelier-ai/atelier/internal/mention"
	"github.com/atelier-ai/atelier/internal/route"
	"github.com/atelier-ai/atelier/internal/stream"
	"github.com/atelier-ai/atelier/internal/tool"
	"github.com/atelier-ai/atelier/internal/workspace"
)

// Result is the outcome of one pipeline run.
type Result struct {
	Text   string   // generated document
	Staged []string // write-root-relative paths staged
}

// Pipeline is the structured generation path.
type Pipeline struct {
	gen    llm.Generator
	stage  tool.StageFunc
	logger zerolog.Logger
}

// New creates a Pipeline.
func New(gen llm.Generator, stage tool.StageFunc, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		gen:    gen,
		stage:  stage,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

const pipelineSystemPrompt = "You are a precise document writer. Produce exactly the requested " +
	"document and nothing else: no preamble, no commentary, no code fences around the whole output. " +
	"Follow the provided guidelines strictly. Write in the language of the source material unless " +
	"the request says otherwise."

// composePrompt inlines the input documents and guidelines into one user
// message.
func composePrompt(prompt string, inputs, guidelines []document) string {
	var sb strings.Builder
	sb.WriteString("Request: ")
	sb.WriteString(prompt)
	sb.WriteString("\n")

	for _, g := range guidelines {
		sb.WriteString(fmt.Sprintf("\n--- guideline: %s ---\n%s\n", g.path, g.content))
	}
	for _, in := range inputs {
		sb.WriteString(fmt.Sprintf("\n--- source: %s ---\n%s\n", in.path, in.content))
	}
	return sb.String()
}

type document struct {
	path    string // project-relative, as mentioned
	content string
}

// readMentions loads the mentioned files. required=true turns a missing
// file into the missing-input error; otherwise missing files are skipped.
func readMentions(p *workspace.Project, mentions []mention.Mention, required bool) ([]document, error) {
	docs := make([]document, 0, len(mentions))
	for _, m := range mentions {
		abs, err := p.ResolveBrowse(m.Path)
		if err != nil {
			return nil, err
		}
		raw, err := os.ReadFile(abs)
		if err != nil {
			if os.IsNotExist(err) && !required {
				continue
			}
			if os.IsNotExist(err) {
				return nil, apperr.MissingInput(m.Path)
			}
			return nil, fmt.Errorf("reading %s: %w", m.Path, err)
		}
		docs = append(docs, document{path: m.Path, content: string(raw)})
	}
	return docs, nil
}

// Run executes the structured path. Nothing is staged unless generation
// succeeds, and the identical text is staged under every mentioned output
// path. A nil sink disables token streaming.
func (pl *Pipeline) Run(ctx context.Context, p *workspace.Project, prompt string, routing route.Routing, sink stream.Emitter) (*Result, error) {
	if sink == nil {
		sink = stream.Discard
	}

	sink.Status("reading inputs")
	inputs, err := readMentions(p, routing.Inputs, true)
	if err != nil {
		return nil, err
	}
	// Guidelines are advisory; a mentioned-but-absent guideline is skipped.
	guidelines, err := readMentions(p, routing.Guidelines, false)
	if err != nil {
		return nil, err
	}

	req := llm.Request{
		SystemPrompt: pipelineSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: composePrompt(prompt, inputs, guidelines)}},
	}

	sink.Status("generating")
	text, err := pl.generate(ctx, req, sink)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrGenerationFailure, err)
	}

	sink.Status("staging")
	staged := make([]string, 0, len(routing.Outputs))
	for _, out := range routing.Outputs {
		rel := out.WriteRel()
		if err := pl.stage(ctx, p, rel, []byte(text)); err != nil {
			return nil, err
		}
		staged = append(staged, rel)
		sink.FileWritten("@" + p.StagingRoot + "/" + rel)
	}

	pl.logger.Info().
		Str("project", p.ID).
		Int("inputs", len(inputs)).
		Int("guidelines", len(guidelines)).
		Strs("staged", staged).
		Msg("pipeline run finished")
	return &Result{Text: text, Staged: staged}, nil
}

// generate runs one model call, streaming tokens to sink when the sink is
// real.
func (pl *Pipeline) generate(ctx context.Context, req llm.Request, sink stream.Emitter) (string, error) {
	if sink == stream.Discard {
		resp, err := pl.gen.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	}

	tokens := make(chan llm.Token, 64)
	if err := pl.gen.Stream(ctx, req, tokens); err != nil {
		return "", err
	}

	var sb strings.Builder
	for tok := range tokens {
		if tok.Error != nil {
			return "", tok.Error
		}
		if tok.Done {
			break
		}
		sb.WriteString(tok.Text)
		sink.Chunk(tok.Text)
	}
	return sb.String(), nil
}
