// Package dispatch orchestrates one ask: resolve mentions, route, run the
// chosen execution path, and apply the approval policy to whatever got
// staged.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/atelier-ai/atelier/internal/agent"
	"github.com/atelier-ai/atelier/internal/mention"
	"github.com/atelier-ai/atelier/internal/metrics"
	"github.com/atelier-ai/atelier/internal/pipeline"
	"github.com/atelier-ai/atelier/internal/route"
	"github.com/atelier-ai/atelier/internal/staging"
	"github.com/atelier-ai/atelier/internal/stream"
	"github.com/atelier-ai/atelier/internal/workspace"
)

// Outcome is the result of one dispatched ask.
type Outcome struct {
	Text            string         `json:"text"`
	Route           route.Decision `json:"route"`
	Staged          []string       `json:"staged"` // write-root-relative paths
	AutoPromoted    bool           `json:"auto_promoted"`
	RequireApproval bool           `json:"require_approval"`
	DurationMS      int64          `json:"duration_ms"`
}

// Dispatcher routes asks between the structured pipeline and the fallback
// agent.
type Dispatcher struct {
	pipe            *pipeline.Pipeline
	agent           *agent.Agent
	staging         *staging.Store
	metrics         *metrics.Metrics
	requireApproval bool
	logger          zerolog.Logger
}

// New creates a Dispatcher. With requireApproval false, staged files are
// promoted immediately after a successful run; the write still passes
// through staging so promotion stays the only path into committed output.
func New(pipe *pipeline.Pipeline, ag *agent.Agent, st *staging.Store, m *metrics.Metrics, requireApproval bool, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		pipe:            pipe,
		agent:           ag,
		staging:         st,
		metrics:         m,
		requireApproval: requireApproval,
		logger:          logger.With().Str("component", "dispatch").Logger(),
	}
}

// Ask runs one prompt against a project. sink may be nil for non-streaming
// calls. Terminal stream events are the caller's responsibility.
func (d *Dispatcher) Ask(ctx context.Context, p *workspace.Project, prompt string, sink stream.Emitter) (*Outcome, error) {
	if sink == nil {
		sink = stream.Discard
	}
	start := time.Now()

	expanded, mentions := mention.Resolve(prompt, p)
	routing := route.Decide(expanded, mentions)

	log := d.logger.With().Str("project", p.ID).Str("route", string(routing.Decision)).Logger()
	log.Info().Int("mentions", len(mentions)).Msg("ask dispatched")
	sink.Status("route:" + string(routing.Decision))

	var (
		text   string
		staged []string
		err    error
	)
	switch routing.Decision {
	case route.Structured:
		var res *pipeline.Result
		res, err = d.pipe.Run(ctx, p, expanded, routing, sink)
		if res != nil {
			text, staged = res.Text, res.Staged
		}
	default:
		var res *agent.Result
		res, err = d.agent.Run(ctx, p, expanded, sink)
		if res != nil {
			text, staged = res.Text, res.Staged
		}
	}

	if d.metrics != nil {
		status := "completed"
		if err != nil {
			status = "error"
		}
		d.metrics.RecordRequest(string(routing.Decision), status)
		d.metrics.ObserveGeneration(string(routing.Decision), time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Text:            text,
		Route:           routing.Decision,
		Staged:          staged,
		RequireApproval: d.requireApproval && len(staged) > 0,
	}

	if !d.requireApproval && len(staged) > 0 {
		sink.Status("promoting")
		for _, rel := range staged {
			if perr := d.staging.Promote(ctx, p, rel, true); perr != nil {
				// A failed auto-promote leaves the file staged; report the
				// run as approval-pending rather than failing it.
				log.Error().Err(perr).Str("path", rel).Msg("auto-promote failed")
				out.RequireApproval = true
				out.DurationMS = time.Since(start).Milliseconds()
				return out, nil
			}
		}
		out.AutoPromoted = true
	}
	out.DurationMS = time.Since(start).Milliseconds()

	log.Info().
		Dur("elapsed", time.Since(start)).
		Int("staged", len(staged)).
		Bool("auto_promoted", out.AutoPromoted).
		Msg("ask finished")
	return out, nil
}
