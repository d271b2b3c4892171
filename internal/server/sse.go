package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/atelier-ai/atelier/internal/apperr"
	"github.com/atelier-ai/atelier/internal/requestid"
	"github.com/atelier-ai/atelier/internal/stream"
)

// askStream runs an ask with progress delivered as server-sent events. The
// dispatcher runs on its own context, detached from the fasthttp request
// lifetime and cancelled when the stream writer exits (disconnect) or the
// generation timeout fires.
func (s *Server) askStream(c *fiber.Ctx) error {
	p, err := s.project(c)
	if err != nil {
		return err
	}
	var req AskRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	if req.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", apperr.ErrInvalidInput)
	}

	// The fasthttp request context dies when this handler returns, before
	// the body stream writer runs. Build a fresh one for the run.
	ctx := requestid.WithContext(context.Background(), c.Locals("request_id").(string))
	var cancelRun context.CancelFunc
	if s.config.GenerationTimeout > 0 {
		ctx, cancelRun = context.WithTimeout(ctx, s.config.GenerationTimeout)
	} else {
		ctx, cancelRun = context.WithCancel(ctx)
	}

	pub := stream.NewPublisher()
	go func() {
		out, err := s.dispatcher.Ask(ctx, p, req.Prompt, pub)
		if err != nil {
			pub.Error(apperr.Kind(err), err.Error())
			return
		}
		staged := make([]string, 0, len(out.Staged))
		for _, rel := range out.Staged {
			root := p.StagingRoot
			if out.AutoPromoted {
				root = p.WriteRoot
			}
			staged = append(staged, "@"+root+"/"+rel)
		}
		pub.Done(stream.DonePayload{
			OK:              true,
			Route:           string(out.Route),
			RequireApproval: out.RequireApproval,
			Staged:          staged,
		})
	}()

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ping := s.config.StreamPingInterval
	if ping <= 0 {
		ping = 15 * time.Second
	}

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancelRun()
		defer pub.Close()
		if s.metrics != nil {
			s.metrics.ActiveStreams.Inc()
			defer s.metrics.ActiveStreams.Dec()
		}

		ticker := time.NewTicker(ping)
		defer ticker.Stop()

		for {
			ev, ok, more := pub.TryNext()
			if ok {
				if err := writeEvent(w, ev); err != nil {
					return
				}
				if ev.Kind == stream.KindDone || ev.Kind == stream.KindError {
					return
				}
				continue
			}
			if !more {
				return
			}

			select {
			case <-pub.Ready():
			case <-ticker.C:
				// Comment line keeps proxies from idling the connection out
				// and surfaces client disconnects.
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

func writeEvent(w *bufio.Writer, ev stream.Event) error {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		return err
	}
	return w.Flush()
}
