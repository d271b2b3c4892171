// Package stream carries ordered progress events for one request from the
// execution path that produces them to the transport that frames them. The
// publisher knows nothing about SSE; the HTTP layer consumes events and
// does the wire framing.
package stream

import (
	"context"
	"sync"
)

// Kind identifies a stream event type.
type Kind string

const (
	KindStatus      Kind = "status"
	KindChunk       Kind = "chunk"
	KindFileWritten Kind = "file_written"
	KindDone        Kind = "done"
	KindError       Kind = "error"
)

// Event is one ordered, typed record in a request's stream.
type Event struct {
	Kind    Kind
	Payload interface{}
}

// StatusPayload reports a pipeline stage transition.
type StatusPayload struct {
	Stage string `json:"stage"`
}

// ChunkPayload carries partial generated text; concatenation order equals
// emission order.
type ChunkPayload struct {
	Text string `json:"text"`
}

// FileWrittenPayload reports one staged file, as a project-root-relative
// mention path (e.g. "@output_pending/summary.md").
type FileWrittenPayload struct {
	Path string `json:"path"`
}

// DonePayload terminates a successful stream.
type DonePayload struct {
	OK              bool     `json:"ok"`
	Route           string   `json:"route,omitempty"`
	RequireApproval bool     `json:"require_approval"`
	Staged          []string `json:"staged,omitempty"`
}

// ErrorPayload terminates a failed stream.
type ErrorPayload struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// Emitter is the producer-side surface handed to the execution paths.
// Terminal events (done/error) are emitted by the orchestrating layer, not
// by pipelines themselves.
type Emitter interface {
	Status(stage string)
	Chunk(text string)
	FileWritten(path string)
}

type discard struct{}

func (discard) Status(string)      {}
func (discard) Chunk(string)       {}
func (discard) FileWritten(string) {}

// Discard is an Emitter that drops everything; used for non-streaming runs.
var Discard Emitter = discard{}

// Publisher buffers events in order between a producer and one consumer.
// The queue is unbounded so a slow consumer never stalls the producer, and
// no event is dropped. After a terminal event (done or error) further
// emissions are ignored.
type Publisher struct {
	mu         sync.Mutex
	queue      []Event
	notify     chan struct{}
	terminated bool // terminal event queued; producer side is finished
	closed     bool // consumer gone; drop everything
}

// NewPublisher creates an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{notify: make(chan struct{}, 1)}
}

func (p *Publisher) emit(ev Event) {
	p.mu.Lock()
	if p.terminated || p.closed {
		p.mu.Unlock()
		return
	}
	if ev.Kind == KindDone || ev.Kind == KindError {
		p.terminated = true
	}
	p.queue = append(p.queue, ev)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Status emits a status event.
func (p *Publisher) Status(stage string) {
	p.emit(Event{Kind: KindStatus, Payload: StatusPayload{Stage: stage}})
}

// Chunk emits a partial-text event.
func (p *Publisher) Chunk(text string) {
	if text == "" {
		return
	}
	p.emit(Event{Kind: KindChunk, Payload: ChunkPayload{Text: text}})
}

// FileWritten emits a staged-file notification.
func (p *Publisher) FileWritten(path string) {
	p.emit(Event{Kind: KindFileWritten, Payload: FileWrittenPayload{Path: path}})
}

// Done emits the terminal success event. Exactly one of Done or Error ends
// a stream; whichever lands first wins.
func (p *Publisher) Done(payload DonePayload) {
	p.emit(Event{Kind: KindDone, Payload: payload})
}

// Error emits the terminal failure event.
func (p *Publisher) Error(kind, message string) {
	p.emit(Event{Kind: KindError, Payload: ErrorPayload{Kind: kind, Message: message}})
}

// Next blocks until an event is available or ctx is done. It returns
// ok=false once the stream has terminated and all queued events were
// consumed, or when ctx is cancelled.
func (p *Publisher) Next(ctx context.Context) (Event, bool) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			ev := p.queue[0]
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return ev, true
		}
		finished := p.terminated || p.closed
		p.mu.Unlock()
		if finished {
			return Event{}, false
		}

		select {
		case <-p.notify:
		case <-ctx.Done():
			return Event{}, false
		}
	}
}

// TryNext returns the next queued event without blocking. more=false means
// the stream has terminated and nothing is left to consume.
func (p *Publisher) TryNext() (ev Event, ok bool, more bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 {
		ev = p.queue[0]
		p.queue = p.queue[1:]
		return ev, true, true
	}
	return Event{}, false, !(p.terminated || p.closed)
}

// Ready returns a channel that receives a signal when new events may be
// available. Pair with TryNext in select loops that also need timers.
func (p *Publisher) Ready() <-chan struct{} {
	return p.notify
}

// Close marks the consumer as gone: pending events are dropped and future
// emissions are ignored. Safe to call more than once.
func (p *Publisher) Close() {
	p.mu.Lock()
	p.closed = true
	p.queue = nil
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}
