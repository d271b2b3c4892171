package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, p *Publisher) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var events []Event
	for {
		ev, ok := p.Next(ctx)
		if !ok {
			return events
		}
		events = append(events, ev)
	}
}

func TestPublisher_OrderPreserved(t *testing.T) {
	p := NewPublisher()
	p.Status("open")
	p.Chunk("hel")
	p.Chunk("lo")
	p.FileWritten("@output_pending/a.md")
	p.Done(DonePayload{OK: true})

	events := drain(t, p)
	require.Len(t, events, 5)
	assert.Equal(t, KindStatus, events[0].Kind)
	assert.Equal(t, KindChunk, events[1].Kind)
	assert.Equal(t, "hel", events[1].Payload.(ChunkPayload).Text)
	assert.Equal(t, "lo", events[2].Payload.(ChunkPayload).Text)
	assert.Equal(t, KindFileWritten, events[3].Kind)
	assert.Equal(t, KindDone, events[4].Kind)
}

func TestPublisher_TerminalIsFinal(t *testing.T) {
	p := NewPublisher()
	p.Chunk("a")
	p.Done(DonePayload{OK: true})
	// Nothing after the terminal event makes it onto the stream.
	p.Chunk("b")
	p.Status("late")
	p.Error("internal", "too late")

	events := drain(t, p)
	require.Len(t, events, 2)
	assert.Equal(t, KindChunk, events[0].Kind)
	assert.Equal(t, KindDone, events[1].Kind)
}

func TestPublisher_ErrorTerminal(t *testing.T) {
	p := NewPublisher()
	p.Status("generating")
	p.Error("generation_failure", "model unavailable")
	p.Done(DonePayload{OK: true}) // ignored

	events := drain(t, p)
	require.Len(t, events, 2)
	assert.Equal(t, KindError, events[1].Kind)
	payload := events[1].Payload.(ErrorPayload)
	assert.Equal(t, "generation_failure", payload.Kind)
	assert.Equal(t, "model unavailable", payload.Message)
}

func TestPublisher_SlowConsumerDoesNotBlockProducer(t *testing.T) {
	p := NewPublisher()

	// Producer emits far more events than any channel buffer would hold,
	// without a consumer running.
	donech := make(chan struct{})
	go func() {
		defer close(donech)
		for i := 0; i < 10000; i++ {
			p.Chunk("x")
		}
		p.Done(DonePayload{OK: true})
	}()

	select {
	case <-donech:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on slow consumer")
	}

	events := drain(t, p)
	assert.Len(t, events, 10001)
}

func TestPublisher_NextBlocksUntilEmit(t *testing.T) {
	p := NewPublisher()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		p.Status("late-arrival")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, ok := p.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, KindStatus, ev.Kind)
	wg.Wait()
}

func TestPublisher_CancelledContext(t *testing.T) {
	p := NewPublisher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := p.Next(ctx)
	assert.False(t, ok)
}

func TestPublisher_CloseDropsPending(t *testing.T) {
	p := NewPublisher()
	p.Chunk("pending")
	p.Close()
	p.Chunk("after close")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, ok := p.Next(ctx)
	assert.False(t, ok)
}

func TestTryNext(t *testing.T) {
	p := NewPublisher()

	_, got, more := p.TryNext()
	assert.False(t, got)
	assert.True(t, more)

	p.Chunk("a")
	ev, got, more := p.TryNext()
	require.True(t, got)
	assert.True(t, more)
	assert.Equal(t, KindChunk, ev.Kind)

	p.Done(DonePayload{OK: true})
	ev, got, _ = p.TryNext()
	require.True(t, got)
	assert.Equal(t, KindDone, ev.Kind)

	_, got, more = p.TryNext()
	assert.False(t, got)
	assert.False(t, more)
}

func TestDiscardEmitter(t *testing.T) {
	// Must not panic; events vanish.
	Discard.Status("s")
	Discard.Chunk("c")
	Discard.FileWritten("f")
}
