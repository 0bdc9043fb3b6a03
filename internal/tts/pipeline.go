// Package tts implements the TTS pipeline: parallel synthesis of text
// fragments with bounded concurrency, in-order ready-delivery, and
// cancellation. Follows a streaming producer/consumer pattern (a sentence
// channel feeding TTS workers, drained by a WaitGroup-guarded consumer)
// generalized into an enqueue/cancel/try_play contract with per-task
// cancellation flags instead of a single shared stop signal.
package tts

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arch7tect/sip-gateway/internal/logging"
	"github.com/arch7tect/sip-gateway/internal/metrics"
)

// MinSynthesizedBytes is a heuristic guard: any synthesized WAV shorter
// than this is treated as empty/failed and skipped, since a bare 44-byte
// RIFF header plus a couple of silence frames from a misbehaving backend
// will still be well under it.
const MinSynthesizedBytes = 364

// Synthesizer performs the actual network synthesis call for one task. It
// MUST check canceled at the start and after any network call and may
// short-circuit.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, canceled *atomic.Bool) (path string, err error)
}

// ReadyFunc is invoked by TryPlay for each ready, non-canceled task in FIFO
// order.
type ReadyFunc func(path, text string)

type task struct {
	text     string
	canceled atomic.Bool
	done     chan struct{}
	path     string
	err      error
}

// Pipeline runs bounded-concurrency TTS synthesis with in-order delivery.
type Pipeline struct {
	synth       Synthesizer
	maxInflight int
	sem         chan struct{}

	mu         sync.Mutex
	ready      []*task
	generation int

	onReady func()
	stop    chan struct{}
	wg      sync.WaitGroup
}

// DefaultMaxInflight is the default worker bound.
const DefaultMaxInflight = 3

// New creates a Pipeline. onReady, if non-nil, is invoked (from a worker
// goroutine) each time a task completes, so the caller can re-attempt
// TryPlay; it must not block.
func New(synth Synthesizer, maxInflight int, onReady func()) *Pipeline {
	if maxInflight <= 0 {
		maxInflight = DefaultMaxInflight
	}
	return &Pipeline{
		synth:       synth,
		maxInflight: maxInflight,
		sem:         make(chan struct{}, maxInflight),
		onReady:     onReady,
		stop:        make(chan struct{}),
	}
}

// Close stops any pending deferred enqueues from landing. In-flight workers
// still run to completion (their results are simply never drained if the
// caller stops calling TryPlay).
func (p *Pipeline) Close() {
	close(p.stop)
}

// Enqueue schedules text for synthesis. If delaySec > 0, the task is only
// appended to the queue after that delay elapses, so the queue order
// reflects deferred arrival time rather than call order.
func (p *Pipeline) Enqueue(text string, delaySec float64) {
	p.mu.Lock()
	gen := p.generation
	p.mu.Unlock()

	if delaySec <= 0 {
		p.appendAndDispatch(text, gen)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		timer := time.NewTimer(time.Duration(delaySec * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
			p.appendAndDispatch(text, gen)
		case <-p.stop:
		}
	}()
}

func (p *Pipeline) appendAndDispatch(text string, gen int) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	t := &task{text: text, done: make(chan struct{})}
	p.ready = append(p.ready, t)
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runWorker(t)
}

func (p *Pipeline) runWorker(t *task) {
	defer p.wg.Done()

	select {
	case p.sem <- struct{}{}:
	case <-p.stop:
		close(t.done)
		return
	}
	defer func() { <-p.sem }()

	if t.canceled.Load() {
		close(t.done)
		return
	}

	start := time.Now()
	path, err := p.synth.Synthesize(context.Background(), t.text, &t.canceled)
	metrics.StageDuration.WithLabelValues("synthesize").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Errors.WithLabelValues("synthesize", "synth_failed").Inc()
	}
	t.path = path
	t.err = err
	close(t.done)

	if p.onReady != nil {
		p.onReady()
	}
}

// Cancel marks every in-flight and pending task canceled and clears both
// queues (the pending and ready queues are unified here since both are
// represented by the same task list).
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	p.generation++
	tasks := p.ready
	p.ready = nil
	p.mu.Unlock()

	for _, t := range tasks {
		t.canceled.Store(true)
	}
}

// HasQueue reports whether any task is pending or in flight.
func (p *Pipeline) HasQueue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ready) > 0
}

// TryPlay drains ready results in FIFO order, invoking ready(path, text)
// for each non-canceled, successfully-synthesized task. Canceled or failed
// tasks are skipped (their file removed if one exists) without pausing the
// drain; draining stops only at a task whose future is not yet done, which
// preserves FIFO order with respect to enqueue.
func (p *Pipeline) TryPlay(canPlay bool, ready ReadyFunc) {
	if !canPlay {
		return
	}
	for {
		p.mu.Lock()
		if len(p.ready) == 0 {
			p.mu.Unlock()
			return
		}
		head := p.ready[0]

		select {
		case <-head.done:
			p.ready = p.ready[1:]
			p.mu.Unlock()
		default:
			p.mu.Unlock()
			return
		}

		if head.canceled.Load() {
			if head.path != "" {
				removeFile(head.path)
			}
			continue
		}
		if head.err != nil {
			logging.Warn("tts task failed, skipping", logging.Field("error", head.err))
			continue
		}
		if ready != nil {
			ready(head.path, head.text)
		}
	}
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Warn("tts failed to remove canceled task's file", logging.Field("path", path), logging.Field("error", err))
	}
}
