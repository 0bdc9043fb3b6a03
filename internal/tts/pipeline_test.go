package tts

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// controlledSynth lets tests release synthesis results in a chosen order to
// exercise out-of-order completion against FIFO ready-delivery.
type controlledSynth struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	failFor map[string]bool
}

func newControlledSynth() *controlledSynth {
	return &controlledSynth{gates: map[string]chan struct{}{}, failFor: map[string]bool{}}
}

func (s *controlledSynth) gateFor(text string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[text]
	if !ok {
		g = make(chan struct{})
		s.gates[text] = g
	}
	return g
}

func (s *controlledSynth) release(text string) {
	close(s.gateFor(text))
}

func (s *controlledSynth) failNext(text string) {
	s.mu.Lock()
	s.failFor[text] = true
	s.mu.Unlock()
}

func (s *controlledSynth) Synthesize(ctx context.Context, text string, canceled *atomic.Bool) (string, error) {
	<-s.gateFor(text)
	if canceled.Load() {
		return "", nil
	}
	s.mu.Lock()
	fail := s.failFor[text]
	s.mu.Unlock()
	if fail {
		return "", errors.New("synthesis failed")
	}
	return "/tmp/" + text + ".wav", nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTryPlayDeliversInFIFOOrderDespiteOutOfOrderCompletion(t *testing.T) {
	synth := newControlledSynth()
	p := New(synth, 3, nil)
	defer p.Close()

	p.Enqueue("first", 0)
	p.Enqueue("second", 0)

	// Complete "second" before "first".
	synth.release("second")
	time.Sleep(20 * time.Millisecond)

	var delivered []string
	p.TryPlay(true, func(path, text string) { delivered = append(delivered, text) })
	if len(delivered) != 0 {
		t.Fatalf("expected no delivery while head task is still pending, got %v", delivered)
	}

	synth.release("first")
	waitFor(t, func() bool {
		p.TryPlay(true, func(path, text string) { delivered = append(delivered, text) })
		return len(delivered) == 2
	})

	if delivered[0] != "first" || delivered[1] != "second" {
		t.Fatalf("delivered = %v, want [first second]", delivered)
	}
}

func TestCancelClearsQueueAndSuppressesDelivery(t *testing.T) {
	synth := newControlledSynth()
	p := New(synth, 3, nil)
	defer p.Close()

	p.Enqueue("a", 0)
	p.Enqueue("b", 0)

	p.Cancel()
	if p.HasQueue() {
		t.Fatal("expected HasQueue() false after Cancel()")
	}

	synth.release("a")
	synth.release("b")

	var delivered []string
	time.Sleep(20 * time.Millisecond)
	p.TryPlay(true, func(path, text string) { delivered = append(delivered, text) })
	if len(delivered) != 0 {
		t.Fatalf("expected no deliveries for canceled tasks, got %v", delivered)
	}
}

func TestFailedTaskIsIsolatedAndPipelineAdvances(t *testing.T) {
	synth := newControlledSynth()
	synth.failNext("bad")
	p := New(synth, 3, nil)
	defer p.Close()

	p.Enqueue("bad", 0)
	p.Enqueue("good", 0)

	synth.release("bad")
	synth.release("good")

	var delivered []string
	waitFor(t, func() bool {
		p.TryPlay(true, func(path, text string) { delivered = append(delivered, text) })
		return len(delivered) == 1
	})
	if delivered[0] != "good" {
		t.Fatalf("delivered = %v, want [good]", delivered)
	}
}
