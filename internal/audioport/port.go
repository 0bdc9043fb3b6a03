// Package audioport implements the boundary between the (out-of-scope)
// SIP media stack's realtime callbacks and this module's application
// threads, using the same "never block the caller, signal a worker"
// bounded-channel handoff idiom other realtime-adjacent code in this
// module uses, generalized here to a drop-oldest FIFO instead of an
// admission gate.
package audioport

import (
	"sync"

	"github.com/arch7tect/sip-gateway/internal/logging"
	"github.com/arch7tect/sip-gateway/internal/metrics"
)

// DefaultCapacity is the frame queue's fixed capacity.
const DefaultCapacity = 64

// FrameReceivedHandler processes one received PCM16 frame off the drain
// worker.
type FrameReceivedHandler func(pcm []byte)

// FrameProvider fills buf with up to len(buf) bytes of outbound PCM16 and
// returns how many bytes it filled.
type FrameProvider func(buf []byte) int

// Port is the realtime/application boundary. DeliverReceivedFrame is safe
// to call from a realtime thread: it never blocks and never invokes
// application code directly.
type Port struct {
	capacity int

	mu    sync.Mutex
	queue [][]byte

	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup

	cbMu        sync.Mutex
	onReceived  FrameReceivedHandler
	onRequested FrameProvider
}

// New creates a Port with the given queue capacity (0 uses DefaultCapacity)
// and starts its drain worker.
func New(capacity int) *Port {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Port{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	p.wg.Add(1)
	go p.drain()
	return p
}

// Close stops the drain worker and waits for it to exit.
func (p *Port) Close() {
	close(p.stop)
	p.wg.Wait()
}

// SetOnFrameReceived installs the handler invoked by the drain worker for
// each received frame. Safe to call concurrently with DeliverReceivedFrame.
func (p *Port) SetOnFrameReceived(cb FrameReceivedHandler) {
	p.cbMu.Lock()
	p.onReceived = cb
	p.cbMu.Unlock()
}

// SetOnFrameRequested installs the provider FillFrameToSend calls.
func (p *Port) SetOnFrameRequested(provider FrameProvider) {
	p.cbMu.Lock()
	p.onRequested = provider
	p.cbMu.Unlock()
}

// DeliverReceivedFrame copies pcm into an owning buffer and enqueues it.
// Called from a realtime media thread; it must never block. On overflow the
// oldest queued frame is dropped and a metric is incremented.
func (p *Port) DeliverReceivedFrame(pcm []byte) {
	owned := append([]byte(nil), pcm...)

	p.mu.Lock()
	if len(p.queue) >= p.capacity {
		p.queue = p.queue[1:]
		metrics.AudioFramesDropped.Inc()
	}
	p.queue = append(p.queue, owned)
	p.mu.Unlock()

	metrics.AudioChunks.Inc()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// FillFrameToSend calls the installed provider synchronously and zero-fills
// any bytes the provider didn't produce. Returns the number of bytes the
// provider actually filled.
func (p *Port) FillFrameToSend(buf []byte) int {
	p.cbMu.Lock()
	provider := p.onRequested
	p.cbMu.Unlock()

	if provider == nil {
		zeroFill(buf, 0)
		return 0
	}

	n := provider(buf)
	if n < 0 {
		n = 0
	}
	if n > len(buf) {
		n = len(buf)
	}
	zeroFill(buf, n)
	return n
}

func zeroFill(buf []byte, from int) {
	for i := from; i < len(buf); i++ {
		buf[i] = 0
	}
}

// QueueLen reports the current number of buffered frames, for tests and
// observability.
func (p *Port) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Port) drain() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stop:
			return
		case <-p.notify:
			p.drainAvailable()
		}
	}
}

func (p *Port) drainAvailable() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		frame := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.invokeReceived(frame)
	}
}

func (p *Port) invokeReceived(frame []byte) {
	p.cbMu.Lock()
	cb := p.onReceived
	p.cbMu.Unlock()
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Error("audio port frame handler panicked", logging.Field("error", r))
		}
	}()
	cb(frame)
}
