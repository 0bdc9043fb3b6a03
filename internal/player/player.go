// Package player implements the ordered playback queue over the (out of
// scope) SIP media sink, structurally the same FIFO-with-a-single-
// active-worker shape as internal/tts's pipeline; the actual media sink
// is modeled as a narrow interface since real RTP playback belongs to
// the SIP stack adapter.
package player

import (
	"os"
	"sync"

	"github.com/arch7tect/sip-gateway/internal/logging"
)

// Sink is the narrow capability the Smart Player needs from the SIP media
// stack: start playing a file, invoking onDone when it finishes naturally,
// and forcibly stop whatever is currently playing.
type Sink interface {
	Play(path string, onDone func()) error
	Stop()
}

// Item is a PlayerQueueItem: a file the player owns until it is consumed or
// discarded on interrupt.
type Item struct {
	Path         string
	DiscardAfter bool
}

// Player is the ordered playback queue with a single active worker.
type Player struct {
	sink Sink

	mu          sync.Mutex
	queue       []Item
	current     *Item
	active      bool
	tearingDown bool

	onEndOfStream func()
}

// New creates a Player driving sink.
func New(sink Sink) *Player {
	return &Player{sink: sink}
}

// SetEndOfStreamObserver installs the callback invoked when the queue
// drains naturally (never on interrupt).
func (p *Player) SetEndOfStreamObserver(cb func()) {
	p.mu.Lock()
	p.onEndOfStream = cb
	p.mu.Unlock()
}

// Enqueue appends an item to the FIFO. It does not start playback; call
// Play to do that.
func (p *Player) Enqueue(path string, discardAfter bool) {
	p.mu.Lock()
	p.queue = append(p.queue, Item{Path: path, DiscardAfter: discardAfter})
	p.mu.Unlock()
}

// Play starts playback of the head item if nothing is currently playing. A
// no-op if the player is already active or the queue is empty.
func (p *Player) Play() {
	p.mu.Lock()
	if p.active || p.tearingDown || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	item := p.queue[0]
	p.queue = p.queue[1:]
	p.current = &item
	p.active = true
	p.mu.Unlock()

	p.startCurrent(item)
}

func (p *Player) startCurrent(item Item) {
	if err := p.sink.Play(item.Path, p.onTerminal); err != nil {
		logging.Warn("player sink failed to start playback", logging.Field("path", item.Path), logging.Field("error", err))
		p.onTerminal()
	}
}

// onTerminal fires when the sink reports its current item finished
// naturally. Ignored if interrupt() is mid-teardown.
func (p *Player) onTerminal() {
	p.mu.Lock()
	if p.tearingDown {
		p.mu.Unlock()
		return
	}
	finished := p.current
	p.mu.Unlock()

	if finished != nil && finished.DiscardAfter {
		removeFile(finished.Path)
	}

	p.mu.Lock()
	if len(p.queue) == 0 {
		p.active = false
		p.current = nil
		observer := p.onEndOfStream
		p.mu.Unlock()
		if observer != nil {
			observer()
		}
		return
	}
	next := p.queue[0]
	p.queue = p.queue[1:]
	p.current = &next
	p.mu.Unlock()

	p.startCurrent(next)
}

// Interrupt tears down the current player, drops the rest of the queue,
// deletes discard_after files, and never invokes the end-of-stream
// observer. Re-entry while a teardown is already in progress is ignored.
func (p *Player) Interrupt() {
	p.mu.Lock()
	if p.tearingDown {
		p.mu.Unlock()
		return
	}
	if !p.active {
		p.mu.Unlock()
		return
	}
	p.tearingDown = true
	current := p.current
	rest := p.queue
	p.queue = nil
	p.mu.Unlock()

	p.sink.Stop()

	if current != nil && current.DiscardAfter {
		removeFile(current.Path)
	}
	for _, item := range rest {
		if item.DiscardAfter {
			removeFile(item.Path)
		}
	}

	p.mu.Lock()
	p.active = false
	p.current = nil
	p.tearingDown = false
	p.mu.Unlock()
}

// IsActive reports whether the player currently has an item playing.
func (p *Player) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// HasQueue reports whether items are waiting behind the current one.
func (p *Player) HasQueue() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) > 0
}

func removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Warn("player failed to remove file", logging.Field("path", path), logging.Field("error", err))
	}
}
