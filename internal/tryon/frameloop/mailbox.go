package frameloop

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mailbox is a FrameSource holding at most one pending frame. Offer replaces
// a frame that has not been picked up yet, so a slow landmark source skips
// frames instead of building a backlog.
type Mailbox struct {
	mu      sync.Mutex
	pending *Frame
	notify  chan struct{}
	closed  atomic.Bool
	done    chan struct{}
	seq     uint64
	skipped atomic.Uint64
}

func NewMailbox() *Mailbox {
	return &Mailbox{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Offer stores payload as the newest frame. It reports false once the
// mailbox is closed.
func (m *Mailbox) Offer(payload any) bool {
	if m.closed.Load() {
		return false
	}
	m.mu.Lock()
	m.seq++
	if m.pending != nil {
		m.skipped.Add(1)
	}
	m.pending = &Frame{Seq: m.seq, Payload: payload}
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

func (m *Mailbox) Next(ctx context.Context) (Frame, error) {
	for {
		if m.closed.Load() {
			return Frame{}, ErrStopped
		}
		m.mu.Lock()
		if f := m.pending; f != nil {
			m.pending = nil
			m.mu.Unlock()
			return *f, nil
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-m.done:
			return Frame{}, ErrStopped
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

func (m *Mailbox) Live() bool {
	return !m.closed.Load()
}

// Close stops the source. Pending frames are dropped.
func (m *Mailbox) Close() {
	if m.closed.CompareAndSwap(false, true) {
		close(m.done)
	}
}

// Skipped counts frames replaced before they were consumed.
func (m *Mailbox) Skipped() uint64 {
	return m.skipped.Load()
}
