package tracking

import "sync"

const defaultFeedBuffer = 16

// Feed is a push Source. Push never blocks; when the buffer is full the
// oldest pending fix is discarded.
type Feed struct {
	mu     sync.Mutex
	ch     chan Fix
	closed bool
}

func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = defaultFeedBuffer
	}
	return &Feed{ch: make(chan Fix, buffer)}
}

func (f *Feed) Fixes() <-chan Fix { return f.ch }

// Push enqueues fix and reports whether an older fix was dropped to make room.
func (f *Feed) Push(fix Fix) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false, ErrFeedClosed
	}
	dropped := false
	for {
		select {
		case f.ch <- fix:
			return dropped, nil
		default:
		}
		select {
		case <-f.ch:
			dropped = true
		default:
		}
	}
}

func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.ch)
}
