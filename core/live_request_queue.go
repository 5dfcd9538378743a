package core

import (
	"context"
	"sync"
)

// LiveRequest is one item sent to a live model connection. Exactly one of
// Content, Blob or Close is expected to be set.
type LiveRequest struct {
	Content *Content
	Blob    *Blob
	Close   bool
}

// LiveRequestQueue is an unbounded FIFO mailbox between the application and
// the live flow. Sends never block; Get blocks until an item arrives. Close
// is an ordinary item, so everything sent before it is delivered first.
//
// Intended for one reader; any number of writers may send.
type LiveRequestQueue struct {
	mu     sync.Mutex
	items  []LiveRequest
	signal chan struct{}
}

// NewLiveRequestQueue creates an empty queue.
func NewLiveRequestQueue() *LiveRequestQueue {
	return &LiveRequestQueue{signal: make(chan struct{}, 1)}
}

// Send enqueues req without blocking.
func (q *LiveRequestQueue) Send(req LiveRequest) {
	q.mu.Lock()
	q.items = append(q.items, req)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// SendContent enqueues a content turn.
func (q *LiveRequestQueue) SendContent(c *Content) { q.Send(LiveRequest{Content: c}) }

// SendRealtime enqueues an audio/video frame.
func (q *LiveRequestQueue) SendRealtime(b Blob) { q.Send(LiveRequest{Blob: &b}) }

// Close enqueues the close sentinel.
func (q *LiveRequestQueue) Close() { q.Send(LiveRequest{Close: true}) }

// Get removes and returns the oldest item, waiting until one is available
// or ctx is done.
func (q *LiveRequestQueue) Get(ctx context.Context) (LiveRequest, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			req := q.items[0]
			q.items[0] = LiveRequest{}
			q.items = q.items[1:]
			q.mu.Unlock()

			return req, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return LiveRequest{}, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of queued items.
func (q *LiveRequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
