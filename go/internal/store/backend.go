package store

import "context"

// Document is the serialized state of one room at a backend revision.
// Data is nil when the room does not exist.
type Document struct {
	Data     []byte
	Revision uint64
}

// Exists reports whether the document holds a room.
func (d Document) Exists() bool {
	return d.Data != nil
}

// Backend persists room documents and reports changes to them.
//
// Swap replaces the document only when its current revision equals
// expected and returns the new revision, or ErrConflict. Nil data deletes
// the document. Watch delivers the current document first and then later
// states; it may skip intermediate revisions but never reorders them. The
// channel is closed when ctx is done or the backend loses its feed.
type Backend interface {
	Load(ctx context.Context, roomID string) (Document, error)
	Swap(ctx context.Context, roomID string, data []byte, expected uint64) (uint64, error)
	Watch(ctx context.Context, roomID string) (<-chan Document, error)
	Close() error
}

// Feed is a one-slot document channel that keeps only the newest state.
// It supports a single producer.
type Feed struct {
	ch chan Document
}

func NewFeed() *Feed {
	return &Feed{ch: make(chan Document, 1)}
}

// C returns the receive side handed to Watch callers.
func (f *Feed) C() <-chan Document {
	return f.ch
}

// Push delivers doc, replacing an undelivered older state.
func (f *Feed) Push(doc Document) {
	for {
		select {
		case f.ch <- doc:
			return
		default:
			select {
			case <-f.ch:
			default:
			}
		}
	}
}

// Close ends the feed. The producer must not Push afterwards.
func (f *Feed) Close() {
	close(f.ch)
}
