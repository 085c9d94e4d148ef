package notify

import (
	"context"
	"sync"
)

const defaultFeedSize = 100

// Feed is the local notification history shown to the monitored person,
// bounded to the most recent entries.
type Feed struct {
	mu      sync.RWMutex
	size    int
	entries []Message // oldest first
}

// NewFeed returns a feed keeping at most size entries. size <= 0 uses the
// default of 100.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = defaultFeedSize
	}
	return &Feed{size: size}
}

// Show implements LocalChannel.
func (f *Feed) Show(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, msg)
	if over := len(f.entries) - f.size; over > 0 {
		f.entries = append(f.entries[:0:0], f.entries[over:]...)
	}
	return nil
}

// Entries returns up to limit entries, newest first. limit <= 0 returns all.
func (f *Feed) Entries(limit int) []Message {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := len(f.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Message, 0, n)
	for i := len(f.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, f.entries[i])
	}
	return out
}

// Len returns the number of retained entries.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}
