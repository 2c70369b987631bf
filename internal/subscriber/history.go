package subscriber

import (
	"context"
	"fmt"
	"sync"

	"github.com/gyaneshwarpardhi/fwtopo/internal/event"
)

const defaultHistoryCapacity = 256

// HistoryFactory builds "history" subscribers, which keep the most recent
// events in memory. Params: capacity (default 256).
type HistoryFactory struct{}

func (HistoryFactory) Type() string { return "history" }

func (HistoryFactory) Validate(params map[string]interface{}) error {
	_, err := historyCapacity(params)
	return err
}

func (HistoryFactory) New(name string, params map[string]interface{}) (Subscriber, error) {
	n, err := historyCapacity(params)
	if err != nil {
		return nil, err
	}
	return NewHistory(name, n), nil
}

func historyCapacity(params map[string]interface{}) (int, error) {
	n, err := intParam(params, "capacity", defaultHistoryCapacity)
	if err != nil {
		return 0, fmt.Errorf("history: %w", err)
	}
	if n < 1 {
		return 0, fmt.Errorf("history: capacity must be positive, got %d", n)
	}
	return n, nil
}

// History is a ring buffer of the latest events.
type History struct {
	name string

	mu    sync.RWMutex
	buf   []event.Event
	next  int // slot for the next event
	total int
}

// NewHistory creates a History holding up to capacity events.
func NewHistory(name string, capacity int) *History {
	return &History{name: name, buf: make([]event.Event, capacity)}
}

func (h *History) Name() string { return h.name }

func (h *History) Deliver(_ context.Context, b *event.Batch) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range b.Events {
		h.buf[h.next] = ev
		h.next = (h.next + 1) % len(h.buf)
		h.total++
	}
	return nil
}

// Recent returns up to n of the latest events, oldest first. n <= 0
// returns everything held.
func (h *History) Recent(n int) []event.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	held := min(h.total, len(h.buf))
	if n <= 0 || n > held {
		n = held
	}
	out := make([]event.Event, n)
	start := h.next - n
	if start < 0 {
		start += len(h.buf)
	}
	for i := range out {
		out[i] = h.buf[(start+i)%len(h.buf)]
	}
	return out
}

// Total is the number of events delivered so far, including ones that
// have been overwritten.
func (h *History) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}
