package insights

import (
	"context"
	"sync"
	"time"
)

// Slots tracks the latest request per logical slot so that older results
// can be discarded once a newer request for the same slot has started.
type Slots struct {
	mu     sync.Mutex
	latest map[string]uint64
	next   uint64
}

// NewSlots creates an empty slot table.
func NewSlots() *Slots {
	return &Slots{latest: make(map[string]uint64)}
}

// Ticket identifies one request within a slot. The zero Ticket (no slot) is
// always current.
type Ticket struct {
	slots *Slots
	slot  string
	seq   uint64
}

// Claim registers a new request for slot and returns its ticket. Claiming
// supersedes every earlier ticket for the same slot.
func (s *Slots) Claim(slot string) Ticket {
	if slot == "" {
		return Ticket{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.latest[slot] = s.next
	return Ticket{slots: s, slot: slot, seq: s.next}
}

// Current reports whether no newer request claimed the ticket's slot.
func (t Ticket) Current() bool {
	if t.slots == nil {
		return true
	}
	t.slots.mu.Lock()
	defer t.slots.mu.Unlock()
	return t.slots.latest[t.slot] == t.seq
}

// Release forgets the slot if the ticket is still its latest claim.
func (t Ticket) Release() {
	if t.slots == nil {
		return
	}
	t.slots.mu.Lock()
	defer t.slots.mu.Unlock()
	if t.slots.latest[t.slot] == t.seq {
		delete(t.slots.latest, t.slot)
	}
}

// Len returns the number of slots with an outstanding request.
func (s *Slots) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.latest)
}

// Debounce waits delay and reports whether ticket is still current, so
// rapid-fire requests on one slot collapse onto the last one.
func Debounce(ctx context.Context, ticket Ticket, delay time.Duration) (bool, error) {
	if ticket.slots == nil || delay <= 0 {
		return ticket.Current(), nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return ticket.Current(), nil
	}
}
