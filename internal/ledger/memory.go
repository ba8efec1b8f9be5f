package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Ledger for tests and local development.
type Memory struct {
	mu     sync.Mutex
	events map[string]*Event
	writes int
	now    func() time.Time
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		events: make(map[string]*Event),
		now:    time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, eventID string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[eventID]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (m *Memory) Create(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[eventID]; ok {
		return fmt.Errorf("%w: %w: %s", ErrPersistence, ErrDuplicate, eventID)
	}
	now := m.now()
	m.events[eventID] = &Event{ID: eventID, Status: StatusDone, ClaimedAt: now, CompletedAt: &now}
	m.writes++
	return nil
}

func (m *Memory) Claim(ctx context.Context, eventID string, lease time.Duration) (Claim, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if ev, ok := m.events[eventID]; ok {
		if ev.Status == StatusDone || now.Sub(ev.ClaimedAt) < lease {
			return Claim{}, false, nil
		}
	}

	c := Claim{EventID: eventID, ID: uuid.NewString()}
	m.events[eventID] = &Event{ID: eventID, Status: StatusPending, ClaimID: c.ID, ClaimedAt: now}
	m.writes++
	return c, true, nil
}

func (m *Memory) Complete(ctx context.Context, c Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[c.EventID]
	if !ok || ev.Status != StatusPending || ev.ClaimID != c.ID {
		return ErrClaimLost
	}
	now := m.now()
	ev.Status = StatusDone
	ev.CompletedAt = &now
	m.writes++
	return nil
}

func (m *Memory) Release(ctx context.Context, c Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[c.EventID]
	if !ok || ev.Status != StatusPending || ev.ClaimID != c.ID {
		return ErrClaimLost
	}
	delete(m.events, c.EventID)
	m.writes++
	return nil
}

// Writes counts every mutation applied to the ledger.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Recorded counts events in the done state.
func (m *Memory) Recorded() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, ev := range m.events {
		if ev.Status == StatusDone {
			n++
		}
	}
	return n
}
