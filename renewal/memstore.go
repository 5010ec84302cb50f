package renewal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-process Store and EventStore used by tests and
// local development. It honors the same compare-and-set transition
// semantics as the database-backed store.
type MemStore struct {
	mu       sync.Mutex
	renewals map[uuid.UUID]*Renewal
	events   map[uuid.UUID][]Event

	now func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		renewals: map[uuid.UUID]*Renewal{},
		events:   map[uuid.UUID][]Event{},
		now:      time.Now,
	}
}

func (s *MemStore) Create(_ context.Context, r *Renewal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.renewals[r.ID]; ok {
		return fmt.Errorf("%w: renewal %s already exists", ErrConflict, r.ID)
	}

	now := s.now().UTC()
	cp := *r
	cp.Status = StatusCreated
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.renewals[r.ID] = &cp
	*r = cp
	return nil
}

func (s *MemStore) Get(_ context.Context, id uuid.UUID) (*Renewal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.renewals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (s *MemStore) Transition(_ context.Context, id uuid.UUID, expected Status, docPath string) (*Renewal, error) {
	next, ok := expected.Next()
	if !ok {
		return nil, fmt.Errorf("%w: no transition out of %s", ErrConflict, expected)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, found := s.renewals[id]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if r.Status != expected {
		return nil, fmt.Errorf("%w: status is %s, expected %s", ErrConflict, r.Status, expected)
	}

	r.Status = next
	switch next {
	case StatusTenantSigned:
		r.TenantSignedPath = &docPath
	case StatusFullySigned:
		r.FullySignedPath = &docPath
	}
	r.UpdatedAt = s.now().UTC()

	cp := *r
	return &cp, nil
}

func (s *MemStore) Append(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
	}
	s.events[cp.RenewalID] = append(s.events[cp.RenewalID], cp)
	*e = cp
	return nil
}

func (s *MemStore) List(_ context.Context, renewalID uuid.UUID) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.events[renewalID]
	out := make([]Event, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
