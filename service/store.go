package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AnTengye/casedesk/config"
	"github.com/AnTengye/casedesk/model"
)

// table keeps copies of the stored rows so callers never share memory with
// the store
type table[T any] struct {
	rows map[string]*T
}

func newTable[T any]() table[T] {
	return table[T]{rows: make(map[string]*T)}
}

func (t table[T]) put(id string, v *T) {
	c := *v
	t.rows[id] = &c
}

func (t table[T]) get(id string) (*T, bool) {
	v, ok := t.rows[id]
	if !ok {
		return nil, false
	}
	c := *v
	return &c, true
}

func (t table[T]) filter(keep func(*T) bool) []*T {
	var result []*T
	for _, v := range t.rows {
		if keep(v) {
			c := *v
			result = append(result, &c)
		}
	}
	return result
}

// MemoryStore is an in-memory Repository used for local runs and tests
type MemoryStore struct {
	mu            sync.RWMutex
	agreements    table[model.Agreement]
	todos         table[model.Todo]
	documents     table[model.Document]
	strategies    table[model.StrategyDocument]
	charges       table[model.Charge]
	envelopes     table[model.Envelope]
	maxAgreements int // 0 = unlimited
}

// NewMemoryStore creates an empty store. Once more than maxAgreements are
// held, the oldest completed or cancelled agreements are evicted together
// with their records.
func NewMemoryStore(maxAgreements int) *MemoryStore {
	if maxAgreements < 0 {
		maxAgreements = 0
	}
	return &MemoryStore{
		agreements:    newTable[model.Agreement](),
		todos:         newTable[model.Todo](),
		documents:     newTable[model.Document](),
		strategies:    newTable[model.StrategyDocument](),
		charges:       newTable[model.Charge](),
		envelopes:     newTable[model.Envelope](),
		maxAgreements: maxAgreements,
	}
}

// NewMemoryStoreFromConfig creates a store sized by the store config
func NewMemoryStoreFromConfig(cfg *config.StoreConfig) *MemoryStore {
	s := NewMemoryStore(cfg.MaxAgreements)
	slog.Info("memory store initialized", "max_agreements", s.maxAgreements)
	return s
}

func touch(created, updated *time.Time) {
	now := time.Now()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func (s *MemoryStore) SaveAgreement(_ context.Context, a *model.Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&a.CreatedAt, &a.UpdatedAt)
	s.agreements.put(a.ID, a)
	s.cleanupIfNeeded()
	return nil
}

func (s *MemoryStore) GetAgreement(_ context.Context, id string) (*model.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agreements.get(id)
	if !ok {
		return nil, fmt.Errorf("agreement %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (s *MemoryStore) ListAgreements(_ context.Context, filter AgreementFilter) ([]*model.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.agreements.filter(filter.match)
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) SaveTodo(_ context.Context, t *model.Todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&t.CreatedAt, &t.UpdatedAt)
	s.todos.put(t.ID, t)
	return nil
}

func (s *MemoryStore) GetTodo(_ context.Context, id string) (*model.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.todos.get(id)
	if !ok {
		return nil, fmt.Errorf("todo %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *MemoryStore) ListTodos(_ context.Context, agreementID string) ([]*model.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.todos.filter(func(t *model.Todo) bool { return t.AgreementID == agreementID })
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) SaveDocument(_ context.Context, d *model.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&d.CreatedAt, &d.UpdatedAt)
	s.documents.put(d.ID, d)
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.documents.get(id)
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return d, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, agreementID string) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.documents.filter(func(d *model.Document) bool { return d.AgreementID == agreementID })
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) SaveStrategyDocument(_ context.Context, d *model.StrategyDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&d.CreatedAt, &d.UpdatedAt)
	s.strategies.put(d.ID, d)
	return nil
}

func (s *MemoryStore) GetStrategyDocument(_ context.Context, id string) (*model.StrategyDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.strategies.get(id)
	if !ok {
		return nil, fmt.Errorf("strategy document %s: %w", id, ErrNotFound)
	}
	return d, nil
}

func (s *MemoryStore) SaveCharge(_ context.Context, c *model.Charge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&c.CreatedAt, &c.UpdatedAt)
	s.charges.put(c.ID, c)
	return nil
}

func (s *MemoryStore) GetCharge(_ context.Context, id string) (*model.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.charges.get(id)
	if !ok {
		return nil, fmt.Errorf("charge %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (s *MemoryStore) ListCharges(_ context.Context, agreementID string) ([]*model.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.charges.filter(func(c *model.Charge) bool { return c.AgreementID == agreementID })
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) FindChargeBySession(_ context.Context, sessionID string) (*model.Charge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sessionID != "" {
		for _, c := range s.charges.rows {
			if c.CheckoutSessionID == sessionID {
				found := *c
				return &found, nil
			}
		}
	}
	return nil, fmt.Errorf("charge for session %s: %w", sessionID, ErrNotFound)
}

func (s *MemoryStore) SaveEnvelope(_ context.Context, e *model.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	touch(&e.CreatedAt, &e.UpdatedAt)
	s.envelopes.put(e.ID, e)
	return nil
}

func (s *MemoryStore) GetEnvelope(_ context.Context, id string) (*model.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.envelopes.get(id)
	if !ok {
		return nil, fmt.Errorf("envelope %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// Count returns the number of agreements in the store
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agreements.rows)
}

// cleanupIfNeeded evicts the oldest terminal agreements while the store
// holds more than maxAgreements. Open cases are never evicted.
// Must be called with lock held
func (s *MemoryStore) cleanupIfNeeded() {
	if s.maxAgreements <= 0 || len(s.agreements.rows) <= s.maxAgreements {
		return
	}

	var closed []*model.Agreement
	for _, a := range s.agreements.rows {
		if a.Status.Terminal() {
			closed = append(closed, a)
		}
	}
	sort.Slice(closed, func(i, j int) bool {
		return closed[i].CreatedAt.Before(closed[j].CreatedAt)
	})

	removeCount := len(s.agreements.rows) - s.maxAgreements
	for i := 0; i < removeCount && i < len(closed); i++ {
		slog.Info("evicting closed agreement",
			"agreement_id", closed[i].ID,
			"status", closed[i].Status,
			"created_at", closed[i].CreatedAt,
		)
		s.evict(closed[i].ID)
	}
}

func (s *MemoryStore) evict(agreementID string) {
	delete(s.agreements.rows, agreementID)
	for id, t := range s.todos.rows {
		if t.AgreementID == agreementID {
			delete(s.todos.rows, id)
		}
	}
	for id, d := range s.documents.rows {
		if d.AgreementID == agreementID {
			delete(s.documents.rows, id)
		}
	}
	for id, d := range s.strategies.rows {
		if d.AgreementID == agreementID {
			delete(s.strategies.rows, id)
		}
	}
	for id, c := range s.charges.rows {
		if c.AgreementID == agreementID {
			delete(s.charges.rows, id)
		}
	}
	for id, e := range s.envelopes.rows {
		if e.AgreementID == agreementID {
			delete(s.envelopes.rows, id)
		}
	}
}
