// Package memory is a process-local Deal Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"chainpay/internal/interfaces"
	"chainpay/internal/models"

	"github.com/google/uuid"
)

var _ interfaces.DealStore = (*Store)(nil)

type entry struct {
	w        models.WatchedTransaction
	complete bool
}

type Store struct {
	mu     sync.RWMutex
	byID   map[string]*entry
	byTxID map[string]string
}

func New() *Store {
	return &Store{
		byID:   make(map[string]*entry),
		byTxID: make(map[string]string),
	}
}

func txKey(chain, txid string) string {
	return strings.ToLower(chain) + "/" + txid
}

func (s *Store) AddTracking(_ context.Context, owner, chain, txid string, target uint64) (models.WatchedTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byTxID[txKey(chain, txid)]; ok {
		return s.byID[id].w, nil
	}

	now := time.Now().UTC()
	w := models.WatchedTransaction{
		ID:                  uuid.NewString(),
		Chain:               strings.ToLower(chain),
		TxID:                txid,
		TargetConfirmations: target,
		Status:              models.StatusPending,
		OwnerRef:            owner,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.byID[w.ID] = &entry{w: w}
	s.byTxID[txKey(chain, txid)] = w.ID
	return w, nil
}

// ListPending returns transactions still in flight plus confirmed ones not
// yet marked complete, oldest first.
func (s *Store) ListPending(context.Context) ([]models.WatchedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.WatchedTransaction
	for _, e := range s.byID {
		if !e.complete && e.w.Status != models.StatusFailed {
			out = append(out, e.w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) MarkComplete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, id)
	}
	e.complete = true
	return nil
}

func (s *Store) Get(_ context.Context, id string) (models.WatchedTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return models.WatchedTransaction{}, fmt.Errorf("%w: %s", interfaces.ErrNotFound, id)
	}
	return e.w, nil
}

func (s *Store) Save(_ context.Context, w models.WatchedTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[w.ID]
	if !ok {
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, w.ID)
	}
	e.w = w
	return nil
}
