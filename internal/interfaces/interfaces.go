package interfaces

import (
	"context"
	"errors"

	"chainpay/internal/models"
)

var ErrNotFound = errors.New("watched transaction not found")

// DealStore persists watched transactions on behalf of the escrow
// application.
type DealStore interface {
	// AddTracking registers a transaction. Registering the same chain and
	// txid again returns the existing record.
	AddTracking(ctx context.Context, owner, chain, txid string, target uint64) (models.WatchedTransaction, error)
	// ListPending returns every transaction that is not failed and has not
	// been marked complete. A confirmed one is listed until MarkComplete
	// succeeds for it.
	ListPending(ctx context.Context) ([]models.WatchedTransaction, error)
	// MarkComplete archives a confirmed transaction. Calling it again for
	// the same id is a no-op.
	MarkComplete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (models.WatchedTransaction, error)
	Save(ctx context.Context, w models.WatchedTransaction) error
}
