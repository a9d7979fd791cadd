package interfaces

import (
	"context"

	"chainpay/internal/models"
)

// ChainClient answers balance and transaction lookups for one chain.
type ChainClient interface {
	Chain() models.Chain
	Balance(ctx context.Context, address string) (models.CanonicalBalance, error)
	Transaction(ctx context.Context, txid string) (models.CanonicalTransaction, error)
	GetBlockHead(ctx context.Context) (uint64, error)
}

// Observer reads the confirmation state of a transaction. A transaction no
// endpoint knows about yet is reported as an observation with Found unset,
// not as an error.
type Observer interface {
	Observe(ctx context.Context, txid string) (models.Observation, error)
}

// TokenBalancer is implemented by clients of chains with a tracked token.
type TokenBalancer interface {
	TokenBalance(ctx context.Context, address string) (models.CanonicalBalance, error)
}

// ChainMonitor is what every chain family provides.
type ChainMonitor interface {
	ChainClient
	Observer
}
