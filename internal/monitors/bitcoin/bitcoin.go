package bitcoin

import (
	"context"
	"errors"
	"fmt"

	"chainpay/internal/interfaces"
	"chainpay/internal/models"
	"chainpay/internal/rpc"

	"github.com/rs/zerolog"
)

var _ interfaces.ChainMonitor = (*BitcoinMonitor)(nil)

// BitcoinMonitor reads a UTXO chain through REST explorers tried in
// priority order. Explorers report confirmations themselves, so there is no
// fan-out.
type BitcoinMonitor struct {
	chain  models.Chain
	params *models.UTXOParams
	set    *rpc.EndpointSet
	logger *zerolog.Logger
}

func NewBitcoinMonitor(chain models.Chain, set *rpc.EndpointSet, logger *zerolog.Logger) (*BitcoinMonitor, error) {
	params, ok := chain.Params.(*models.UTXOParams)
	if !ok {
		return nil, fmt.Errorf("chain %s is not a UTXO chain", chain.Name)
	}
	return &BitcoinMonitor{chain: chain, params: params, set: set, logger: logger}, nil
}

func (b *BitcoinMonitor) Chain() models.Chain {
	return b.chain
}

func (b *BitcoinMonitor) Balance(ctx context.Context, address string) (models.CanonicalBalance, error) {
	bal, _, err := rpc.First(ctx, b.set, func(ctx context.Context, ep *rpc.Endpoint) (models.CanonicalBalance, error) {
		p, err := providerFor(ep)
		if err != nil {
			return models.CanonicalBalance{}, err
		}
		return p.balance(ctx, ep, address, b.params.Decimals)
	})
	if err != nil {
		return bal, err
	}
	bal.Chain, bal.Address, bal.Asset = b.chain.Name, address, b.params.Symbol
	return bal, nil
}

func (b *BitcoinMonitor) Transaction(ctx context.Context, txid string) (models.CanonicalTransaction, error) {
	tx, ep, err := rpc.First(ctx, b.set, func(ctx context.Context, ep *rpc.Endpoint) (models.CanonicalTransaction, error) {
		p, err := providerFor(ep)
		if err != nil {
			return models.CanonicalTransaction{}, err
		}
		return p.transaction(ctx, ep, txid, b.params.Decimals)
	})
	if err != nil {
		return tx, err
	}
	if tx.TxID == "" {
		tx.TxID = txid
	}
	tx.Chain = b.chain.Name

	b.logger.Debug().
		Str("chain", b.chain.Name).
		Str("txid", txid).
		Str("endpoint", ep.Host()).
		Uint64("confirmations", tx.Confirmations).
		Msg("Transaction found")
	return tx, nil
}

// Observe reports the confirmations of the first explorer that knows the
// transaction. Not being indexed anywhere yet is a normal reading.
func (b *BitcoinMonitor) Observe(ctx context.Context, txid string) (models.Observation, error) {
	tx, err := b.Transaction(ctx, txid)
	if errors.Is(err, rpc.ErrNotIndexedYet) {
		return models.Observation{}, nil
	}
	if err != nil {
		return models.Observation{}, err
	}
	return tx.Observation(), nil
}

func (b *BitcoinMonitor) GetBlockHead(ctx context.Context) (uint64, error) {
	tip, _, err := rpc.First(ctx, b.set, func(ctx context.Context, ep *rpc.Endpoint) (uint64, error) {
		p, err := providerFor(ep)
		if err != nil {
			return 0, err
		}
		return p.tip(ctx, ep)
	})
	return tip, err
}
