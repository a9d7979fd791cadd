package solana

import (
	"context"
	"encoding/json"
	"fmt"

	"chainpay/internal/interfaces"
	"chainpay/internal/models"
	"chainpay/internal/normalize"
	"chainpay/internal/rpc"

	"github.com/rs/zerolog"
)

var _ interfaces.ChainMonitor = (*SolanaMonitor)(nil)

// SolanaMonitor reads an account-model chain whose confirmation depth is a
// finality tier rather than a block count.
type SolanaMonitor struct {
	chain  models.Chain
	params *models.AccountParams
	set    *rpc.EndpointSet
	logger *zerolog.Logger
}

func NewSolanaMonitor(chain models.Chain, set *rpc.EndpointSet, logger *zerolog.Logger) (*SolanaMonitor, error) {
	params, ok := chain.Params.(*models.AccountParams)
	if !ok {
		return nil, fmt.Errorf("chain %s is not an account-model chain", chain.Name)
	}
	return &SolanaMonitor{chain: chain, params: params, set: set, logger: logger}, nil
}

func (s *SolanaMonitor) Chain() models.Chain {
	return s.chain
}

func (s *SolanaMonitor) GetBlockHead(ctx context.Context) (uint64, error) {
	resp, err := s.set.Call(ctx, "getSlot", nil)
	if err != nil {
		return 0, err
	}
	slot, err := normalize.SolanaSlot(resp)
	if err != nil {
		return 0, rpc.Malformed(err)
	}
	return slot, nil
}

func (s *SolanaMonitor) Balance(ctx context.Context, address string) (models.CanonicalBalance, error) {
	type answer struct{ balance, signatures json.RawMessage }
	res, _, err := rpc.First(ctx, s.set, func(ctx context.Context, ep *rpc.Endpoint) (answer, error) {
		balance, err := ep.Call(ctx, "getBalance", []any{address, balanceOpts})
		if err != nil {
			return answer{}, err
		}
		sigs, err := ep.Call(ctx, "getSignaturesForAddress", []any{address, historyOpts})
		return answer{balance, sigs}, err
	})
	if err != nil {
		return models.CanonicalBalance{}, err
	}

	bal, err := normalize.SolanaBalance(res.balance, res.signatures, s.params.Decimals)
	if err != nil {
		return bal, rpc.Malformed(err)
	}
	bal.Chain, bal.Address, bal.Asset = s.chain.Name, address, s.params.Symbol
	return bal, nil
}

func (s *SolanaMonitor) Transaction(ctx context.Context, signature string) (models.CanonicalTransaction, error) {
	type answer struct{ tx, status json.RawMessage }
	res, ep, err := rpc.First(ctx, s.set, func(ctx context.Context, ep *rpc.Endpoint) (answer, error) {
		status, err := ep.Call(ctx, "getSignatureStatuses", []any{[]string{signature}, statusOpts})
		if err != nil {
			return answer{}, err
		}
		obs, err := normalize.SolanaSignatureStatus(status)
		if err != nil {
			return answer{}, rpc.Malformed(err)
		}
		if !obs.Found {
			return answer{}, fmt.Errorf("%w: %s on %s", rpc.ErrNotIndexedYet, signature, ep.Host())
		}
		tx, err := ep.Call(ctx, "getTransaction", []any{signature, txOpts})
		return answer{tx, status}, err
	})
	if err != nil {
		return models.CanonicalTransaction{}, err
	}

	tx, err := normalize.SolanaTransaction(res.tx, res.status, s.params.Decimals)
	if err != nil {
		return tx, rpc.Malformed(err)
	}
	if tx.TxID == "" {
		tx.TxID = signature
	}
	tx.Chain = s.chain.Name

	s.logger.Debug().
		Str("chain", s.chain.Name).
		Str("txid", signature).
		Str("endpoint", ep.Host()).
		Uint64("tier", tx.Confirmations).
		Msg("Transaction found")
	return tx, nil
}

// Observe asks every endpoint for the signature status and keeps the
// highest finality tier reported.
func (s *SolanaMonitor) Observe(ctx context.Context, signature string) (models.Observation, error) {
	results := rpc.All(ctx, s.set, func(ctx context.Context, ep *rpc.Endpoint) (models.Observation, error) {
		status, err := ep.Call(ctx, "getSignatureStatuses", []any{[]string{signature}, statusOpts})
		if err != nil {
			return models.Observation{}, err
		}
		obs, err := normalize.SolanaSignatureStatus(status)
		if err != nil {
			return obs, rpc.Malformed(err)
		}
		return obs, nil
	})
	readings, err := rpc.Successes(s.chain.Name, results)
	if err != nil {
		return models.Observation{}, err
	}
	return models.Merge(readings...), nil
}
