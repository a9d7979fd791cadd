package bitcoin

import (
	"context"
	"fmt"

	"chainpay/internal/models"
	"chainpay/internal/normalize"
	"chainpay/internal/rpc"
)

// provider is one explorer API shape. The endpoint's provider tag picks it.
type provider interface {
	balance(ctx context.Context, ep *rpc.Endpoint, address string, decimals int32) (models.CanonicalBalance, error)
	transaction(ctx context.Context, ep *rpc.Endpoint, txid string, decimals int32) (models.CanonicalTransaction, error)
	tip(ctx context.Context, ep *rpc.Endpoint) (uint64, error)
}

func providerFor(ep *rpc.Endpoint) (provider, error) {
	switch ep.Provider {
	case normalize.ProviderBlockcypher:
		return blockcypher{}, nil
	case normalize.ProviderEsplora, "":
		return esplora{}, nil
	default:
		return nil, fmt.Errorf("%w: %s: unknown explorer provider %q", rpc.ErrEndpointUnavailable, ep.Host(), ep.Provider)
	}
}

type blockcypher struct{}

func (blockcypher) balance(ctx context.Context, ep *rpc.Endpoint, address string, decimals int32) (models.CanonicalBalance, error) {
	body, err := ep.Get(ctx, "/addrs/"+address+"?limit=5")
	if err != nil {
		return models.CanonicalBalance{}, err
	}
	bal, err := normalize.BlockcypherBalance(body, decimals)
	if err != nil {
		return bal, rpc.Malformed(err)
	}
	return bal, nil
}

func (blockcypher) transaction(ctx context.Context, ep *rpc.Endpoint, txid string, decimals int32) (models.CanonicalTransaction, error) {
	body, err := ep.Get(ctx, "/txs/"+txid)
	if err != nil {
		return models.CanonicalTransaction{}, err
	}
	tx, err := normalize.BlockcypherTransaction(body, decimals)
	if err != nil {
		return tx, rpc.Malformed(err)
	}
	return tx, nil
}

func (blockcypher) tip(ctx context.Context, ep *rpc.Endpoint) (uint64, error) {
	body, err := ep.Get(ctx, "")
	if err != nil {
		return 0, err
	}
	tip, err := normalize.BlockcypherTip(body)
	if err != nil {
		return 0, rpc.Malformed(err)
	}
	return tip, nil
}

type esplora struct{}

func (esplora) balance(ctx context.Context, ep *rpc.Endpoint, address string, decimals int32) (models.CanonicalBalance, error) {
	body, err := ep.Get(ctx, "/address/"+address)
	if err != nil {
		return models.CanonicalBalance{}, err
	}
	bal, err := normalize.EsploraBalance(body, decimals)
	if err != nil {
		return bal, rpc.Malformed(err)
	}
	return bal, nil
}

// transaction reads the tip from the same explorer so that confirmations
// are computed against a consistent view.
func (e esplora) transaction(ctx context.Context, ep *rpc.Endpoint, txid string, decimals int32) (models.CanonicalTransaction, error) {
	body, err := ep.Get(ctx, "/tx/"+txid)
	if err != nil {
		return models.CanonicalTransaction{}, err
	}
	tip, err := e.tip(ctx, ep)
	if err != nil {
		return models.CanonicalTransaction{}, err
	}
	tx, err := normalize.EsploraTransaction(body, tip, decimals)
	if err != nil {
		return tx, rpc.Malformed(err)
	}
	return tx, nil
}

func (esplora) tip(ctx context.Context, ep *rpc.Endpoint) (uint64, error) {
	body, err := ep.Get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	tip, err := normalize.EsploraTip(body)
	if err != nil {
		return 0, rpc.Malformed(err)
	}
	return tip, nil
}
