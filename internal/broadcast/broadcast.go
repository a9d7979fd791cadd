// Package broadcast builds, signs and submits transfers on EVM chains.
package broadcast

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"chainpay/internal/metrics"
	"chainpay/internal/models"
	"chainpay/internal/nonce"
	"chainpay/internal/normalize"
	"chainpay/internal/rpc"
	"chainpay/internal/validation"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultNativeGasLimit = 21000

var defaultEstimateMultiplier = decimal.RequireFromString("1.2")

// Backend is the chain access a transfer needs. Every call goes through
// the chain's endpoint set in priority order.
type Backend interface {
	NativeBalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenBalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendRawTransaction(ctx context.Context, signed []byte) (*rpc.Endpoint, error)
}

// Resolver returns the Backend for a chain.
type Resolver func(chain string) (Backend, error)

type Broadcaster struct {
	chains   models.Registry
	backends Resolver
	nonces   *nonce.Allocator
	logger   *zerolog.Logger
	metrics  metrics.Recorder
}

func New(chains models.Registry, backends Resolver, nonces *nonce.Allocator, logger *zerolog.Logger, recorder metrics.Recorder) *Broadcaster {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Broadcaster{
		chains:   chains,
		backends: backends,
		nonces:   nonces,
		logger:   logger,
		metrics:  recorder,
	}
}

// plan is a transfer with every amount resolved in minor units.
type plan struct {
	to       common.Address
	value    *big.Int
	data     []byte
	gasLimit uint64
	gasPrice *big.Int
}

// Send broadcasts req and returns the transaction hash. Balance checks run
// before a nonce is taken, so a refused transfer leaves the sender's
// sequence untouched.
func (b *Broadcaster) Send(ctx context.Context, req models.TransferRequest) (string, error) {
	start := time.Now()
	txid, err := b.send(ctx, req)

	labels := map[string]string{"chain": req.Chain, "outcome": "ok"}
	if err != nil {
		labels["outcome"] = outcome(err)
		b.metrics.IncCounter(metrics.BroadcastFailed, labels)
		b.logger.Error().
			Err(err).
			Str("chain", req.Chain).
			Str("asset", req.Asset()).
			Bool("sweep", req.Sweep).
			Msg("Transfer failed")
		return "", err
	}
	b.metrics.IncCounter(metrics.BroadcastSent, labels)
	b.metrics.ObserveLatency("broadcast", time.Since(start), labels)
	return txid, nil
}

func (b *Broadcaster) send(ctx context.Context, req models.TransferRequest) (string, error) {
	if err := validation.ValidateTransfer(req); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	chain, err := b.chains.Lookup(req.Chain)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	params, ok := chain.Params.(*models.EVMParams)
	if !ok {
		return "", fmt.Errorf("%w: %s is a %s chain", ErrUnsupportedChain, chain.Name, chain.Family())
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(req.SignerKey, "0x"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignature, err)
	}
	sender := crypto.PubkeyToAddress(key.PublicKey)

	backend, err := b.backends(chain.Name)
	if err != nil {
		return "", err
	}

	gasPrice, err := backend.GasPrice(ctx)
	if err != nil {
		return "", networkErr(chain.Name, "gas price", err)
	}
	gasPrice = applyMultiplier(gasPrice, firstNonZero(req.Gas.GasPriceMultiplier, params.GasPriceMultiplier))

	var p plan
	if req.Token != nil {
		p, err = b.planToken(ctx, backend, params, req, sender, gasPrice)
	} else {
		p, err = b.planNative(ctx, backend, params, req, sender, gasPrice)
	}
	if err != nil {
		return "", err
	}

	n, err := b.nonces.Allocate(ctx, chain.Name, sender.Hex())
	if err != nil {
		return "", err
	}

	raw, hash, err := sign(key, params.ChainID, n, p)
	if err != nil {
		return "", err
	}

	ep, err := backend.SendRawTransaction(ctx, raw)
	if err != nil {
		return "", networkErr(chain.Name, "submit", err)
	}

	b.logger.Info().
		Str("chain", chain.Name).
		Str("txid", hash).
		Str("from", sender.Hex()).
		Str("to", req.To).
		Str("asset", req.Asset()).
		Uint64("nonce", n).
		Str("gas_price", p.gasPrice.String()).
		Uint64("gas_limit", p.gasLimit).
		Str("endpoint", ep.Host()).
		Msg("Transfer submitted")
	return hash, nil
}

func (b *Broadcaster) planNative(ctx context.Context, backend Backend, params *models.EVMParams, req models.TransferRequest, sender common.Address, gasPrice *big.Int) (plan, error) {
	gasLimit := req.Gas.GasLimit
	if gasLimit == 0 {
		gasLimit = params.NativeGasLimit
	}
	if gasLimit == 0 {
		gasLimit = defaultNativeGasLimit
	}
	fee := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)

	balance, err := backend.NativeBalanceOf(ctx, sender)
	if err != nil {
		return plan{}, networkErr(req.Chain, "balance", err)
	}

	var value *big.Int
	if req.Sweep {
		value = new(big.Int).Sub(balance, fee)
		if value.Sign() <= 0 {
			return plan{}, fmt.Errorf("%w: balance %s does not cover fee %s", ErrInsufficientFunds, balance, fee)
		}
	} else {
		value = normalize.ToUnits(req.Amount, params.NativeDecimals)
		if value.Sign() <= 0 {
			return plan{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
		}
		if need := new(big.Int).Add(value, fee); need.Cmp(balance) > 0 {
			return plan{}, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, need, balance)
		}
	}

	return plan{
		to:       common.HexToAddress(req.To),
		value:    value,
		gasLimit: gasLimit,
		gasPrice: gasPrice,
	}, nil
}

func (b *Broadcaster) planToken(ctx context.Context, backend Backend, params *models.EVMParams, req models.TransferRequest, sender common.Address, gasPrice *big.Int) (plan, error) {
	contract := common.HexToAddress(req.Token.Contract)

	held, err := backend.TokenBalanceOf(ctx, contract, sender)
	if err != nil {
		return plan{}, networkErr(req.Chain, "token balance", err)
	}

	amount := held
	if !req.Sweep {
		amount = normalize.ToUnits(req.Amount, req.Token.Decimals)
		if amount.Sign() <= 0 {
			return plan{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
		}
	}
	if amount.Sign() <= 0 || amount.Cmp(held) > 0 {
		return plan{}, fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientFunds, amount, req.Token.Symbol, held)
	}

	data := normalize.EncodeTransfer(common.HexToAddress(req.To), amount)

	gasLimit := req.Gas.GasLimit
	if gasLimit == 0 {
		estimate, err := backend.EstimateGas(ctx, ethereum.CallMsg{From: sender, To: &contract, Data: data})
		if err != nil {
			return plan{}, networkErr(req.Chain, "estimate gas", err)
		}
		mult := firstNonZero(req.Gas.EstimateMultiplier, params.TokenGasMultiplier, defaultEstimateMultiplier)
		gasLimit = uint64(decimal.NewFromInt(int64(estimate)).Mul(mult).Ceil().IntPart())
	}
	fee := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)

	native, err := backend.NativeBalanceOf(ctx, sender)
	if err != nil {
		return plan{}, networkErr(req.Chain, "balance", err)
	}
	if fee.Cmp(native) > 0 {
		return plan{}, fmt.Errorf("%w: fee %s, native balance %s", ErrInsufficientGas, fee, native)
	}

	return plan{
		to:       contract,
		value:    new(big.Int),
		data:     data,
		gasLimit: gasLimit,
		gasPrice: gasPrice,
	}, nil
}

// sign builds a legacy transaction with replay protection for chainID.
func sign(key *ecdsa.PrivateKey, chainID int64, n uint64, p plan) ([]byte, string, error) {
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    n,
		GasPrice: p.gasPrice,
		Gas:      p.gasLimit,
		To:       &p.to,
		Value:    p.value,
		Data:     p.data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(chainID)), key)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSignature, err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, "", fmt.Errorf("%w: encode: %v", ErrSignature, err)
	}
	return raw, signed.Hash().Hex(), nil
}

func applyMultiplier(v *big.Int, mult decimal.Decimal) *big.Int {
	if mult.IsZero() || mult.Equal(decimal.NewFromInt(1)) {
		return v
	}
	return decimal.NewFromBigInt(v, 0).Mul(mult).Truncate(0).BigInt()
}

func firstNonZero(ds ...decimal.Decimal) decimal.Decimal {
	for _, d := range ds {
		if !d.IsZero() {
			return d
		}
	}
	return decimal.Zero
}

func outcome(err error) string {
	for _, kind := range []struct {
		err  error
		name string
	}{
		{ErrInsufficientFunds, "insufficient_funds"},
		{ErrInsufficientGas, "insufficient_gas"},
		{ErrNoWorkingEndpoint, "no_endpoint"},
		{ErrSignature, "signature"},
		{ErrInvalidRequest, "invalid"},
		{ErrUnsupportedChain, "unsupported"},
		{nonce.ErrNonceQueryFailed, "nonce"},
		{rpc.ErrRejected, "rejected"},
	} {
		if errors.Is(err, kind.err) {
			return kind.name
		}
	}
	return "error"
}
