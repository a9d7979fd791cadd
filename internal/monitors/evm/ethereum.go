package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"chainpay/internal/interfaces"
	"chainpay/internal/models"
	"chainpay/internal/normalize"
	"chainpay/internal/rpc"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
)

var (
	_ interfaces.ChainMonitor  = (*Client)(nil)
	_ interfaces.TokenBalancer = (*Client)(nil)
)

var ErrNoToken = errors.New("no tracked token configured")

// Client talks JSON-RPC to the endpoints of one EVM chain. It serves
// lookups, confirmation observation, and the broadcast and nonce queries.
type Client struct {
	chain  models.Chain
	params *models.EVMParams
	set    *rpc.EndpointSet
	logger *zerolog.Logger
}

func NewClient(chain models.Chain, set *rpc.EndpointSet, logger *zerolog.Logger) (*Client, error) {
	params, ok := chain.Params.(*models.EVMParams)
	if !ok {
		return nil, fmt.Errorf("chain %s is not an EVM chain", chain.Name)
	}
	return &Client{chain: chain, params: params, set: set, logger: logger}, nil
}

func (c *Client) Chain() models.Chain {
	return c.chain
}

func (c *Client) Params() *models.EVMParams {
	return c.params
}

func (c *Client) GetBlockHead(ctx context.Context) (uint64, error) {
	result, err := c.set.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}
	return normalize.EVMHead(result)
}

func (c *Client) Balance(ctx context.Context, address string) (models.CanonicalBalance, error) {
	type answer struct{ balance, count json.RawMessage }
	res, _, err := rpc.First(ctx, c.set, func(ctx context.Context, ep *rpc.Endpoint) (answer, error) {
		balance, err := ep.Call(ctx, "eth_getBalance", []any{address, "latest"})
		if err != nil {
			return answer{}, err
		}
		count, err := ep.Call(ctx, "eth_getTransactionCount", []any{address, "latest"})
		return answer{balance, count}, err
	})
	if err != nil {
		return models.CanonicalBalance{}, err
	}

	bal, err := normalize.EVMBalance(res.balance, res.count, c.params.NativeDecimals)
	if err != nil {
		return bal, rpc.Malformed(err)
	}
	bal.Chain, bal.Address, bal.Asset = c.chain.Name, address, c.params.NativeSymbol
	return bal, nil
}

func (c *Client) TokenBalance(ctx context.Context, address string) (models.CanonicalBalance, error) {
	if c.params.Token == nil {
		return models.CanonicalBalance{}, fmt.Errorf("%s: %w", c.chain.Name, ErrNoToken)
	}
	result, err := c.call(ctx, common.HexToAddress(c.params.Token.Contract), normalize.EncodeBalanceOf(common.HexToAddress(address)))
	if err != nil {
		return models.CanonicalBalance{}, err
	}
	bal, err := normalize.ERC20Balance(result, c.params.Token.Decimals)
	if err != nil {
		return bal, rpc.Malformed(err)
	}
	bal.Chain, bal.Address, bal.Asset = c.chain.Name, address, c.params.Token.Symbol
	return bal, nil
}

// Transaction looks the transaction up on the first endpoint that knows it.
// Receipt, transaction, block and head all come from that one endpoint.
func (c *Client) Transaction(ctx context.Context, txid string) (models.CanonicalTransaction, error) {
	payload, ep, err := rpc.First(ctx, c.set, func(ctx context.Context, ep *rpc.Endpoint) (normalize.EVMTxPayload, error) {
		p, err := c.fetch(ctx, ep, txid, true)
		if err != nil {
			return p, err
		}
		if rpc.IsNull(p.Tx) && rpc.IsNull(p.Receipt) {
			return p, fmt.Errorf("%w: %s on %s", rpc.ErrNotIndexedYet, txid, ep.Host())
		}
		return p, nil
	})
	if err != nil {
		return models.CanonicalTransaction{}, err
	}

	tx, err := normalize.EVMTransaction(payload, c.params.NativeDecimals, c.params.Token)
	if err != nil {
		return tx, rpc.Malformed(err)
	}
	if tx.TxID == "" {
		tx.TxID = txid
	}
	tx.Chain = c.chain.Name

	c.logger.Debug().
		Str("chain", c.chain.Name).
		Str("txid", txid).
		Str("endpoint", ep.Host()).
		Uint64("confirmations", tx.Confirmations).
		Msg("Transaction found")
	return tx, nil
}

// Observe asks every endpoint at once and keeps the most advanced reading,
// so a lagging endpoint cannot pull the count down.
func (c *Client) Observe(ctx context.Context, txid string) (models.Observation, error) {
	results := rpc.All(ctx, c.set, func(ctx context.Context, ep *rpc.Endpoint) (models.Observation, error) {
		p, err := c.fetch(ctx, ep, txid, false)
		if err != nil {
			return models.Observation{}, err
		}
		if rpc.IsNull(p.Tx) && rpc.IsNull(p.Receipt) {
			return models.Observation{}, nil
		}
		tx, err := normalize.EVMTransaction(p, c.params.NativeDecimals, nil)
		if err != nil {
			return models.Observation{}, rpc.Malformed(err)
		}
		return tx.Observation(), nil
	})
	readings, err := rpc.Successes(c.chain.Name, results)
	if err != nil {
		return models.Observation{}, err
	}
	return models.Merge(readings...), nil
}

// fetch reads the receipt, falling back to the raw transaction while the
// receipt is not indexed, plus the head of the same endpoint.
func (c *Client) fetch(ctx context.Context, ep *rpc.Endpoint, txid string, withDetails bool) (normalize.EVMTxPayload, error) {
	var p normalize.EVMTxPayload
	var err error

	if p.Receipt, err = ep.Call(ctx, "eth_getTransactionReceipt", []any{txid}); err != nil {
		return p, err
	}
	if withDetails || rpc.IsNull(p.Receipt) {
		if p.Tx, err = ep.Call(ctx, "eth_getTransactionByHash", []any{txid}); err != nil {
			return p, err
		}
	}
	if rpc.IsNull(p.Tx) && rpc.IsNull(p.Receipt) {
		return p, nil
	}

	raw, err := ep.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return p, err
	}
	if p.Head, err = normalize.EVMHead(raw); err != nil {
		return p, rpc.Malformed(err)
	}

	if withDetails {
		if height := blockOf(p); height != nil {
			p.Block, err = ep.Call(ctx, "eth_getBlockByNumber", []any{height.String(), false})
			if err != nil {
				return p, err
			}
		}
	}
	return p, nil
}

func blockOf(p normalize.EVMTxPayload) *hexutil.Uint64 {
	for _, raw := range []json.RawMessage{p.Receipt, p.Tx} {
		if rpc.IsNull(raw) {
			continue
		}
		var ref blockRef
		if err := json.Unmarshal(raw, &ref); err == nil && ref.BlockNumber != nil {
			return ref.BlockNumber
		}
	}
	return nil
}

func (c *Client) NativeBalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	result, err := c.set.Call(ctx, "eth_getBalance", []any{owner.Hex(), "latest"})
	if err != nil {
		return nil, err
	}
	wei, err := normalize.EVMQuantity(result)
	if err != nil {
		return nil, rpc.Malformed(err)
	}
	return wei, nil
}

func (c *Client) TokenBalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	result, err := c.call(ctx, token, normalize.EncodeBalanceOf(owner))
	if err != nil {
		return nil, err
	}
	units, err := normalize.ERC20Units(result)
	if err != nil {
		return nil, rpc.Malformed(err)
	}
	return units, nil
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	result, err := c.set.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return nil, err
	}
	price, err := normalize.EVMQuantity(result)
	if err != nil {
		return nil, rpc.Malformed(err)
	}
	return price, nil
}

// EstimateGas simulates msg. A revert comes back as an *rpc.RPCError.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	args := callArgs{From: &msg.From, To: msg.To, Data: msg.Data}
	if msg.Value != nil {
		args.Value = (*hexutil.Big)(msg.Value)
	}
	result, err := c.set.Call(ctx, "eth_estimateGas", []any{args})
	if err != nil {
		return 0, err
	}
	gas, err := normalize.EVMQuantity(result)
	if err != nil {
		return 0, rpc.Malformed(err)
	}
	return gas.Uint64(), nil
}

// PendingNonce is the chain's view of the next nonce for address, counting
// transactions still in the mempool.
func (c *Client) PendingNonce(ctx context.Context, address string) (uint64, error) {
	result, err := c.set.Call(ctx, "eth_getTransactionCount", []any{address, "pending"})
	if err != nil {
		return 0, err
	}
	n, err := normalize.EVMQuantity(result)
	if err != nil {
		return 0, rpc.Malformed(err)
	}
	return n.Uint64(), nil
}

// SendRawTransaction submits the same signed bytes to each endpoint in order
// until one accepts them. An endpoint that already has the transaction
// counts as accepting it.
func (c *Client) SendRawTransaction(ctx context.Context, signed []byte) (*rpc.Endpoint, error) {
	encoded := hexutil.Encode(signed)
	_, ep, err := rpc.First(ctx, c.set, func(ctx context.Context, ep *rpc.Endpoint) (struct{}, error) {
		_, err := ep.Call(ctx, "eth_sendRawTransaction", []any{encoded})
		var rpcErr *rpc.RPCError
		if errors.As(err, &rpcErr) && alreadyKnown(rpcErr.Message) {
			c.logger.Info().
				Str("chain", c.chain.Name).
				Str("endpoint", ep.Host()).
				Msg("Transaction already known to endpoint")
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return ep, err
}

func (c *Client) call(ctx context.Context, to common.Address, data []byte) (json.RawMessage, error) {
	return c.set.Call(ctx, "eth_call", []any{callArgs{To: &to, Data: data}, "latest"})
}

func alreadyKnown(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "already known") ||
		strings.Contains(msg, "known transaction") ||
		strings.Contains(msg, "already imported")
}
