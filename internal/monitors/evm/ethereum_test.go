package evm

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"sync"
	"testing"

	"chainpay/internal/models"
	"chainpay/internal/normalize"
	"chainpay/internal/rpc"
	"chainpay/internal/rpc/rpctest"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const txHash = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

var ethChain = models.Chain{
	Name: "ethereum",
	Params: &models.EVMParams{
		ChainID:        1,
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
		NativeGasLimit: 21000,
		Token:          &models.Token{Symbol: "USDT", Contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
	},
	TargetConfirmations: 12,
}

func newClient(t *testing.T, urls ...string) *Client {
	t.Helper()
	cfg := rpc.SetConfig{Chain: "ethereum"}
	for _, u := range urls {
		cfg.Endpoints = append(cfg.Endpoints, rpc.EndpointConfig{URL: u})
	}
	pool, err := rpc.NewPool([]rpc.SetConfig{cfg})
	require.NoError(t, err)
	set, err := pool.Set("ethereum")
	require.NoError(t, err)

	logger := zerolog.Nop()
	c, err := NewClient(ethChain, set, &logger)
	require.NoError(t, err)
	return c
}

func receiptAt(block uint64, status uint64) map[string]any {
	return map[string]any{
		"transactionHash": txHash,
		"blockNumber":     hexutil.EncodeUint64(block),
		"status":          hexutil.EncodeUint64(status),
		"logs":            []any{},
	}
}

func TestObserve_TakesMaximumAcrossEndpoints(t *testing.T) {
	ahead := rpctest.NewNode(t)
	ahead.Result("eth_getTransactionReceipt", receiptAt(100, 1))
	ahead.Result("eth_blockNumber", hexutil.EncodeUint64(102))

	lagging := rpctest.NewNode(t)
	lagging.Result("eth_getTransactionReceipt", receiptAt(100, 1))
	lagging.Result("eth_blockNumber", hexutil.EncodeUint64(100))

	unindexed := rpctest.NewNode(t)
	unindexed.Result("eth_getTransactionReceipt", nil)
	unindexed.Result("eth_getTransactionByHash", map[string]any{"hash": txHash, "blockNumber": "0x64"})
	unindexed.Result("eth_blockNumber", hexutil.EncodeUint64(101))

	client := newClient(t, lagging.URL, rpctest.DeadURL(t), unindexed.URL, ahead.URL)

	obs, err := client.Observe(context.Background(), txHash)
	require.NoError(t, err)
	assert.True(t, obs.Found)
	assert.False(t, obs.Failed)
	assert.Equal(t, uint64(3), obs.Confirmations)
	assert.Equal(t, 1, unindexed.Calls("eth_getTransactionByHash"))
	assert.Equal(t, 0, ahead.Calls("eth_getTransactionByHash"), "receipt found, raw transaction not needed")
}

func TestObserve_RevertedReceiptIsFailed(t *testing.T) {
	node := rpctest.NewNode(t)
	node.Result("eth_getTransactionReceipt", receiptAt(100, 0))
	node.Result("eth_blockNumber", hexutil.EncodeUint64(105))

	obs, err := newClient(t, node.URL).Observe(context.Background(), txHash)
	require.NoError(t, err)
	assert.True(t, obs.Failed)
}

func TestObserve_UnknownEverywhereIsNotFound(t *testing.T) {
	a := rpctest.NewNode(t)
	a.Result("eth_getTransactionReceipt", nil)
	a.Result("eth_getTransactionByHash", nil)
	b := rpctest.NewNode(t)
	b.Result("eth_getTransactionReceipt", nil)
	b.Result("eth_getTransactionByHash", nil)

	obs, err := newClient(t, a.URL, b.URL).Observe(context.Background(), txHash)
	require.NoError(t, err)
	assert.False(t, obs.Found)
	assert.Equal(t, 0, a.Calls("eth_blockNumber"))
}

func TestObserve_AllEndpointsDown(t *testing.T) {
	down := rpctest.NewNode(t)
	down.FailWith(http.StatusServiceUnavailable)

	_, err := newClient(t, rpctest.DeadURL(t), down.URL).Observe(context.Background(), txHash)
	assert.ErrorIs(t, err, rpc.ErrEndpointsExhausted)
}

func TestTransaction_FirstEndpointThatKnowsIt(t *testing.T) {
	lagging := rpctest.NewNode(t)
	lagging.Result("eth_getTransactionReceipt", nil)
	lagging.Result("eth_getTransactionByHash", nil)

	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	synced := rpctest.NewNode(t)
	synced.Result("eth_getTransactionReceipt", receiptAt(100, 1))
	synced.Result("eth_getTransactionByHash", map[string]any{
		"hash":        txHash,
		"blockNumber": "0x64",
		"to":          to.Hex(),
		"value":       "0xde0b6b3a7640000",
	})
	synced.Result("eth_blockNumber", hexutil.EncodeUint64(111))
	synced.Handle("eth_getBlockByNumber", func(params []json.RawMessage) (any, error) {
		if assert.Len(t, params, 2) {
			assert.JSONEq(t, `"0x64"`, string(params[0]))
		}
		return map[string]any{"timestamp": "0x65f0a000"}, nil
	})

	tx, err := newClient(t, lagging.URL, synced.URL).Transaction(context.Background(), txHash)
	require.NoError(t, err)
	assert.Equal(t, "ethereum", tx.Chain)
	assert.Equal(t, uint64(12), tx.Confirmations)
	assert.Equal(t, models.TxSuccess, tx.Status)
	require.NotNil(t, tx.Timestamp)
	require.Len(t, tx.Outputs, 1)
	assert.Equal(t, to.Hex(), tx.Outputs[0].Recipient)
	assert.True(t, tx.Outputs[0].Value.Equal(decimal.NewFromInt(1)))
}

func TestTransaction_NotIndexedAnywhere(t *testing.T) {
	node := rpctest.NewNode(t)
	node.Result("eth_getTransactionReceipt", nil)
	node.Result("eth_getTransactionByHash", nil)

	_, err := newClient(t, node.URL).Transaction(context.Background(), txHash)
	assert.ErrorIs(t, err, rpc.ErrNotIndexedYet)
}

func TestTokenBalance(t *testing.T) {
	holder := "0x2222222222222222222222222222222222222222"
	node := rpctest.NewNode(t)
	node.Handle("eth_call", func(params []json.RawMessage) (any, error) {
		var args struct {
			To   common.Address `json:"to"`
			Data hexutil.Bytes  `json:"data"`
		}
		assert.NoError(t, json.Unmarshal(params[0], &args))
		assert.Equal(t, common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), args.To)
		assert.Equal(t, normalize.EncodeBalanceOf(common.HexToAddress(holder)), []byte(args.Data))
		return hexutil.Encode(common.LeftPadBytes(big.NewInt(1_000_000).Bytes(), 32)), nil
	})

	bal, err := newClient(t, node.URL).TokenBalance(context.Background(), holder)
	require.NoError(t, err)
	assert.Equal(t, "USDT", bal.Asset)
	assert.True(t, bal.Confirmed.Equal(decimal.NewFromInt(1)))
}

func TestBalance_NativeWithTxCount(t *testing.T) {
	node := rpctest.NewNode(t)
	node.Result("eth_getBalance", "0x1bc16d674ec80000")
	node.Result("eth_getTransactionCount", "0x5")

	bal, err := newClient(t, node.URL).Balance(context.Background(), "0x2222222222222222222222222222222222222222")
	require.NoError(t, err)
	assert.Equal(t, "ETH", bal.Asset)
	assert.True(t, bal.Confirmed.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, uint64(5), bal.TotalTx)
}

func TestSendRawTransaction_AlreadyKnownCountsAsAccepted(t *testing.T) {
	known := rpctest.NewNode(t)
	known.Handle("eth_sendRawTransaction", func([]json.RawMessage) (any, error) {
		return nil, &rpc.RPCError{Code: -32000, Message: "already known"}
	})
	next := rpctest.NewNode(t)
	next.Result("eth_sendRawTransaction", txHash)

	ep, err := newClient(t, known.URL, next.URL).SendRawTransaction(context.Background(), []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, known.URL, ep.URL)
	assert.Equal(t, 0, next.Calls("eth_sendRawTransaction"))
}

func TestSendRawTransaction_SamePayloadOnEveryEndpoint(t *testing.T) {
	var mu sync.Mutex
	var payloads []string
	record := func(params []json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		payloads = append(payloads, string(params[0]))
	}
	first := rpctest.NewNode(t)
	first.Handle("eth_sendRawTransaction", func(params []json.RawMessage) (any, error) {
		record(params)
		return nil, &rpc.RPCError{Code: -32603, Message: "upstream timeout"}
	})
	second := rpctest.NewNode(t)
	second.Handle("eth_sendRawTransaction", func(params []json.RawMessage) (any, error) {
		record(params)
		return txHash, nil
	})

	_, err := newClient(t, first.URL, second.URL).SendRawTransaction(context.Background(), []byte{0xde, 0xad})
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, payloads, 2)
	assert.Equal(t, payloads[0], payloads[1])
	assert.JSONEq(t, `"0xdead"`, payloads[0])
}

func TestEstimateGas_RevertIsRejected(t *testing.T) {
	node := rpctest.NewNode(t)
	node.Handle("eth_estimateGas", func([]json.RawMessage) (any, error) {
		return nil, &rpc.RPCError{Code: 3, Message: "execution reverted: transfer amount exceeds balance"}
	})
	to := common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")

	_, err := newClient(t, node.URL).EstimateGas(context.Background(), ethereum.CallMsg{To: &to, Data: []byte{0xa9}})
	assert.ErrorIs(t, err, rpc.ErrRejected)
}

func TestPendingNonceAndGasPrice(t *testing.T) {
	node := rpctest.NewNode(t)
	node.Handle("eth_getTransactionCount", func(params []json.RawMessage) (any, error) {
		assert.JSONEq(t, `"pending"`, string(params[1]))
		return "0x7", nil
	})
	node.Result("eth_gasPrice", "0x6fc23ac00")

	client := newClient(t, node.URL)
	n, err := client.PendingNonce(context.Background(), "0x2222222222222222222222222222222222222222")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	price, err := client.GasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "30000000000", price.String())
}
