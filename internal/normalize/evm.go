package normalize

import (
	"encoding/json"
	"math/big"

	"chainpay/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type evmTransaction struct {
	Hash        string          `json:"hash"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
	To          *common.Address `json:"to"`
	Value       *hexutil.Big    `json:"value"`
	Input       hexutil.Bytes   `json:"input"`
}

type evmReceipt struct {
	TransactionHash string          `json:"transactionHash"`
	BlockNumber     *hexutil.Uint64 `json:"blockNumber"`
	Status          *hexutil.Uint64 `json:"status"`
	Logs            []evmLog        `json:"logs"`
}

type evmLog struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

type evmBlock struct {
	Timestamp *hexutil.Uint64 `json:"timestamp"`
}

// EVMTxPayload groups what one endpoint answered about a transaction. Any of
// the raw fields may be empty; Head is that endpoint's latest block.
type EVMTxPayload struct {
	Tx      json.RawMessage
	Receipt json.RawMessage
	Block   json.RawMessage
	Head    uint64
}

// EVMBalance normalizes eth_getBalance and eth_getTransactionCount results.
func EVMBalance(balance, txCount json.RawMessage, decimals int32) (models.CanonicalBalance, error) {
	var out models.CanonicalBalance

	var wei hexutil.Big
	if absent, err := decode(balance, &wei, "balance"); err != nil {
		return out, err
	} else if !absent {
		out.Confirmed = ScaleUnits(wei.ToInt(), decimals)
	}

	var count hexutil.Uint64
	if absent, err := decode(txCount, &count, "transaction count"); err != nil {
		return out, err
	} else if !absent {
		out.TotalTx = uint64(count)
	}
	return out, nil
}

// ERC20Balance normalizes an eth_call result of balanceOf. An empty "0x"
// answer (no contract code at the address) is a zero balance.
func ERC20Balance(callResult json.RawMessage, decimals int32) (models.CanonicalBalance, error) {
	var out models.CanonicalBalance
	units, err := ERC20Units(callResult)
	if err != nil {
		return out, err
	}
	out.Confirmed = ScaleUnits(units, decimals)
	return out, nil
}

// ERC20Units decodes a uint256 eth_call result in token base units.
func ERC20Units(callResult json.RawMessage) (*big.Int, error) {
	var data hexutil.Bytes
	if absent, err := decode(callResult, &data, "call result"); err != nil || absent {
		return new(big.Int), err
	}
	return word(data), nil
}

// EVMTransaction builds a canonical transaction from a transaction object,
// its receipt and its block. Confirmations are head - block + 1. Outputs are
// the native value plus Transfer logs of the tracked token; before the
// receipt is indexed the token transfer is read from the call data instead.
func EVMTransaction(p EVMTxPayload, nativeDecimals int32, token *models.Token) (models.CanonicalTransaction, error) {
	out := models.CanonicalTransaction{Status: models.TxUnknown, Outputs: []models.Output{}}

	var tx evmTransaction
	txAbsent, err := decode(p.Tx, &tx, "transaction")
	if err != nil {
		return out, err
	}
	var receipt evmReceipt
	receiptAbsent, err := decode(p.Receipt, &receipt, "receipt")
	if err != nil {
		return out, err
	}
	var block evmBlock
	if _, err := decode(p.Block, &block, "block"); err != nil {
		return out, err
	}

	out.TxID = tx.Hash
	if out.TxID == "" {
		out.TxID = receipt.TransactionHash
	}

	var height uint64
	switch {
	case receipt.BlockNumber != nil:
		height = uint64(*receipt.BlockNumber)
	case tx.BlockNumber != nil:
		height = uint64(*tx.BlockNumber)
	}
	out.Confirmations = depth(p.Head, height)

	if receipt.Status != nil {
		out.Status = models.TxFailed
		if *receipt.Status == 1 {
			out.Status = models.TxSuccess
		}
	}
	if block.Timestamp != nil {
		out.Timestamp = unixTime(int64(*block.Timestamp))
	}

	if !txAbsent && tx.Value != nil && tx.Value.ToInt().Sign() > 0 {
		out.Outputs = append(out.Outputs, models.Output{
			Value:     ScaleUnits(tx.Value.ToInt(), nativeDecimals),
			Recipient: recipient(tx.To),
			Asset:     models.AssetNative,
		})
	}
	if token == nil {
		return out, nil
	}

	contract := common.HexToAddress(token.Contract)
	if !receiptAbsent {
		for _, l := range receipt.Logs {
			if l.Address != contract || len(l.Topics) != 3 || l.Topics[0] != TransferTopic {
				continue
			}
			out.Outputs = append(out.Outputs, models.Output{
				Value:     ScaleUnits(word(l.Data), token.Decimals),
				Recipient: common.BytesToAddress(l.Topics[2].Bytes()).Hex(),
				Asset:     token.Symbol,
			})
		}
		return out, nil
	}
	if tx.To != nil && *tx.To == contract {
		if to, amount, ok := decodeTransfer(tx.Input); ok {
			out.Outputs = append(out.Outputs, models.Output{
				Value:     ScaleUnits(amount, token.Decimals),
				Recipient: to.Hex(),
				Asset:     token.Symbol,
			})
		}
	}
	return out, nil
}

// EVMHead decodes an eth_blockNumber result.
func EVMHead(raw json.RawMessage) (uint64, error) {
	var head hexutil.Uint64
	if _, err := decode(raw, &head, "block number"); err != nil {
		return 0, err
	}
	return uint64(head), nil
}

// EVMQuantity decodes a hex quantity such as eth_gasPrice or
// eth_getTransactionCount. Absent values are zero.
func EVMQuantity(raw json.RawMessage) (*big.Int, error) {
	var q hexutil.Big
	if absent, err := decode(raw, &q, "quantity"); err != nil || absent {
		return new(big.Int), err
	}
	return q.ToInt(), nil
}

func recipient(to *common.Address) string {
	if to == nil {
		return ""
	}
	return to.Hex()
}
