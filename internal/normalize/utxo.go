package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chainpay/internal/models"
)

// Provider tags for UTXO explorer endpoints.
const (
	ProviderBlockcypher = "blockcypher"
	ProviderEsplora     = "esplora"
)

type blockcypherAddress struct {
	TotalReceived      int64              `json:"total_received"`
	TotalSent          int64              `json:"total_sent"`
	Balance            int64              `json:"balance"`
	UnconfirmedBalance int64              `json:"unconfirmed_balance"`
	NTx                uint64             `json:"n_tx"`
	UnconfirmedNTx     uint64             `json:"unconfirmed_n_tx"`
	TxRefs             []blockcypherTxRef `json:"txrefs"`
	UnconfirmedTxRefs  []blockcypherTxRef `json:"unconfirmed_txrefs"`
}

type blockcypherTxRef struct {
	Confirmed *time.Time `json:"confirmed"`
	Received  *time.Time `json:"received"`
}

type blockcypherTx struct {
	Hash          string              `json:"hash"`
	Confirmations uint64              `json:"confirmations"`
	Confirmed     *time.Time          `json:"confirmed"`
	Received      *time.Time          `json:"received"`
	DoubleSpend   bool                `json:"double_spend"`
	Outputs       []blockcypherOutput `json:"outputs"`
}

type blockcypherOutput struct {
	Value     int64    `json:"value"`
	Addresses []string `json:"addresses"`
}

// BlockcypherBalance normalizes GET /addrs/{address}.
func BlockcypherBalance(raw []byte, decimals int32) (models.CanonicalBalance, error) {
	var out models.CanonicalBalance
	var a blockcypherAddress
	if absent, err := decode(raw, &a, "blockcypher address"); err != nil || absent {
		return out, err
	}
	out.Confirmed = scaleInt(a.Balance, decimals)
	out.Unconfirmed = scaleInt(a.UnconfirmedBalance, decimals)
	out.TotalReceived = scaleInt(a.TotalReceived, decimals)
	out.TotalSent = scaleInt(a.TotalSent, decimals)
	out.TotalTx = a.NTx + a.UnconfirmedNTx

	for _, ref := range append(a.UnconfirmedTxRefs, a.TxRefs...) {
		ts := ref.Confirmed
		if ts == nil {
			ts = ref.Received
		}
		if ts != nil && (out.LastActive == nil || ts.After(*out.LastActive)) {
			t := ts.UTC()
			out.LastActive = &t
		}
	}
	return out, nil
}

// BlockcypherTransaction normalizes GET /txs/{hash}. The provider reports
// confirmations directly; a double spend marks the transaction failed.
func BlockcypherTransaction(raw []byte, decimals int32) (models.CanonicalTransaction, error) {
	out := models.CanonicalTransaction{Status: models.TxUnknown, Outputs: []models.Output{}}
	var tx blockcypherTx
	if absent, err := decode(raw, &tx, "blockcypher transaction"); err != nil || absent {
		return out, err
	}
	out.TxID = tx.Hash
	out.Confirmations = tx.Confirmations
	switch {
	case tx.DoubleSpend:
		out.Status = models.TxFailed
	case tx.Confirmations > 0:
		out.Status = models.TxSuccess
	}

	ts := tx.Confirmed
	if ts == nil {
		ts = tx.Received
	}
	if ts != nil {
		t := ts.UTC()
		out.Timestamp = &t
	}

	for _, o := range tx.Outputs {
		out.Outputs = append(out.Outputs, models.Output{
			Value:     scaleInt(o.Value, decimals),
			Recipient: strings.Join(o.Addresses, ","),
			Asset:     models.AssetNative,
		})
	}
	return out, nil
}

type esploraStats struct {
	FundedTxoSum int64  `json:"funded_txo_sum"`
	SpentTxoSum  int64  `json:"spent_txo_sum"`
	TxCount      uint64 `json:"tx_count"`
}

type esploraAddress struct {
	ChainStats   esploraStats `json:"chain_stats"`
	MempoolStats esploraStats `json:"mempool_stats"`
}

type esploraTx struct {
	TxID string `json:"txid"`
	Vout []struct {
		ScriptPubKeyAddress string `json:"scriptpubkey_address"`
		Value               int64  `json:"value"`
	} `json:"vout"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint64 `json:"block_height"`
		BlockTime   int64  `json:"block_time"`
	} `json:"status"`
}

// EsploraBalance normalizes GET /address/{address} (Blockstream and
// mempool.space). Esplora has no activity timestamp on this endpoint, so
// LastActive stays nil.
func EsploraBalance(raw []byte, decimals int32) (models.CanonicalBalance, error) {
	var out models.CanonicalBalance
	var a esploraAddress
	if absent, err := decode(raw, &a, "esplora address"); err != nil || absent {
		return out, err
	}
	out.Confirmed = scaleInt(a.ChainStats.FundedTxoSum-a.ChainStats.SpentTxoSum, decimals)
	out.Unconfirmed = scaleInt(a.MempoolStats.FundedTxoSum-a.MempoolStats.SpentTxoSum, decimals)
	out.TotalReceived = scaleInt(a.ChainStats.FundedTxoSum, decimals)
	out.TotalSent = scaleInt(a.ChainStats.SpentTxoSum, decimals)
	out.TotalTx = a.ChainStats.TxCount + a.MempoolStats.TxCount
	return out, nil
}

// EsploraTransaction normalizes GET /tx/{txid}. Esplora only reports the
// block height, so the caller supplies the tip height of the same explorer.
func EsploraTransaction(raw []byte, tip uint64, decimals int32) (models.CanonicalTransaction, error) {
	out := models.CanonicalTransaction{Status: models.TxUnknown, Outputs: []models.Output{}}
	var tx esploraTx
	if absent, err := decode(raw, &tx, "esplora transaction"); err != nil || absent {
		return out, err
	}
	out.TxID = tx.TxID
	if tx.Status.Confirmed {
		out.Confirmations = depth(tip, tx.Status.BlockHeight)
		out.Status = models.TxSuccess
		out.Timestamp = unixTime(tx.Status.BlockTime)
	}
	for _, o := range tx.Vout {
		out.Outputs = append(out.Outputs, models.Output{
			Value:     scaleInt(o.Value, decimals),
			Recipient: o.ScriptPubKeyAddress,
			Asset:     models.AssetNative,
		})
	}
	return out, nil
}

// EsploraTip parses GET /blocks/tip/height, which is a bare integer.
func EsploraTip(raw []byte) (uint64, error) {
	tip, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode esplora tip height: %w", err)
	}
	return tip, nil
}

// BlockcypherTip parses GET / (the chain summary) of BlockCypher.
func BlockcypherTip(raw []byte) (uint64, error) {
	var chain struct {
		Height uint64 `json:"height"`
	}
	if err := json.Unmarshal(raw, &chain); err != nil {
		return 0, fmt.Errorf("decode blockcypher chain: %w", err)
	}
	return chain.Height, nil
}
