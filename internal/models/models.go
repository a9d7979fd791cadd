package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CanonicalBalance has the same shape for every chain. Fields a provider does
// not report stay zero; LastActive is nil when unknown.
type CanonicalBalance struct {
	Chain         string          `json:"chain"`
	Address       string          `json:"address"`
	Asset         string          `json:"asset"`
	Confirmed     decimal.Decimal `json:"confirmed"`
	Unconfirmed   decimal.Decimal `json:"unconfirmed"`
	TotalTx       uint64          `json:"total_tx"`
	TotalReceived decimal.Decimal `json:"total_received"`
	TotalSent     decimal.Decimal `json:"total_sent"`
	LastActive    *time.Time      `json:"last_active,omitempty"`
}

// Usable is the balance reported to callers as spendable soon.
func (b CanonicalBalance) Usable() decimal.Decimal {
	return b.Confirmed.Add(b.Unconfirmed)
}

// AssetNative names a chain's native coin in balances and outputs.
const AssetNative = "native"

type TxStatus string

const (
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
	TxUnknown TxStatus = "unknown"
)

type Output struct {
	Value     decimal.Decimal `json:"value"`
	Recipient string          `json:"recipient"`
	Asset     string          `json:"asset,omitempty"`
}

type CanonicalTransaction struct {
	TxID          string     `json:"txid"`
	Chain         string     `json:"chain"`
	Confirmations uint64     `json:"confirmations"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	Outputs       []Output   `json:"outputs"`
	Status        TxStatus   `json:"status"`
}

// Observation converts a looked-up transaction into a tracker reading.
func (t CanonicalTransaction) Observation() Observation {
	return Observation{
		Found:         true,
		Confirmations: t.Confirmations,
		Failed:        t.Status == TxFailed,
	}
}
