package models

import (
	"github.com/shopspring/decimal"
)

// GasPolicy overrides the chain's default gas handling for one transfer.
// Zero values mean "use the chain default".
type GasPolicy struct {
	GasLimit           uint64
	GasPriceMultiplier decimal.Decimal
	EstimateMultiplier decimal.Decimal
}

// TransferRequest is consumed by a single broadcast. A nil Token sends the
// chain's native asset. Sweep sends the whole balance minus gas and ignores
// Amount.
type TransferRequest struct {
	Chain     string          `validate:"required"`
	Token     *Token          `validate:"omitempty"`
	SignerKey string          `validate:"required,hexadecimal"`
	To        string          `validate:"required,eth_addr"`
	Amount    decimal.Decimal `validate:"-"`
	Sweep     bool
	Gas       GasPolicy `validate:"-"`
}

func (r TransferRequest) Asset() string {
	if r.Token != nil {
		return r.Token.Symbol
	}
	return AssetNative
}
