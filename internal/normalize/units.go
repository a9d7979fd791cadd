// Package normalize turns provider payloads into canonical balance and
// transaction records. Every function is pure: callers fetch, normalize
// decodes. Fields a provider leaves out come back as zero values, and only
// JSON that cannot be decoded at all is reported as an error.
package normalize

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"chainpay/internal/rpc"

	"github.com/shopspring/decimal"
)

// ScaleUnits converts an integer amount of minor units (wei, satoshi,
// lamports, token base units) into a decimal of the given precision.
func ScaleUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// ToUnits converts a decimal amount into minor units. Digits below the
// asset's precision are truncated.
func ToUnits(d decimal.Decimal, decimals int32) *big.Int {
	return d.Shift(decimals).Truncate(0).BigInt()
}

func scaleInt(v int64, decimals int32) decimal.Decimal {
	return decimal.New(v, -decimals)
}

func scaleUint(v uint64, decimals int32) decimal.Decimal {
	return ScaleUnits(new(big.Int).SetUint64(v), decimals)
}

// decode unmarshals raw into v unless raw is empty or null, in which case v
// is left untouched and absent is true.
func decode(raw json.RawMessage, v any, what string) (absent bool, err error) {
	if rpc.IsNull(raw) {
		return true, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", what, err)
	}
	return false, nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func depth(tip, height uint64) uint64 {
	if height == 0 || tip < height {
		return 0
	}
	return tip - height + 1
}
