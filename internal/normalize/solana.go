package normalize

import (
	"encoding/json"

	"chainpay/internal/models"

	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// Finality tiers of an account-model chain, as confirmation ordinals.
const (
	TierProcessed uint64 = 0
	TierConfirmed uint64 = 1
	TierFinalized uint64 = 2
)

type solanaTransaction struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err          any      `json:"err"`
		Fee          uint64   `json:"fee"`
		PreBalances  []uint64 `json:"preBalances"`
		PostBalances []uint64 `json:"postBalances"`
	} `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

type solanaSignature struct {
	Signature string `json:"signature"`
	BlockTime *int64 `json:"blockTime"`
}

// Tier maps a commitment status onto its ordinal. Unknown strings count as
// processed.
func Tier(status solanarpc.ConfirmationStatusType) uint64 {
	switch status {
	case solanarpc.ConfirmationStatusFinalized:
		return TierFinalized
	case solanarpc.ConfirmationStatusConfirmed:
		return TierConfirmed
	default:
		return TierProcessed
	}
}

// SolanaBalance normalizes getBalance and getSignaturesForAddress. TotalTx
// counts the signatures returned, so it is bounded by the request limit.
func SolanaBalance(balance, signatures json.RawMessage, decimals int32) (models.CanonicalBalance, error) {
	var out models.CanonicalBalance

	var b solanarpc.GetBalanceResult
	if absent, err := decode(balance, &b, "getBalance result"); err != nil {
		return out, err
	} else if !absent {
		out.Confirmed = scaleUint(b.Value, decimals)
	}

	var sigs []solanaSignature
	if _, err := decode(signatures, &sigs, "signatures"); err != nil {
		return out, err
	}
	out.TotalTx = uint64(len(sigs))
	for _, s := range sigs {
		if s.BlockTime == nil {
			continue
		}
		if t := unixTime(*s.BlockTime); t != nil && (out.LastActive == nil || t.After(*out.LastActive)) {
			out.LastActive = t
		}
	}
	return out, nil
}

// SolanaSignatureStatus normalizes getSignatureStatuses for a single
// signature into an observation. Confirmations carry the finality tier.
func SolanaSignatureStatus(raw json.RawMessage) (models.Observation, error) {
	var res solanarpc.GetSignatureStatusesResult
	if absent, err := decode(raw, &res, "signature statuses"); err != nil || absent {
		return models.Observation{}, err
	}
	if len(res.Value) == 0 || res.Value[0] == nil {
		return models.Observation{}, nil
	}
	st := res.Value[0]
	return models.Observation{
		Found:         true,
		Confirmations: Tier(st.ConfirmationStatus),
		Failed:        st.Err != nil,
	}, nil
}

// SolanaTransaction normalizes getTransaction (json encoding) together with
// the signature status answered by the same endpoint. Outputs are the
// accounts whose balance grew.
func SolanaTransaction(raw, status json.RawMessage, decimals int32) (models.CanonicalTransaction, error) {
	out := models.CanonicalTransaction{Status: models.TxUnknown, Outputs: []models.Output{}}

	obs, err := SolanaSignatureStatus(status)
	if err != nil {
		return out, err
	}
	out.Confirmations = obs.Confirmations

	var tx solanaTransaction
	absent, err := decode(raw, &tx, "transaction")
	if err != nil {
		return out, err
	}
	if absent {
		if obs.Failed {
			out.Status = models.TxFailed
		}
		return out, nil
	}

	if sigs := tx.Transaction.Signatures; len(sigs) > 0 {
		out.TxID = sigs[0]
	}
	if tx.BlockTime != nil {
		out.Timestamp = unixTime(*tx.BlockTime)
	}

	switch {
	case obs.Failed, tx.Meta != nil && tx.Meta.Err != nil:
		out.Status = models.TxFailed
	case tx.Meta != nil:
		out.Status = models.TxSuccess
	}
	if tx.Meta == nil {
		return out, nil
	}

	keys := tx.Transaction.Message.AccountKeys
	for i, key := range keys {
		if i >= len(tx.Meta.PreBalances) || i >= len(tx.Meta.PostBalances) {
			break
		}
		pre, post := tx.Meta.PreBalances[i], tx.Meta.PostBalances[i]
		if post <= pre {
			continue
		}
		out.Outputs = append(out.Outputs, models.Output{
			Value:     scaleUint(post-pre, decimals),
			Recipient: key,
			Asset:     models.AssetNative,
		})
	}
	return out, nil
}

// SolanaSlot decodes a getSlot result.
func SolanaSlot(raw json.RawMessage) (uint64, error) {
	var slot uint64
	if _, err := decode(raw, &slot, "slot"); err != nil {
		return 0, err
	}
	return slot, nil
}
