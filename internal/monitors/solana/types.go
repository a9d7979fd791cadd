package solana

// Request options sent with every lookup. Commitment "confirmed" keeps
// balances from reflecting slots that may still be dropped.
var (
	balanceOpts = map[string]any{"commitment": "confirmed"}
	historyOpts = map[string]any{"limit": 20, "commitment": "confirmed"}
	statusOpts  = map[string]any{"searchTransactionHistory": true}
	txOpts      = map[string]any{
		"encoding":                       "json",
		"maxSupportedTransactionVersion": 0,
		"commitment":                     "confirmed",
	}
)
