package broadcast

import (
	"errors"
	"fmt"
	"strings"

	"chainpay/internal/rpc"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientGas   = errors.New("insufficient native balance for gas")
	ErrNoWorkingEndpoint = errors.New("no working endpoint")
	ErrSignature         = errors.New("signature error")
	ErrUnsupportedChain  = errors.New("transfers not supported on chain")
	ErrInvalidRequest    = errors.New("invalid transfer request")
)

// networkErr converts a pool failure into the broadcast taxonomy. Only
// exhaustion changes kind; rejections keep their RPC detail.
func networkErr(chain, step string, err error) error {
	var rpcErr *rpc.RPCError
	switch {
	case errors.Is(err, rpc.ErrEndpointsExhausted):
		return fmt.Errorf("%s: %s: %w: %v", chain, step, ErrNoWorkingEndpoint, err)
	case errors.As(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Message), "insufficient funds"):
		return fmt.Errorf("%s: %s: %w: %v", chain, step, ErrInsufficientFunds, err)
	default:
		return fmt.Errorf("%s: %s: %w", chain, step, err)
	}
}
