package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"chainpay/internal/broadcast"
	"chainpay/internal/interfaces"
	"chainpay/internal/models"
	"chainpay/internal/monitors/evm"
	"chainpay/internal/nonce"
	"chainpay/internal/rpc"
	"chainpay/internal/tracker"
)

type Kind string

const (
	KindInvalid           Kind = "invalid"
	KindNotFound          Kind = "not_found"
	KindUnavailable       Kind = "unavailable"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindInsufficientGas   Kind = "insufficient_gas"
	KindRejected          Kind = "rejected"
	KindNonce             Kind = "nonce"
	KindSignature         Kind = "signature"
	KindUnsupported       Kind = "unsupported"
	KindInternal          Kind = "internal"
)

var ErrInvalidInput = errors.New("invalid input")

// Error is what callers of the service see: the failing operation, the
// chain it ran against, and a kind they can branch on.
type Error struct {
	Chain string
	Op    string
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	if e.Chain == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Chain, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf classifies err. Checks run from most to least specific because a
// nonce failure also wraps the pool error underneath it.
func KindOf(err error) Kind {
	var svcErr *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &svcErr):
		return svcErr.Kind
	case errors.Is(err, broadcast.ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, broadcast.ErrInsufficientGas):
		return KindInsufficientGas
	case errors.Is(err, broadcast.ErrSignature):
		return KindSignature
	case errors.Is(err, broadcast.ErrUnsupportedChain), errors.Is(err, evm.ErrNoToken):
		return KindUnsupported
	case errors.Is(err, nonce.ErrNonceQueryFailed):
		return KindNonce
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, broadcast.ErrInvalidRequest),
		errors.Is(err, models.ErrUnknownChain),
		errors.Is(err, tracker.ErrInvalidTarget):
		return KindInvalid
	case errors.Is(err, interfaces.ErrNotFound), errors.Is(err, rpc.ErrNotIndexedYet):
		return KindNotFound
	case errors.Is(err, rpc.ErrEndpointsExhausted),
		errors.Is(err, broadcast.ErrNoWorkingEndpoint),
		errors.Is(err, rpc.ErrEndpointUnavailable),
		errors.Is(err, rpc.ErrUnknownChain),
		errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable
	case errors.Is(err, rpc.ErrRejected):
		return KindRejected
	default:
		return KindInternal
	}
}

func wrap(op, chain string, err error) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	return &Error{Chain: chain, Op: op, Kind: KindOf(err), Err: err}
}

func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalid, KindSignature, KindUnsupported:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientFunds, KindInsufficientGas, KindRejected:
		return http.StatusUnprocessableEntity
	case KindUnavailable, KindNonce:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
