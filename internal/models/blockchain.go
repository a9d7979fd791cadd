package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"
)

var ErrUnknownChain = errors.New("unknown chain")

// Family groups chains that share confirmation and transfer semantics.
type Family int

const (
	FamilyEVM Family = iota + 1
	FamilyUTXO
	FamilyAccount
)

func (f Family) String() string {
	switch f {
	case FamilyEVM:
		return "evm"
	case FamilyUTXO:
		return "utxo"
	case FamilyAccount:
		return "account"
	default:
		return "unknown"
	}
}

// ChainParams is the closed set of per-family chain parameters. Callers select
// behaviour with a type switch over *EVMParams, *UTXOParams and *AccountParams.
type ChainParams interface {
	Family() Family
	sealed()
}

// Token describes the tracked stablecoin on an EVM chain.
type Token struct {
	Symbol   string `yaml:"symbol" json:"symbol"`
	Contract string `yaml:"contract" json:"contract"`
	Decimals int32  `yaml:"decimals" json:"decimals"`
}

type EVMParams struct {
	ChainID        int64
	NativeSymbol   string
	NativeDecimals int32
	NativeGasLimit uint64
	// GasPriceMultiplier is applied to eth_gasPrice before signing.
	GasPriceMultiplier decimal.Decimal
	// TokenGasMultiplier is applied to eth_estimateGas for token transfers.
	TokenGasMultiplier decimal.Decimal
	Token              *Token
}

func (*EVMParams) Family() Family { return FamilyEVM }
func (*EVMParams) sealed()        {}

type UTXOParams struct {
	Symbol   string
	Decimals int32
	Net      *chaincfg.Params
}

func (*UTXOParams) Family() Family { return FamilyUTXO }
func (*UTXOParams) sealed()        {}

// AccountParams covers account-model chains that report finality tiers
// instead of block depth.
type AccountParams struct {
	Symbol   string
	Decimals int32
}

func (*AccountParams) Family() Family { return FamilyAccount }
func (*AccountParams) sealed()        {}

type Chain struct {
	Name                string
	Params              ChainParams
	TargetConfirmations uint64
	ExplorerBaseURL     string
}

func (c Chain) Family() Family {
	if c.Params == nil {
		return 0
	}
	return c.Params.Family()
}

func (c Chain) String() string {
	return c.Name
}

func (c Chain) ExplorerURL(txid string) string {
	if c.ExplorerBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.ExplorerBaseURL, "/") + "/" + txid
}

// Registry is the immutable set of configured chains keyed by name.
type Registry map[string]Chain

func NewRegistry(chains ...Chain) (Registry, error) {
	r := make(Registry, len(chains))
	for _, c := range chains {
		if c.Name == "" {
			return nil, errors.New("chain name is required")
		}
		if c.Params == nil {
			return nil, fmt.Errorf("chain %s: params are required", c.Name)
		}
		name := strings.ToLower(c.Name)
		if _, dup := r[name]; dup {
			return nil, fmt.Errorf("chain %s configured twice", c.Name)
		}
		c.Name = name
		r[name] = c
	}
	return r, nil
}

func (r Registry) Lookup(name string) (Chain, error) {
	c, ok := r[strings.ToLower(name)]
	if !ok {
		return Chain{}, fmt.Errorf("%w: %s", ErrUnknownChain, name)
	}
	return c, nil
}

func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
