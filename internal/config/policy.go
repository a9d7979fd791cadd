package config

import (
	"fmt"
	"os"
	"strings"

	"chainpay/internal/models"
	"chainpay/internal/normalize"
	"chainpay/internal/rpc"
	"chainpay/internal/validation"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// EndpointPolicy is one RPC or explorer URL of a chain.
type EndpointPolicy struct {
	URL       string  `yaml:"url"`
	Provider  string  `yaml:"provider,omitempty"`
	RateLimit float64 `yaml:"rate_limit,omitempty"`
}

// ChainPolicy is one row of the chain policy table. Zero fields in an
// override file keep the built-in value.
type ChainPolicy struct {
	Family             string           `yaml:"family"`
	ChainID            int64            `yaml:"chain_id,omitempty"`
	Symbol             string           `yaml:"symbol"`
	Decimals           int32            `yaml:"decimals"`
	Confirmations      uint64           `yaml:"confirmations"`
	GasMultiplier      string           `yaml:"gas_multiplier,omitempty"`
	TokenGasMultiplier string           `yaml:"token_gas_multiplier,omitempty"`
	NativeGasLimit     uint64           `yaml:"native_gas_limit,omitempty"`
	Network            string           `yaml:"network,omitempty"`
	Explorer           string           `yaml:"explorer,omitempty"`
	RateLimit          float64          `yaml:"rate_limit,omitempty"`
	Token              *models.Token    `yaml:"token,omitempty"`
	Endpoints          []EndpointPolicy `yaml:"endpoints"`
}

type Policy struct {
	Chains map[string]ChainPolicy `yaml:"chains"`
}

// DefaultPolicy is the built-in table. Confirmation targets are operator
// choices and can be overridden per chain.
func DefaultPolicy() Policy {
	return Policy{Chains: map[string]ChainPolicy{
		"ethereum": {
			Family: "evm", ChainID: 1, Symbol: "ETH", Decimals: 18, Confirmations: 12,
			NativeGasLimit: 21000, TokenGasMultiplier: "1.2",
			Explorer: "https://etherscan.io/tx",
			Token:    &models.Token{Symbol: "USDT", Contract: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
			Endpoints: []EndpointPolicy{
				{URL: "https://ethereum-rpc.publicnode.com"},
				{URL: "https://eth.llamarpc.com"},
				{URL: "https://rpc.ankr.com/eth"},
			},
		},
		"polygon": {
			Family: "evm", ChainID: 137, Symbol: "POL", Decimals: 18, Confirmations: 30,
			NativeGasLimit: 21000, GasMultiplier: "1.5", TokenGasMultiplier: "1.2",
			Explorer: "https://polygonscan.com/tx",
			Token:    &models.Token{Symbol: "USDT", Contract: "0xc2132D05D31c914a87C6611C10748AEb04B58e8F", Decimals: 6},
			Endpoints: []EndpointPolicy{
				{URL: "https://polygon-bor-rpc.publicnode.com"},
				{URL: "https://polygon-rpc.com"},
				{URL: "https://polygon.llamarpc.com"},
			},
		},
		"bsc": {
			Family: "evm", ChainID: 56, Symbol: "BNB", Decimals: 18, Confirmations: 15,
			NativeGasLimit: 21000, TokenGasMultiplier: "1.2",
			Explorer: "https://bscscan.com/tx",
			Token:    &models.Token{Symbol: "USDT", Contract: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
			Endpoints: []EndpointPolicy{
				{URL: "https://bsc-rpc.publicnode.com"},
				{URL: "https://bsc-dataseed.bnbchain.org"},
			},
		},
		"bitcoin": {
			Family: "utxo", Symbol: "BTC", Decimals: 8, Confirmations: 3, Network: "mainnet",
			Explorer: "https://mempool.space/tx",
			Endpoints: []EndpointPolicy{
				{URL: "https://blockstream.info/api", Provider: "esplora"},
				{URL: "https://mempool.space/api", Provider: "esplora"},
				{URL: "https://api.blockcypher.com/v1/btc/main", Provider: "blockcypher", RateLimit: 3},
			},
		},
		"solana": {
			Family: "account", Symbol: "SOL", Decimals: 9, Confirmations: 2,
			Explorer: "https://solscan.io/tx",
			Endpoints: []EndpointPolicy{
				{URL: "https://api.mainnet-beta.solana.com", RateLimit: 4},
				{URL: "https://solana-rpc.publicnode.com"},
			},
		},
	}}
}

// LoadPolicyFile reads a YAML table and merges it over base.
func LoadPolicyFile(path string, base Policy) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read chain policy: %w", err)
	}
	var file Policy
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return base, fmt.Errorf("parse chain policy %s: %w", path, err)
	}

	out := Policy{Chains: make(map[string]ChainPolicy, len(base.Chains))}
	for name, p := range base.Chains {
		out.Chains[name] = p
	}
	for name, override := range file.Chains {
		name = strings.ToLower(name)
		out.Chains[name] = merge(out.Chains[name], override)
	}
	return out, nil
}

func merge(p, o ChainPolicy) ChainPolicy {
	if o.Family != "" {
		p.Family = o.Family
	}
	if o.ChainID != 0 {
		p.ChainID = o.ChainID
	}
	if o.Symbol != "" {
		p.Symbol = o.Symbol
	}
	if o.Decimals != 0 {
		p.Decimals = o.Decimals
	}
	if o.Confirmations != 0 {
		p.Confirmations = o.Confirmations
	}
	if o.GasMultiplier != "" {
		p.GasMultiplier = o.GasMultiplier
	}
	if o.TokenGasMultiplier != "" {
		p.TokenGasMultiplier = o.TokenGasMultiplier
	}
	if o.NativeGasLimit != 0 {
		p.NativeGasLimit = o.NativeGasLimit
	}
	if o.Network != "" {
		p.Network = o.Network
	}
	if o.Explorer != "" {
		p.Explorer = o.Explorer
	}
	if o.RateLimit != 0 {
		p.RateLimit = o.RateLimit
	}
	if o.Token != nil {
		p.Token = o.Token
	}
	if len(o.Endpoints) > 0 {
		p.Endpoints = o.Endpoints
	}
	return p
}

// Chain converts a policy row into the chain model.
func (p ChainPolicy) Chain(name string) (models.Chain, error) {
	chain := models.Chain{
		Name:                name,
		TargetConfirmations: p.Confirmations,
		ExplorerBaseURL:     p.Explorer,
	}

	switch strings.ToLower(p.Family) {
	case "evm":
		gasMult, err := parseMultiplier(p.GasMultiplier, "1")
		if err != nil {
			return chain, fmt.Errorf("chain %s: gas_multiplier: %w", name, err)
		}
		tokenMult, err := parseMultiplier(p.TokenGasMultiplier, "1.2")
		if err != nil {
			return chain, fmt.Errorf("chain %s: token_gas_multiplier: %w", name, err)
		}
		if p.ChainID <= 0 {
			return chain, fmt.Errorf("chain %s: chain_id is required", name)
		}
		chain.Params = &models.EVMParams{
			ChainID:            p.ChainID,
			NativeSymbol:       p.Symbol,
			NativeDecimals:     p.Decimals,
			NativeGasLimit:     p.NativeGasLimit,
			GasPriceMultiplier: gasMult,
			TokenGasMultiplier: tokenMult,
			Token:              p.Token,
		}
	case "utxo":
		net, err := network(p.Network)
		if err != nil {
			return chain, fmt.Errorf("chain %s: %w", name, err)
		}
		chain.Params = &models.UTXOParams{Symbol: p.Symbol, Decimals: p.Decimals, Net: net}
	case "account":
		// Confirmations count finality tiers on these chains.
		if p.Confirmations > normalize.TierFinalized {
			return chain, fmt.Errorf("chain %s: confirmations %d exceed the finalized tier (%d)",
				name, p.Confirmations, normalize.TierFinalized)
		}
		chain.Params = &models.AccountParams{Symbol: p.Symbol, Decimals: p.Decimals}
	default:
		return chain, fmt.Errorf("chain %s: unknown family %q", name, p.Family)
	}
	return chain, nil
}

// SetConfig converts the endpoint list of a policy row.
func (p ChainPolicy) SetConfig(name string) (rpc.SetConfig, error) {
	cfg := rpc.SetConfig{Chain: name}
	for _, ep := range p.Endpoints {
		if err := validation.ValidateURL(ep.URL); err != nil {
			return cfg, fmt.Errorf("chain %s: %w", name, err)
		}
		limit := ep.RateLimit
		if limit == 0 {
			limit = p.RateLimit
		}
		cfg.Endpoints = append(cfg.Endpoints, rpc.EndpointConfig{URL: ep.URL, Provider: ep.Provider, RateLimit: limit})
	}
	if len(cfg.Endpoints) == 0 {
		return cfg, fmt.Errorf("chain %s: no endpoints configured", name)
	}
	return cfg, nil
}

func parseMultiplier(raw, def string) (decimal.Decimal, error) {
	if raw == "" {
		raw = def
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return d, err
	}
	if !d.IsPositive() {
		return d, fmt.Errorf("multiplier must be positive, got %s", raw)
	}
	return d, nil
}

func network(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", name)
	}
}
