package monitors

import (
	"fmt"
	"sort"
	"strings"

	"chainpay/internal/interfaces"
	"chainpay/internal/models"
	"chainpay/internal/monitors/bitcoin"
	"chainpay/internal/monitors/evm"
	"chainpay/internal/monitors/solana"
	"chainpay/internal/rpc"

	"github.com/rs/zerolog"
)

// New builds the monitor for chain's family over its endpoint set.
func New(chain models.Chain, set *rpc.EndpointSet, logger *zerolog.Logger) (interfaces.ChainMonitor, error) {
	switch chain.Params.(type) {
	case *models.EVMParams:
		return evm.NewClient(chain, set, logger)
	case *models.UTXOParams:
		return bitcoin.NewBitcoinMonitor(chain, set, logger)
	case *models.AccountParams:
		return solana.NewSolanaMonitor(chain, set, logger)
	default:
		return nil, fmt.Errorf("chain %s: no monitor for family %s", chain.Name, chain.Family())
	}
}

// Set holds one monitor per configured chain.
type Set struct {
	byChain map[string]interfaces.ChainMonitor
}

// NewSet builds a monitor for every chain in the registry. Each chain must
// have an endpoint set in pool.
func NewSet(chains models.Registry, pool *rpc.Pool, logger *zerolog.Logger) (*Set, error) {
	s := &Set{byChain: make(map[string]interfaces.ChainMonitor, len(chains))}
	for _, name := range chains.Names() {
		chain := chains[name]
		endpoints, err := pool.Set(name)
		if err != nil {
			return nil, err
		}
		m, err := New(chain, endpoints, logger)
		if err != nil {
			return nil, err
		}
		s.byChain[name] = m

		logger.Info().
			Str("chain", name).
			Str("family", chain.Family().String()).
			Msg("Monitor ready")
	}
	return s, nil
}

func (s *Set) Monitor(chain string) (interfaces.ChainMonitor, error) {
	m, ok := s.byChain[strings.ToLower(chain)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownChain, chain)
	}
	return m, nil
}

// EVM returns the EVM client for chain, for the broadcast and nonce paths.
func (s *Set) EVM(chain string) (*evm.Client, error) {
	m, err := s.Monitor(chain)
	if err != nil {
		return nil, err
	}
	c, ok := m.(*evm.Client)
	if !ok {
		return nil, fmt.Errorf("chain %s is not an EVM chain", chain)
	}
	return c, nil
}

// Chains lists the monitored chain names in sorted order.
func (s *Set) Chains() []string {
	names := make([]string, 0, len(s.byChain))
	for name := range s.byChain {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
