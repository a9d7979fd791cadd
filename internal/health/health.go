package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const DefaultRefresh = 30 * time.Second

// HeadSource reports the current head height or slot of one chain.
type HeadSource interface {
	GetBlockHead(ctx context.Context) (uint64, error)
}

type ChainStatus struct {
	Name      string    `json:"name"`
	LastBlock uint64    `json:"last_block"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// Checker serves liveness and readiness. It is ready once SetReady(true)
// has been called and at least one chain reported a head.
type Checker struct {
	logger  *zerolog.Logger
	refresh time.Duration
	ready   atomic.Bool

	mu       sync.RWMutex
	statuses map[string]*ChainStatus
}

func NewChecker(logger *zerolog.Logger, refresh time.Duration) *Checker {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &Checker{
		logger:   logger,
		refresh:  refresh,
		statuses: make(map[string]*ChainStatus),
	}
}

func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// Watch polls the head of chain until ctx is done.
func (c *Checker) Watch(ctx context.Context, chain string, src HeadSource) {
	go func() {
		ticker := time.NewTicker(c.refresh)
		defer ticker.Stop()
		for {
			c.Refresh(ctx, chain, src)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Refresh reads the head of one chain once. A failed read keeps the last
// known height and records the error.
func (c *Checker) Refresh(ctx context.Context, chain string, src HeadSource) {
	head, err := src.GetBlockHead(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.statuses[chain]
	if !ok {
		st = &ChainStatus{Name: chain}
		c.statuses[chain] = st
	}
	if err != nil {
		st.Error = err.Error()
		c.logger.Error().
			Err(err).
			Str("chain", chain).
			Msg("Error getting latest block/slot")
		return
	}
	st.LastBlock, st.UpdatedAt, st.Error = head, time.Now().UTC(), ""
}

// Statuses returns a snapshot sorted by chain name.
func (c *Checker) Statuses() []ChainStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ChainStatus, 0, len(c.statuses))
	for _, st := range c.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Checker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (c *Checker) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	statuses := c.Statuses()

	seen := false
	for _, st := range statuses {
		if st.LastBlock > 0 {
			seen = true
			break
		}
	}
	if !seen || !c.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Not Ready"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "Ready",
		"blockchains": statuses,
	})
}
