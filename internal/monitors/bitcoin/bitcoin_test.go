package bitcoin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"chainpay/internal/models"
	"chainpay/internal/rpc"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// mockExplorer serves canned explorer answers and counts hits per path.
type mockExplorer struct {
	*httptest.Server
	mu     sync.Mutex
	hits   map[string]int
	routes map[string]string
}

func newMockExplorer(t *testing.T, routes map[string]string) *mockExplorer {
	t.Helper()
	m := &mockExplorer{hits: make(map[string]int), routes: routes}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.hits[r.URL.Path]++
		m.mu.Unlock()

		body, ok := m.routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockExplorer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

var btcChain = models.Chain{
	Name:                "bitcoin",
	Params:              &models.UTXOParams{Symbol: "BTC", Decimals: 8, Net: &chaincfg.MainNetParams},
	TargetConfirmations: 2,
}

// setupTestMonitor builds a monitor over the given explorers, in priority
// order.
func setupTestMonitor(t *testing.T, endpoints ...rpc.EndpointConfig) *BitcoinMonitor {
	t.Helper()
	logger := zerolog.New(nil)

	pool, err := rpc.NewPool([]rpc.SetConfig{{Chain: "bitcoin", Endpoints: endpoints}}, rpc.WithLogger(&logger))
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	set, err := pool.Set("bitcoin")
	if err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	monitor, err := NewBitcoinMonitor(btcChain, set, &logger)
	if err != nil {
		t.Fatalf("NewBitcoinMonitor() error = %v", err)
	}
	return monitor
}

func TestNewBitcoinMonitor_RejectsOtherFamilies(t *testing.T) {
	logger := zerolog.New(nil)
	_, err := NewBitcoinMonitor(models.Chain{Name: "ethereum", Params: &models.EVMParams{}}, nil, &logger)
	if err == nil {
		t.Fatal("expected an error for an EVM chain")
	}
}

func TestBitcoinMonitor_GetBlockHead(t *testing.T) {
	esplora := newMockExplorer(t, map[string]string{"/blocks/tip/height": "850000"})
	monitor := setupTestMonitor(t, rpc.EndpointConfig{URL: esplora.URL, Provider: "esplora"})

	height, err := monitor.GetBlockHead(context.Background())
	if err != nil {
		t.Fatalf("GetBlockHead() error = %v", err)
	}
	if height != 850000 {
		t.Errorf("GetBlockHead() = %v, want %v", height, 850000)
	}
}

func TestBitcoinMonitor_Transaction_Blockcypher(t *testing.T) {
	cypher := newMockExplorer(t, map[string]string{
		"/txs/tx1": `{"hash":"tx1","confirmations":4,"confirmed":"2024-03-01T10:00:00Z","outputs":[{"value":50000000,"addresses":["bc1qdest"]}]}`,
	})
	monitor := setupTestMonitor(t, rpc.EndpointConfig{URL: cypher.URL, Provider: "blockcypher"})

	tx, err := monitor.Transaction(context.Background(), "tx1")
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}
	if tx.Chain != "bitcoin" {
		t.Errorf("Chain = %v, want bitcoin", tx.Chain)
	}
	if tx.Confirmations != 4 {
		t.Errorf("Confirmations = %v, want 4", tx.Confirmations)
	}
	if len(tx.Outputs) != 1 || !tx.Outputs[0].Value.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("Outputs = %+v, want one output of 0.5", tx.Outputs)
	}
}

func TestBitcoinMonitor_Transaction_EsploraUsesSameExplorerTip(t *testing.T) {
	esplora := newMockExplorer(t, map[string]string{
		"/tx/tx2":            `{"txid":"tx2","vout":[{"scriptpubkey_address":"bc1qdest","value":1000}],"status":{"confirmed":true,"block_height":849999,"block_time":1710000000}}`,
		"/blocks/tip/height": "850000",
	})
	monitor := setupTestMonitor(t, rpc.EndpointConfig{URL: esplora.URL, Provider: "esplora"})

	tx, err := monitor.Transaction(context.Background(), "tx2")
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}
	if tx.Confirmations != 2 {
		t.Errorf("Confirmations = %v, want 2", tx.Confirmations)
	}
	if tx.Status != models.TxSuccess {
		t.Errorf("Status = %v, want success", tx.Status)
	}
}

func TestBitcoinMonitor_FallsBackInPriorityOrder(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}))
	defer down.Close()
	lagging := newMockExplorer(t, map[string]string{"/blocks/tip/height": "850000"})
	synced := newMockExplorer(t, map[string]string{
		"/tx/tx3":            `{"txid":"tx3","status":{"confirmed":true,"block_height":850000}}`,
		"/blocks/tip/height": "850000",
	})
	unused := newMockExplorer(t, map[string]string{})

	monitor := setupTestMonitor(t,
		rpc.EndpointConfig{URL: down.URL, Provider: "blockcypher"},
		rpc.EndpointConfig{URL: lagging.URL, Provider: "esplora"},
		rpc.EndpointConfig{URL: synced.URL, Provider: "esplora"},
		rpc.EndpointConfig{URL: unused.URL, Provider: "esplora"},
	)

	obs, err := monitor.Observe(context.Background(), "tx3")
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if !obs.Found || obs.Confirmations != 1 {
		t.Errorf("Observe() = %+v, want found with 1 confirmation", obs)
	}
	if lagging.Hits("/tx/tx3") != 1 {
		t.Errorf("lagging explorer should have been asked once, got %d", lagging.Hits("/tx/tx3"))
	}
	if unused.Hits("/tx/tx3") != 0 {
		t.Error("explorers after the first success must not be asked")
	}
}

func TestBitcoinMonitor_Observe_NotIndexedAnywhere(t *testing.T) {
	esplora := newMockExplorer(t, map[string]string{})
	monitor := setupTestMonitor(t, rpc.EndpointConfig{URL: esplora.URL, Provider: "esplora"})

	obs, err := monitor.Observe(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if obs.Found {
		t.Error("an unknown transaction must not be reported as found")
	}

	_, err = monitor.Transaction(context.Background(), "unknown")
	if !errors.Is(err, rpc.ErrNotIndexedYet) {
		t.Errorf("Transaction() error = %v, want ErrNotIndexedYet", err)
	}
}

func TestBitcoinMonitor_Observe_AllDown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer down.Close()
	monitor := setupTestMonitor(t, rpc.EndpointConfig{URL: down.URL, Provider: "esplora"})

	_, err := monitor.Observe(context.Background(), "tx1")
	if !errors.Is(err, rpc.ErrEndpointsExhausted) {
		t.Errorf("Observe() error = %v, want ErrEndpointsExhausted", err)
	}
}

func TestBitcoinMonitor_Balance(t *testing.T) {
	esplora := newMockExplorer(t, map[string]string{
		"/address/bc1qwatched": `{"chain_stats":{"funded_txo_sum":150000000,"spent_txo_sum":50000000,"tx_count":2},"mempool_stats":{"funded_txo_sum":10000,"spent_txo_sum":0,"tx_count":1}}`,
	})
	monitor := setupTestMonitor(t, rpc.EndpointConfig{URL: esplora.URL, Provider: "esplora"})

	bal, err := monitor.Balance(context.Background(), "bc1qwatched")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if !bal.Confirmed.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Confirmed = %v, want 1", bal.Confirmed)
	}
	if !bal.Usable().Equal(decimal.RequireFromString("1.0001")) {
		t.Errorf("Usable = %v, want 1.0001", bal.Usable())
	}
	if bal.Asset != "BTC" || bal.Address != "bc1qwatched" {
		t.Errorf("balance not annotated: %+v", bal)
	}
}

func TestBitcoinMonitor_UnknownProviderIsSkipped(t *testing.T) {
	odd := newMockExplorer(t, map[string]string{})
	esplora := newMockExplorer(t, map[string]string{"/blocks/tip/height": "1"})
	monitor := setupTestMonitor(t,
		rpc.EndpointConfig{URL: odd.URL, Provider: "smartbit"},
		rpc.EndpointConfig{URL: esplora.URL, Provider: "esplora"},
	)

	height, err := monitor.GetBlockHead(context.Background())
	if err != nil {
		t.Fatalf("GetBlockHead() error = %v", err)
	}
	if height != 1 {
		t.Errorf("GetBlockHead() = %v, want 1", height)
	}
}
