package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chainpay/internal/interfaces"
	"chainpay/internal/models"
	"chainpay/internal/monitors/evm"
	"chainpay/internal/rpc"
	"chainpay/internal/rpc/rpctest"
	"chainpay/internal/store/memory"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const txHash = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"

var ethChain = models.Chain{
	Name:                "ethereum",
	Params:              &models.EVMParams{ChainID: 1, NativeSymbol: "ETH", NativeDecimals: 18},
	TargetConfirmations: 12,
	ExplorerBaseURL:     "https://etherscan.io/tx/",
}

var solChain = models.Chain{
	Name:                "solana",
	Params:              &models.AccountParams{Symbol: "SOL", Decimals: 9},
	TargetConfirmations: 2,
}

// countingStore counts MarkComplete calls on top of the in-memory store.
// The first failures calls fail.
type countingStore struct {
	*memory.Store
	completed atomic.Int32
	failures  atomic.Int32
}

func (s *countingStore) MarkComplete(ctx context.Context, id string) error {
	s.completed.Add(1)
	if s.failures.Add(-1) >= 0 {
		return errors.New("deal store unreachable")
	}
	return s.Store.MarkComplete(ctx, id)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, note models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// scripted answers Observe from a queue, repeating the last reading.
type scripted struct {
	mu       sync.Mutex
	readings []models.Observation
	err      error
	calls    int
}

func (s *scripted) Observe(context.Context, string) (models.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return models.Observation{}, s.err
	}
	if len(s.readings) == 0 {
		return models.Observation{}, nil
	}
	obs := s.readings[0]
	if len(s.readings) > 1 {
		s.readings = s.readings[1:]
	}
	return obs, nil
}

func newTracker(t *testing.T, observer interfaces.Observer, notifier interfaces.Notifier) (*Tracker, *countingStore) {
	t.Helper()
	chains, err := models.NewRegistry(ethChain, solChain)
	require.NoError(t, err)
	store := &countingStore{Store: memory.New()}
	logger := zerolog.Nop()
	tr := New(chains, store, func(string) (interfaces.Observer, error) { return observer, nil }, notifier,
		Config{Interval: 10 * time.Millisecond, Workers: 4}, &logger, nil)
	return tr, store
}

func TestTrack_DefaultsTargetFromChain(t *testing.T) {
	tr, _ := newTracker(t, &scripted{}, &recordingNotifier{})

	w, err := tr.Track(context.Background(), "deal-1", "Ethereum", txHash, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), w.TargetConfirmations)
	assert.Equal(t, "ethereum", w.Chain)

	_, err = tr.Track(context.Background(), "deal-1", "dogecoin", txHash, 0)
	assert.ErrorIs(t, err, models.ErrUnknownChain)
}

func TestPollOnce_TwoCycleConfirmation(t *testing.T) {
	var head atomic.Uint64
	head.Store(100)
	node := rpctest.NewNode(t)
	node.Result("eth_getTransactionReceipt", map[string]any{
		"transactionHash": txHash,
		"blockNumber":     "0x64",
		"status":          "0x1",
		"logs":            []any{},
	})
	node.Handle("eth_blockNumber", func([]json.RawMessage) (any, error) {
		return hexutil.EncodeUint64(head.Load()), nil
	})

	pool, err := rpc.NewPool([]rpc.SetConfig{{Chain: "ethereum", Endpoints: []rpc.EndpointConfig{{URL: node.URL}}}})
	require.NoError(t, err)
	set, err := pool.Set("ethereum")
	require.NoError(t, err)
	logger := zerolog.Nop()
	client, err := evm.NewClient(ethChain, set, &logger)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	tr, store := newTracker(t, client, notifier)
	ctx := context.Background()

	w, err := tr.Track(ctx, "deal-7", "ethereum", txHash, 2)
	require.NoError(t, err)

	_, err = tr.PollOnce(ctx)
	require.NoError(t, err)
	got, err := store.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirming, got.Status)
	assert.Equal(t, uint64(1), got.Confirmations)
	assert.Equal(t, int32(0), store.completed.Load())

	head.Store(101)
	stats, err := tr.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Confirmed)
	got, err = store.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, uint64(2), got.Confirmations)
	assert.Equal(t, int32(1), store.completed.Load())

	require.Equal(t, 1, notifier.count())
	note := notifier.sent[0]
	assert.Equal(t, txHash, note.TxID)
	assert.Equal(t, "ethereum", note.Chain)
	assert.Equal(t, uint64(2), note.Confirmations)
	assert.Equal(t, "https://etherscan.io/tx/"+txHash, note.ExplorerURL)

	// a confirmed transaction is not polled again
	stats, err = tr.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Polled)
	assert.Equal(t, int32(1), store.completed.Load())
	assert.Equal(t, 1, notifier.count())
}

func TestPollOnce_FailedIsTerminal(t *testing.T) {
	obs := &scripted{readings: []models.Observation{{Found: true, Confirmations: 1, Failed: true}}}
	notifier := &recordingNotifier{}
	tr, store := newTracker(t, obs, notifier)
	ctx := context.Background()

	w, err := tr.Track(ctx, "deal-2", "ethereum", txHash, 3)
	require.NoError(t, err)

	stats, err := tr.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	got, err := store.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)

	_, err = tr.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, obs.calls, "failed transactions are never polled again")
	assert.Equal(t, 0, notifier.count())
	assert.Equal(t, int32(0), store.completed.Load())
}

func TestPollOnce_NotFoundStaysPending(t *testing.T) {
	obs := &scripted{}
	tr, store := newTracker(t, obs, &recordingNotifier{})
	ctx := context.Background()

	w, err := tr.Track(ctx, "deal-3", "ethereum", txHash, 2)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = tr.PollOnce(ctx)
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, w.UpdatedAt, got.UpdatedAt, "nothing saved without a change")
	assert.Equal(t, 3, obs.calls)
}

func TestPollOnce_EndpointsDownKeepsEntry(t *testing.T) {
	obs := &scripted{err: &rpc.ExhaustedError{Chain: "ethereum", Errs: []error{rpc.ErrEndpointUnavailable}}}
	tr, store := newTracker(t, obs, &recordingNotifier{})
	ctx := context.Background()

	_, err := tr.Track(ctx, "deal-4", "ethereum", txHash, 2)
	require.NoError(t, err)

	stats, err := tr.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPollOnce_LaggingReadingDoesNotRegress(t *testing.T) {
	obs := &scripted{readings: []models.Observation{
		{Found: true, Confirmations: 5},
		{Found: true, Confirmations: 2},
		{},
	}}
	tr, store := newTracker(t, obs, &recordingNotifier{})
	ctx := context.Background()

	w, err := tr.Track(ctx, "deal-5", "ethereum", txHash, 10)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = tr.PollOnce(ctx)
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirming, got.Status)
	assert.Equal(t, uint64(5), got.Confirmations)
}

func TestPollOnce_NotifierFailureIsLogged(t *testing.T) {
	obs := &scripted{readings: []models.Observation{{Found: true, Confirmations: 9}}}
	notifier := &recordingNotifier{err: errors.New("broker down")}
	tr, store := newTracker(t, obs, notifier)
	ctx := context.Background()

	w, err := tr.Track(ctx, "deal-6", "ethereum", txHash, 2)
	require.NoError(t, err)
	_, err = tr.PollOnce(ctx)
	require.NoError(t, err)

	got, err := store.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, int32(1), store.completed.Load())
	assert.Equal(t, 1, notifier.count())
}

func TestPollOnce_ManyTransactionsNeverRegress(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tr, store := newTracker(t, nil, &recordingNotifier{})
	ctx := context.Background()

	observers := make(map[string]*scripted)
	for i := 0; i < 20; i++ {
		txid := hexutil.EncodeUint64(uint64(i))
		var readings []models.Observation
		for j := 0; j < 8; j++ {
			readings = append(readings, models.Observation{Found: rng.Intn(4) > 0, Confirmations: uint64(rng.Intn(6))})
		}
		observers[txid] = &scripted{readings: readings}
		_, err := tr.Track(ctx, "deal", "ethereum", txid, 4)
		require.NoError(t, err)
	}
	tr.observers = func(string) (interfaces.Observer, error) { return byTxID(observers), nil }

	last := make(map[string]models.WatchedTransaction)
	for cycle := 0; cycle < 8; cycle++ {
		_, err := tr.PollOnce(ctx)
		require.NoError(t, err)
		for txid := range observers {
			w := findByTxID(t, store, txid)
			if prev, ok := last[txid]; ok {
				assert.GreaterOrEqual(t, w.Confirmations, prev.Confirmations)
				if prev.Status == models.StatusConfirmed {
					assert.Equal(t, models.StatusConfirmed, w.Status)
				}
				if prev.Status == models.StatusConfirming {
					assert.NotEqual(t, models.StatusPending, w.Status)
				}
			}
			last[txid] = w
		}
	}
}

type byTxID map[string]*scripted

func (b byTxID) Observe(ctx context.Context, txid string) (models.Observation, error) {
	return b[txid].Observe(ctx, txid)
}

func findByTxID(t *testing.T, store *countingStore, txid string) models.WatchedTransaction {
	t.Helper()
	w, err := store.AddTracking(context.Background(), "", "ethereum", txid, 0)
	require.NoError(t, err)
	return w
}

func TestRun_StopsBetweenCycles(t *testing.T) {
	obs := &scripted{}
	tr, _ := newTracker(t, obs, &recordingNotifier{})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := tr.Track(ctx, "deal", "ethereum", txHash, 2)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.calls >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestPollOnce_RetriesMarkCompleteAfterFailure(t *testing.T) {
	obs := &scripted{readings: []models.Observation{{Found: true, Confirmations: 3}}}
	notifier := &recordingNotifier{}
	tr, store := newTracker(t, obs, notifier)
	store.failures.Store(1)
	ctx := context.Background()

	w, err := tr.Track(ctx, "deal-8", "ethereum", txHash, 2)
	require.NoError(t, err)

	stats, err := tr.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 0, notifier.count(), "owner is not told before the deal store is")

	got, err := store.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)

	stats, err = tr.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Polled)
	assert.Equal(t, 1, stats.Confirmed)
	assert.Equal(t, 1, obs.calls, "a confirmed entry is not observed again")
	assert.Equal(t, int32(2), store.completed.Load())
	assert.Equal(t, 1, notifier.count())

	stats, err = tr.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Polled)
	assert.Equal(t, int32(2), store.completed.Load())
}

func TestTrack_AccountTargetCappedAtFinalized(t *testing.T) {
	tr, store := newTracker(t, &scripted{}, &recordingNotifier{})
	ctx := context.Background()

	_, err := tr.Track(ctx, "deal-9", "solana", "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW", 5)
	assert.ErrorIs(t, err, ErrInvalidTarget)

	w, err := tr.Track(ctx, "deal-9", "solana", "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), w.TargetConfirmations)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestTrack_EVMTxidCaseInsensitive(t *testing.T) {
	tr, _ := newTracker(t, &scripted{}, &recordingNotifier{})
	ctx := context.Background()

	upper := "0x5C504ED432CB51138BCF09AA5E8A410DD4A1E204EF84BFED1BE16DFBA1B22060"
	first, err := tr.Track(ctx, "deal-10", "ethereum", upper, 0)
	require.NoError(t, err)
	assert.Equal(t, txHash, first.TxID)

	second, err := tr.Track(ctx, "deal-10", "ethereum", txHash, 0)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}
