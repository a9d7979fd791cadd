package models

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_TakesMaximumConfirmations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(6)
		readings := make([]Observation, n)
		var want uint64
		for j := range readings {
			c := uint64(rng.Intn(100))
			readings[j] = Observation{Found: true, Confirmations: c}
			if c > want {
				want = c
			}
		}
		got := Merge(readings...)
		require.True(t, got.Found)
		require.Equal(t, want, got.Confirmations, "readings %v", readings)
	}
}

func TestMerge_IgnoresEndpointsThatDidNotFindTheTransaction(t *testing.T) {
	got := Merge(Observation{}, Observation{Found: true, Confirmations: 3}, Observation{})
	assert.Equal(t, Observation{Found: true, Confirmations: 3}, got)

	assert.Equal(t, Observation{}, Merge(Observation{}, Observation{}))
	assert.Equal(t, Observation{}, Merge())
}

func TestMerge_FailedOnAnyEndpointMarksFailed(t *testing.T) {
	got := Merge(Observation{Found: true, Confirmations: 5}, Observation{Found: true, Confirmations: 4, Failed: true})
	assert.True(t, got.Failed)
	assert.Equal(t, uint64(5), got.Confirmations)
}

func TestAdvance_Transitions(t *testing.T) {
	base := WatchedTransaction{ID: "w1", TargetConfirmations: 3, Status: StatusPending}

	tests := []struct {
		name      string
		start     WatchedTransaction
		obs       Observation
		wantState Status
		wantConf  uint64
	}{
		{"not found stays pending", base, Observation{}, StatusPending, 0},
		{"found below target", base, Observation{Found: true, Confirmations: 1}, StatusConfirming, 1},
		{"found in mempool", base, Observation{Found: true}, StatusConfirming, 0},
		{"reaches target", base, Observation{Found: true, Confirmations: 3}, StatusConfirmed, 3},
		{"exceeds target", base, Observation{Found: true, Confirmations: 9}, StatusConfirmed, 9},
		{"reverted", base, Observation{Found: true, Confirmations: 1, Failed: true}, StatusFailed, 1},
		{
			"lagging endpoint keeps count",
			WatchedTransaction{TargetConfirmations: 5, Status: StatusConfirming, Confirmations: 3},
			Observation{Found: true, Confirmations: 1},
			StatusConfirming, 3,
		},
		{
			"confirming not found again stays confirming",
			WatchedTransaction{TargetConfirmations: 5, Status: StatusConfirming, Confirmations: 3},
			Observation{},
			StatusConfirming, 3,
		},
		{
			"confirmed is terminal",
			WatchedTransaction{TargetConfirmations: 2, Status: StatusConfirmed, Confirmations: 2},
			Observation{Found: true, Failed: true},
			StatusConfirmed, 2,
		},
		{
			"failed is terminal",
			WatchedTransaction{TargetConfirmations: 2, Status: StatusFailed},
			Observation{Found: true, Confirmations: 10},
			StatusFailed, 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.start.Advance(tt.obs)
			assert.Equal(t, tt.wantState, got.Status)
			assert.Equal(t, tt.wantConf, got.Confirmations)
		})
	}
}

func TestAdvance_NeverRegresses(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 300; run++ {
		w := WatchedTransaction{
			ID:                  "w",
			TargetConfirmations: uint64(1 + rng.Intn(10)),
			Status:              StatusPending,
		}
		for step := 0; step < 40; step++ {
			obs := Observation{
				Found:         rng.Intn(4) != 0,
				Confirmations: uint64(rng.Intn(15)),
				Failed:        rng.Intn(50) == 0,
			}
			next := w.Advance(obs)
			require.GreaterOrEqual(t, next.Status.rank(), w.Status.rank(), "status regressed %s -> %s", w.Status, next.Status)
			require.GreaterOrEqual(t, next.Confirmations, w.Confirmations)
			if w.Status.Terminal() {
				require.Equal(t, w, next)
			}
			w = next
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusConfirming.Terminal())
	assert.True(t, StatusConfirmed.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, Status("bogus").Valid())
}

func TestRegistry_Lookup(t *testing.T) {
	reg, err := NewRegistry(
		Chain{Name: "Ethereum", Params: &EVMParams{ChainID: 1}, TargetConfirmations: 12},
		Chain{Name: "bitcoin", Params: &UTXOParams{Decimals: 8}},
	)
	require.NoError(t, err)

	c, err := reg.Lookup("ETHEREUM")
	require.NoError(t, err)
	assert.Equal(t, "ethereum", c.Name)
	assert.Equal(t, FamilyEVM, c.Family())

	_, err = reg.Lookup("dogecoin")
	assert.ErrorIs(t, err, ErrUnknownChain)

	assert.Equal(t, []string{"bitcoin", "ethereum"}, reg.Names())

	_, err = NewRegistry(Chain{Name: "x"})
	assert.Error(t, err)
}
