package models

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirming Status = "confirming"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusConfirming:
		return 1
	case StatusConfirmed, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

func (s Status) Valid() bool {
	return s.rank() >= 0
}

// WatchedTransaction is a transaction registered for confirmation tracking.
type WatchedTransaction struct {
	ID                  string    `json:"id"`
	Chain               string    `json:"chain"`
	TxID                string    `json:"txid"`
	TargetConfirmations uint64    `json:"target_confirmations"`
	Confirmations       uint64    `json:"confirmations"`
	Status              Status    `json:"status"`
	OwnerRef            string    `json:"owner_ref"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Observation is one reading of a transaction's on-chain state.
type Observation struct {
	Found         bool
	Confirmations uint64
	Failed        bool
}

// Merge combines readings from independent endpoints. The most advanced view
// wins: confirmations are the maximum over all readings that found the
// transaction, and a single failed execution marks the merge failed.
func Merge(readings ...Observation) Observation {
	var out Observation
	for _, r := range readings {
		if !r.Found {
			continue
		}
		out.Found = true
		if r.Confirmations > out.Confirmations {
			out.Confirmations = r.Confirmations
		}
		if r.Failed {
			out.Failed = true
		}
	}
	return out
}

// Advance applies an observation and returns the next state. Status only
// moves forward (pending -> confirming -> confirmed, or -> failed) and the
// recorded confirmation count never decreases.
func (w WatchedTransaction) Advance(obs Observation) WatchedTransaction {
	if w.Status.Terminal() {
		return w
	}
	next := w
	if obs.Failed {
		next.Status = StatusFailed
		if obs.Confirmations > next.Confirmations {
			next.Confirmations = obs.Confirmations
		}
		return next
	}
	if !obs.Found {
		return next
	}
	if obs.Confirmations > next.Confirmations {
		next.Confirmations = obs.Confirmations
	}

	status := StatusConfirming
	if next.Confirmations >= w.TargetConfirmations {
		status = StatusConfirmed
	}
	if status.rank() > next.Status.rank() {
		next.Status = status
	}
	return next
}

// Changed reports whether Advance produced anything worth persisting.
func (w WatchedTransaction) Changed(prev WatchedTransaction) bool {
	return w.Status != prev.Status || w.Confirmations != prev.Confirmations
}

// Notification is sent to the owner of a watched transaction once it is
// confirmed.
type Notification struct {
	WatchID       string    `json:"watch_id"`
	TxID          string    `json:"txid"`
	Chain         string    `json:"chain"`
	Confirmations uint64    `json:"confirmations"`
	ExplorerURL   string    `json:"explorer_url,omitempty"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}
