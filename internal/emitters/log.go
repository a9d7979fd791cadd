package emitters

import (
	"context"

	"chainpay/internal/interfaces"
	"chainpay/internal/models"

	"github.com/rs/zerolog"
)

var _ interfaces.Notifier = (*LogNotifier)(nil)

// LogNotifier logs every confirmation and forwards it to Next, if set.
type LogNotifier struct {
	Next   interfaces.Notifier
	Logger *zerolog.Logger
}

func (l *LogNotifier) Notify(ctx context.Context, owner string, n models.Notification) error {
	ev := l.Logger.Info().
		Str("owner", owner).
		Str("chain", n.Chain).
		Str("txid", n.TxID).
		Str("watch_id", n.WatchID).
		Uint64("confirmations", n.Confirmations).
		Time("confirmed_at", n.ConfirmedAt)
	if n.ExplorerURL != "" {
		ev = ev.Str("explorer", n.ExplorerURL)
	}
	ev.Msg("Transaction confirmed")

	if l.Next != nil {
		return l.Next.Notify(ctx, owner, n)
	}
	return nil
}
