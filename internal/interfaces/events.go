package interfaces

import (
	"context"

	"chainpay/internal/models"
)

// Notifier delivers a confirmation notice to the owner of a watched
// transaction. Delivery is fire-and-forget: the tracker logs a returned error
// and moves on.
type Notifier interface {
	Notify(ctx context.Context, owner string, n models.Notification) error
}
