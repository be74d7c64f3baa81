package notifications

import (
	"context"

	"github.com/partyhub/mention-lifecycle/internal/models"
)

// NotificationInterface defines the contract for the operator notification sink
type NotificationInterface interface {
	Emit(ctx context.Context, notification *models.Notification) error
}
