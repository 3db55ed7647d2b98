package notifications

import (
	"context"

	"github.com/azure/brand-mentions-pipeline/internal/models"
)

// NotificationInterface defines the contract for notification delivery
type NotificationInterface interface {
	Deliver(ctx context.Context, job *models.NotificationJob) error
}
