package billing

import (
	"strings"

	"github.com/rcourtman/clubcloud/internal/cloudcp/registry"
)

// MapSubscriptionStatus converts a provider subscription status to the
// mirrored registry status. Unknown statuses fail closed (past_due).
func MapSubscriptionStatus(status string) registry.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return registry.SubscriptionStatusActive
	case "trialing":
		return registry.SubscriptionStatusTrialing
	case "canceled", "cancelled", "incomplete_expired":
		return registry.SubscriptionStatusCancelled
	case "past_due", "unpaid", "paused", "incomplete":
		return registry.SubscriptionStatusPastDue
	default:
		return registry.SubscriptionStatusPastDue
	}
}
