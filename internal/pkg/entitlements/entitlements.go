package entitlements

import (
	"strings"

	"github.com/regscout/regscout/app/models"
)

// Entitlement is the derived access tier for one user. It is computed from
// the authoritative subscription record and never persisted. Status is the
// raw provider status, or empty when the user has no subscription. The
// empty value is the deny-by-default entitlement.
type Entitlement struct {
	Status    string `json:"status"`
	IsPremium bool   `json:"is_premium"`
}

// None is the safe default: no subscription, no premium access.
var None = Entitlement{}

// FreeDailyChatLimit is the number of assistant messages a free user may
// send per day. Premium users are not limited.
const FreeDailyChatLimit = 5

// Derive computes the entitlement for a subscription status. Only active and
// trialing subscriptions grant premium access; every other status, and the
// absence of a record, denies it.
func Derive(status string) Entitlement {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return None
	}
	return Entitlement{
		Status:    s,
		IsPremium: IsEntitling(s),
	}
}

// IsEntitling reports whether a subscription status grants premium access.
func IsEntitling(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing:
		return true
	default:
		return false
	}
}

// CanBookmark reports whether bookmarking is available for an entitlement.
func CanBookmark(e Entitlement) bool {
	return e.IsPremium
}

// DailyChatLimit returns the assistant message quota for an entitlement.
// A negative value means unlimited.
func DailyChatLimit(e Entitlement) int {
	if e.IsPremium {
		return -1
	}
	return FreeDailyChatLimit
}
