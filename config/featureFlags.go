package config

import (
	"os"
	"strings"
)

const (
	ChangeFeedModePush = "push"
	ChangeFeedModePoll = "poll"
)

// ChangeFeedMode selects how downstream consumers observe clearance events:
// "push"  outbox dispatcher publishes to Pub/Sub (default)
// "poll"  consumers tail the outbox table on an interval
func ChangeFeedMode() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("CHANGE_FEED_MODE")))
	if v != ChangeFeedModePush && v != ChangeFeedModePoll {
		return ChangeFeedModePush
	}
	return v
}

// ReconciliationEnabled gates the nightly summary/ledger reconciliation run.
func ReconciliationEnabled() bool {
	v := strings.TrimSpace(os.Getenv("RECONCILIATION_CHECKS"))
	return v == "" || v == "1" || strings.EqualFold(v, "true")
}
