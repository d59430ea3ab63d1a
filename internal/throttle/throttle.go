// Package throttle decides whether a classified event should skip the
// compression run. The policy assumes nothing about monotonicity of the
// incoming counts: a transcript may be truncated or rotated underneath the
// coordinator, and any relationship between counts is accepted.
package throttle

import (
	"time"

	"github.com/basket/om/internal/hookevent"
)

// Prior is the previously persisted progress for a transcript, if any.
type Prior struct {
	MessageCount int
	LastObserved time.Time
}

// Skip reasons, recorded in the audit trail.
const (
	ReasonForced   = "forced"
	ReasonNoGrowth = "no_growth"
	ReasonTooSoon  = "too_soon"
	ReasonDue      = "due"
)

// ShouldSkip applies the policy rules in order:
//
//  1. forced events never skip: terminal events always get a final,
//     complete compression even if a checkpoint ran moments earlier;
//  2. no growth past the prior count skips: duplicate deliveries for the
//     same turn see the same count;
//  3. inside the throttle window skips: bounds compression cost during
//     long sessions. window == 0 disables this rule.
//
// prior == nil means no record exists; rules 2 and 3 need a prior and are
// then vacuous.
func ShouldSkip(now time.Time, messageCount int, prior *Prior, kind hookevent.Kind, window time.Duration) (bool, string) {
	if kind == hookevent.KindForced {
		return false, ReasonForced
	}
	if prior == nil {
		return false, ReasonDue
	}
	if prior.MessageCount > 0 && messageCount <= prior.MessageCount {
		return true, ReasonNoGrowth
	}
	if window > 0 && !prior.LastObserved.IsZero() && now.Sub(prior.LastObserved) < window {
		return true, ReasonTooSoon
	}
	return false, ReasonDue
}
