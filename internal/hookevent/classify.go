package hookevent

import "strings"

// Kind partitions event names by how the throttle policy treats them.
type Kind string

const (
	// KindForced events always attempt a compression run; only the lock
	// bounds them.
	KindForced Kind = "forced"
	// KindCheckpoint events are interim signals, subject to throttling and
	// to the checkpoint disablement flag.
	KindCheckpoint Kind = "checkpoint"
)

// forcedTokens are terminal lifecycle signals.
var forcedTokens = []string{"sessionend", "stop", "subagentstop"}

// checkpointTokens are known interim signals. Recognition is informational:
// unknown names classify as checkpoint anyway.
var checkpointTokens = []string{"userpromptsubmit", "precompact", "posttooluse", "notification"}

// Classify maps an event name to its kind. An empty or missing name is
// treated as session-end-equivalent: front-end revisions have delivered
// terminal events with no name, and losing a final compression is worse than
// running one early. Unrecognized names take the throttled path; the
// mutual-exclusion and throttle machinery is never bypassed for event kinds
// the coordinator does not know.
func Classify(name string) Kind {
	normalized := normalizeName(name)
	if normalized == "" {
		return KindForced
	}
	for _, tok := range forcedTokens {
		if normalized == tok {
			return KindForced
		}
	}
	return KindCheckpoint
}

// Known reports whether the event name is one the coordinator recognizes.
// Used only for logging; classification never fails.
func Known(name string) bool {
	normalized := normalizeName(name)
	if normalized == "" {
		return true
	}
	for _, tok := range forcedTokens {
		if normalized == tok {
			return true
		}
	}
	for _, tok := range checkpointTokens {
		if normalized == tok {
			return true
		}
	}
	return false
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "_", "")
	normalized = strings.ReplaceAll(normalized, "-", "")
	normalized = strings.ReplaceAll(normalized, ".", "")
	normalized = strings.ReplaceAll(normalized, " ", "")
	return normalized
}
