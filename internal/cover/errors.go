package cover

import "fmt"

// CoverSafetyViolationError marks the one case spec.md §7 says should
// never be reachable except by a logic bug: an attempt to energize a
// relay while its opposite is already energized. Hitting it quiesces the
// motor immediately; the process does not exit.
type CoverSafetyViolationError struct {
	CoverID string
	Relay   string
}

func (e *CoverSafetyViolationError) Error() string {
	return fmt.Sprintf("cover: %s: refused to energize %s relay while its opposite was already energized", e.CoverID, e.Relay)
}
