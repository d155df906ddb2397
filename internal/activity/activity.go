// Package activity builds run summaries and maintains the bounded activity history.
package activity

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"servicetag/internal/domain"
)

// MaxEntries bounds the activity history.
const MaxEntries = 50

// Summarize builds the run summary for a list of outcomes.
func Summarize(outcomes []domain.AssetOutcome, now time.Time) domain.RunSummary {
	if outcomes == nil {
		outcomes = []domain.AssetOutcome{}
	}
	return domain.RunSummary{
		ID:            uuid.NewString(),
		Timestamp:     now.UTC().Format(time.RFC3339),
		TotalAssets:   len(outcomes),
		UpdatedAssets: CountOutcome(outcomes, domain.OutcomeUpdated),
		Results:       outcomes,
	}
}

// CountOutcome counts outcomes carrying tag.
func CountOutcome(outcomes []domain.AssetOutcome, tag domain.OutcomeTag) int {
	n := 0
	for _, o := range outcomes {
		if o.Outcome == tag {
			n++
		}
	}
	return n
}

// Counts tallies a summary's outcomes by tag.
func Counts(s domain.RunSummary) map[domain.OutcomeTag]int {
	counts := map[domain.OutcomeTag]int{}
	for _, o := range s.Results {
		counts[o.Outcome]++
	}
	return counts
}

// Message is the one-line description of a run.
func Message(s domain.RunSummary) string {
	return fmt.Sprintf("Dell Asset Sync: %d/%d assets updated", s.UpdatedAssets, s.TotalAssets)
}

// NewEntry wraps a summary for the activity history.
func NewEntry(s domain.RunSummary) domain.ActivityEntry {
	details := s
	return domain.ActivityEntry{
		Timestamp: s.Timestamp,
		Message:   Message(s),
		Details:   &details,
	}
}

// Record returns a new history with entry first, truncated to MaxEntries.
// The input slice is not modified.
func Record(history []domain.ActivityEntry, entry domain.ActivityEntry) []domain.ActivityEntry {
	n := len(history) + 1
	if n > MaxEntries {
		n = MaxEntries
	}
	out := make([]domain.ActivityEntry, 0, n)
	out = append(out, entry)
	out = append(out, history[:n-1]...)
	return out
}

// Tail returns at most n of the newest entries; n <= 0 returns all of them.
func Tail(history []domain.ActivityEntry, n int) []domain.ActivityEntry {
	if n <= 0 || n >= len(history) {
		return history
	}
	return history[:n]
}
