package workflow

import (
	"fmt"
	"sort"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

// SortHistory orders ledger entries by changed_at, breaking ties by
// history_id which sorts in creation order.
func SortHistory(entries []*domain.StatusHistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].ChangedAt.Equal(entries[j].ChangedAt) {
			return entries[i].ChangedAt.Before(entries[j].ChangedAt)
		}
		return entries[i].HistoryID < entries[j].HistoryID
	})
}

// VerifyChain checks that ordered ledger entries form an unbroken chain
// starting from the null submission entry, and that replaying them ends at
// current.
func VerifyChain(entries []*domain.StatusHistoryEntry, current domain.Status) error {
	if len(entries) == 0 {
		return fmt.Errorf("ledger is empty")
	}
	if entries[0].PreviousStatus != nil {
		return fmt.Errorf("first entry %s has previous status %q, want null", entries[0].HistoryID, *entries[0].PreviousStatus)
	}
	for i := 1; i < len(entries); i++ {
		prev := entries[i].PreviousStatus
		if prev == nil {
			return fmt.Errorf("entry %s has null previous status after the first entry", entries[i].HistoryID)
		}
		if *prev != entries[i-1].NewStatus {
			return fmt.Errorf("entry %s: previous status %q does not follow %q", entries[i].HistoryID, *prev, entries[i-1].NewStatus)
		}
	}
	if last := entries[len(entries)-1].NewStatus; last != current {
		return fmt.Errorf("ledger replays to %q, request is %q", last, current)
	}
	return nil
}
