package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

func entry(id string, prev *domain.Status, next domain.Status, at time.Time) *domain.StatusHistoryEntry {
	return &domain.StatusHistoryEntry{HistoryID: id, RequestID: "REQ1", PreviousStatus: prev, NewStatus: next, ChangedAt: at}
}

func ptr(s domain.Status) *domain.Status { return &s }

func TestSortHistory(t *testing.T) {
	entries := []*domain.StatusHistoryEntry{
		entry("HIST3", ptr(domain.StatusResponded), domain.StatusApproved, t0.Add(time.Hour)),
		entry("HIST2", ptr(domain.StatusSubmitted), domain.StatusResponded, t0),
		entry("HIST1", nil, domain.StatusSubmitted, t0),
	}
	SortHistory(entries)

	assert.Equal(t, "HIST1", entries[0].HistoryID)
	assert.Equal(t, "HIST2", entries[1].HistoryID)
	assert.Equal(t, "HIST3", entries[2].HistoryID)
}

func TestVerifyChain(t *testing.T) {
	good := []*domain.StatusHistoryEntry{
		entry("HIST1", nil, domain.StatusSubmitted, t0),
		entry("HIST2", ptr(domain.StatusSubmitted), domain.StatusResponded, t0.Add(time.Minute)),
	}

	tests := []struct {
		name    string
		entries []*domain.StatusHistoryEntry
		current domain.Status
		wantErr bool
	}{
		{"valid", good, domain.StatusResponded, false},
		{"empty", nil, domain.StatusSubmitted, true},
		{"wrong current", good, domain.StatusApproved, true},
		{"first not null", good[1:], domain.StatusResponded, true},
		{"broken link", []*domain.StatusHistoryEntry{
			good[0],
			entry("HIST2", ptr(domain.StatusUnderReview), domain.StatusResponded, t0.Add(time.Minute)),
		}, domain.StatusResponded, true},
		{"second null", []*domain.StatusHistoryEntry{
			good[0],
			entry("HIST2", nil, domain.StatusResponded, t0.Add(time.Minute)),
		}, domain.StatusResponded, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyChain(tt.entries, tt.current)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
