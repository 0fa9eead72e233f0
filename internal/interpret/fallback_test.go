package interpret

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

func TestClassifyAcceptance(t *testing.T) {
	tests := []struct {
		text string
		want domain.AcceptanceStatus
	}{
		{"We accept the request", domain.AcceptanceAccepted},
		{"Accepted.", domain.AcceptanceAccepted},
		{"OK from our side", domain.AcceptanceAccepted},
		{"増産を承認します", domain.AcceptanceAccepted},
		{"受諾いたします", domain.AcceptanceAccepted},
		{"We must reject this", domain.AcceptanceRejected},
		{"NG", domain.AcceptanceRejected},
		{"今回は拒否します", domain.AcceptanceRejected},
		{"対応不可です", domain.AcceptanceRejected},
		{"conditional on extra shifts", domain.AcceptanceConditional},
		{"条件付きで可能", domain.AcceptanceConditional},
		{"要検討", domain.AcceptanceConditional},
		{"nothing to report, took a look", domain.AcceptanceUnknown},
		{"", domain.AcceptanceUnknown},
		// acceptance markers win over the others
		{"accept, with conditions (条件)", domain.AcceptanceAccepted},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyAcceptance(tt.text), tt.text)
	}
}

func TestExtractRequestID(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Re: REQ123 volume increase", "REQ123"},
		{"re: req0a9f about volumes", "REQ0A9F"},
		{"依頼番号: ABC42", "ABC42"},
		{"依頼：XY9", "XY9"},
		{"Request ID: 77AB", "77AB"},
		{"request-id 55", "55"},
		{"Regarding your request, we agree", ""},
		{"no id here", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractRequestID(tt.text), tt.text)
	}
}

func TestFallback(t *testing.T) {
	got := Fallback("REQ77: 承認します。300個を2025/04/01までに納品可能")

	assert.Equal(t, "REQ77", got.RequestID)
	assert.Equal(t, domain.AcceptanceAccepted, got.AcceptanceStatus)
	require.NotNil(t, got.AvailableQuantity)
	assert.Equal(t, 300.0, *got.AvailableQuantity)
	assert.Equal(t, "2025/04/01", got.AvailableDate)
	assert.Nil(t, got.AdditionalCost)
}

func TestFallback_EnglishUnits(t *testing.T) {
	got := Fallback("We can do 1200 units by 2025-5-3")
	require.NotNil(t, got.AvailableQuantity)
	assert.Equal(t, 1200.0, *got.AvailableQuantity)
	assert.Equal(t, "2025-5-3", got.AvailableDate)
	assert.Equal(t, domain.AcceptanceUnknown, got.AcceptanceStatus)
}

func TestFallback_GroupedQuantities(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"1,000個なら可能", 1000},
		{"承認。12,500 units available", 12500},
		{"2，400台まで対応", 2400},
		{"ok, 3 units left", 3},
	}
	for _, tt := range tests {
		got := Fallback(tt.text)
		require.NotNil(t, got.AvailableQuantity, tt.text)
		assert.Equal(t, tt.want, *got.AvailableQuantity, tt.text)
	}
}

func TestParseDate(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, s := range []string{"2025-03-15", "2025/3/15", "2025-03-15T00:00:00Z", "2025年3月15日"} {
		got, err := ParseDate(s, base)
		require.NoError(t, err, s)
		assert.Equal(t, 15, got.Day(), s)
		assert.Equal(t, time.March, got.Month(), s)
	}

	got, err := ParseDate("tomorrow", base)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Day())

	_, err = ParseDate("xyzzy", base)
	assert.Error(t, err)
	_, err = ParseDate("  ", base)
	assert.Error(t, err)
}
