package interpret

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

// FallbackConfidence is the fixed score of a heuristic reading
const FallbackConfidence = 0.3

var (
	// ASCII markers are matched as words so "ng" does not fire inside "nothing".
	acceptedPatterns = []string{
		`承認`,
		`受諾`,
		`(?i)\bok\b`,
		`(?i)\baccept`,
	}

	rejectedPatterns = []string{
		`拒否`,
		`(?i)\bng\b`,
		`(?i)\breject`,
		`不可`,
	}

	conditionalPatterns = []string{
		`条件`,
		`(?i)\bconditional`,
		`要検討`,
	}

	acceptedRe    = compileAll(acceptedPatterns)
	rejectedRe    = compileAll(rejectedPatterns)
	conditionalRe = compileAll(conditionalPatterns)

	quantityRe = regexp.MustCompile(`(?i)(\d{1,3}(?:[,，]\d{3})+|\d+)\s*(?:個|台|本|件|units?\b)`)
	digitSep   = strings.NewReplacer(",", "", "，", "")
	dateRe     = regexp.MustCompile(`(\d{4}[-/]\d{1,2}[-/]\d{1,2})`)

	// Tried in order; the first match wins. A bare REQ prefix needs a digit
	// so the English word "request" is not taken for an id.
	requestIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bREQ[A-Z0-9]*\d[A-Z0-9]*`),
		regexp.MustCompile(`(?i)依頼番?号?\s*[:：]?\s*([A-Z0-9]+)`),
		regexp.MustCompile(`(?i)request[^a-z]*id[:：]?\s*([A-Z0-9]+)`),
	}
)

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ClassifyAcceptance reads the factory's stance from keywords. Acceptance
// markers win over rejection, and rejection over conditional.
func ClassifyAcceptance(text string) domain.AcceptanceStatus {
	switch {
	case matchesAny(text, acceptedRe):
		return domain.AcceptanceAccepted
	case matchesAny(text, rejectedRe):
		return domain.AcceptanceRejected
	case matchesAny(text, conditionalRe):
		return domain.AcceptanceConditional
	default:
		return domain.AcceptanceUnknown
	}
}

// ExtractRequestID finds a request id in free text, or returns ""
func ExtractRequestID(text string) string {
	for _, re := range requestIDPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if len(m) > 1 && m[1] != "" {
			return strings.ToUpper(m[1])
		}
		return strings.ToUpper(m[0])
	}
	return ""
}

// Fallback builds a heuristic reading of text without the AI collaborator
func Fallback(text string) domain.ExtractedFactoryResponse {
	resp := domain.ExtractedFactoryResponse{
		RequestID:        ExtractRequestID(text),
		AcceptanceStatus: ClassifyAcceptance(text),
		Comments:         text,
	}

	if m := quantityRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.ParseFloat(digitSep.Replace(m[1]), 64); err == nil {
			resp.AvailableQuantity = &n
		}
	}
	if m := dateRe.FindStringSubmatch(text); m != nil {
		resp.AvailableDate = m[1]
	}

	return resp
}
