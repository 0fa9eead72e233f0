package interpret

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hochfrequenz/factory-coordinator/internal/domain"
)

// Validation collects problems found in an extraction. Errors name missing
// required fields; warnings flag doubtful values. Neither stops processing.
type Validation struct {
	Errors   []string `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Valid reports whether no required field was missing
func (v *Validation) Valid() bool {
	return len(v.Errors) == 0
}

func (v *Validation) warn(format string, args ...interface{}) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// Decode reads the AI collaborator's JSON object into a typed response.
// Values of the wrong shape are dropped with a warning instead of failing.
func Decode(raw json.RawMessage, now time.Time) (domain.ExtractedFactoryResponse, *Validation, error) {
	var resp domain.ExtractedFactoryResponse
	v := &Validation{}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return resp, v, fmt.Errorf("%w: extraction is not a JSON object: %v", domain.ErrAIServiceFailure, err)
	}

	resp.RequestID = strings.TrimSpace(stringField(fields["request_id"]))
	resp.AcceptanceStatus = domain.AcceptanceStatus(strings.TrimSpace(stringField(fields["acceptance_status"])))
	resp.AvailableDate = strings.TrimSpace(stringField(fields["available_date"]))
	resp.Comments = stringField(fields["comments"])
	resp.Conditions = stringField(fields["conditions"])

	if q, ok := fields["available_quantity"]; ok && q != nil {
		n, err := numberField(q)
		if err != nil {
			v.warn("Available quantity should be a positive number")
		} else {
			f, _ := n.Float64()
			resp.AvailableQuantity = &f
		}
	}
	if c, ok := fields["additional_cost"]; ok && c != nil {
		n, err := numberField(c)
		if err != nil {
			v.warn("Additional cost should be a positive number")
		} else {
			resp.AdditionalCost = &n
		}
	}

	validate(&resp, v, now)
	return resp, v, nil
}

// Validate checks an already-typed response, such as a fallback reading
func Validate(resp *domain.ExtractedFactoryResponse, now time.Time) *Validation {
	v := &Validation{}
	validate(resp, v, now)
	return v
}

func validate(resp *domain.ExtractedFactoryResponse, v *Validation, now time.Time) {
	if resp.RequestID == "" {
		v.Errors = append(v.Errors, "Request ID is missing")
	}
	if resp.AcceptanceStatus == "" {
		v.Errors = append(v.Errors, "Acceptance status is missing")
	} else if !resp.AcceptanceStatus.Known() {
		v.warn("Unusual acceptance status: %s", resp.AcceptanceStatus)
	}

	if resp.AvailableQuantity != nil && *resp.AvailableQuantity < 0 {
		v.warn("Available quantity should be a positive number")
	}
	if resp.AdditionalCost != nil && resp.AdditionalCost.IsNegative() {
		v.warn("Additional cost should be a positive number")
	}

	if resp.AvailableDate != "" {
		t, err := ParseDate(resp.AvailableDate, now)
		if err != nil {
			v.warn("Available date format may be invalid")
		} else {
			resp.AvailableOn = &t
		}
	}
}

func stringField(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

func numberField(v interface{}) (decimal.Decimal, error) {
	switch x := v.(type) {
	case json.Number:
		return decimal.NewFromString(x.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	default:
		return decimal.Decimal{}, fmt.Errorf("not a number: %v", v)
	}
}
