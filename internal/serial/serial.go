// Package serial recognizes Dell service tag and express service code formats.
package serial

import (
	"regexp"
	"strings"
)

var shapes = []*regexp.Regexp{
	regexp.MustCompile(`^[A-Z0-9]{7}$`),                    // standard: ABC1234
	regexp.MustCompile(`^[A-Z0-9]{5}$`),                    // older systems: AB123
	regexp.MustCompile(`^[0-9]{10,11}$`),                   // express service code
	regexp.MustCompile(`^[A-Z]{1,3}[0-9]{4,5}$`),           // letter prefix
	regexp.MustCompile(`^[0-9]{1,2}[A-Z]{1,2}[0-9]{3,4}$`), // mixed: 12AB345
	regexp.MustCompile(`^[A-Z0-9]{6}$`),
}

var (
	expressCode = regexp.MustCompile(`^[0-9]{10,11}$`)
	allDigits   = regexp.MustCompile(`^[0-9]+$`)
	allLetters  = regexp.MustCompile(`^[A-Z]+$`)
	ambiguous   = regexp.MustCompile(`[IOQ]`)
)

// Rejection reasons reported by Classify.
const (
	ReasonEmpty     = "empty"
	ReasonShape     = "no matching shape"
	ReasonDigits    = "all digits"
	ReasonLetters   = "all letters"
	ReasonAmbiguous = "contains I, O or Q"
)

// Result explains a classification.
type Result struct {
	Input      string `json:"input"`
	Normalized string `json:"normalized"`
	Match      bool   `json:"vendor_format"`
	Express    bool   `json:"express_code"`
	Reason     string `json:"reason,omitempty"`
}

// IsVendorSerial reports whether raw looks like a Dell service tag.
func IsVendorSerial(raw string) bool {
	return Classify(raw).Match
}

// Classify runs the format heuristic and records why a value was rejected.
func Classify(raw string) Result {
	tag := Normalize(raw)
	res := Result{Input: raw, Normalized: tag}
	if tag == "" {
		res.Reason = ReasonEmpty
		return res
	}
	if !matchesShape(tag) {
		res.Reason = ReasonShape
		return res
	}
	// Express service codes are all digits and bypass the exclusions below.
	if expressCode.MatchString(tag) {
		res.Match = true
		res.Express = true
		return res
	}
	switch {
	case allDigits.MatchString(tag):
		res.Reason = ReasonDigits
	case allLetters.MatchString(tag):
		res.Reason = ReasonLetters
	case ambiguous.MatchString(tag):
		res.Reason = ReasonAmbiguous
	default:
		res.Match = true
	}
	return res
}

// Normalize trims and uppercases a serial number.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func matchesShape(tag string) bool {
	for _, re := range shapes {
		if re.MatchString(tag) {
			return true
		}
	}
	return false
}
