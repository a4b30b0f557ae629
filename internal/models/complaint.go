package models

import (
	"strings"
	"time"
	"unicode"
)

// ComplaintRecord is one 311 service request row. CreatedAt is always set;
// ClosedAt is the zero time while the case is still open.
type ComplaintRecord struct {
	CreatedAt    time.Time
	ClosedAt     time.Time
	Neighborhood string
	Department   string
	Division     string
	Category     string
	CaseType     string
}

// Closed reports whether the case has a closure timestamp.
func (r ComplaintRecord) Closed() bool {
	return !r.ClosedAt.IsZero()
}

// ResolutionDays returns the open-to-close duration in days. The second
// return value is false for still-open cases.
func (r ComplaintRecord) ResolutionDays() (float64, bool) {
	if !r.Closed() {
		return 0, false
	}
	return r.ClosedAt.Sub(r.CreatedAt).Hours() / 24, true
}

// NormalizeLabel canonicalises a categorical value: non-breaking spaces
// become regular spaces, runs of whitespace collapse, the result is trimmed
// and title-cased. Matching on normalized labels keeps user input and source
// data comparable regardless of casing or stray spacing.
func NormalizeLabel(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	fields := strings.Fields(s)
	for i, f := range fields {
		fields[i] = titleWord(f)
	}
	return strings.Join(fields, " ")
}

func titleWord(w string) string {
	runes := []rune(strings.ToLower(w))
	upperNext := true
	for i, r := range runes {
		if upperNext && unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			upperNext = false
		} else if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			// Python str.title semantics: a new word starts after any
			// non-alphanumeric rune, e.g. "storm-water" -> "Storm-Water".
			upperNext = true
		}
	}
	return string(runes)
}
