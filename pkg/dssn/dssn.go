// Package dssn provides normalization and validation for Digital Social
// Security Numbers.
//
// A DSSN is entered by citizens with arbitrary separators:
//
//	1234-5678-9012-345
//	123 456 789 012 345
//
// Normalize strips every non-digit and requires exactly Length digits. The
// remote authority remains the source of truth for whether a well-formed DSSN
// actually exists.
package dssn

import (
	"fmt"
	"strings"
)

// Length is the number of digits in a normalized DSSN.
const Length = 15

// Reason classifies why a DSSN was rejected.
type Reason string

const (
	// ReasonEmpty means the input was blank.
	ReasonEmpty Reason = "empty"
	// ReasonLength means the input did not contain exactly Length digits.
	ReasonLength Reason = "length"
)

// ValidationError is returned for empty or malformed DSSN input. It is always
// raised before any network call is made.
type ValidationError struct {
	Input  string
	Reason Reason
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonEmpty:
		return "dssn must not be empty"
	default:
		return fmt.Sprintf("dssn must contain exactly %d digits", Length)
	}
}

// Normalize removes all non-digit characters from raw and checks the result
// has exactly Length digits.
func Normalize(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", &ValidationError{Input: raw, Reason: ReasonEmpty}
	}

	var b strings.Builder
	b.Grow(Length)
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if len(digits) != Length {
		return "", &ValidationError{Input: raw, Reason: ReasonLength}
	}
	return digits, nil
}

// Valid reports whether raw normalizes to a well-formed DSSN.
func Valid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}

// Mask hides all but the last four digits, for logs and terminal output.
//
//	Mask("123456789012345") // "***********2345"
func Mask(d string) string {
	if len(d) <= 4 {
		return d
	}
	return strings.Repeat("*", len(d)-4) + d[len(d)-4:]
}
