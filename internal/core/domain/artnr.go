package domain

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxArtNrLength = 50

// ArtNr is a domain (hms) or supplier (lev) article number.
type ArtNr string

// NormalizeArtNr trims surrounding space and validates the article number.
func NormalizeArtNr(s string) (ArtNr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: article number is empty", ErrInvalidInput)
	}
	if len(s) > maxArtNrLength {
		return "", fmt.Errorf("%w: article number %q longer than %d", ErrInvalidInput, s, maxArtNrLength)
	}
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: article number %q is not valid UTF-8", ErrInvalidInput, s)
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", fmt.Errorf("%w: article number %q contains whitespace", ErrInvalidInput, s)
		}
	}
	return ArtNr(s), nil
}

func (a ArtNr) String() string { return string(a) }

// ValidateIsoCategory checks the ISO 9999 code shape: 4 to 10 digits.
func ValidateIsoCategory(code string) error {
	if len(code) < 4 || len(code) > 10 {
		return fmt.Errorf("%w: iso category %q must have 4-10 digits", ErrInvalidInput, code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: iso category %q must be numeric", ErrInvalidInput, code)
		}
	}
	return nil
}
