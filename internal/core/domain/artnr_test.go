package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeArtNr(t *testing.T) {
	tests := []struct {
		in      string
		want    ArtNr
		wantErr bool
	}{
		{"  12345 ", "12345", false},
		{"HMS-1/a", "HMS-1/a", false},
		{"", "", true},
		{"   ", "", true},
		{"12 34", "", true},
		{"12\t34", "", true},
		{"12\xff34", "", true},
		{"\xc3", "", true},
		{"ÆØÅ-1", "ÆØÅ-1", false},
		{strings.Repeat("x", 50), ArtNr(strings.Repeat("x", 50)), false},
		{strings.Repeat("x", 51), "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeArtNr(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("NormalizeArtNr(%q): expected ErrInvalidInput, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeArtNr(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeArtNr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateIsoCategory(t *testing.T) {
	for _, ok := range []string{"1206", "12060101", "1234567890"} {
		if err := ValidateIsoCategory(ok); err != nil {
			t.Errorf("ValidateIsoCategory(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "123", "12345678901", "1206a"} {
		if err := ValidateIsoCategory(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ValidateIsoCategory(%q): expected ErrInvalidInput, got %v", bad, err)
		}
	}
}
