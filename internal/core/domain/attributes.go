package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	maxKeywords      = 30
	maxKeywordLength = 100
	maxTextLength    = 4000
	maxDocuments     = 20
)

// Attributes is the structured payload embedded in versioned entities.
// It is persisted as JSON but validated on every write.
type Attributes struct {
	Keywords       []string        `json:"keywords,omitempty"`
	URL            string          `json:"url,omitempty"`
	Text           string          `json:"text,omitempty"`
	Documents      []Document      `json:"documents,omitempty"`
	CompatibleWith *CompatibleWith `json:"compatibleWith,omitempty"`
}

type Document struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// CompatibleWith cross-references other registered entities.
type CompatibleWith struct {
	SeriesIDs  []uuid.UUID `json:"seriesIds,omitempty"`
	ProductIDs []uuid.UUID `json:"productIds,omitempty"`
}

func (a Attributes) Validate() error {
	if len(a.Keywords) > maxKeywords {
		return fmt.Errorf("%w: at most %d keywords", ErrInvalidInput, maxKeywords)
	}
	for _, k := range a.Keywords {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty keyword", ErrInvalidInput)
		}
		if len(k) > maxKeywordLength {
			return fmt.Errorf("%w: keyword %q too long", ErrInvalidInput, k)
		}
	}
	if a.URL != "" {
		if err := validateURL(a.URL); err != nil {
			return err
		}
	}
	if len(a.Text) > maxTextLength {
		return fmt.Errorf("%w: text longer than %d", ErrInvalidInput, maxTextLength)
	}
	if len(a.Documents) > maxDocuments {
		return fmt.Errorf("%w: at most %d documents", ErrInvalidInput, maxDocuments)
	}
	for _, d := range a.Documents {
		if strings.TrimSpace(d.Title) == "" {
			return fmt.Errorf("%w: document without title", ErrInvalidInput)
		}
		if err := validateURL(d.URL); err != nil {
			return err
		}
	}
	if c := a.CompatibleWith; c != nil {
		for _, id := range append(append([]uuid.UUID{}, c.SeriesIDs...), c.ProductIDs...) {
			if id == uuid.Nil {
				return fmt.Errorf("%w: nil id in compatibleWith", ErrInvalidInput)
			}
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url %q must be absolute http(s)", ErrInvalidInput, raw)
	}
	return nil
}

// Value implements driver.Valuer.
func (a Attributes) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *Attributes) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*a = Attributes{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("attributes: unsupported source type %T", src)
	}
	if len(b) == 0 {
		*a = Attributes{}
		return nil
	}
	return json.Unmarshal(b, a)
}
