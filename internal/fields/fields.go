package fields

import (
	"errors"
	"fmt"
	"strings"
)

// Category is the kind of personal or résumé data a form field expects.
type Category string

const (
	CategoryStatic     Category = "STATIC"
	CategorySemiStatic Category = "SEMI_STATIC"
	CategoryDynamic    Category = "DYNAMIC"
	CategoryUnresolved Category = "UNRESOLVED"
)

// Categories lists the resolvable categories in shortcut priority order.
var Categories = []Category{CategoryStatic, CategorySemiStatic, CategoryDynamic}

// ParseCategory maps free-form text (as returned by an AI provider) onto the closed enumeration.
func ParseCategory(s string) (Category, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	switch Category(normalized) {
	case CategoryStatic, CategorySemiStatic, CategoryDynamic, CategoryUnresolved:
		return Category(normalized), nil
	case "SEMISTATIC":
		return CategorySemiStatic, nil
	default:
		return CategoryUnresolved, fmt.Errorf("unknown category %q", s)
	}
}

// Resolved reports whether the category is an authoritative classification.
func (c Category) Resolved() bool {
	return c == CategoryStatic || c == CategorySemiStatic || c == CategoryDynamic
}

// Source tells where a classification result came from.
type Source string

const (
	SourceShortcut Source = "shortcut"
	SourceCache    Source = "cache"
	SourceRemote   Source = "remote"
)

// FieldDescriptor is one detected form field.
type FieldDescriptor struct {
	Fingerprint  string `json:"fingerprint" mapstructure:"fingerprint"`
	RawLabelText string `json:"rawLabelText" mapstructure:"rawLabelText"`

	// Stable attributes the fingerprint is derived from.
	Name        string `json:"name,omitempty" mapstructure:"name"`
	ID          string `json:"id,omitempty" mapstructure:"id"`
	Label       string `json:"label,omitempty" mapstructure:"label"`
	Placeholder string `json:"placeholder,omitempty" mapstructure:"placeholder"`
	Type        string `json:"type,omitempty" mapstructure:"type"`
}

// Validate checks per-field semantic well-formedness.
func (d FieldDescriptor) Validate() error {
	if strings.TrimSpace(d.Fingerprint) == "" {
		return &ValidationError{Field: "fingerprint", Reason: "is required"}
	}
	return nil
}

// Hints carries optional page context sent along with a classification request.
type Hints struct {
	PageTitle    string   `json:"pageTitle,omitempty" mapstructure:"pageTitle"`
	NearbyLabels []string `json:"nearbyLabels,omitempty" mapstructure:"nearbyLabels"`
}

// Request is a single remote classification problem.
type Request struct {
	Fingerprint  string
	RawLabelText string
	Hints        Hints
}

// Result is the resolved classification of one field.
type Result struct {
	Fingerprint string   `json:"fingerprint"`
	Category    Category `json:"category"`
	Confidence  float64  `json:"confidence"`
	Source      Source   `json:"source"`
	Reason      string   `json:"reason,omitempty"`

	Err error `json:"-"`
}

// Unresolved builds a degraded result carrying the failure that caused it.
func Unresolved(fingerprint string, source Source, err error) Result {
	res := Result{
		Fingerprint: fingerprint,
		Category:    CategoryUnresolved,
		Source:      source,
		Err:         err,
	}
	if err != nil {
		res.Reason = err.Error()
	}
	return res
}

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("validation error")

// ValidationError describes a malformed field descriptor.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
