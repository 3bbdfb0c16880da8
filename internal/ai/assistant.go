package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spigell/hh-autofill/internal/fields"
)

var (
	// ErrMalformedResponse is returned when the provider answer cannot be mapped to a category.
	ErrMalformedResponse = errors.New("malformed ai response")
	// ErrRejected is returned when the provider explicitly declines to classify a field.
	ErrRejected = errors.New("ai provider rejected the request")
)

// Verdict is the provider's classification of a single field.
type Verdict struct {
	Category   fields.Category
	Confidence float64
	Reason     string
	Raw        string
}

// Labeler performs exactly one outbound classification attempt.
type Labeler interface {
	Label(ctx context.Context, req fields.Request) (*Verdict, error)
}

// ProviderError is a provider API failure carrying its HTTP-like status code.
type ProviderError struct {
	Provider string
	Code     int
	Status   string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s api error %d %s: %v", e.Provider, e.Code, e.Status, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the same request may succeed.
func (e *ProviderError) Temporary() bool {
	switch {
	case e.Code == http.StatusRequestTimeout, e.Code == http.StatusTooManyRequests:
		return true
	case e.Code >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}
