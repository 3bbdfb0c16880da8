package classifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/spigell/hh-autofill/internal/ai"
	"github.com/spigell/hh-autofill/internal/fields"
)

var (
	ErrTransient    = errors.New("transient remote failure")
	ErrNonTransient = errors.New("non-transient remote failure")
	ErrNoToken      = errors.New("rate limiter token is required")
)

// RemoteError is the terminal failure of one field's classification.
type RemoteError struct {
	Transient bool
	Attempts  int
	Err       error
}

func (e *RemoteError) Error() string {
	switch {
	case errors.Is(e.Err, context.DeadlineExceeded):
		return fmt.Sprintf("remote classification timed out after %d attempt(s): %v", e.Attempts, e.Err)
	case e.Transient:
		return fmt.Sprintf("%v after %d attempt(s): %v", ErrTransient, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("%v: %v", ErrNonTransient, e.Err)
	}
}

func (e *RemoteError) Unwrap() []error {
	if e.Transient {
		return []error{ErrTransient, e.Err}
	}
	return []error{ErrNonTransient, e.Err}
}

// IsTransient reports whether retrying after err may succeed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ai.ErrMalformedResponse), errors.Is(err, ai.ErrRejected):
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var providerErr *ai.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Temporary()
	}

	// Network and transport failures.
	return true
}

// State is the position of an Attempt in the retry state machine:
// Pending -> Retrying(n) -> Resolved | Failed.
type State int

const (
	StatePending State = iota
	StateRetrying
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRetrying:
		return "retrying"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Attempt tracks the classification of one field across its tries.
type Attempt struct {
	State    State
	Tries    int
	MaxTries int
	Verdict  *ai.Verdict
	Err      error
}

func NewAttempt(maxTries int) *Attempt {
	if maxTries < 1 {
		maxTries = 1
	}
	return &Attempt{State: StatePending, MaxTries: maxTries}
}

// Done reports whether the attempt reached a terminal state.
func (a *Attempt) Done() bool {
	return a.State == StateResolved || a.State == StateFailed
}

// Record applies the outcome of one outbound try.
func (a *Attempt) Record(verdict *ai.Verdict, err error) {
	if a.Done() {
		return
	}

	a.Tries++

	switch {
	case err == nil && verdict != nil:
		a.State = StateResolved
		a.Verdict = verdict
		a.Err = nil
	case err == nil:
		a.State = StateFailed
		a.Err = &RemoteError{Attempts: a.Tries, Err: ai.ErrMalformedResponse}
	case !IsTransient(err):
		a.State = StateFailed
		a.Err = &RemoteError{Attempts: a.Tries, Err: err}
	case a.Tries >= a.MaxTries:
		a.State = StateFailed
		a.Err = &RemoteError{Transient: true, Attempts: a.Tries, Err: err}
	default:
		a.State = StateRetrying
		a.Err = err
	}
}

// Abort ends the attempt without another try, e.g. when the batch deadline passed.
func (a *Attempt) Abort(err error) {
	if a.Done() {
		return
	}
	a.State = StateFailed
	a.Err = &RemoteError{Transient: true, Attempts: a.Tries, Err: err}
}

// Result converts the terminal attempt into a classification result.
func (a *Attempt) Result(fingerprint string) fields.Result {
	if a.State == StateResolved {
		return fields.Result{
			Fingerprint: fingerprint,
			Category:    a.Verdict.Category,
			Confidence:  a.Verdict.Confidence,
			Source:      fields.SourceRemote,
			Reason:      a.Verdict.Reason,
		}
	}
	return fields.Unresolved(fingerprint, fields.SourceRemote, a.Err)
}
