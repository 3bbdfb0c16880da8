package classifier

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-autofill/internal/ai"
	"github.com/spigell/hh-autofill/internal/fields"
	applog "github.com/spigell/hh-autofill/internal/logger"
	"github.com/spigell/hh-autofill/internal/metrics"
	"github.com/spigell/hh-autofill/internal/ratelimit"
	"github.com/spigell/hh-autofill/internal/utils"
)

// Config holds the retry policy.
type Config struct {
	// MaxRetries is the total number of tries for one field, the first one included.
	MaxRetries int
	// Timeout bounds each individual try.
	Timeout           time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		Timeout:           30 * time.Second,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	return c
}

var wait = utils.WaitFor

// Client classifies single fields through an ai.Labeler. It never caches.
type Client struct {
	labeler ai.Labeler
	cfg     Config
	logger  *zap.Logger
}

func New(labeler ai.Labeler, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{labeler: labeler, cfg: cfg.withDefaults(), logger: logger}
}

// Classify runs the retry state machine for one field under an already held token.
// The token stays held for every try; releasing it is the caller's job.
func (c *Client) Classify(ctx context.Context, req fields.Request, tok *ratelimit.Token) fields.Result {
	if tok == nil {
		return fields.Unresolved(req.Fingerprint, fields.SourceRemote, ErrNoToken)
	}

	attempt := NewAttempt(c.cfg.MaxRetries)

	for !attempt.Done() {
		if attempt.State == StateRetrying {
			delay := utils.Backoff(attempt.Tries-1, c.cfg.InitialBackoff, c.cfg.MaxBackoff, c.cfg.BackoffMultiplier)
			c.logger.Debug("retrying classification",
				zap.String(applog.FieldFingerprint, req.Fingerprint),
				zap.Int(applog.FieldAttempt, attempt.Tries+1),
				zap.Duration("backoff", delay),
				zap.Error(attempt.Err),
			)

			if err := wait(ctx, delay); err != nil {
				attempt.Abort(lastOr(attempt.Err, err))
				break
			}
		}

		tryCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		verdict, err := c.labeler.Label(tryCtx, req)
		cancel()

		// A try cut short by the caller's own deadline is not the provider's fault.
		if err != nil && ctx.Err() != nil {
			err = ctx.Err()
		}

		attempt.Record(verdict, err)
		metrics.RemoteAttempts.WithLabelValues(outcome(err)).Inc()
	}

	result := attempt.Result(req.Fingerprint)

	if attempt.State == StateFailed {
		c.logger.Warn("classification failed", append(applog.ResultFields(result),
			zap.Int(applog.FieldAttempt, attempt.Tries),
			zap.Error(attempt.Err),
		)...)
	}

	return result
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case IsTransient(err):
		return metrics.OutcomeTransient
	default:
		return metrics.OutcomeNonTransient
	}
}

// lastOr prefers the deadline error over the last provider error so the reason
// reflects why retrying stopped.
func lastOr(last, stop error) error {
	if errors.Is(stop, context.DeadlineExceeded) || last == nil {
		return stop
	}
	return errors.Join(stop, last)
}
