package mapping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/hh-autofill/internal/cache"
	"github.com/spigell/hh-autofill/internal/fields"
	applog "github.com/spigell/hh-autofill/internal/logger"
	"github.com/spigell/hh-autofill/internal/metrics"
	"github.com/spigell/hh-autofill/internal/ratelimit"
)

const DefaultBatchTimeout = 2 * time.Minute

var (
	// ErrInvalidBatch is the only batch-level failure: there is nothing to iterate.
	ErrInvalidBatch = errors.New("invalid batch")
	// ErrBatchTimeout marks fields left unresolved when the batch deadline passed.
	ErrBatchTimeout = errors.New("batch deadline exceeded")
)

// Cache is the part of the classification cache the engine needs.
type Cache interface {
	Get(ctx context.Context, fingerprint string) (cache.Entry, bool, error)
	PutMany(ctx context.Context, categories map[string]fields.Category, now time.Time) error
}

// Limiter hands out permits for remote calls.
type Limiter interface {
	Acquire(ctx context.Context) (*ratelimit.Token, error)
	Concurrency() int
}

// Classifier resolves one field remotely under a held permit.
type Classifier interface {
	Classify(ctx context.Context, req fields.Request, tok *ratelimit.Token) fields.Result
}

// Deps aggregates the collaborators of the engine.
type Deps struct {
	Cache      Cache
	Limiter    Limiter
	Classifier Classifier
	Matcher    *fields.Matcher
	Logger     *zap.Logger
}

type Config struct {
	// BatchTimeout bounds a whole Map call. Zero keeps only the caller's deadline.
	BatchTimeout time.Duration
}

// Engine classifies batches of form fields: shortcut rules first, then the cache,
// then remote classification through a bounded worker pool.
type Engine struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

func New(deps Deps, cfg Config) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Matcher == nil {
		deps.Matcher = fields.NewMatcher(nil)
	}
	return &Engine{deps: deps, cfg: cfg, now: time.Now}
}

// problem is one unique fingerprint of a batch together with every position it occupies.
type problem struct {
	fingerprint string
	indexes     []int
	result      fields.Result
	resolved    bool
}

// Step describes the result of one resolution stage.
type Step struct {
	Name     string
	Initial  int
	Resolved int
	Left     int
}

// Map returns exactly one result per field of batch, in input order. Per-field
// failures degrade that field to UNRESOLVED; only a nil batch is rejected.
func (e *Engine) Map(ctx context.Context, batch *fields.Batch) ([]fields.Result, error) {
	if batch == nil {
		return nil, fmt.Errorf("%w: batch is nil", ErrInvalidBatch)
	}

	started := time.Now()
	logger := e.deps.Logger.With(zap.String(applog.FieldBatchID, uuid.NewString()))

	if e.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.BatchTimeout)
		defer cancel()
	}

	results := make([]fields.Result, len(batch.Fields))
	problems := e.deduplicate(logger, batch, results)

	pending := e.shortcut(ctx, logger, batch, problems)
	pending = e.lookup(ctx, logger, pending)
	e.remote(ctx, logger, batch, pending)

	for _, p := range problems {
		for _, i := range p.indexes {
			results[i] = p.result
		}
	}

	counts := map[fields.Source]int{}
	unresolved := 0
	for _, res := range results {
		metrics.FieldsClassified.WithLabelValues(string(res.Source), string(res.Category)).Inc()
		counts[res.Source]++
		if !res.Category.Resolved() {
			unresolved++
		}
	}

	metrics.BatchDuration.Observe(time.Since(started).Seconds())
	logger.Info("batch classified",
		zap.Int("fields", len(results)),
		zap.Int("unique", len(problems)),
		zap.Int("shortcut", counts[fields.SourceShortcut]),
		zap.Int("cache", counts[fields.SourceCache]),
		zap.Int("remote", counts[fields.SourceRemote]),
		zap.Int("unresolved", unresolved),
		zap.Duration("elapsed", time.Since(started)),
	)

	return results, nil
}

// deduplicate groups valid fields by fingerprint and fills validation failures in place.
func (e *Engine) deduplicate(logger *zap.Logger, batch *fields.Batch, results []fields.Result) []*problem {
	byFingerprint := make(map[string]*problem, len(batch.Fields))
	problems := make([]*problem, 0, len(batch.Fields))

	for i, d := range batch.Fields {
		if err := d.Validate(); err != nil {
			logger.Debug("rejecting field", zap.Int("index", i), zap.Error(err))
			results[i] = fields.Unresolved(d.Fingerprint, fields.SourceRemote, err)
			continue
		}

		p, ok := byFingerprint[d.Fingerprint]
		if !ok {
			p = &problem{fingerprint: d.Fingerprint}
			byFingerprint[d.Fingerprint] = p
			problems = append(problems, p)
		}
		p.indexes = append(p.indexes, i)
	}

	return problems
}

func (e *Engine) shortcut(ctx context.Context, logger *zap.Logger, batch *fields.Batch, problems []*problem) []*problem {
	pending := make([]*problem, 0, len(problems))
	writes := make(map[string]fields.Category)

	for _, p := range problems {
		category, ok := e.deps.Matcher.MatchField(batch.Fields[p.indexes[0]])
		if !ok {
			pending = append(pending, p)
			continue
		}

		p.result = fields.Result{
			Fingerprint: p.fingerprint,
			Category:    category,
			Confidence:  1.0,
			Source:      fields.SourceShortcut,
		}
		p.resolved = true
		writes[p.fingerprint] = category
	}

	if len(writes) > 0 && e.deps.Cache != nil {
		if err := e.deps.Cache.PutMany(ctx, writes, e.now()); err != nil {
			metrics.CacheErrors.WithLabelValues("put").Inc()
			logger.Warn("writing shortcut results to cache", zap.Error(err))
		}
	}

	e.report(logger, Step{Name: "shortcut", Initial: len(problems), Resolved: len(problems) - len(pending), Left: len(pending)})
	return pending
}

func (e *Engine) lookup(ctx context.Context, logger *zap.Logger, problems []*problem) []*problem {
	if e.deps.Cache == nil {
		return problems
	}

	pending := make([]*problem, 0, len(problems))
	unavailable := false

	for _, p := range problems {
		if unavailable {
			pending = append(pending, p)
			continue
		}

		entry, ok, err := e.deps.Cache.Get(ctx, p.fingerprint)
		if err != nil {
			unavailable = true
			metrics.CacheErrors.WithLabelValues("get").Inc()
			logger.Warn("classification cache unavailable, treating as empty", zap.Error(err))
			pending = append(pending, p)
			continue
		}
		if !ok || !entry.Category.Resolved() {
			pending = append(pending, p)
			continue
		}

		p.result = fields.Result{
			Fingerprint: p.fingerprint,
			Category:    entry.Category,
			Confidence:  1.0,
			Source:      fields.SourceCache,
		}
		p.resolved = true
	}

	e.report(logger, Step{Name: "cache", Initial: len(problems), Resolved: len(problems) - len(pending), Left: len(pending)})
	return pending
}

func (e *Engine) report(logger *zap.Logger, step Step) {
	logger.Info("mapping step",
		zap.String("name", step.Name),
		zap.Int("initial", step.Initial),
		zap.Int("resolved", step.Resolved),
		zap.Int("left", step.Left),
	)
}
