package mapping

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-autofill/internal/fields"
	applog "github.com/spigell/hh-autofill/internal/logger"
	"github.com/spigell/hh-autofill/internal/metrics"
)

type outcome struct {
	problem *problem
	result  fields.Result
}

// remote classifies the leftovers with at most Concurrency() workers. Fields still
// outstanding when ctx ends are reported UNRESOLVED; late workers are abandoned.
func (e *Engine) remote(ctx context.Context, logger *zap.Logger, batch *fields.Batch, pending []*problem) {
	if len(pending) == 0 {
		e.report(logger, Step{Name: "remote"})
		return
	}

	workers := min(max(e.deps.Limiter.Concurrency(), 1), len(pending))
	jobs := make(chan *problem)
	out := make(chan outcome, len(pending))

	for range workers {
		go func() {
			for p := range jobs {
				out <- outcome{problem: p, result: e.classifyRemote(ctx, logger, batch, p)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, p := range pending {
			select {
			case jobs <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	apply := func(o outcome) {
		o.problem.result = o.result
		o.problem.resolved = true
	}

	received := 0
collect:
	for received < len(pending) {
		select {
		case o := <-out:
			apply(o)
			received++
		case <-ctx.Done():
			break collect
		}
	}

drain:
	for received < len(pending) {
		select {
		case o := <-out:
			apply(o)
			received++
		default:
			break drain
		}
	}

	resolved := 0
	for _, p := range pending {
		if !p.resolved {
			logger.Warn("field left unresolved by batch deadline", zap.String(applog.FieldFingerprint, p.fingerprint))
			p.result = fields.Unresolved(p.fingerprint, fields.SourceRemote, fmt.Errorf("%w: %w", ErrBatchTimeout, ctx.Err()))
			continue
		}
		if p.result.Category.Resolved() {
			resolved++
		}
	}

	e.report(logger, Step{Name: "remote", Initial: len(pending), Resolved: resolved, Left: len(pending) - resolved})
}

// classifyRemote holds one limiter token for the whole retry sequence of a field
// and writes a successful category through to the cache.
func (e *Engine) classifyRemote(ctx context.Context, logger *zap.Logger, batch *fields.Batch, p *problem) fields.Result {
	waitStarted := time.Now()
	tok, err := e.deps.Limiter.Acquire(ctx)
	metrics.LimiterWait.Observe(time.Since(waitStarted).Seconds())
	if err != nil {
		return fields.Unresolved(p.fingerprint, fields.SourceRemote, err)
	}

	metrics.RemoteInFlight.Inc()
	first := p.indexes[0]
	req := fields.Request{
		Fingerprint:  p.fingerprint,
		RawLabelText: batch.Fields[first].RawLabelText,
		Hints:        batch.HintsFor(first),
	}
	result := e.deps.Classifier.Classify(ctx, req, tok)
	tok.Release()
	metrics.RemoteInFlight.Dec()

	logger.Debug("remote classification finished", applog.ResultFields(result)...)

	if !result.Category.Resolved() || e.deps.Cache == nil {
		return result
	}

	// The write outlives the batch deadline so late results still warm the cache.
	writeCtx := context.WithoutCancel(ctx)
	if err := e.deps.Cache.PutMany(writeCtx, map[string]fields.Category{p.fingerprint: result.Category}, e.now()); err != nil {
		metrics.CacheErrors.WithLabelValues("put").Inc()
		logger.Warn("writing classification to cache", zap.String(applog.FieldFingerprint, p.fingerprint), zap.Error(err))
	}

	return result
}
