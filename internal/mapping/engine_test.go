package mapping

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/hh-autofill/internal/cache"
	"github.com/spigell/hh-autofill/internal/fields"
	"github.com/spigell/hh-autofill/internal/ratelimit"
)

type fakeClassifier struct {
	category fields.Category
	delay    time.Duration
	block    bool
	fail     map[string]error

	mu       sync.Mutex
	calls    []string
	acquired []time.Time

	active atomic.Int32
	peak   atomic.Int32
}

func (f *fakeClassifier) Classify(ctx context.Context, req fields.Request, tok *ratelimit.Token) fields.Result {
	f.mu.Lock()
	f.calls = append(f.calls, req.RawLabelText)
	f.mu.Unlock()

	current := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.peak.Load()
		if current <= peak || f.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	if tok == nil {
		return fields.Unresolved(req.Fingerprint, fields.SourceRemote, errors.New("no token"))
	}
	f.mu.Lock()
	f.acquired = append(f.acquired, tok.AcquiredAt())
	f.mu.Unlock()

	if err, ok := f.fail[req.RawLabelText]; ok {
		return fields.Unresolved(req.Fingerprint, fields.SourceRemote, err)
	}
	if f.block {
		<-ctx.Done()
		return fields.Unresolved(req.Fingerprint, fields.SourceRemote, ctx.Err())
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	category := f.category
	if category == "" {
		category = fields.CategoryDynamic
	}
	return fields.Result{Fingerprint: req.Fingerprint, Category: category, Confidence: 0.8, Source: fields.SourceRemote}
}

func (f *fakeClassifier) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type unavailableStore struct{}

func (unavailableStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (unavailableStore) Put(context.Context, string, []byte) error {
	return errors.New("connection refused")
}

func (unavailableStore) Clear(context.Context, string) error {
	return errors.New("connection refused")
}

func field(label string) fields.FieldDescriptor {
	d := fields.FieldDescriptor{Label: label, RawLabelText: label}
	d.Fingerprint = fields.Fingerprint(d)
	return d
}

func newLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{RequestsPerWindow: 1000, Concurrent: 3, Window: time.Minute})
}

func (f *fakeClassifier) Acquired() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.acquired...)
}

func newEngine(c Cache, classifier Classifier, cfg Config) *Engine {
	return newEngineWithLimiter(c, newLimiter(), classifier, cfg)
}

func newEngineWithLimiter(c Cache, limiter Limiter, classifier Classifier, cfg Config) *Engine {
	return New(Deps{
		Cache:      c,
		Limiter:    limiter,
		Classifier: classifier,
		Logger:     zap.NewNop(),
	}, cfg)
}

func TestMapResolvesThroughEveryStage(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.NewMemoryStore())

	cached := field("Preferred interview slot")
	require.NoError(t, c.Put(ctx, cached.Fingerprint, fields.CategoryDynamic, time.Now()))

	batch := &fields.Batch{Fields: []fields.FieldDescriptor{
		field("First name"),
		field("How did you hear about us?"),
		cached,
		field("Email"),
		field("Favourite Go feature"),
	}}

	classifier := &fakeClassifier{}
	engine := newEngine(c, classifier, Config{BatchTimeout: 5 * time.Second})

	results, err := engine.Map(ctx, batch)
	require.NoError(t, err)
	require.Len(t, results, len(batch.Fields))

	expected := []struct {
		category fields.Category
		source   fields.Source
	}{
		{fields.CategoryStatic, fields.SourceShortcut},
		{fields.CategoryDynamic, fields.SourceRemote},
		{fields.CategoryDynamic, fields.SourceCache},
		{fields.CategoryStatic, fields.SourceShortcut},
		{fields.CategoryDynamic, fields.SourceRemote},
	}
	for i, want := range expected {
		assert.Equal(t, batch.Fields[i].Fingerprint, results[i].Fingerprint, "index %d", i)
		assert.Equal(t, want.category, results[i].Category, "index %d", i)
		assert.Equal(t, want.source, results[i].Source, "index %d", i)
	}

	assert.ElementsMatch(t, []string{"How did you hear about us?", "Favourite Go feature"}, classifier.Calls())

	// Shortcut and remote results are written through.
	for _, i := range []int{0, 1, 3, 4} {
		entry, ok, err := c.Get(ctx, batch.Fields[i].Fingerprint)
		require.NoError(t, err)
		require.True(t, ok, "index %d not cached", i)
		assert.Equal(t, results[i].Category, entry.Category)
	}
}

func TestMapIsIdempotentWithinTTL(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.NewMemoryStore())
	batch := &fields.Batch{Fields: []fields.FieldDescriptor{field("Phone"), field("Favourite Go feature")}}

	classifier := &fakeClassifier{}
	engine := newEngine(c, classifier, Config{})

	first, err := engine.Map(ctx, batch)
	require.NoError(t, err)
	second, err := engine.Map(ctx, batch)
	require.NoError(t, err)

	assert.Len(t, classifier.Calls(), 1)
	for i := range first {
		assert.Equal(t, first[i].Category, second[i].Category)
	}
	assert.Equal(t, fields.SourceShortcut, second[0].Source)
	assert.Equal(t, fields.SourceCache, second[1].Source)
}

func TestMapClassifiesDuplicatesOnce(t *testing.T) {
	repeated := field("Favourite Go feature")
	batch := &fields.Batch{Fields: []fields.FieldDescriptor{repeated, field("Email"), repeated}}

	classifier := &fakeClassifier{category: fields.CategorySemiStatic}
	engine := newEngine(cache.New(cache.NewMemoryStore()), classifier, Config{})

	results, err := engine.Map(context.Background(), batch)
	require.NoError(t, err)

	assert.Len(t, classifier.Calls(), 1)
	assert.Equal(t, fields.CategorySemiStatic, results[0].Category)
	assert.Equal(t, results[0], results[2])
}

func TestMapDegradesInvalidFields(t *testing.T) {
	batch := &fields.Batch{Fields: []fields.FieldDescriptor{
		{RawLabelText: "No fingerprint"},
		field("Email"),
	}}

	classifier := &fakeClassifier{}
	engine := newEngine(cache.New(cache.NewMemoryStore()), classifier, Config{})

	results, err := engine.Map(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, fields.CategoryUnresolved, results[0].Category)
	assert.ErrorIs(t, results[0].Err, fields.ErrValidation)
	assert.Equal(t, fields.CategoryStatic, results[1].Category)
	assert.Empty(t, classifier.Calls())
}

func TestMapRejectsNilBatch(t *testing.T) {
	engine := newEngine(nil, &fakeClassifier{}, Config{})

	_, err := engine.Map(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

func TestMapEmptyBatch(t *testing.T) {
	engine := newEngine(cache.New(cache.NewMemoryStore()), &fakeClassifier{}, Config{})

	results, err := engine.Map(context.Background(), &fields.Batch{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMapTreatsUnavailableCacheAsEmpty(t *testing.T) {
	batch := &fields.Batch{Fields: []fields.FieldDescriptor{
		field("Last name"),
		field("Favourite Go feature"),
		field("Preferred interview slot"),
	}}

	classifier := &fakeClassifier{}
	engine := newEngine(cache.New(unavailableStore{}), classifier, Config{})

	results, err := engine.Map(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, fields.SourceShortcut, results[0].Source)
	assert.Equal(t, fields.CategoryStatic, results[0].Category)
	for _, res := range results[1:] {
		assert.Equal(t, fields.SourceRemote, res.Source)
		assert.Equal(t, fields.CategoryDynamic, res.Category)
	}
	assert.Len(t, classifier.Calls(), 2)
}

func TestMapIsolatesRemoteFailures(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.NewMemoryStore())
	batch := &fields.Batch{Fields: []fields.FieldDescriptor{
		field("Favourite Go feature"),
		field("Preferred interview slot"),
		field("Email"),
	}}

	timeout := errors.New("remote classification timed out after 3 attempt(s)")
	classifier := &fakeClassifier{fail: map[string]error{"Favourite Go feature": timeout}}
	engine := newEngine(c, classifier, Config{})

	results, err := engine.Map(ctx, batch)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, fields.CategoryUnresolved, results[0].Category)
	assert.Contains(t, results[0].Reason, "timed out")
	assert.Equal(t, fields.CategoryDynamic, results[1].Category)
	assert.Equal(t, fields.CategoryStatic, results[2].Category)

	// Failures are never cached.
	_, ok, err := c.Get(ctx, batch.Fields[0].Fingerprint)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMapBatchDeadline(t *testing.T) {
	batch := &fields.Batch{Fields: []fields.FieldDescriptor{
		field("Email"),
		field("Favourite Go feature"),
		field("Preferred interview slot"),
	}}

	engine := newEngine(cache.New(cache.NewMemoryStore()), &fakeClassifier{block: true}, Config{BatchTimeout: 50 * time.Millisecond})

	started := time.Now()
	results, err := engine.Map(context.Background(), batch)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 2*time.Second)

	require.Len(t, results, 3)
	assert.Equal(t, fields.CategoryStatic, results[0].Category)
	for _, res := range results[1:] {
		assert.Equal(t, fields.CategoryUnresolved, res.Category)
		assert.Equal(t, fields.SourceRemote, res.Source)
		assert.NotEmpty(t, res.Reason)
	}
}

func TestMapBoundsRemoteConcurrency(t *testing.T) {
	batch := &fields.Batch{}
	for i := range 12 {
		batch.Fields = append(batch.Fields, field(fmt.Sprintf("Favourite feature %d", i)))
	}

	classifier := &fakeClassifier{delay: 20 * time.Millisecond}
	engine := newEngine(cache.New(cache.NewMemoryStore()), classifier, Config{BatchTimeout: 10 * time.Second})

	results, err := engine.Map(context.Background(), batch)
	require.NoError(t, err)

	assert.Len(t, classifier.Calls(), 12)
	assert.LessOrEqual(t, classifier.peak.Load(), int32(ratelimit.DefaultConcurrentRequests))
	for i, res := range results {
		assert.Equal(t, batch.Fields[i].Fingerprint, res.Fingerprint)
		assert.Equal(t, fields.CategoryDynamic, res.Category)
	}
}

func TestMapShortcutOverridesCachedCategory(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.NewMemoryStore())

	email := field("Email")
	require.NoError(t, c.Put(ctx, email.Fingerprint, fields.CategoryDynamic, time.Now()))

	classifier := &fakeClassifier{}
	engine := newEngine(c, classifier, Config{})

	results, err := engine.Map(ctx, &fields.Batch{Fields: []fields.FieldDescriptor{email}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, fields.CategoryStatic, results[0].Category)
	assert.Equal(t, fields.SourceShortcut, results[0].Source)
	assert.Empty(t, classifier.Calls())

	entry, ok, err := c.Get(ctx, email.Fingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fields.CategoryStatic, entry.Category)
}

func TestMapSpacesRemoteCalls(t *testing.T) {
	delay := 100 * time.Millisecond
	limiter := ratelimit.New(ratelimit.Config{RequestsPerWindow: 1000, Concurrent: 1, BatchDelay: delay, Window: time.Minute})

	batch := &fields.Batch{}
	for i := range 4 {
		batch.Fields = append(batch.Fields, field(fmt.Sprintf("Favourite feature %d", i)))
	}

	classifier := &fakeClassifier{delay: 10 * time.Millisecond}
	engine := newEngineWithLimiter(cache.New(cache.NewMemoryStore()), limiter, classifier, Config{BatchTimeout: 10 * time.Second})

	results, err := engine.Map(context.Background(), batch)
	require.NoError(t, err)
	for _, res := range results {
		assert.Equal(t, fields.CategoryDynamic, res.Category)
	}

	acquired := classifier.Acquired()
	require.Len(t, acquired, 4)
	slices.SortFunc(acquired, func(a, b time.Time) int { return a.Compare(b) })
	for i := 1; i < len(acquired); i++ {
		assert.GreaterOrEqual(t, acquired[i].Sub(acquired[i-1]), delay-10*time.Millisecond, "gap before call %d", i)
	}
}
