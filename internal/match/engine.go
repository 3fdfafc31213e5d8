package match

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"faceattend/internal/apperror"
	"faceattend/internal/cache"
	"faceattend/internal/logger"
	"faceattend/internal/metrics"
	"faceattend/internal/model"
	"faceattend/internal/store"
)

const loadTimeout = 30 * time.Second

// Engine matches a query embedding against every enrolled embedding. The
// identity list always comes from the store; vectors come from the cache
// when present and from the store otherwise.
type Engine struct {
	cache     cache.Cache
	ranker    Ranker
	threshold float64
	ttl       time.Duration
	log       logrus.FieldLogger
	loads     singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold sets the default acceptance threshold.
func WithThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 {
			e.threshold = t
		}
	}
}

// WithRanker substitutes the ranking strategy.
func WithRanker(r Ranker) Option {
	return func(e *Engine) {
		if r != nil {
			e.ranker = r
		}
	}
}

// WithCacheTTL sets the TTL used when writing loaded vectors back to the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = ttl }
}

// WithLogger sets the engine logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// NewEngine builds an engine. A nil cache disables caching.
func NewEngine(c cache.Cache, opts ...Option) *Engine {
	if c == nil {
		c = cache.Nop{}
	}
	e := &Engine{cache: c, threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(e)
	}
	e.log = logger.OrStandard(e.log)
	if e.ranker == nil {
		e.ranker = Exact{Log: e.log}
	}
	return e
}

// Threshold returns the default acceptance threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Match ranks query against the corpus visible through uow. threshold <= 0
// selects the engine default. An empty corpus is a non-match, an unreachable
// store is an error.
func (e *Engine) Match(ctx context.Context, uow store.UnitOfWork, query []float32, threshold float64) (Outcome, error) {
	start := time.Now()
	defer func() { metrics.MatchDuration.Observe(time.Since(start).Seconds()) }()

	if threshold <= 0 {
		threshold = e.threshold
	}
	corpus, err := e.Corpus(ctx, uow)
	if err != nil {
		metrics.MatchOutcomes.WithLabelValues("error").Inc()
		return Outcome{Threshold: threshold, Ranked: []model.MatchResult{}}, err
	}
	out, err := e.ranker.Rank(ctx, query, corpus, threshold)
	if err != nil {
		metrics.MatchOutcomes.WithLabelValues("error").Inc()
		return out, err
	}
	if out.Matched {
		metrics.MatchOutcomes.WithLabelValues("matched").Inc()
	} else {
		metrics.MatchOutcomes.WithLabelValues("unmatched").Inc()
	}
	return out, nil
}

// Corpus assembles every enrolled vector ordered by face sample id.
func (e *Engine) Corpus(ctx context.Context, uow store.UnitOfWork) ([]Candidate, error) {
	idents, err := uow.Identities().ListEnrolled(ctx)
	if err != nil {
		return nil, apperror.StoreUnavailable(err)
	}
	if len(idents) == 0 {
		return nil, nil
	}

	keys := make([]string, len(idents))
	for i, ident := range idents {
		keys[i] = ident.ExternalKey
	}
	cached := e.cache.GetMany(ctx, keys)

	var missing []model.Identity
	for _, ident := range idents {
		if _, ok := cached[ident.ExternalKey]; !ok {
			missing = append(missing, ident)
		}
	}
	if len(missing) > 0 {
		loaded, err := e.load(ctx, uow, missing)
		if err != nil {
			return nil, err
		}
		for k, entries := range loaded {
			cached[k] = entries
		}
	}

	corpus := make([]Candidate, 0, len(idents))
	for _, ident := range idents {
		for _, entry := range cached[ident.ExternalKey] {
			corpus = append(corpus, Candidate{
				IdentityID:  ident.ID,
				ExternalKey: ident.ExternalKey,
				Name:        ident.Name,
				FaceID:      entry.FaceID,
				Quality:     entry.Quality,
				Vector:      entry.Vector,
			})
		}
	}
	sort.Slice(corpus, func(i, j int) bool { return corpus[i].FaceID < corpus[j].FaceID })
	return corpus, nil
}

// Warm loads every enrolled identity into the cache and reports how many were written.
func (e *Engine) Warm(ctx context.Context, uow store.UnitOfWork) (int, error) {
	idents, err := uow.Identities().ListEnrolled(ctx)
	if err != nil {
		return 0, apperror.StoreUnavailable(err)
	}
	loaded, err := e.load(ctx, uow, idents)
	return len(loaded), err
}

// load reads vectors of idents from the store and writes them back to the
// cache. Concurrent autocommit loads of the same identity set share one
// query that outlives any single caller. Loads inside a transaction may see
// uncommitted rows, so they neither share nor write back.
func (e *Engine) load(ctx context.Context, uow store.UnitOfWork, idents []model.Identity) (map[string][]cache.Entry, error) {
	ids := make([]string, len(idents))
	keys := make([]string, len(idents))
	keyByID := make(map[string]string, len(idents))
	for i, ident := range idents {
		ids[i] = ident.ID
		keys[i] = ident.ExternalKey
		keyByID[ident.ID] = ident.ExternalKey
	}

	if uow.Transactional() {
		vectors, err := uow.Faces().VectorsFor(ctx, ids)
		if err != nil {
			return nil, apperror.StoreUnavailable(err)
		}
		return group(vectors, keyByID), nil
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	ch := e.loads.DoChan(strings.Join(sorted, ","), func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		seen := e.cache.Snapshot(shared, keys)
		vectors, err := uow.Faces().VectorsFor(shared, ids)
		if err != nil {
			return nil, err
		}
		batch := group(vectors, keyByID)
		e.cache.PutBatch(shared, batch, seen, e.ttl)
		return batch, nil
	})

	select {
	case <-ctx.Done():
		return nil, apperror.StoreUnavailable(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, apperror.StoreUnavailable(res.Err)
		}
		return res.Val.(map[string][]cache.Entry), nil
	}
}

func group(vectors []model.EnrolledVector, keyByID map[string]string) map[string][]cache.Entry {
	batch := make(map[string][]cache.Entry)
	for _, ev := range vectors {
		key, ok := keyByID[ev.IdentityID]
		if !ok {
			continue
		}
		batch[key] = append(batch[key], cache.Entry{
			FaceID:     ev.FaceID,
			IdentityID: ev.IdentityID,
			Quality:    ev.Quality,
			Vector:     ev.Vector,
		})
	}
	return batch
}
