// Package search runs the requested source adapters for one query, isolates
// their failures and merges their listings into one deduplicated,
// deterministically ordered list.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/botvagas/vagas/engine/domain"
	"github.com/botvagas/vagas/engine/scraper"
	"github.com/botvagas/vagas/pkg/fn"
	"github.com/botvagas/vagas/pkg/metrics"
)

// Runner is one source. *scraper.Adapter implements it.
type Runner interface {
	Name() string
	Run(ctx context.Context, req scraper.Request) scraper.Outcome
}

// Resolver maps a free-text location to a region code.
type Resolver interface {
	Resolve(location string) (domain.RegionCode, bool)
}

// Options configures the orchestrator.
type Options struct {
	// Concurrency caps adapters running at once; 1 runs them in order and
	// values below 1 run all of them at once.
	Concurrency int
	// Deadline bounds a whole search. On expiry the listings gathered so
	// far are returned. Zero disables it.
	Deadline time.Duration
}

// DefaultOptions returns the orchestrator defaults.
func DefaultOptions() Options {
	return Options{Concurrency: 4, Deadline: 45 * time.Second}
}

// Service is safe for concurrent searches.
type Service struct {
	runners  map[string]Runner
	names    []string
	resolver Resolver
	opts     Options
	metrics  *metrics.Registry
	logger   *slog.Logger
}

// New registers runners by case-insensitive name. reg and logger may be nil.
func New(runners []Runner, resolver Resolver, opts Options, reg *metrics.Registry, logger *slog.Logger) (*Service, error) {
	if resolver == nil {
		return nil, errors.New("search: nil resolver")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		runners:  make(map[string]Runner, len(runners)),
		resolver: resolver,
		opts:     opts,
		metrics:  reg,
		logger:   logger,
	}
	for _, r := range runners {
		key := strings.ToLower(r.Name())
		if _, dup := s.runners[key]; dup {
			return nil, fmt.Errorf("search: source %q registered twice", r.Name())
		}
		s.runners[key] = r
		s.names = append(s.names, r.Name())
	}
	return s, nil
}

// Sources lists the registered source names in registration order.
func (s *Service) Sources() []string {
	return slices.Clone(s.names)
}

type requestIDKey struct{}

// WithRequestID makes Search log under id instead of minting one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// Search validates q, runs every known requested source and aggregates
// their listings. The only error it returns is a *domain.ConfigError;
// failing, unknown or timed-out sources just contribute nothing.
func (s *Service) Search(ctx context.Context, q domain.SearchQuery) ([]domain.Listing, error) {
	if err := domain.ValidateQuery(q); err != nil {
		return nil, err
	}
	log := s.logger.With("request_id", requestID(ctx))
	s.count("vagas_search_requests_total", "Searches accepted.")

	region, ok := s.resolver.Resolve(q.Location)
	if !ok {
		log.Debug("location has no region code", "location", q.Location)
	}

	selected := s.selectRunners(q.SourceNames(), log)
	if len(selected) == 0 {
		return []domain.Listing{}, nil
	}

	if s.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Deadline)
		defer cancel()
	}

	req := scraper.Request{Role: q.Role, Location: q.Location, Region: region, Limit: q.Limit()}
	start := time.Now()

	var (
		mu    sync.Mutex
		slots = make([][]domain.Listing, len(selected))
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		var g errgroup.Group
		g.SetLimit(s.concurrency(len(selected)))
		for i, r := range selected {
			g.Go(func() error {
				if ctx.Err() != nil {
					log.Warn("source skipped, search deadline passed", "source", r.Name())
					return nil
				}
				got := s.runOne(ctx, r, req, log)
				mu.Lock()
				slots[i] = got
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		log.Warn("search deadline reached, returning partial results", "err", ctx.Err())
		s.count("vagas_search_partial_total", "Searches cut short by the deadline.")
	}

	mu.Lock()
	merged := Aggregate(slots...)
	mu.Unlock()

	log.Info("search complete",
		"role", q.Role,
		"region", string(region),
		"sources", len(selected),
		"listings", len(merged),
		"duration", time.Since(start),
	)
	return merged, nil
}

func (s *Service) concurrency(n int) int {
	if s.opts.Concurrency < 1 || s.opts.Concurrency > n {
		return n
	}
	return s.opts.Concurrency
}

func (s *Service) selectRunners(names []string, log *slog.Logger) []Runner {
	selected := make([]Runner, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		key := strings.ToLower(name)
		r, ok := s.runners[key]
		if !ok {
			log.Warn("skipping source", "err", &domain.UnknownSourceError{Name: name})
			s.count("vagas_unknown_source_total", "Requested sources with no adapter.")
			continue
		}
		if !seen[key] {
			seen[key] = true
			selected = append(selected, r)
		}
	}
	return selected
}

// runOne invokes r and applies failure containment. A panicking Runner is
// contained like any other failure.
func (s *Service) runOne(ctx context.Context, r Runner, req scraper.Request, log *slog.Logger) (listings []domain.Listing) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("source panicked", "source", r.Name(), "err", fmt.Sprint(p))
			listings = []domain.Listing{}
		}
	}()
	out := r.Run(ctx, req)
	listings = scraper.Contain(out, log)
	s.observe(out, len(listings))
	log.Debug("source finished",
		"source", out.Source,
		"state", out.State.String(),
		"listings", len(listings),
		"elapsed", out.Elapsed,
	)
	return listings
}

func (s *Service) count(name, help string) {
	if s.metrics != nil {
		s.metrics.Counter(name, help).Inc()
	}
}

func (s *Service) observe(o scraper.Outcome, n int) {
	if s.metrics == nil {
		return
	}
	s.metrics.Counter("vagas_source_runs_total", "Adapter runs by terminal state.",
		"source", o.Source, "state", o.State.String()).Inc()
	if o.Result.IsErr() {
		s.metrics.Counter("vagas_source_failures_total", "Adapter runs that contributed nothing because of an error.",
			"source", o.Source).Inc()
	}
	s.metrics.Counter("vagas_source_listings_total", "Listings contributed per source.",
		"source", o.Source).Add(int64(n))
	s.metrics.Histogram("vagas_source_duration_seconds", "Adapter run time.", metrics.DurationBuckets,
		"source", o.Source).Observe(o.Elapsed.Seconds())
}

// Aggregate concatenates groups, drops exact duplicates and sorts.
func Aggregate(groups ...[]domain.Listing) []domain.Listing {
	out := Dedup(fn.Flatten(groups))
	Sort(out)
	return out
}

// Dedup keeps the first of each set of structurally equal listings.
// Dedup(Dedup(x)) == Dedup(x).
func Dedup(listings []domain.Listing) []domain.Listing {
	return fn.Unique(listings)
}

// Sort orders listings by source, then title, then URL, with the remaining
// fields as tie-breakers.
func Sort(listings []domain.Listing) {
	slices.SortStableFunc(listings, func(a, b domain.Listing) int {
		return cmp.Or(
			cmp.Compare(a.Source, b.Source),
			cmp.Compare(a.Title, b.Title),
			cmp.Compare(a.URL, b.URL),
			cmp.Compare(a.Company, b.Company),
			cmp.Compare(a.Location, b.Location),
			cmp.Compare(a.PostedDate, b.PostedDate),
			cmp.Compare(a.Salary, b.Salary),
		)
	})
}
