// Package scraper turns a declarative source schema into an adapter that
// builds the search URL, fetches the page statically or through a headless
// renderer, and extracts normalized listings.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/botvagas/vagas/engine/domain"
	"github.com/botvagas/vagas/engine/query"
	"github.com/botvagas/vagas/pkg/fn"
)

// State is a step of one adapter invocation.
type State int

const (
	StateIdle State = iota
	StateBuildingQuery
	StateFetching
	StateFetchFailed
	StateFetched
	StateExtracting
	StateExtractFailed
	StateExtracted
	StateDone  // terminal, success
	StateEmpty // terminal, after a failure
)

var stateNames = [...]string{
	"idle", "building_query", "fetching", "fetch_failed", "fetched",
	"extracting", "extract_failed", "extracted", "done", "empty",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Request is what an adapter needs from the caller's search.
type Request struct {
	Role     string
	Location string
	Region   domain.RegionCode
	Limit    int
}

// Outcome is the explicit result of one invocation. Result holds either
// the listings or the error that emptied this source.
type Outcome struct {
	Source  string
	State   State
	Trail   []State
	Target  string
	Result  fn.Result[[]domain.Listing]
	Elapsed time.Duration
}

// Adapter runs one source.
type Adapter struct {
	schema  Schema
	fetcher Fetcher
}

// NewAdapter validates schema and binds it to a fetcher. An adapter keeps
// no state between runs.
func NewAdapter(schema Schema, fetcher Fetcher) (*Adapter, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, fmt.Errorf("source %q: nil fetcher", schema.Name)
	}
	return &Adapter{schema: schema, fetcher: fetcher}, nil
}

// Name returns the source name.
func (a *Adapter) Name() string { return a.schema.Name }

// Schema returns a copy of the adapter's schema.
func (a *Adapter) Schema() Schema { return a.schema }

// Run walks the state machine once. It never panics and never returns an
// error directly; failures end in StateEmpty with the cause in Result.
func (a *Adapter) Run(ctx context.Context, req Request) Outcome {
	start := time.Now()
	out := Outcome{Source: a.schema.Name}
	step := func(s State) {
		out.State = s
		out.Trail = append(out.Trail, s)
	}
	finish := func(r fn.Result[[]domain.Listing]) Outcome {
		out.Result = r
		out.Elapsed = time.Since(start)
		return out
	}

	step(StateIdle)
	step(StateBuildingQuery)
	terms := query.Build(req.Role, req.Location, a.schema.Region(req.Region), a.schema.MetaSites, req.Limit)
	out.Target = a.schema.Target(terms)

	step(StateFetching)
	fetch := a.fetchStage()
	var observed fn.Stage[string, string] = func(ctx context.Context, target string) fn.Result[string] {
		page := fetch(ctx, target)
		if page.IsErr() {
			step(StateFetchFailed)
			return page
		}
		step(StateFetched)
		step(StateExtracting)
		return page
	}
	listings := fn.Then(observed, a.extractStage(req.Limit))(ctx, out.Target)

	switch {
	case out.State == StateFetchFailed:
		step(StateEmpty)
	case listings.IsErr():
		step(StateExtractFailed)
		step(StateEmpty)
	default:
		step(StateExtracted)
		step(StateDone)
	}
	return finish(listings)
}

func (a *Adapter) fetchStage() fn.Stage[string, string] {
	return fn.TracedStage("scraper.fetch."+a.schema.Name, fn.Guard[string, string](
		func(ctx context.Context, target string) fn.Result[string] {
			return fn.FromPair(a.fetcher.Fetch(ctx, &a.schema, target))
		}))
}

func (a *Adapter) extractStage(limit int) fn.Stage[string, []domain.Listing] {
	return fn.TracedStage("scraper.extract."+a.schema.Name, fn.Guard[string, []domain.Listing](
		func(_ context.Context, html string) fn.Result[[]domain.Listing] {
			return fn.FromPair(Extract(&a.schema, html, limit))
		}))
}

// Contain maps an outcome to the listings it contributes. A failed source
// is logged and contributes an empty, non-nil slice.
func Contain(o Outcome, log *slog.Logger) []domain.Listing {
	listings, err := o.Result.Unwrap()
	if o.Result.IsOk() {
		if listings == nil {
			return []domain.Listing{}
		}
		return listings
	}
	if log == nil {
		log = slog.Default()
	}
	log.Warn("source contributed no listings",
		"source", o.Source,
		"state", o.State.String(),
		"url", o.Target,
		"err", err,
	)
	return []domain.Listing{}
}

// Fetchers selects the fetcher per strategy. A nil Dynamic makes dynamic
// sources fail fast with a FetchError.
type Fetchers struct {
	Static  Fetcher
	Dynamic Fetcher
}

// BuildAdapters creates one adapter per catalog entry.
func BuildAdapters(cat *Catalog, f Fetchers) ([]*Adapter, error) {
	if f.Static == nil {
		return nil, errors.New("static fetcher is required")
	}
	dynamic := f.Dynamic
	if dynamic == nil {
		dynamic = FetcherFunc(unavailable)
	}
	var adapters []*Adapter
	for _, s := range cat.Schemas() {
		fetcher := f.Static
		if s.Strategy == StrategyDynamic {
			fetcher = dynamic
		}
		a, err := NewAdapter(s, fetcher)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}
