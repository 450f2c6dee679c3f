package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botvagas/vagas/engine/domain"
	"github.com/botvagas/vagas/engine/region"
	"github.com/botvagas/vagas/engine/scraper"
	"github.com/botvagas/vagas/pkg/fn"
	"github.com/botvagas/vagas/pkg/metrics"
)

type fakeRunner struct {
	name     string
	listings []domain.Listing
	err      error
	delay    time.Duration
	block    chan struct{}

	calls   atomic.Int32
	lastReq atomic.Pointer[scraper.Request]
	active  *atomic.Int32
	peak    *atomic.Int32
}

func (f *fakeRunner) Name() string { return f.name }

func (f *fakeRunner) Run(ctx context.Context, req scraper.Request) scraper.Outcome {
	f.calls.Add(1)
	f.lastReq.Store(&req)
	if f.active != nil {
		n := f.active.Add(1)
		defer f.active.Add(-1)
		for {
			p := f.peak.Load()
			if n <= p || f.peak.CompareAndSwap(p, n) {
				break
			}
		}
	}
	if f.block != nil {
		<-f.block
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return scraper.Outcome{Source: f.name, State: scraper.StateEmpty, Result: fn.Err[[]domain.Listing](ctx.Err())}
		}
	}
	if f.err != nil {
		return scraper.Outcome{Source: f.name, State: scraper.StateEmpty, Result: fn.Err[[]domain.Listing](f.err)}
	}
	return scraper.Outcome{Source: f.name, State: scraper.StateDone, Result: fn.Ok(f.listings)}
}

func listing(source, title string) domain.Listing {
	return domain.Listing{
		Title:      title,
		Company:    "Acme",
		Location:   "São Paulo - SP",
		PostedDate: "N/A",
		Salary:     "Not informed",
		URL:        "https://example.com/" + strings.ReplaceAll(strings.ToLower(title), " ", "-"),
		Source:     source,
	}
}

func newService(t *testing.T, opts Options, runners ...Runner) (*Service, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, err := New(runners, region.Default(), opts, nil, log)
	require.NoError(t, err)
	return s, &buf
}

func query(sources ...string) domain.SearchQuery {
	return domain.SearchQuery{Role: "Engenheiro de Dados", Location: "São Paulo", Sources: sources}
}

func TestSearchIsolatesFailingSource(t *testing.T) {
	a := &fakeRunner{name: "A", err: &domain.FetchError{Source: "A", URL: "https://a.example", Status: 503}}
	b := &fakeRunner{name: "B", listings: []domain.Listing{
		listing("B", "Dev 3"), listing("B", "Dev 1"), listing("B", "Dev 2"),
	}}
	s, logs := newService(t, DefaultOptions(), a, b)

	got, err := s.Search(context.Background(), query("A", "B"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"Dev 1", "Dev 2", "Dev 3"}, fn.Map(got, func(l domain.Listing) string { return l.Title }))
	assert.Contains(t, logs.String(), "source contributed no listings")
	assert.Contains(t, logs.String(), "source=A")
}

func TestSearchWithRealAdapters(t *testing.T) {
	schema := func(name string) scraper.Schema {
		return scraper.Schema{
			Name:      name,
			BaseURL:   "https://" + strings.ToLower(name) + ".example.com.br",
			SearchURL: "https://" + strings.ToLower(name) + ".example.com.br/busca?q={keyword}&uf={region}",
			Strategy:  scraper.StrategyStatic,
			Card:      "li.job",
			Fields: map[domain.Field]scraper.FieldRule{
				domain.FieldTitle: {Selector: "a"},
				domain.FieldURL:   {Selector: "a", Attr: "href"},
			},
		}
	}
	var targets []string
	ok := scraper.FetcherFunc(func(_ context.Context, _ *scraper.Schema, target string) (string, error) {
		targets = append(targets, target)
		return `<ul><li class="job"><a href="/v/1">Dev 1</a></li><li class="job"><a href="/v/2">Dev 2</a></li><li class="job"><a href="/v/3">Dev 3</a></li></ul>`, nil
	})
	broken := scraper.FetcherFunc(func(context.Context, *scraper.Schema, string) (string, error) {
		return "", errors.New("connection refused")
	})
	good, err := scraper.NewAdapter(schema("Good"), ok)
	require.NoError(t, err)
	bad, err := scraper.NewAdapter(schema("Bad"), broken)
	require.NoError(t, err)

	s, _ := newService(t, Options{Concurrency: 1}, bad, good)
	got, err := s.Search(context.Background(), domain.SearchQuery{
		Role: "Analista", Location: "Rio de Janeiro", Sources: []string{"Bad", "Good"},
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, l := range got {
		assert.Equal(t, "Good", l.Source)
		assert.Equal(t, "Confidential", l.Company)
		assert.True(t, strings.HasPrefix(l.URL, "https://good.example.com.br/v/"))
	}
	require.Len(t, targets, 1)
	assert.Contains(t, targets[0], "uf=rj")
}

func TestSearchResolvesRegionOnce(t *testing.T) {
	r := &fakeRunner{name: "A"}
	s, _ := newService(t, DefaultOptions(), r)

	_, err := s.Search(context.Background(), domain.SearchQuery{
		Role: "Dev", Location: "Belo Horizonte, Minas Gerais", Sources: []string{"a"},
	})
	require.NoError(t, err)
	req := r.lastReq.Load()
	require.NotNil(t, req)
	assert.Equal(t, domain.RegionCode("mg"), req.Region)
	assert.Equal(t, domain.DefaultMaxPerSource, req.Limit)
}

func TestSearchUnresolvedLocationStillRuns(t *testing.T) {
	r := &fakeRunner{name: "A", listings: []domain.Listing{listing("A", "Dev")}}
	s, _ := newService(t, DefaultOptions(), r)

	got, err := s.Search(context.Background(), domain.SearchQuery{Role: "Dev", Location: "Remoto", Sources: []string{"A"}})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, domain.RegionCode(""), r.lastReq.Load().Region)
}

func TestSearchUnknownSource(t *testing.T) {
	known := &fakeRunner{name: "A"}
	s, logs := newService(t, DefaultOptions(), known)

	got, err := s.Search(context.Background(), query("Monster"))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Zero(t, known.calls.Load())
	assert.Contains(t, logs.String(), "unknown source")
	assert.Contains(t, logs.String(), "Monster")
}

func TestSearchSourceNamesCaseInsensitive(t *testing.T) {
	r := &fakeRunner{name: "LinkedIn", listings: []domain.Listing{listing("LinkedIn", "Dev")}}
	s, _ := newService(t, DefaultOptions(), r)

	got, err := s.Search(context.Background(), query("linkedin", "LINKEDIN "))
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestSearchRejectsInvalidQuery(t *testing.T) {
	r := &fakeRunner{name: "A"}
	s, _ := newService(t, DefaultOptions(), r)

	cases := map[string]domain.SearchQuery{
		"role":     {Location: "SP", Sources: []string{"A"}},
		"location": {Role: "Dev", Sources: []string{"A"}},
		"sources":  {Role: "Dev", Location: "SP", Sources: []string{" "}},
	}
	for field, q := range cases {
		t.Run(field, func(t *testing.T) {
			got, err := s.Search(context.Background(), q)
			assert.Nil(t, got)
			var ce *domain.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, field, ce.Field)
			assert.ErrorIs(t, err, domain.ErrConfig)
		})
	}
	assert.Zero(t, r.calls.Load())
}

func TestSearchDeadlineReturnsPartialResults(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	fast := &fakeRunner{name: "Fast", listings: []domain.Listing{listing("Fast", "Dev")}}
	stuck := &fakeRunner{name: "Stuck", block: release, listings: []domain.Listing{listing("Stuck", "Dev")}}
	s, err := New([]Runner{fast, stuck}, region.Default(), Options{Deadline: 50 * time.Millisecond}, nil, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	start := time.Now()
	got, err := s.Search(context.Background(), query("Fast", "Stuck"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, "Fast", got[0].Source)
}

func TestSearchDeadlineCancelsSlowSource(t *testing.T) {
	slow := &fakeRunner{name: "Slow", delay: time.Minute}
	s, _ := newService(t, Options{Deadline: 20 * time.Millisecond}, slow)

	got, err := s.Search(context.Background(), query("Slow"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchConcurrencyLimit(t *testing.T) {
	var active, peak atomic.Int32
	var runners []Runner
	var names []string
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("S%d", i)
		names = append(names, name)
		runners = append(runners, &fakeRunner{
			name: name, delay: 20 * time.Millisecond, active: &active, peak: &peak,
			listings: []domain.Listing{listing(name, "Dev")},
		})
	}
	s, _ := newService(t, Options{Concurrency: 2}, runners...)

	got, err := s.Search(context.Background(), query(names...))
	require.NoError(t, err)
	assert.Len(t, got, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSearchSequentialMatchesConcurrent(t *testing.T) {
	build := func() []Runner {
		return []Runner{
			&fakeRunner{name: "B", listings: []domain.Listing{listing("B", "Zeta"), listing("B", "Alfa")}},
			&fakeRunner{name: "A", listings: []domain.Listing{listing("A", "Beta"), listing("A", "Beta")}},
			&fakeRunner{name: "C", err: errors.New("down")},
		}
	}
	seq, _ := newService(t, Options{Concurrency: 1}, build()...)
	par, _ := newService(t, Options{Concurrency: 0}, build()...)

	q := query("B", "A", "C")
	a, err := seq.Search(context.Background(), q)
	require.NoError(t, err)
	b, err := par.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 3)
	assert.Equal(t, "A", a[0].Source)
}

func TestSearchContainsPanickingRunner(t *testing.T) {
	s, logs := newService(t, DefaultOptions(), panicRunner{}, &fakeRunner{name: "A", listings: []domain.Listing{listing("A", "Dev")}})

	got, err := s.Search(context.Background(), query("Panic", "A"))
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, logs.String(), "source panicked")
}

type panicRunner struct{}

func (panicRunner) Name() string { return "Panic" }
func (panicRunner) Run(context.Context, scraper.Request) scraper.Outcome {
	panic("selector exploded")
}

func TestSearchRecordsMetrics(t *testing.T) {
	reg := metrics.New()
	ok := &fakeRunner{name: "A", listings: []domain.Listing{listing("A", "Dev 1"), listing("A", "Dev 2")}}
	bad := &fakeRunner{name: "B", err: errors.New("down")}
	s, err := New([]Runner{ok, bad}, region.Default(), DefaultOptions(), reg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	_, err = s.Search(context.Background(), query("A", "B", "Nope"))
	require.NoError(t, err)

	out := reg.Render()
	assert.Contains(t, out, `vagas_source_listings_total{source="A"} 2`)
	assert.Contains(t, out, `vagas_source_runs_total{source="B",state="empty"} 1`)
	assert.Contains(t, out, `vagas_source_failures_total{source="B"} 1`)
	assert.NotContains(t, out, `vagas_source_failures_total{source="A"}`)
	assert.Contains(t, out, `vagas_source_duration_seconds_count{source="A"} 1`)
	assert.Contains(t, out, "vagas_search_requests_total 1")
	assert.Contains(t, out, "vagas_unknown_source_total 1")
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	_, err := New([]Runner{&fakeRunner{name: "Gupy"}, &fakeRunner{name: "gupy"}}, region.Default(), DefaultOptions(), nil, nil)
	assert.Error(t, err)

	_, err = New(nil, nil, DefaultOptions(), nil, nil)
	assert.Error(t, err)
}

func TestSources(t *testing.T) {
	s, _ := newService(t, DefaultOptions(), &fakeRunner{name: "Indeed"}, &fakeRunner{name: "Gupy"})
	assert.Equal(t, []string{"Indeed", "Gupy"}, s.Sources())
}

func TestDedupIdempotent(t *testing.T) {
	a := listing("A", "Dev")
	b := listing("A", "Dev")
	b.Company = "Other"
	in := []domain.Listing{a, b, a, a}

	once := Dedup(in)
	assert.Equal(t, []domain.Listing{a, b}, once)
	assert.Equal(t, once, Dedup(once))
}

func TestAggregateOrdering(t *testing.T) {
	got := Aggregate(
		[]domain.Listing{listing("Vagas", "B"), listing("Gupy", "Z")},
		nil,
		[]domain.Listing{listing("Gupy", "A"), listing("Vagas", "B")},
	)
	titles := fn.Map(got, func(l domain.Listing) string { return l.Source + "/" + l.Title })
	assert.Equal(t, []string{"Gupy/A", "Gupy/Z", "Vagas/B"}, titles)

	empty := Aggregate()
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestRequestIDPropagates(t *testing.T) {
	s, logs := newService(t, DefaultOptions(), &fakeRunner{name: "A"})
	ctx := WithRequestID(context.Background(), "req-123")

	_, err := s.Search(ctx, query("A"))
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "request_id=req-123")
}
