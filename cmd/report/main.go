// Command report runs one search and writes the unique job links to a CSV
// file. With -nats the search is delegated to a running API server.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/botvagas/vagas/engine/domain"
	"github.com/botvagas/vagas/engine/region"
	"github.com/botvagas/vagas/engine/scraper"
	"github.com/botvagas/vagas/engine/search"
	"github.com/botvagas/vagas/pkg/fn"
	"github.com/botvagas/vagas/pkg/natsutil"
	"github.com/botvagas/vagas/pkg/render"
	"github.com/botvagas/vagas/pkg/resilience"
)

func main() {
	role := flag.String("role", "", "role, keyword or company to search for")
	location := flag.String("location", "", "city, state, region or \"remoto\"")
	sources := flag.String("sources", "", "comma-separated sources (default: all built-in sources)")
	limit := flag.Int("max", domain.DefaultMaxPerSource, "max listings per source")
	out := flag.String("out", "", "CSV path (default: vagas_<role>_<location>.csv)")
	natsURL := flag.String("nats", "", "NATS URL of a running API server (if empty, search locally)")
	subject := flag.String("subject", "vagas.search", "NATS subject the API server answers on")
	timeout := flag.Duration("timeout", time.Minute, "overall search timeout")
	headless := flag.Bool("render", false, "start a headless browser for dynamic sources in local mode")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	loadEnv(logger)

	q := domain.SearchQuery{
		Role:         *role,
		Location:     *location,
		Sources:      splitList(*sources),
		MaxPerSource: *limit,
	}
	cfg := runConfig{out: *out, natsURL: *natsURL, subject: *subject, timeout: *timeout, render: *headless}
	if err := run(q, cfg, logger); err != nil {
		logger.Error("report failed", "err", err)
		os.Exit(1)
	}
}

type runConfig struct {
	out     string
	natsURL string
	subject string
	timeout time.Duration
	render  bool
}

func run(q domain.SearchQuery, cfg runConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	if len(q.Sources) == 0 {
		cat, err := scraper.DefaultCatalog()
		if err != nil {
			return err
		}
		q.Sources = fn.Map(cat.Schemas(), func(s scraper.Schema) string { return s.Name })
	}

	var (
		listings []domain.Listing
		err      error
	)
	if cfg.natsURL != "" {
		listings, err = remoteSearch(ctx, cfg.natsURL, cfg.subject, q)
	} else {
		listings, err = localSearch(ctx, q, cfg.render, logger)
	}
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	links := uniqueLinks(listings)
	if len(links) == 0 {
		fmt.Println("No listings found for the given terms.")
		return nil
	}

	path := cfg.out
	if path == "" {
		path = reportName(q.Role, q.Location)
	}
	if err := saveReport(path, q.Role, q.Location, links); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("Report with %d unique listings saved to %s\n", len(links), path)
	return nil
}

// loadEnv reads .env style files into the environment. A missing file is
// normal; anything else is worth a warning.
func loadEnv(logger *slog.Logger, files ...string) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("could not read .env", "err", err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func remoteSearch(ctx context.Context, url, subject string, q domain.SearchQuery) ([]domain.Listing, error) {
	nc, err := nats.Connect(url, nats.Name("vagas-report"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()
	return natsutil.Request[domain.SearchQuery, []domain.Listing](ctx, nc, subject, q)
}

func localSearch(ctx context.Context, q domain.SearchQuery, headless bool, logger *slog.Logger) ([]domain.Listing, error) {
	cat, err := scraper.DefaultCatalog()
	if err != nil {
		return nil, err
	}

	fetchers := scraper.Fetchers{
		Static: scraper.NewHTTPFetcher(&http.Client{}, resilience.NewHostLimiter(resilience.DefaultLimiterOpts)),
	}
	if headless {
		pw, err := render.Launch(render.DefaultConfig())
		if err != nil {
			return nil, err
		}
		defer pw.Close()
		fetchers.Dynamic = scraper.NewRenderFetcher(pw, nil)
	}

	adapters, err := scraper.BuildAdapters(cat, fetchers)
	if err != nil {
		return nil, err
	}
	opts := search.DefaultOptions()
	if dl, ok := ctx.Deadline(); ok {
		opts.Deadline = time.Until(dl)
	}
	svc, err := search.New(fn.Map(adapters, func(a *scraper.Adapter) search.Runner { return a }),
		region.Default(), opts, nil, logger)
	if err != nil {
		return nil, err
	}
	return svc.Search(ctx, q)
}

// uniqueLinks returns the sorted set of real listing URLs.
func uniqueLinks(listings []domain.Listing) []string {
	links := fn.Filter(fn.Map(listings, func(l domain.Listing) string { return l.URL }), func(u string) bool {
		return u != "" && u != domain.DefaultFallback(domain.FieldURL)
	})
	links = fn.Unique(links)
	slices.Sort(links)
	return links
}

// reportName derives the default file name from the search terms.
func reportName(role, location string) string {
	return "vagas_" + strings.ReplaceAll(role, " ", "_") + "_" + strings.ReplaceAll(location, " ", "_") + ".csv"
}

func saveReport(path, role, location string, links []string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return writeReport(f, role, location, links)
}

func writeReport(w io.Writer, role, location string, links []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"role", "location", "link"}); err != nil {
		return err
	}
	for _, link := range links {
		if err := cw.Write([]string{role, location, link}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
