// Package main implements the vagas API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/botvagas/vagas/engine/domain"
	"github.com/botvagas/vagas/engine/region"
	"github.com/botvagas/vagas/engine/scraper"
	"github.com/botvagas/vagas/engine/search"
	"github.com/botvagas/vagas/pkg/fn"
	"github.com/botvagas/vagas/pkg/metrics"
	"github.com/botvagas/vagas/pkg/mid"
	"github.com/botvagas/vagas/pkg/natsutil"
	"github.com/botvagas/vagas/pkg/render"
	"github.com/botvagas/vagas/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port              string
	CORSOrigin        string
	NATSURL           string
	NATSSubject       string
	SourcesFile       string
	MaxPerSource      int
	SearchDeadline    time.Duration
	SearchConcurrency int
	RenderSessions    int
	RenderHeadless    bool
	HostRPS           float64
}

func loadConfig() Config {
	return Config{
		Port:              envOr("PORT", "8080"),
		CORSOrigin:        envOr("CORS_ORIGIN", "*"),
		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubject:       envOr("NATS_SUBJECT", "vagas.search"),
		SourcesFile:       os.Getenv("SOURCES_FILE"),
		MaxPerSource:      envInt("MAX_PER_SOURCE", domain.DefaultMaxPerSource),
		SearchDeadline:    envDuration("SEARCH_DEADLINE", search.DefaultOptions().Deadline),
		SearchConcurrency: envInt("SEARCH_CONCURRENCY", search.DefaultOptions().Concurrency),
		RenderSessions:    envInt("RENDER_SESSIONS", render.DefaultConfig().Sessions),
		RenderHeadless:    envBool("RENDER_HEADLESS", true),
		HostRPS:           envFloat("HOST_RPS", resilience.DefaultLimiterOpts.Rate),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("could not read .env", "err", err)
	}
	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// --- Headless renderer (optional) ---
	var dynamic scraper.Fetcher
	rcfg := render.DefaultConfig()
	rcfg.Sessions = cfg.RenderSessions
	rcfg.Headless = cfg.RenderHeadless
	rcfg.InFlight = reg.Gauge("vagas_render_sessions_in_flight", "Open headless browser sessions.")
	if pw, err := render.Launch(rcfg); err != nil {
		logger.Warn("headless renderer unavailable, dynamic sources will come back empty", "err", err)
	} else {
		defer pw.Close()
		dynamic = scraper.NewRenderFetcher(pw, nil)
	}

	// --- Search service ---
	svc, err := buildService(cfg, dynamic, reg, logger)
	if err != nil {
		return err
	}
	logger.Info("sources loaded", "sources", svc.Sources())

	// --- NATS responder (optional) ---
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("vagas-api"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		if _, err := natsutil.Respond(nc, cfg.NATSSubject, searchFunc(svc, cfg.MaxPerSource)); err != nil {
			return fmt.Errorf("nats subscribe %s: %w", cfg.NATSSubject, err)
		}
		logger.Info("nats responder ready", "subject", cfg.NATSSubject)
	}

	// --- Build HTTP server ---
	handler := mid.Chain(newMux(svc, reg, cfg, logger),
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("vagas-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SearchDeadline + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// buildService wires the catalog, fetchers and adapters. dynamic may be nil.
func buildService(cfg Config, dynamic scraper.Fetcher, reg *metrics.Registry, logger *slog.Logger) (*search.Service, error) {
	cat, err := loadCatalog(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	limiter := resilience.NewHostLimiter(resilience.LimiterOpts{Rate: cfg.HostRPS})
	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	adapters, err := scraper.BuildAdapters(cat, scraper.Fetchers{
		Static:  scraper.NewHTTPFetcher(client, limiter),
		Dynamic: dynamic,
	})
	if err != nil {
		return nil, fmt.Errorf("build adapters: %w", err)
	}
	runners := fn.Map(adapters, func(a *scraper.Adapter) search.Runner { return a })

	return search.New(runners, region.Default(), search.Options{
		Concurrency: cfg.SearchConcurrency,
		Deadline:    cfg.SearchDeadline,
	}, reg, logger)
}

func loadCatalog(path string) (*scraper.Catalog, error) {
	if path == "" {
		return scraper.DefaultCatalog()
	}
	cat, err := scraper.LoadCatalogFile(path)
	if err != nil {
		return nil, fmt.Errorf("load sources %s: %w", path, err)
	}
	return cat, nil
}

// searcher is the part of search.Service the handlers use.
type searcher interface {
	Search(ctx context.Context, q domain.SearchQuery) ([]domain.Listing, error)
	Sources() []string
}

func newMux(svc searcher, reg *metrics.Registry, cfg Config, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/sources", handleSources(svc))
	mux.HandleFunc("POST /api/search", handleSearch(svc, cfg.MaxPerSource, logger))
	mux.Handle("GET /metrics", reg.Handler())
	return mux
}

// searchFunc applies the server-side default cap and runs the search.
func searchFunc(svc searcher, defaultMax int) func(context.Context, domain.SearchQuery) ([]domain.Listing, error) {
	return func(ctx context.Context, q domain.SearchQuery) ([]domain.Listing, error) {
		if q.MaxPerSource == 0 {
			q.MaxPerSource = defaultMax
		}
		return svc.Search(ctx, q)
	}
}

// --- Handlers ---

const maxBodyBytes = 64 << 10

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleSources(svc searcher) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string][]string{"sources": svc.Sources()})
	}
}

func handleSearch(svc searcher, defaultMax int, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	run := searchFunc(svc, defaultMax)
	return func(w http.ResponseWriter, r *http.Request) {
		var q domain.SearchQuery
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&q); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		ctx := search.WithRequestID(r.Context(), mid.RequestIDFrom(r.Context()))
		listings, err := run(ctx, q)
		var cfgErr *domain.ConfigError
		switch {
		case errors.As(err, &cfgErr):
			writeError(w, http.StatusBadRequest, cfgErr.Error())
			return
		case err != nil:
			logger.Error("search failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, listings)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
