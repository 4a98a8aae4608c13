// Command api serves the read-only search surface of the archive.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hexalog/xarchive/engine/domain"
	"github.com/hexalog/xarchive/engine/embed"
	"github.com/hexalog/xarchive/engine/store"
	"github.com/hexalog/xarchive/pkg/metrics"
	"github.com/hexalog/xarchive/pkg/mid"
)

var met = metrics.New()

var (
	mSearches     = met.Counter("xarchive_api_searches_total", "Search requests served")
	mSearchErrors = met.Counter("xarchive_api_search_errors_total", "Failed search requests")
	mRecent       = met.Counter("xarchive_api_recent_total", "Recent-post requests served")
	mSearchDur    = met.Histogram("xarchive_api_search_duration_seconds", "Search latency", nil)
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	DatabaseURL string
	EmbedURL    string
	EmbedModel  string
	CORSOrigin  string
}

func loadConfig() Config {
	return Config{
		Port:        envOr("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		EmbedURL:    envOr("EMBED_URL", "http://localhost:11434"),
		EmbedModel:  envOr("EMBED_MODEL", embed.DefaultModel),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(loadConfig(), logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("database connect: %w", err)
	}

	embedder := embed.NewClient(cfg.EmbedURL, cfg.EmbedModel)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("GET /api/search", handleSearch(db, embedder, logger))
	mux.Handle("GET /api/recent", handleRecent(db, logger))
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("xarchive-api"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

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

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// queryEmbedder embeds search queries.
type queryEmbedder interface {
	GenerateForQuery(ctx context.Context, query string) ([]float32, error)
}

// searchStore is the read surface the handlers use.
type searchStore interface {
	SearchPosts(ctx context.Context, queryEmbedding []float32, threshold float64, count int) ([]store.Match, error)
	GetRecentPosts(ctx context.Context, limit int) ([]*domain.Post, error)
}

// SearchResponse is the JSON response for GET /api/search.
type SearchResponse struct {
	Query   string        `json:"query"`
	Results []store.Match `json:"results"`
}

func handleSearch(db searchStore, embedder queryEmbedder, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			http.Error(w, `{"error":"q is required"}`, http.StatusBadRequest)
			return
		}
		k := intParam(r, "k", 10)
		threshold := floatParam(r, "threshold", store.DefaultMatchThreshold)

		start := time.Now()
		emb, err := embedder.GenerateForQuery(r.Context(), q)
		if err != nil {
			logger.Error("query embedding failed", "err", err)
			mSearchErrors.Inc()
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		matches, err := db.SearchPosts(r.Context(), emb, threshold, k)
		if err != nil {
			logger.Error("search failed", "err", err)
			mSearchErrors.Inc()
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		mSearches.Inc()
		mSearchDur.Since(start)

		if matches == nil {
			matches = []store.Match{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SearchResponse{Query: q, Results: matches})
	}
}

// RecentResponse is the JSON response for GET /api/recent.
type RecentResponse struct {
	Posts []*domain.Post `json:"posts"`
}

func handleRecent(db searchStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := intParam(r, "limit", 10)
		posts, err := db.GetRecentPosts(r.Context(), limit)
		if err != nil {
			logger.Error("recent failed", "err", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		mRecent.Inc()

		if posts == nil {
			posts = []*domain.Post{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(RecentResponse{Posts: posts})
	}
}

func intParam(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func floatParam(r *http.Request, name string, fallback float64) float64 {
	if v := r.URL.Query().Get(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			return f
		}
	}
	return fallback
}
