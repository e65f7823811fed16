// Command prflow runs the PR automation core: webhook ingestion,
// the Workflow Orchestrator, and the Merge Queue processor, wired
// together from process configuration. Auto-Remediation is not wired
// into this binary.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/josedab/prflow/internal/aiprovider"
	"github.com/josedab/prflow/internal/config"
	"github.com/josedab/prflow/internal/events"
	"github.com/josedab/prflow/internal/httpapi"
	"github.com/josedab/prflow/internal/mergequeue"
	"github.com/josedab/prflow/internal/orchestrator"
	"github.com/josedab/prflow/internal/provider"
	"github.com/josedab/prflow/internal/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "loading configuration")
	}

	logger, err := newLogger(cfg.EnableDebugLogging)
	if err != nil {
		return errors.Wrap(err, "building logger")
	}
	defer func() { _ = logger.Sync() }()

	var redisClient *goredis.Client
	if cfg.QueueBackend == config.QueueBackendRedis || cfg.SessionBackend == config.SessionBackendRedis {
		redisClient = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	}

	prov := provider.NewGitHubProvider(cfg.GitHubToken)
	if prov == nil {
		logger.Warn("no github token configured, provider calls will be unavailable")
	}

	aiFacade := aiprovider.NewAnthropicFacade(cfg.AnthropicAPIKey)

	notifier := events.NewNotifier(events.SinkFunc(func(e events.Event) {
		logger.Info("event",
			zap.String("repository", e.RepositoryID),
			zap.String("item", e.ItemID),
			zap.String("name", e.Name),
		)
	}), logger, 256)
	defer notifier.Close()

	workflowStore := orchestrator.NewMemoryStore()
	orch := orchestrator.New(workflowStore, prov, aiFacade, notifier, logger)
	orch.AgentTimeout = cfg.AgentTimeout

	queueStore := buildQueueStore(cfg, redisClient)
	processor := mergequeue.NewProcessor(queueStore, prov, notifier, func(string) config.MergeQueueConfig {
		return config.DefaultMergeQueueConfig()
	})

	// Wired for conversational follow-up on posted review comments; not
	// yet exposed over HTTP (no endpoint reads from it today).
	sessionStore := buildSessionStore(cfg, redisClient)
	defer sessionStore.Close()

	handler := httpapi.NewHandler(orch, processor, cfg.GitHubWebhookSecret, logger)

	router := mux.NewRouter()
	router.HandleFunc("/webhooks/github", handler.ServeWebhook).Methods(http.MethodPost)
	router.HandleFunc("/healthz", healthCheck).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func buildQueueStore(cfg *config.Config, redisClient *goredis.Client) mergequeue.Store {
	if cfg.QueueBackend == config.QueueBackendRedis {
		return mergequeue.NewRedisStore(redisClient)
	}
	return mergequeue.NewMemoryStore()
}

func buildSessionStore(cfg *config.Config, redisClient *goredis.Client) session.Store {
	if cfg.SessionBackend == config.SessionBackendRedis {
		return session.NewRedisStore(redisClient, cfg.SessionTTL)
	}
	return session.NewMemoryStore(cfg.SessionTTL, time.Minute)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
