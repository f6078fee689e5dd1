// Command clarity runs the request-processing worker: it drains the task
// queue, drives coding-agent turns, and delivers the results as pull
// requests.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"clarity/pkg/blobref"
	"clarity/pkg/config"
	"clarity/pkg/consumer"
	"clarity/pkg/contextmgr"
	"clarity/pkg/github"
	"clarity/pkg/logx"
	"clarity/pkg/metrics"
	"clarity/pkg/persistence"
	"clarity/pkg/queue"
	"clarity/pkg/workspace"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		logx.SetDebug(true, nil)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "clarity: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	logger := logx.NewLogger("main")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
		if verr := cfg.Validate(); verr != nil {
			return verr
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := github.CheckAuth(ctx); err != nil {
		logger.Warn("GitHub auth check failed, API calls will likely fail: %v", err)
	}

	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("Failed to close store: %v", cerr)
		}
	}()

	prompts, err := contextmgr.NewManager(cfg.Agent.PromptBudget)
	if err != nil {
		return err
	}

	recorder := metrics.NewPipelineRecorder()
	broker := queue.NewBroker(cfg.Queue.Buffer)
	workspaces := workspace.NewManager(cfg.Workspace.Root, workspace.NewDefaultGitRunner(),
		cfg.Workspace.CloneTimeout, cfg.Workspace.PushTimeout)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = startMetricsServer(cfg, store, logger)
		defer shutdownServer(metricsServer, logger)
	}

	sweeper := startSessionSweeper(cfg.Sessions.SweepSchedule, store, logger)
	defer sweeper.Stop()

	// Queue depth is sampled rather than event-driven; cheap either way.
	depthTicker := time.NewTicker(5 * time.Second)
	defer depthTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-depthTicker.C:
				recorder.SetQueueDepth(broker.Depth())
			}
		}
	}()

	worker := consumer.New(consumer.Options{
		Store:        store,
		Queue:        broker,
		Workspaces:   workspaces,
		Prompts:      prompts,
		Recorder:     recorder,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		AgentTimeout: cfg.Agent.Timeout,
		SessionTTL:   cfg.Sessions.TTL,
	})

	logger.Info("Starting %d workers (queue buffer %d, max attempts %d)",
		cfg.Queue.Workers, cfg.Queue.Buffer, cfg.Queue.MaxAttempts)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Queue.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if werr := worker.Run(ctx); werr != nil {
				logger.Error("Worker %d stopped: %v", id, werr)
			}
		}(i)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received, draining")

	// Closing the broker stops intake; workers drain what's buffered and
	// then their Receive returns ErrClosed.
	broker.Close()
	wg.Wait()
	logger.Info("All workers drained")
	return nil
}

// startMetricsServer serves Prometheus metrics plus the signed blob-fetch
// endpoint.
func startMetricsServer(cfg *config.Config, store *persistence.Store, logger *logx.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	if cfg.BlobSignKey != "" {
		issuer, err := blobref.NewIssuer([]byte(cfg.BlobSignKey), cfg.Sessions.BlobRefLifetime)
		if err != nil {
			logger.Warn("Blob reference endpoint disabled: %v", err)
		} else {
			mux.Handle("/blobs", blobFetchHandler(issuer, store))
		}
	}

	server := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Metrics listening on %s", cfg.Metrics.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
	return server
}

// blobFetchHandler serves session blobs to holders of a valid signed
// reference.
func blobFetchHandler(issuer *blobref.Issuer, store *persistence.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref, err := issuer.Verify(r.URL.Query().Get("ref"))
		if err != nil {
			status := http.StatusForbidden
			if errors.Is(err, blobref.ErrExpired) {
				status = http.StatusGone
			}
			http.Error(w, err.Error(), status)
			return
		}

		session, err := store.GetSessionForRequest(ref.RequestID)
		if err != nil || session.SessionID != ref.SessionID {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(session.Blob)
	})
}

// startSessionSweeper deletes expired agent sessions on the configured cron
// schedule.
func startSessionSweeper(schedule string, store *persistence.Store, logger *logx.Logger) *cron.Cron {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := store.DeleteExpiredSessions(); err != nil {
			logger.Error("Session sweep failed: %v", err)
		}
	}); err != nil {
		logger.Error("Invalid sweep schedule %q, sweeper disabled: %v", schedule, err)
		return c
	}
	c.Start()
	return c
}

// shutdownServer gives in-flight metric scrapes a moment to finish.
func shutdownServer(server *http.Server, logger *logx.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("Metrics server shutdown: %v", err)
	}
}
