package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"media-jobd/internal/handlers"
	"media-jobd/internal/jobs"
	"media-jobd/internal/ledger"
	"media-jobd/internal/logging"
	"media-jobd/internal/metrics"
	"media-jobd/internal/middleware"
	"media-jobd/internal/pipeline"
	"media-jobd/internal/preview"
	"media-jobd/internal/runner"
	"media-jobd/internal/startup"

	"github.com/gorilla/mux"
)

func main() {
	startTime := time.Now()

	// Load configuration
	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	// Verify the external transcoder binaries
	config.CheckTranscoder()

	// Initialize the optional durable job ledger
	var led *ledger.Ledger
	if config.LedgerEnabled {
		led, err = ledger.Open(context.Background(), config.LedgerPath)
		if err != nil {
			logging.Warn("Job ledger unavailable, continuing without history: %v", err)
			config.LedgerEnabled = false
		} else {
			defer func() {
				if err := led.Close(); err != nil {
					logging.Warn("Failed to close job ledger: %v", err)
				}
			}()
		}
	}

	// Initialize libvips for in-process image thumbnails (best effort)
	if err := preview.InitVips(); err != nil {
		logging.Warn("libvips unavailable, using pure-Go image fallback: %v", err)
	}
	defer preview.ShutdownVips()

	// Initialize the job store, event hub and pipeline
	store := jobs.NewStore(config.JobRetention)
	hub := jobs.NewHub()
	go hub.Run()

	run := runner.New(config.FFmpegPath, config.FFprobePath)
	ctrl := pipeline.New(store, run, pipeline.Options{
		WorkDir:            config.WorkDir,
		MaxActive:          config.MaxActiveJobs,
		QueueDepth:         config.QueueDepth,
		JobTimeout:         config.JobTimeout,
		IdempotencyEnabled: config.IdempotencyEnabled,
	})

	// Fan out transitions to subscribers and the ledger
	store.SetNotifier(func(job jobs.Job) {
		hub.BroadcastUpdate(job)
		if led != nil && job.State.Terminal() {
			if err := led.Record(context.Background(), job); err != nil {
				logging.Warn("Failed to record job %s in ledger: %v", job.ID, err)
			}
		}
	})

	// Evict expired terminal jobs periodically
	evictionDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, job := range store.EvictExpired(time.Now()) {
					ctrl.RemoveArtifacts(job)
				}
			case <-evictionDone:
				return
			}
		}
	}()

	// Initialize handlers and routers
	h := handlers.New(store, ctrl, led, hub, config)
	router := setupRouter(h)

	// Apply logging middleware
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.Logger(loggingConfig)(router)

	// Apply metrics middleware
	if config.MetricsEnabled {
		metrics.InitializeMetrics()
		handler = middleware.Metrics(middleware.DefaultMetricsConfig())(handler)
	}

	// Create servers
	srv := &http.Server{
		Addr:         ":" + config.Port,
		Handler:      handler,
		ReadTimeout:  0, // submissions stream large payloads
		WriteTimeout: 0, // results stream large payloads
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", handlers.MetricsHandler())
		metricsSrv = &http.Server{
			Addr:        ":" + config.MetricsPort,
			Handler:     metricsMux,
			ReadTimeout: 15 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	// Start graceful shutdown handler
	go handleShutdown(srv, metricsSrv, ctrl, store, hub, evictionDone)

	// Start server
	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		startup.LogFatal("Server error: %v", err)
	}
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()

	// Health check and version routes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	// Job API routes
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/jobs", h.SubmitJob).Methods("POST")
	api.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/history", h.JobHistory).Methods("GET")
	api.HandleFunc("/jobs/events", h.JobEvents).Methods("GET")
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", h.CancelJob).Methods("DELETE")
	api.HandleFunc("/jobs/{id}/result", h.GetJobResult).Methods("GET")

	return r
}

func handleShutdown(srv, metricsSrv *http.Server, ctrl *pipeline.Controller, store *jobs.Store, hub *jobs.Hub, evictionDone chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	startup.LogShutdownStep("Draining job pipeline")
	if err := ctrl.Shutdown(ctx); err != nil {
		logging.Warn("Pipeline drain error: %v", err)
	}
	if err := store.Drain(ctx); err != nil {
		logging.Warn("Job store drain error: %v", err)
	} else {
		startup.LogShutdownStepComplete("Job pipeline drained")
	}

	startup.LogShutdownStep("Stopping event hub")
	hub.Stop()
	close(evictionDone)
	startup.LogShutdownStepComplete("Event hub stopped")

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	startup.LogShutdownComplete()
}
