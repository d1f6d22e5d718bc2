package handlers

import (
	"time"

	"media-jobd/internal/jobs"
	"media-jobd/internal/ledger"
	"media-jobd/internal/pipeline"
	"media-jobd/internal/startup"
	"media-jobd/internal/streaming"
)

// Handlers bundles the HTTP endpoints with their collaborators.
type Handlers struct {
	store        *jobs.Store
	ctrl         *pipeline.Controller
	ledger       *ledger.Ledger // nil when the ledger is disabled
	hub          *jobs.Hub
	config       *startup.Config
	streamConfig streaming.Config
	startTime    time.Time
}

// New creates the handler set. led may be nil when the job ledger is
// disabled.
func New(store *jobs.Store, ctrl *pipeline.Controller, led *ledger.Ledger, hub *jobs.Hub, config *startup.Config) *Handlers {
	return &Handlers{
		store:        store,
		ctrl:         ctrl,
		ledger:       led,
		hub:          hub,
		config:       config,
		streamConfig: streaming.DefaultConfig(),
		startTime:    time.Now(),
	}
}
