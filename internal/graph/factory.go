package graph

import (
	"fmt"
	"time"

	"github.com/clavrr/guardrail/internal/logger"
)

// Backend names accepted by New.
const (
	BackendNoop   = "noop"
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Config selects and configures a graph store backend.
type Config struct {
	Backend    string
	DataDir    string
	SyncWrites bool
	GCInterval time.Duration
}

// New creates the configured store backend, wrapped with telemetry.
func New(cfg Config, log logger.Logger) (Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	switch cfg.Backend {
	case BackendNoop, "":
		log.Info("graph store disabled, using noop backend")
		return Instrument(NewNoopStore()), nil
	case BackendMemory:
		log.Info("using in-memory graph store")
		return Instrument(NewMemoryStore()), nil
	case BackendBadger:
		store, err := NewBadgerStore(BadgerConfig{
			Dir:        cfg.DataDir,
			SyncWrites: cfg.SyncWrites,
			GCInterval: cfg.GCInterval,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("create badger graph store: %w", err)
		}
		return Instrument(store), nil
	default:
		return nil, fmt.Errorf("unknown graph backend: %s", cfg.Backend)
	}
}
