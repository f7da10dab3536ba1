package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clavrr/guardrail/internal/logger"
	"github.com/clavrr/guardrail/internal/metrics"
)

// ErrNilEvent is returned when callers attempt to record a nil event.
var ErrNilEvent = errors.New("audit event is nil")

// Config mirrors the public audit configuration.
type Config struct {
	Enabled       bool
	Sink          string
	FilePath      string
	BufferSize    int
	FlushInterval time.Duration
}

// Writer defines the sink contract for audit events.
type Writer interface {
	Write(event *Event) error
	Flush() error
	Close(ctx context.Context) error
}

// Manager handles buffering and delivery of security events. Record never
// blocks and never fails the caller's decision path: a full queue drops the
// event and counts the drop.
type Manager struct {
	cfg    Config
	log    logger.Logger
	writer Writer

	events chan *Event
	wg     sync.WaitGroup

	flushTicker *time.Ticker
	stopOnce    sync.Once

	enabled bool
	closed  bool
	mu      sync.RWMutex
}

// NewManager builds a new audit manager. When disabled, it falls back to a no-op manager.
func NewManager(cfg Config, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Nop()
	}

	if !cfg.Enabled {
		return &Manager{
			cfg:     cfg,
			log:     log,
			enabled: false,
		}, nil
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	writer, err := newWriter(cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:         cfg,
		log:         log,
		writer:      writer,
		events:      make(chan *Event, cfg.BufferSize),
		flushTicker: time.NewTicker(cfg.FlushInterval),
		enabled:     true,
	}

	m.wg.Add(1)
	go m.run()

	return m, nil
}

// Enabled indicates whether audit logging is active.
func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

// Record buffers a security event for asynchronous delivery and returns its
// ID. Every failure mode resolves to a logged drop; the caller's decision is
// never altered or delayed.
func (m *Manager) Record(event *Event) string {
	if m == nil || !m.enabled {
		return ""
	}
	if event == nil {
		return ""
	}

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		metrics.AuditEventsDroppedTotal.Inc()
		return ""
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case m.events <- event:
		metrics.AuditQueueDepth.Set(float64(len(m.events)))
		return event.ID
	default:
		metrics.AuditEventsDroppedTotal.Inc()
		m.log.Warn("audit queue full, event dropped",
			logger.String("event_type", string(event.Type)),
			logger.String("status", string(event.Status)))
		return ""
	}
}

func (m *Manager) run() {
	defer m.wg.Done()

	for {
		select {
		case event, ok := <-m.events:
			if !ok {
				m.flush()
				return
			}
			m.write(event)
			metrics.AuditQueueDepth.Set(float64(len(m.events)))
		case <-m.flushTicker.C:
			m.flush()
		}
	}
}

// Shutdown drains the buffer, flushes the writer, and closes resources.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || !m.enabled {
		return nil
	}

	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(m.events)
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.flushTicker.Stop()
	m.flush()
	return m.writer.Close(ctx)
}

func (m *Manager) write(event *Event) {
	if event == nil {
		return
	}
	if err := m.writer.Write(event); err != nil {
		m.log.Error("failed to write audit event", logger.Error(err))
		return
	}
	metrics.AuditEventsTotal.WithLabelValues(string(event.Type), string(event.Status)).Inc()
}

func (m *Manager) flush() {
	if err := m.writer.Flush(); err != nil {
		m.log.Error("failed to flush audit writer", logger.Error(err))
	}
}
