// Package guardrail is the governance layer between a conversational agent
// and everything it touches: the user's raw input, every side-effecting
// tool invocation, and every generated response.
//
// Four calls cover the whole surface. ValidateInput screens a prompt
// before the agent reasons about it. CheckToolAccess gates a tool call
// behind rate, permission and parameter checks, in that order.
// RecordToolCall counts a completed call and writes the audit trail.
// SanitizeOutput scrubs generated text before it reaches the user.
//
// Infrastructure failures never disable the agent: classifier and graph
// outages degrade to documented fail-open or fail-to-defaults behavior,
// and the flat audit log keeps working through all of it.
package guardrail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clavrr/guardrail/internal/action"
	"github.com/clavrr/guardrail/internal/audit"
	"github.com/clavrr/guardrail/internal/audittrail"
	"github.com/clavrr/guardrail/internal/classify"
	"github.com/clavrr/guardrail/internal/config"
	"github.com/clavrr/guardrail/internal/graph"
	"github.com/clavrr/guardrail/internal/inputguard"
	"github.com/clavrr/guardrail/internal/logger"
	"github.com/clavrr/guardrail/internal/metrics"
	"github.com/clavrr/guardrail/internal/outputguard"
	"github.com/clavrr/guardrail/internal/permission"
	"github.com/clavrr/guardrail/internal/ratelimit"
	"github.com/clavrr/guardrail/internal/telemetry"
	"github.com/clavrr/guardrail/internal/validate"
)

// BlockedMessage replaces an entire response when a bulk data leak is
// suspected. No part of the original text survives.
const BlockedMessage = "This response was blocked because it appears to contain a bulk export of personal data."

// Stage identifies which access check rejected a tool call.
type Stage string

const (
	StageRateLimit  Stage = "rate_limit"
	StagePermission Stage = "permission"
	StageParameters Stage = "parameters"
)

// Verdict is the outcome of input validation.
type Verdict = inputguard.Verdict

// Usage is a read-only rate limit consumption snapshot.
type Usage = ratelimit.Usage

// TrailEntry is one graph-derived audit trail record.
type TrailEntry = graph.TrailEntry

// Access is the outcome of a tool access check. Stage is set only on
// rejection and names the check that failed.
type Access struct {
	Allowed bool
	Reason  string
	Stage   Stage
}

// Call describes one completed tool invocation for the audit trail.
type Call struct {
	UserID       string
	Action       string
	AgentName    string
	Query        string
	ResourceIDs  []string
	ResourceType string
	Metadata     map[string]string
}

// Dependencies carries optional externally-owned collaborators. Any nil
// field is built from configuration: a config-shaped logger, a
// factory-built graph store, no classifier, and a real clock. Injected
// stores and classifiers are not closed by Close.
type Dependencies struct {
	Logger     logger.Logger
	Graph      graph.Store
	Classifier classify.Classifier
	Clock      func() time.Time
}

// Guardrail composes the guards behind one facade.
type Guardrail struct {
	cfg    *config.Config
	log    logger.Logger
	audit  *audit.Manager
	trail  *audittrail.Trail
	input  *inputguard.Guard
	output *outputguard.Guard
	limit  *ratelimit.Limiter
	params *validate.Registry
	perms  *permission.Enforcer

	closers []func(context.Context) error
}

// New builds a Guardrail from configuration. A nil cfg loads configuration
// from the environment.
func New(cfg *config.Config, deps Dependencies) (*Guardrail, error) {
	if cfg == nil {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	}

	g := &Guardrail{cfg: cfg, log: log}

	if err := g.initTracing(cfg); err != nil {
		return nil, err
	}
	if err := g.initAudit(cfg, log); err != nil {
		g.cleanupOnError()
		return nil, err
	}
	store, err := g.initGraph(cfg, deps, log)
	if err != nil {
		g.cleanupOnError()
		return nil, err
	}

	g.trail = audittrail.New(g.audit, store, log, deps.Clock)
	g.input = inputguard.New(inputguard.Config{
		MinClassifyLength: cfg.Input.MinClassifyLength,
		FailurePolicy:     cfg.Input.FailurePolicy,
	}, g.buildClassifier(cfg, deps, log), g.audit, log)
	g.output = outputguard.New(outputguard.Config{
		Paranoid:           cfg.Output.Paranoid,
		LeakSizeThreshold:  cfg.Output.LeakSizeThreshold,
		LeakEmailThreshold: cfg.Output.LeakEmailThreshold,
	}, g.audit, log)
	g.limit = ratelimit.New(ratelimit.Config{
		HistorySize: cfg.RateLimit.HistorySize,
		HistoryTTL:  cfg.RateLimit.HistoryTTL,
		ExemptUsers: cfg.RateLimit.ExemptUsers,
	}, nil, log, deps.Clock)
	g.params = validate.NewRegistryWithDefaults(log)
	g.perms = permission.New(permission.Config{
		CacheSize: cfg.Permission.CacheSize,
		CacheTTL:  cfg.Permission.CacheTTL,
	}, store, g.audit, log, deps.Clock)

	log.Info("Guardrail initialized",
		logger.String("graph_backend", cfg.Graph.Backend),
		logger.Bool("classifier_enabled", cfg.Classifier.Enabled),
		logger.Bool("audit_enabled", cfg.Audit.Enabled))

	return g, nil
}

func (g *Guardrail) initTracing(cfg *config.Config) error {
	provider, err := telemetry.InitTracing(context.Background(), telemetry.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		SamplingRatio:  cfg.Tracing.SamplingRatio,
		InsecureConn:   cfg.Tracing.InsecureConn,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	if cfg.Tracing.Enabled {
		g.addCloser(provider.Shutdown)
	}
	return nil
}

func (g *Guardrail) initAudit(cfg *config.Config, log logger.Logger) error {
	m, err := audit.NewManager(audit.Config{
		Enabled:       cfg.Audit.Enabled,
		Sink:          cfg.Audit.Sink,
		FilePath:      cfg.Audit.FilePath,
		BufferSize:    cfg.Audit.BufferSize,
		FlushInterval: cfg.Audit.FlushInterval,
	}, log)
	if err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}
	g.audit = m
	g.addCloser(m.Shutdown)
	return nil
}

func (g *Guardrail) initGraph(cfg *config.Config, deps Dependencies, log logger.Logger) (graph.Store, error) {
	if deps.Graph != nil {
		return deps.Graph, nil
	}

	store, err := graph.New(graph.Config{
		Backend:    cfg.Graph.Backend,
		DataDir:    cfg.Graph.DataDir,
		SyncWrites: cfg.Graph.SyncWrites,
		GCInterval: cfg.Graph.GCInterval,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("init graph store: %w", err)
	}
	g.addCloser(func(context.Context) error { return store.Close() })
	return store, nil
}

func (g *Guardrail) buildClassifier(cfg *config.Config, deps Dependencies, log logger.Logger) classify.Classifier {
	if deps.Classifier != nil {
		return deps.Classifier
	}
	if !cfg.Classifier.Enabled {
		return nil
	}
	return classify.NewHTTPClassifier(classify.Config{
		BaseURL:        cfg.Classifier.BaseURL,
		Model:          cfg.Classifier.Model,
		Timeout:        cfg.Classifier.Timeout,
		MaxRetries:     cfg.Classifier.MaxRetries,
		RetryDelay:     cfg.Classifier.RetryDelay,
		MaxTokens:      cfg.Classifier.MaxTokens,
		RequestsPerSec: cfg.Classifier.RequestsPerSec,
		Burst:          cfg.Classifier.Burst,
	}, log)
}

func (g *Guardrail) addCloser(closer func(context.Context) error) {
	g.closers = append(g.closers, closer)
}

func (g *Guardrail) cleanupOnError() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(g.closers) - 1; i >= 0; i-- {
		_ = g.closers[i](ctx)
	}
}

// Close drains the audit log and releases owned resources in reverse
// construction order. Injected dependencies are left open.
func (g *Guardrail) Close(ctx context.Context) error {
	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ValidateInput screens a user prompt before the agent acts on it.
func (g *Guardrail) ValidateInput(ctx context.Context, query, userID string) Verdict {
	return g.input.ValidateInput(ctx, query, userID)
}

// SanitizeOutput scrubs generated text before it reaches the user. A
// suspected bulk leak replaces the whole response with BlockedMessage;
// otherwise field-level redaction runs.
func (g *Guardrail) SanitizeOutput(ctx context.Context, text, userID string) string {
	if g.output.ScanForLeaks(text, userID) {
		return BlockedMessage
	}
	return g.output.Sanitize(text, userID)
}

// CheckToolAccess gates one tool invocation. The checks run in fixed
// order: rate limit, then permission, then parameters. The first failure
// wins, so an over-quota caller sees a quota reason even when their
// parameters are also invalid.
func (g *Guardrail) CheckToolAccess(ctx context.Context, userID, actionName string, params map[string]any) Access {
	act := action.Parse(actionName)

	if d := g.limit.Check(userID, act); !d.Allowed {
		metrics.ToolAccessChecksTotal.WithLabelValues(act.String(), string(StageRateLimit)).Inc()
		return Access{Allowed: false, Reason: d.Reason, Stage: StageRateLimit}
	}

	if d := g.perms.Check(ctx, userID, act); !d.Allowed {
		metrics.ToolAccessChecksTotal.WithLabelValues(act.String(), string(StagePermission)).Inc()
		return Access{Allowed: false, Reason: d.Reason, Stage: StagePermission}
	}

	if valid, msg := g.params.Validate(act, params, userID); !valid {
		metrics.ToolAccessChecksTotal.WithLabelValues(act.String(), string(StageParameters)).Inc()
		return Access{Allowed: false, Reason: msg, Stage: StageParameters}
	}

	metrics.ToolAccessChecksTotal.WithLabelValues(act.String(), "allowed").Inc()
	return Access{Allowed: true, Reason: "allowed"}
}

// RecordToolCall counts a completed call against its budget and writes the
// audit trail. Call it only after the tool actually executed. Returns the
// audit ID of the trail entry.
func (g *Guardrail) RecordToolCall(ctx context.Context, call Call) string {
	act := action.Parse(call.Action)
	g.limit.Record(call.UserID, act)
	metrics.ToolCallsRecordedTotal.WithLabelValues(act.String()).Inc()

	return g.trail.LogAction(ctx, audittrail.Action{
		UserID:       call.UserID,
		ActionType:   call.Action,
		AgentName:    call.AgentName,
		Query:        call.Query,
		ResourceIDs:  call.ResourceIDs,
		ResourceType: call.ResourceType,
		Metadata:     call.Metadata,
	})
}

// SanitizeParams trims whitespace from string parameters. It never rejects
// anything; run it before CheckToolAccess so trimmed values are what the
// schema sees.
func (g *Guardrail) SanitizeParams(actionName string, params map[string]any) map[string]any {
	return g.params.SanitizeParams(action.Parse(actionName), params)
}

// GrantPermission writes a permission grant for the user and invalidates
// their cached set. Returns false when the graph store rejects the write.
func (g *Guardrail) GrantPermission(ctx context.Context, userID, perm, grantedBy string) bool {
	return g.perms.Grant(ctx, userID, perm, grantedBy)
}

// Usage reports a user's current rate limit consumption for one action.
func (g *Guardrail) Usage(userID, actionName string) Usage {
	return g.limit.Usage(userID, action.Parse(actionName))
}

// UserAuditTrail returns the user's recent actions, newest first. An
// unavailable graph store yields an empty slice.
func (g *Guardrail) UserAuditTrail(ctx context.Context, userID string, limit int, actionTypes ...string) []TrailEntry {
	return g.trail.GetUserAuditTrail(ctx, userID, limit, actionTypes...)
}

// ResourceAccessHistory returns who touched a resource recently, newest
// first. An unavailable graph store yields an empty slice.
func (g *Guardrail) ResourceAccessHistory(ctx context.Context, resourceID string, limit int) []TrailEntry {
	return g.trail.GetResourceAccessHistory(ctx, resourceID, limit)
}
