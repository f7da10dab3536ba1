// Package audittrail mirrors recorded tool calls into the relationship graph.
// The flat audit log is the system of record; the graph is a best-effort
// secondary index for trail queries, so graph failures are logged and
// swallowed, never surfaced to callers.
package audittrail

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clavrr/guardrail/internal/audit"
	"github.com/clavrr/guardrail/internal/graph"
	"github.com/clavrr/guardrail/internal/logger"
)

const (
	// maxResourceEdges caps how many ACCESSED edges one action creates.
	maxResourceEdges = 10

	defaultTrailLimit   = 50
	defaultHistoryLimit = 20
)

// Action describes one completed tool call to be recorded.
type Action struct {
	UserID       string
	ActionType   string
	AgentName    string
	ResourceType string
	ResourceIDs  []string
	Query        string
	Metadata     map[string]string
}

// Trail records actions to the audit log and mirrors them into the graph.
type Trail struct {
	audit *audit.Manager
	store graph.Store
	log   logger.Logger
	clock func() time.Time
}

// New creates a trail. A nil clock defaults to time.Now.
func New(auditLog *audit.Manager, store graph.Store, log logger.Logger, clock func() time.Time) *Trail {
	if log == nil {
		log = logger.Nop()
	}
	if store == nil {
		store = graph.NewNoopStore()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Trail{audit: auditLog, store: store, log: log, clock: clock}
}

// LogAction records a completed tool call and returns its audit ID. The flat
// audit log entry is written first; the graph mirror is best effort.
func (t *Trail) LogAction(ctx context.Context, act Action) string {
	auditID := newAuditID(t.log)
	now := t.clock().UTC()
	snippet := audit.Snippet(act.Query)

	details := map[string]any{
		"audit_id":    auditID,
		"action_type": act.ActionType,
	}
	if act.AgentName != "" {
		details["agent_name"] = act.AgentName
	}
	if act.ResourceType != "" {
		details["resource_type"] = act.ResourceType
	}
	if len(act.ResourceIDs) > 0 {
		details["resource_count"] = len(act.ResourceIDs)
	}
	if snippet != "" {
		details["query_snippet"] = snippet
	}
	t.audit.LogEvent(audit.EventToolCall, audit.StatusLogged, audit.SeverityInfo, act.UserID, details)

	t.mirror(ctx, auditID, now, snippet, act)
	return auditID
}

// newAuditID returns a time-ordered UUID so trail entries sort
// lexicographically by creation time. Falls back to a random UUID if V7
// generation fails.
func newAuditID(log logger.Logger) string {
	id, err := uuid.NewV7()
	if err != nil {
		log.Warn("time-ordered uuid generation failed, using random id", logger.Error(err))
		return uuid.NewString()
	}
	return id.String()
}

// mirror writes the action into the graph. Every failure is logged at Warn
// and swallowed.
func (t *Trail) mirror(ctx context.Context, auditID string, ts time.Time, snippet string, act Action) {
	if act.UserID == "" {
		return
	}

	if err := t.store.AddNode(ctx, graph.Node{ID: act.UserID, Type: graph.NodeUser}); err != nil {
		t.warnGraph("upsert user node", auditID, err)
		return
	}

	node := graph.NewAuditEventNode(graph.TrailEntry{
		AuditID:       auditID,
		UserID:        act.UserID,
		Timestamp:     ts,
		ActionType:    act.ActionType,
		AgentName:     act.AgentName,
		ResourceType:  act.ResourceType,
		ResourceCount: len(act.ResourceIDs),
		QuerySnippet:  snippet,
		Metadata:      act.Metadata,
	})
	if err := t.store.AddNode(ctx, node); err != nil {
		t.warnGraph("add audit event node", auditID, err)
		return
	}

	if err := t.store.AddRelationship(ctx, act.UserID, auditID, graph.RelPerformed, nil); err != nil {
		t.warnGraph("add performed edge", auditID, err)
		return
	}

	resourceIDs := act.ResourceIDs
	if len(resourceIDs) > maxResourceEdges {
		resourceIDs = resourceIDs[:maxResourceEdges]
	}
	for _, resID := range resourceIDs {
		exists, err := t.store.NodeExists(ctx, resID)
		if err != nil {
			t.warnGraph("check resource node", auditID, err)
			continue
		}
		if !exists {
			// Resources are registered elsewhere; an unknown ID is skipped
			// rather than materialized from a tool-call record.
			t.log.Debug("skipping accessed edge for unknown resource",
				logger.String("audit_id", auditID),
				logger.String("resource_id", resID))
			continue
		}
		if err := t.store.AddRelationship(ctx, auditID, resID, graph.RelAccessed, nil); err != nil {
			t.warnGraph("add accessed edge", auditID, err)
		}
	}
}

func (t *Trail) warnGraph(op, auditID string, err error) {
	t.log.Warn("graph mirror write failed",
		logger.String("operation", op),
		logger.String("audit_id", auditID),
		logger.Error(err))
}

// GetUserAuditTrail returns a user's recorded actions, newest first. Returns
// an empty slice when the store is unavailable.
func (t *Trail) GetUserAuditTrail(ctx context.Context, userID string, limit int, actionTypes ...string) []graph.TrailEntry {
	if limit <= 0 {
		limit = defaultTrailLimit
	}
	entries, err := t.store.GetAuditTrail(ctx, userID, limit, actionTypes)
	if err != nil {
		t.log.Warn("audit trail read failed",
			logger.String("user_id", userID),
			logger.Error(err))
		return []graph.TrailEntry{}
	}
	if entries == nil {
		entries = []graph.TrailEntry{}
	}
	return entries
}

// GetResourceAccessHistory returns the actions that touched a resource,
// newest first. Returns an empty slice when the store is unavailable.
func (t *Trail) GetResourceAccessHistory(ctx context.Context, resourceID string, limit int) []graph.TrailEntry {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	entries, err := t.store.GetResourceHistory(ctx, resourceID, limit)
	if err != nil {
		t.log.Warn("resource history read failed",
			logger.String("resource_id", resourceID),
			logger.Error(err))
		return []graph.TrailEntry{}
	}
	if entries == nil {
		entries = []graph.TrailEntry{}
	}
	return entries
}
