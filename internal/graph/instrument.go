package graph

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/clavrr/guardrail/internal/metrics"
	"github.com/clavrr/guardrail/internal/telemetry"
)

// instrumentedStore wraps a Store with Prometheus metrics and trace spans.
// The factory applies it to every backend so callers see uniform telemetry.
type instrumentedStore struct {
	next Store
}

// Instrument wraps a store with per-operation metrics and spans.
func Instrument(next Store) Store {
	return &instrumentedStore{next: next}
}

func (s *instrumentedStore) observe(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, "graph."+op,
		attribute.String("graph.operation", op))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.GraphOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.GraphOperationsTotal.WithLabelValues(op, status).Inc()
	return err
}

func (s *instrumentedStore) AddNode(ctx context.Context, node Node) error {
	return s.observe(ctx, "add_node", func(ctx context.Context) error {
		return s.next.AddNode(ctx, node)
	})
}

func (s *instrumentedStore) AddRelationship(ctx context.Context, from, to string, rel RelType, props map[string]string) error {
	return s.observe(ctx, "add_relationship", func(ctx context.Context) error {
		return s.next.AddRelationship(ctx, from, to, rel, props)
	})
}

func (s *instrumentedStore) NodeExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.observe(ctx, "node_exists", func(ctx context.Context) error {
		var err error
		exists, err = s.next.NodeExists(ctx, id)
		return err
	})
	return exists, err
}

func (s *instrumentedStore) GetUserPermissions(ctx context.Context, userID string) (map[string]struct{}, error) {
	var perms map[string]struct{}
	err := s.observe(ctx, "get_user_permissions", func(ctx context.Context) error {
		var err error
		perms, err = s.next.GetUserPermissions(ctx, userID)
		return err
	})
	return perms, err
}

func (s *instrumentedStore) GetAuditTrail(ctx context.Context, userID string, limit int, actionTypes []string) ([]TrailEntry, error) {
	var entries []TrailEntry
	err := s.observe(ctx, "get_audit_trail", func(ctx context.Context) error {
		var err error
		entries, err = s.next.GetAuditTrail(ctx, userID, limit, actionTypes)
		return err
	})
	return entries, err
}

func (s *instrumentedStore) GetResourceHistory(ctx context.Context, resourceID string, limit int) ([]TrailEntry, error) {
	var entries []TrailEntry
	err := s.observe(ctx, "get_resource_history", func(ctx context.Context) error {
		var err error
		entries, err = s.next.GetResourceHistory(ctx, resourceID, limit)
		return err
	})
	return entries, err
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
