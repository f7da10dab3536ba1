package audittrail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clavrr/guardrail/internal/audit"
	"github.com/clavrr/guardrail/internal/graph"
	"github.com/clavrr/guardrail/internal/logger"
)

var errStoreDown = errors.New("store down")

// failingStore errors on every call, simulating a graph outage.
type failingStore struct{}

func (f *failingStore) AddNode(ctx context.Context, node graph.Node) error {
	return errStoreDown
}

func (f *failingStore) AddRelationship(ctx context.Context, from, to string, rel graph.RelType, props map[string]string) error {
	return errStoreDown
}

func (f *failingStore) NodeExists(ctx context.Context, id string) (bool, error) {
	return false, errStoreDown
}

func (f *failingStore) GetUserPermissions(ctx context.Context, userID string) (map[string]struct{}, error) {
	return nil, errStoreDown
}

func (f *failingStore) GetAuditTrail(ctx context.Context, userID string, limit int, actionTypes []string) ([]graph.TrailEntry, error) {
	return nil, errStoreDown
}

func (f *failingStore) GetResourceHistory(ctx context.Context, resourceID string, limit int) ([]graph.TrailEntry, error) {
	return nil, errStoreDown
}

func (f *failingStore) Close() error { return nil }

func newTestAudit(t *testing.T) (*audit.Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	m, err := audit.NewManager(audit.Config{
		Enabled:       true,
		Sink:          "file",
		FilePath:      path,
		BufferSize:    64,
		FlushInterval: 10 * time.Millisecond,
	}, logger.Nop())
	if err != nil {
		t.Fatalf("Failed to create audit manager: %v", err)
	}
	return m, path
}

func readAuditEvents(t *testing.T, m *audit.Manager, path string) []audit.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Failed to shut down audit manager: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read audit file: %v", err)
	}
	var events []audit.Event
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var ev audit.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("Failed to decode audit event: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func seedResources(t *testing.T, s graph.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := s.AddNode(context.Background(), graph.Node{ID: id, Type: graph.NodeResource}); err != nil {
			t.Fatalf("Failed to seed resource %s: %v", id, err)
		}
	}
}

func TestLogActionWritesAuditLogAndGraph(t *testing.T) {
	m, path := newTestAudit(t)
	store := graph.NewMemoryStore()
	seedResources(t, store, "mail-1")

	fixed := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	trail := New(m, store, logger.Nop(), func() time.Time { return fixed })

	auditID := trail.LogAction(context.Background(), Action{
		UserID:       "alice",
		ActionType:   "email_send",
		AgentName:    "assistant",
		ResourceType: "email",
		ResourceIDs:  []string{"mail-1"},
		Query:        "send the quarterly update",
	})
	if auditID == "" {
		t.Fatal("Expected non-empty audit ID")
	}

	entries := trail.GetUserAuditTrail(context.Background(), "alice", 0)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 trail entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.AuditID != auditID {
		t.Errorf("Expected audit ID %s, got %s", auditID, entry.AuditID)
	}
	if entry.ActionType != "email_send" || entry.AgentName != "assistant" {
		t.Errorf("Entry fields wrong: %+v", entry)
	}
	if !entry.Timestamp.Equal(fixed) {
		t.Errorf("Expected timestamp %v, got %v", fixed, entry.Timestamp)
	}
	if entry.ResourceCount != 1 {
		t.Errorf("Expected resource count 1, got %d", entry.ResourceCount)
	}

	history := trail.GetResourceAccessHistory(context.Background(), "mail-1", 0)
	if len(history) != 1 || history[0].AuditID != auditID {
		t.Errorf("Expected resource history with the audit entry, got %v", history)
	}

	events := readAuditEvents(t, m, path)
	if len(events) != 1 {
		t.Fatalf("Expected 1 flat audit event, got %d", len(events))
	}
	ev := events[0]
	if ev.Type != audit.EventToolCall || ev.Status != audit.StatusLogged {
		t.Errorf("Expected TOOL_CALL/LOGGED, got %s/%s", ev.Type, ev.Status)
	}
	if ev.UserID != "alice" {
		t.Errorf("Expected user alice, got %s", ev.UserID)
	}
	if ev.Details["audit_id"] != auditID {
		t.Errorf("Expected flat event to reference audit ID %s, got %v", auditID, ev.Details["audit_id"])
	}
}

func TestLogActionIDsSortByCreationTime(t *testing.T) {
	m, _ := newTestAudit(t)
	trail := New(m, graph.NewMemoryStore(), logger.Nop(), nil)
	ctx := context.Background()

	var prev string
	for i := 0; i < 10; i++ {
		id := trail.LogAction(ctx, Action{UserID: "alice", ActionType: "note_create"})
		if prev != "" && id <= prev {
			t.Fatalf("Expected monotonically increasing IDs, got %s after %s", id, prev)
		}
		prev = id
	}
	_ = m.Shutdown(ctx)
}

func TestLogActionCapsAccessedEdges(t *testing.T) {
	m, _ := newTestAudit(t)
	store := graph.NewMemoryStore()

	var ids []string
	for i := 0; i < 12; i++ {
		ids = append(ids, fmt.Sprintf("doc-%02d", i))
	}
	seedResources(t, store, ids...)

	trail := New(m, store, logger.Nop(), nil)
	ctx := context.Background()
	trail.LogAction(ctx, Action{UserID: "alice", ActionType: "note_create", ResourceIDs: ids})

	for i, id := range ids {
		history := trail.GetResourceAccessHistory(ctx, id, 0)
		if i < maxResourceEdges && len(history) != 1 {
			t.Errorf("Resource %s should have 1 access entry, got %d", id, len(history))
		}
		if i >= maxResourceEdges && len(history) != 0 {
			t.Errorf("Resource %s beyond the edge cap should have no entries, got %d", id, len(history))
		}
	}

	// The recorded count still reflects every resource the action touched.
	entries := trail.GetUserAuditTrail(ctx, "alice", 0)
	if len(entries) != 1 || entries[0].ResourceCount != 12 {
		t.Errorf("Expected resource count 12, got %+v", entries)
	}
	_ = m.Shutdown(ctx)
}

func TestLogActionSkipsMissingResources(t *testing.T) {
	m, _ := newTestAudit(t)
	store := graph.NewMemoryStore()
	seedResources(t, store, "known")

	trail := New(m, store, logger.Nop(), nil)
	ctx := context.Background()
	trail.LogAction(ctx, Action{
		UserID:      "alice",
		ActionType:  "email_read",
		ResourceIDs: []string{"known", "ghost"},
	})

	if history := trail.GetResourceAccessHistory(ctx, "known", 0); len(history) != 1 {
		t.Errorf("Expected 1 entry for known resource, got %d", len(history))
	}
	if history := trail.GetResourceAccessHistory(ctx, "ghost", 0); len(history) != 0 {
		t.Errorf("Expected no entries for missing resource, got %d", len(history))
	}

	// The skip must not create the missing node as a side effect.
	exists, err := store.NodeExists(ctx, "ghost")
	if err != nil {
		t.Fatalf("NodeExists failed: %v", err)
	}
	if exists {
		t.Error("Missing resource node should not be created")
	}
	_ = m.Shutdown(ctx)
}

func TestLogActionSurvivesGraphOutage(t *testing.T) {
	m, path := newTestAudit(t)
	trail := New(m, &failingStore{}, logger.Nop(), nil)

	auditID := trail.LogAction(context.Background(), Action{
		UserID:     "alice",
		ActionType: "email_send",
	})
	if auditID == "" {
		t.Fatal("Expected audit ID despite graph outage")
	}

	events := readAuditEvents(t, m, path)
	if len(events) != 1 {
		t.Fatalf("Expected flat audit event despite graph outage, got %d", len(events))
	}
}

func TestTrailReadsReturnEmptyOnOutage(t *testing.T) {
	m, _ := newTestAudit(t)
	trail := New(m, &failingStore{}, logger.Nop(), nil)
	ctx := context.Background()

	entries := trail.GetUserAuditTrail(ctx, "alice", 10)
	if entries == nil || len(entries) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", entries)
	}

	history := trail.GetResourceAccessHistory(ctx, "mail-1", 10)
	if history == nil || len(history) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", history)
	}
	_ = m.Shutdown(ctx)
}

func TestGetUserAuditTrailFiltersAndLimits(t *testing.T) {
	m, _ := newTestAudit(t)
	store := graph.NewMemoryStore()
	trail := New(m, store, logger.Nop(), nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		at := "email_send"
		if i%2 == 0 {
			at = "note_create"
		}
		trail.LogAction(ctx, Action{UserID: "alice", ActionType: at})
	}

	sends := trail.GetUserAuditTrail(ctx, "alice", 0, "email_send")
	if len(sends) != 2 {
		t.Fatalf("Expected 2 email_send entries, got %d", len(sends))
	}
	for _, e := range sends {
		if e.ActionType != "email_send" {
			t.Errorf("Filter leaked action type %s", e.ActionType)
		}
	}

	limited := trail.GetUserAuditTrail(ctx, "alice", 3)
	if len(limited) != 3 {
		t.Errorf("Expected 3 entries with limit, got %d", len(limited))
	}
	_ = m.Shutdown(ctx)
}
