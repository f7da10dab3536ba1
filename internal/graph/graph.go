// Package graph provides the typed relationship store behind the audit trail
// and the permission enforcer. Callers never build query strings: the Store
// interface exposes exactly the traversals the governance layer needs, with
// noop, in-memory, and BadgerDB-backed implementations.
package graph

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNodeNotFound is returned when a relationship references a missing node.
	ErrNodeNotFound = errors.New("graph node not found")
	// ErrInvalidNode is returned for nodes without an ID or type.
	ErrInvalidNode = errors.New("invalid graph node")
)

// NodeType identifies the kind of entity a node represents.
type NodeType string

const (
	NodeUser       NodeType = "User"
	NodeAuditEvent NodeType = "AuditEvent"
	NodeResource   NodeType = "Resource"
	NodePermission NodeType = "Permission"
	NodeRole       NodeType = "Role"
)

// RelType identifies the kind of relationship between two nodes.
type RelType string

const (
	RelPerformed      RelType = "PERFORMED"
	RelAccessed       RelType = "ACCESSED"
	RelHasPermission  RelType = "HAS_PERMISSION"
	RelHasRole        RelType = "HAS_ROLE"
	RelRolePermission RelType = "ROLE_PERMISSION"
)

// Node is a graph entity.
type Node struct {
	ID    string            `json:"id"`
	Type  NodeType          `json:"type"`
	Props map[string]string `json:"props,omitempty"`
}

// Edge is a directed relationship between two nodes.
type Edge struct {
	From  string            `json:"from"`
	To    string            `json:"to"`
	Type  RelType           `json:"type"`
	Props map[string]string `json:"props,omitempty"`
}

// TrailEntry is one recorded action read back from the store.
type TrailEntry struct {
	AuditID       string
	UserID        string
	Timestamp     time.Time
	ActionType    string
	AgentName     string
	ResourceType  string
	ResourceCount int
	QuerySnippet  string
	Metadata      map[string]string
}

// Store is the narrow repository contract the governance layer depends on.
// Implementations must be safe for concurrent use.
type Store interface {
	// AddNode upserts a node.
	AddNode(ctx context.Context, node Node) error
	// AddRelationship creates an edge. Both endpoints must already exist.
	AddRelationship(ctx context.Context, from, to string, rel RelType, props map[string]string) error
	// NodeExists reports whether a node with the given ID is stored.
	NodeExists(ctx context.Context, id string) (bool, error)
	// GetUserPermissions returns the union of the user's direct
	// HAS_PERMISSION targets and the two-hop HAS_ROLE -> ROLE_PERMISSION
	// targets.
	GetUserPermissions(ctx context.Context, userID string) (map[string]struct{}, error)
	// GetAuditTrail returns the user's recorded actions, newest first,
	// optionally filtered by action type.
	GetAuditTrail(ctx context.Context, userID string, limit int, actionTypes []string) ([]TrailEntry, error)
	// GetResourceHistory returns the actions that accessed a resource,
	// newest first.
	GetResourceHistory(ctx context.Context, resourceID string, limit int) ([]TrailEntry, error)
	// Close releases backing resources.
	Close() error
}

const metaPropPrefix = "meta_"

// NewAuditEventNode converts a trail entry into its stored node form.
func NewAuditEventNode(e TrailEntry) Node {
	props := map[string]string{
		"user_id":        e.UserID,
		"timestamp":      e.Timestamp.UTC().Format(time.RFC3339Nano),
		"action_type":    e.ActionType,
		"agent_name":     e.AgentName,
		"resource_type":  e.ResourceType,
		"resource_count": strconv.Itoa(e.ResourceCount),
		"query_snippet":  e.QuerySnippet,
	}
	for k, v := range e.Metadata {
		props[metaPropPrefix+k] = v
	}
	return Node{ID: e.AuditID, Type: NodeAuditEvent, Props: props}
}

// entryFromNode rebuilds a trail entry from a stored audit event node.
func entryFromNode(n Node) (TrailEntry, bool) {
	if n.Type != NodeAuditEvent {
		return TrailEntry{}, false
	}
	e := TrailEntry{
		AuditID:      n.ID,
		UserID:       n.Props["user_id"],
		ActionType:   n.Props["action_type"],
		AgentName:    n.Props["agent_name"],
		ResourceType: n.Props["resource_type"],
		QuerySnippet: n.Props["query_snippet"],
	}
	if ts, err := time.Parse(time.RFC3339Nano, n.Props["timestamp"]); err == nil {
		e.Timestamp = ts
	}
	if count, err := strconv.Atoi(n.Props["resource_count"]); err == nil {
		e.ResourceCount = count
	}
	for k, v := range n.Props {
		if strings.HasPrefix(k, metaPropPrefix) {
			if e.Metadata == nil {
				e.Metadata = map[string]string{}
			}
			e.Metadata[strings.TrimPrefix(k, metaPropPrefix)] = v
		}
	}
	return e, true
}

// sortEntries orders entries newest first, tie-breaking on the
// time-sortable audit ID.
func sortEntries(entries []TrailEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].AuditID > entries[j].AuditID
	})
}

// matchesAction reports whether an entry passes the action type filter. An
// empty filter matches everything.
func matchesAction(entry TrailEntry, actionTypes []string) bool {
	if len(actionTypes) == 0 {
		return true
	}
	for _, at := range actionTypes {
		if entry.ActionType == at {
			return true
		}
	}
	return false
}

func validateNode(node Node) error {
	if node.ID == "" || node.Type == "" {
		return ErrInvalidNode
	}
	return nil
}
