package graph

import (
	"context"
	"sync"
)

// MemoryStore keeps the graph in process memory. Contents are lost on
// restart, which suits tests and single-run deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[string]Node
	outEdges map[string][]Edge
	inEdges  map[string][]Edge
}

// NewMemoryStore creates an empty in-memory graph.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]Node),
		outEdges: make(map[string][]Edge),
		inEdges:  make(map[string][]Edge),
	}
}

func (s *MemoryStore) AddNode(ctx context.Context, node Node) error {
	if err := validateNode(node); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.ID] = node
	return nil
}

func (s *MemoryStore) AddRelationship(ctx context.Context, from, to string, rel RelType, props map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[from]; !ok {
		return ErrNodeNotFound
	}
	if _, ok := s.nodes[to]; !ok {
		return ErrNodeNotFound
	}
	edge := Edge{From: from, To: to, Type: rel, Props: props}
	// Re-adding the same relationship replaces its properties instead of
	// growing the edge list.
	for i, existing := range s.outEdges[from] {
		if existing.To == to && existing.Type == rel {
			s.outEdges[from][i] = edge
			for j, in := range s.inEdges[to] {
				if in.From == from && in.Type == rel {
					s.inEdges[to][j] = edge
				}
			}
			return nil
		}
	}
	s.outEdges[from] = append(s.outEdges[from], edge)
	s.inEdges[to] = append(s.inEdges[to], edge)
	return nil
}

func (s *MemoryStore) NodeExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok, nil
}

func (s *MemoryStore) GetUserPermissions(ctx context.Context, userID string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perms := make(map[string]struct{})
	for _, edge := range s.outEdges[userID] {
		switch edge.Type {
		case RelHasPermission:
			perms[edge.To] = struct{}{}
		case RelHasRole:
			for _, roleEdge := range s.outEdges[edge.To] {
				if roleEdge.Type == RelRolePermission {
					perms[roleEdge.To] = struct{}{}
				}
			}
		}
	}
	return perms, nil
}

func (s *MemoryStore) GetAuditTrail(ctx context.Context, userID string, limit int, actionTypes []string) ([]TrailEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []TrailEntry
	for _, edge := range s.outEdges[userID] {
		if edge.Type != RelPerformed {
			continue
		}
		node, ok := s.nodes[edge.To]
		if !ok {
			continue
		}
		entry, ok := entryFromNode(node)
		if !ok || !matchesAction(entry, actionTypes) {
			continue
		}
		entries = append(entries, entry)
	}
	sortEntries(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) GetResourceHistory(ctx context.Context, resourceID string, limit int) ([]TrailEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []TrailEntry
	for _, edge := range s.inEdges[resourceID] {
		if edge.Type != RelAccessed {
			continue
		}
		node, ok := s.nodes[edge.From]
		if !ok {
			continue
		}
		entry, ok := entryFromNode(node)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	sortEntries(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]Node)
	s.outEdges = make(map[string][]Edge)
	s.inEdges = make(map[string][]Edge)
	return nil
}
