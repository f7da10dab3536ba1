package graph

import "context"

// NoopStore discards writes and returns empty results for reads. It is the
// default backend when no graph store is configured: the governance layer
// keeps working, permission resolution falls back to the default set, and
// trail reads come back empty.
type NoopStore struct{}

// NewNoopStore creates a store that ignores everything.
func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (s *NoopStore) AddNode(ctx context.Context, node Node) error {
	return nil
}

func (s *NoopStore) AddRelationship(ctx context.Context, from, to string, rel RelType, props map[string]string) error {
	return nil
}

func (s *NoopStore) NodeExists(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (s *NoopStore) GetUserPermissions(ctx context.Context, userID string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (s *NoopStore) GetAuditTrail(ctx context.Context, userID string, limit int, actionTypes []string) ([]TrailEntry, error) {
	return nil, nil
}

func (s *NoopStore) GetResourceHistory(ctx context.Context, resourceID string, limit int) ([]TrailEntry, error) {
	return nil, nil
}

func (s *NoopStore) Close() error {
	return nil
}
