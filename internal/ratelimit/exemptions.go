package ratelimit

import "sync"

// ExemptList holds user IDs that bypass rate limiting entirely. Service
// accounts and operator identities go here. Matching is by exact user ID.
type ExemptList struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

// NewExemptList creates an exemption list seeded with the given user IDs.
// Empty IDs are ignored.
func NewExemptList(users ...string) *ExemptList {
	l := &ExemptList{users: make(map[string]struct{}, len(users))}
	for _, u := range users {
		if u != "" {
			l.users[u] = struct{}{}
		}
	}
	return l
}

// Add marks a user as exempt.
func (l *ExemptList) Add(userID string) {
	if userID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users[userID] = struct{}{}
}

// Remove clears a user's exemption.
func (l *ExemptList) Remove(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.users, userID)
}

// Contains reports whether the user is exempt.
func (l *ExemptList) Contains(userID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.users[userID]
	return ok
}

// List returns the exempt user IDs in no particular order.
func (l *ExemptList) List() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.users))
	for u := range l.users {
		out = append(out, u)
	}
	return out
}
