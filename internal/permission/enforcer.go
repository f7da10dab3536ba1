// Package permission authorizes destructive tool actions against a
// graph-backed permission model. Only actions in the protected map require
// a permission at all; everything else is allowed, so the enforcer is an
// allow-list over the handful of actions that can destroy or exfiltrate
// user data.
//
// Resolved permission sets are cached with a TTL. A graph outage degrades
// a user to the default read-class set, never to admin and never to total
// lockout.
package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/clavrr/guardrail/internal/action"
	"github.com/clavrr/guardrail/internal/audit"
	"github.com/clavrr/guardrail/internal/graph"
	"github.com/clavrr/guardrail/internal/logger"
	"github.com/clavrr/guardrail/internal/metrics"
)

const (
	adminPermission    = "admin"
	wildcardPermission = "*"

	// maxLoggedPermissions caps how many of a user's permissions a denial
	// log line may name.
	maxLoggedPermissions = 10

	defaultCacheSize = 1000
	defaultCacheTTL  = 5 * time.Minute
)

// DefaultPermissions returns the read-class permissions every user holds
// without any grant.
func DefaultPermissions() Set {
	return NewSet("email:read", "calendar:read", "note:read", "task:read", "search")
}

// ProtectedActions maps destructive actions to the permission they require.
// Actions outside this map need no permission.
func ProtectedActions() map[action.Type]string {
	return map[action.Type]string{
		action.EmailSend:      "email:send",
		action.EmailDelete:    "email:delete",
		action.CalendarCreate: "calendar:write",
		action.CalendarDelete: "calendar:write",
		action.NoteDelete:     "note:delete",
		action.TaskDelete:     "task:delete",
	}
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Config controls the permission cache.
type Config struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Enforcer evaluates protected actions against per-user permission sets.
type Enforcer struct {
	store     graph.Store
	cache     *expirable.LRU[string, Set]
	defaults  Set
	protected map[action.Type]string
	audit     *audit.Manager
	log       logger.Logger
	clock     func() time.Time
}

// New creates an enforcer. A nil store degrades every lookup to the
// default set; a nil clock gets time.Now.
func New(cfg Config, store graph.Store, auditLog *audit.Manager, log logger.Logger, clock func() time.Time) *Enforcer {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if store == nil {
		store = graph.NewNoopStore()
	}
	if log == nil {
		log = logger.Nop()
	}
	if clock == nil {
		clock = time.Now
	}

	return &Enforcer{
		store:     store,
		cache:     expirable.NewLRU[string, Set](cfg.CacheSize, nil, cfg.CacheTTL),
		defaults:  DefaultPermissions(),
		protected: ProtectedActions(),
		audit:     auditLog,
		log:       log.WithComponent("permission"),
		clock:     clock,
	}
}

// Check reports whether userID may perform act.
func (e *Enforcer) Check(ctx context.Context, userID string, act action.Type) Decision {
	required, ok := e.protected[act]
	if !ok {
		metrics.PermissionChecksTotal.WithLabelValues(act.String(), "unprotected").Inc()
		return Decision{Allowed: true, Reason: "not a protected action"}
	}

	// A permission every user holds needs no per-user lookup.
	if e.defaults.Has(required) {
		metrics.PermissionChecksTotal.WithLabelValues(act.String(), "allowed").Inc()
		return Decision{Allowed: true, Reason: "covered by default permissions"}
	}

	perms := e.userPermissions(ctx, userID)

	if perms.Has(required) || perms.Has(adminPermission) || perms.Has(wildcardPermission) {
		metrics.PermissionChecksTotal.WithLabelValues(act.String(), "allowed").Inc()
		return Decision{Allowed: true, Reason: "permission granted"}
	}

	current := perms.Names()
	if len(current) > maxLoggedPermissions {
		current = current[:maxLoggedPermissions]
	}
	e.log.Warn("Permission denied",
		logger.String("user_id", userID),
		logger.String("action", act.String()),
		logger.String("required", required),
		logger.Strings("current_permissions", current))
	e.audit.LogEvent(audit.EventPermissionDenied, audit.StatusRejected, audit.SeverityWarning, userID, map[string]any{
		"action":              act.String(),
		"required_permission": required,
	})
	metrics.PermissionChecksTotal.WithLabelValues(act.String(), "denied").Inc()

	return Decision{Allowed: false, Reason: fmt.Sprintf("missing permission %s required for %s", required, act)}
}

// Grant writes a HAS_PERMISSION edge for the user and invalidates their
// cached set. Returns false when the store rejects the write; the caller
// decides whether to retry.
func (e *Enforcer) Grant(ctx context.Context, userID, permission, grantedBy string) bool {
	if userID == "" || permission == "" {
		e.log.Warn("Rejecting grant with empty user or permission",
			logger.String("user_id", userID),
			logger.String("permission", permission))
		metrics.PermissionGrantsTotal.WithLabelValues("error").Inc()
		return false
	}

	err := e.writeGrant(ctx, userID, permission, grantedBy)
	if err != nil {
		e.log.Warn("Permission grant failed",
			logger.String("user_id", userID),
			logger.String("permission", permission),
			logger.Error(err))
		metrics.PermissionGrantsTotal.WithLabelValues("error").Inc()
		return false
	}

	e.Invalidate(userID)
	e.audit.LogEvent(audit.EventPermissionGrant, audit.StatusLogged, audit.SeverityInfo, userID, map[string]any{
		"permission": permission,
		"granted_by": grantedBy,
	})
	metrics.PermissionGrantsTotal.WithLabelValues("ok").Inc()
	e.log.Info("Permission granted",
		logger.String("user_id", userID),
		logger.String("permission", permission),
		logger.String("granted_by", grantedBy))
	return true
}

// Invalidate clears one user's cached permission set.
func (e *Enforcer) Invalidate(userID string) {
	e.cache.Remove(userID)
}

// InvalidateAll clears every cached permission set.
func (e *Enforcer) InvalidateAll() {
	e.cache.Purge()
}

// userPermissions returns the user's cached set, or resolves defaults plus
// graph-derived permissions and caches the union. A failed lookup degrades
// to defaults only and is not cached, so a recovered store is consulted on
// the next check.
func (e *Enforcer) userPermissions(ctx context.Context, userID string) Set {
	if perms, ok := e.cache.Get(userID); ok {
		metrics.PermissionCacheHitsTotal.Inc()
		return perms
	}
	metrics.PermissionCacheMissesTotal.Inc()

	stored, err := e.store.GetUserPermissions(ctx, userID)
	if err != nil {
		e.log.Warn("Permission lookup failed, degrading to defaults",
			logger.String("user_id", userID),
			logger.Error(err))
		return e.defaults.Clone()
	}

	perms := e.defaults.Clone()
	for p := range stored {
		perms.Add(p)
	}
	e.cache.Add(userID, perms)
	return perms
}

func (e *Enforcer) writeGrant(ctx context.Context, userID, permission, grantedBy string) error {
	if err := e.store.AddNode(ctx, graph.Node{ID: userID, Type: graph.NodeUser}); err != nil {
		return fmt.Errorf("add user node: %w", err)
	}
	if err := e.store.AddNode(ctx, graph.Node{ID: permission, Type: graph.NodePermission}); err != nil {
		return fmt.Errorf("add permission node: %w", err)
	}

	props := map[string]string{
		"granted_at": e.clock().UTC().Format(time.RFC3339),
	}
	if grantedBy != "" {
		props["granted_by"] = grantedBy
	}
	if err := e.store.AddRelationship(ctx, userID, permission, graph.RelHasPermission, props); err != nil {
		return fmt.Errorf("add permission edge: %w", err)
	}
	return nil
}
