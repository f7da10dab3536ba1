// Package ratelimit enforces per-user, per-action call budgets over a
// sliding window, with a cooldown imposed on violation.
//
// Check and Record are separate calls so that only successfully executed
// actions consume quota. To keep that split safe under concurrency, an
// allowed Check takes an in-flight reservation that counts against the
// budget until Record converts it into history; reservations that are
// never recorded expire with the window.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/clavrr/guardrail/internal/action"
	"github.com/clavrr/guardrail/internal/logger"
	"github.com/clavrr/guardrail/internal/metrics"
)

const (
	defaultHistorySize = 10000
	defaultHistoryTTL  = time.Hour
)

// Budget caps how many calls an action allows inside a sliding window and
// sets the cooldown a violator sits out afterwards.
type Budget struct {
	MaxCalls int
	Window   time.Duration
	Cooldown time.Duration
}

// DefaultBudget applies to actions without an explicit budget.
var DefaultBudget = Budget{MaxCalls: 50, Window: time.Minute, Cooldown: time.Minute}

// DefaultBudgets returns the built-in per-action budgets. Destructive and
// outbound actions get small windows with long cooldowns, reads and
// searches get loose ones.
func DefaultBudgets() map[action.Type]Budget {
	destructive := Budget{MaxCalls: 5, Window: 5 * time.Minute, Cooldown: 10 * time.Minute}
	create := Budget{MaxCalls: 20, Window: time.Minute, Cooldown: 2 * time.Minute}
	read := Budget{MaxCalls: 30, Window: time.Minute, Cooldown: time.Minute}

	return map[action.Type]Budget{
		action.EmailSend:      destructive,
		action.EmailDelete:    destructive,
		action.CalendarCreate: {MaxCalls: 10, Window: 5 * time.Minute, Cooldown: 10 * time.Minute},
		action.CalendarDelete: destructive,
		action.NoteDelete:     destructive,
		action.TaskDelete:     destructive,
		action.NoteCreate:     create,
		action.TaskCreate:     create,
		action.EmailRead:      read,
		action.EmailSearch:    read,
		action.CalendarRead:   read,
		action.NoteSearch:     read,
		action.TaskRead:       read,
		action.WebSearch:      read,
		action.WebOpen:        read,
		action.MapsSearch:     read,
	}
}

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Reason     string
	Remaining  int           // calls left in the window after this one
	RetryAfter time.Duration // how long to wait when rejected
}

// Usage is a read-only snapshot of a user's consumption for one action.
type Usage struct {
	Used   int
	Limit  int
	Window time.Duration
}

// Config controls how many (user, action) histories the limiter keeps and
// for how long. HistoryTTL is an idle timeout: every check and record
// renews it, and a value below the longest window plus cooldown is raised
// to it so idle eviction cannot erase an active cooldown.
type Config struct {
	HistorySize int
	HistoryTTL  time.Duration
	ExemptUsers []string
}

// entry tracks one (user, action) pair. All fields are guarded by mu.
type entry struct {
	mu            sync.Mutex
	recorded      []time.Time // completed calls, oldest first
	reserved      []time.Time // admitted but not yet recorded, oldest first
	cooldownUntil time.Time
}

// prune drops timestamps that fell out of the window. Must be called with
// e.mu held.
func (e *entry) prune(cutoff time.Time) {
	e.recorded = pruneBefore(e.recorded, cutoff)
	e.reserved = pruneBefore(e.reserved, cutoff)
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

// Limiter tracks sliding-window call histories per (user, action) pair.
// Histories live in a bounded expirable LRU so memory cannot grow with the
// user population.
type Limiter struct {
	budgets  map[action.Type]Budget
	fallback Budget
	entries  *expirable.LRU[string, *entry]
	mu       sync.Mutex // guards entry creation
	exempt   *ExemptList
	clock    func() time.Time
	log      logger.Logger
}

// New creates a limiter. A nil budgets map gets DefaultBudgets, a nil clock
// gets time.Now.
func New(cfg Config, budgets map[action.Type]Budget, log logger.Logger, clock func() time.Time) *Limiter {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = defaultHistoryTTL
	}
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	if log == nil {
		log = logger.Nop()
	}
	if clock == nil {
		clock = time.Now
	}

	// An entry must outlive the longest window plus cooldown its budgets
	// allow, or eviction could erase an active cooldown.
	for _, b := range budgets {
		if need := b.Window + b.Cooldown; cfg.HistoryTTL < need {
			cfg.HistoryTTL = need
		}
	}
	if need := DefaultBudget.Window + DefaultBudget.Cooldown; cfg.HistoryTTL < need {
		cfg.HistoryTTL = need
	}

	l := &Limiter{
		budgets:  budgets,
		fallback: DefaultBudget,
		exempt:   NewExemptList(cfg.ExemptUsers...),
		clock:    clock,
		log:      log.WithComponent("ratelimit"),
	}
	l.entries = expirable.NewLRU[string, *entry](cfg.HistorySize, func(string, *entry) {
		metrics.RateLimitTrackedEntries.Dec()
	}, cfg.HistoryTTL)
	return l
}

// Exemptions returns the limiter's exemption list for runtime changes.
func (l *Limiter) Exemptions() *ExemptList {
	return l.exempt
}

// Check reports whether userID may perform act right now. An allowed check
// takes one in-flight reservation; callers must follow a successful action
// with Record so the reservation becomes history.
func (l *Limiter) Check(userID string, act action.Type) Decision {
	b := l.budgetFor(act)

	if l.exempt.Contains(userID) {
		metrics.RateLimitChecksTotal.WithLabelValues(act.String(), "exempt").Inc()
		return Decision{Allowed: true, Reason: "user exempt from rate limits", Remaining: b.MaxCalls}
	}

	e := l.getEntry(userID, act)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.clock()

	if e.cooldownUntil.After(now) {
		retry := e.cooldownUntil.Sub(now)
		metrics.RateLimitChecksTotal.WithLabelValues(act.String(), "cooldown").Inc()
		return Decision{
			Allowed:    false,
			Reason:     fmt.Sprintf("cooldown active for %s: retry in %s", act, retry.Round(time.Second)),
			RetryAfter: retry,
		}
	}

	e.prune(now.Add(-b.Window))

	inUse := len(e.recorded) + len(e.reserved)
	if inUse >= b.MaxCalls {
		until := now.Add(b.Cooldown)
		if until.After(e.cooldownUntil) {
			e.cooldownUntil = until
		}
		metrics.RateLimitChecksTotal.WithLabelValues(act.String(), "limited").Inc()
		metrics.RateLimitViolationsTotal.WithLabelValues(act.String()).Inc()
		l.log.Warn("Rate limit exceeded",
			logger.String("user_id", userID),
			logger.String("action", act.String()),
			logger.Int("max_calls", b.MaxCalls),
			logger.Duration("window", b.Window),
			logger.Duration("cooldown", b.Cooldown))
		return Decision{
			Allowed:    false,
			Reason:     fmt.Sprintf("rate limit exceeded for %s: %d calls per %s, cooldown %s", act, b.MaxCalls, b.Window, b.Cooldown),
			RetryAfter: b.Cooldown,
		}
	}

	e.reserved = append(e.reserved, now)
	metrics.RateLimitChecksTotal.WithLabelValues(act.String(), "allowed").Inc()
	return Decision{
		Allowed:   true,
		Reason:    "within budget",
		Remaining: b.MaxCalls - inUse - 1,
	}
}

// Record counts one completed call, consuming the reservation taken by the
// matching Check. Call it only after the action actually executed.
func (l *Limiter) Record(userID string, act action.Type) {
	if l.exempt.Contains(userID) {
		return
	}

	b := l.budgetFor(act)
	e := l.getEntry(userID, act)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := l.clock()
	e.prune(now.Add(-b.Window))

	if len(e.reserved) > 0 {
		e.reserved = e.reserved[1:]
	}
	e.recorded = append(e.recorded, now)
}

// Usage returns current consumption for (userID, act). It never takes a
// reservation and never touches cooldown state.
func (l *Limiter) Usage(userID string, act action.Type) Usage {
	b := l.budgetFor(act)
	u := Usage{Limit: b.MaxCalls, Window: b.Window}

	if l.exempt.Contains(userID) {
		return u
	}

	e, ok := l.entries.Get(entryKey(userID, act))
	if !ok {
		return u
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := l.clock().Add(-b.Window)
	for _, t := range e.recorded {
		if !t.Before(cutoff) {
			u.Used++
		}
	}
	return u
}

func (l *Limiter) budgetFor(act action.Type) Budget {
	if b, ok := l.budgets[act]; ok {
		return b
	}
	return l.fallback
}

// getEntry returns the history for (userID, act), creating it on first use.
// The table expires entries a fixed TTL after their last Add and Get alone
// does not renew, so every hit re-adds the live entry. Add on a present key
// renews in place without firing the eviction callback. The double-checked
// lookup keeps the common path lock-free on l.mu.
func (l *Limiter) getEntry(userID string, act action.Type) *entry {
	key := entryKey(userID, act)
	if e, ok := l.entries.Get(key); ok {
		l.entries.Add(key, e)
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries.Get(key); ok {
		l.entries.Add(key, e)
		return e
	}

	e := &entry{}
	l.entries.Add(key, e)
	metrics.RateLimitTrackedEntries.Inc()
	return e
}

func entryKey(userID string, act action.Type) string {
	return userID + "|" + act.String()
}
