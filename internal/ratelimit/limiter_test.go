package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/clavrr/guardrail/internal/action"
	"github.com/clavrr/guardrail/internal/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(budgets map[action.Type]Budget, exempt ...string) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	cfg := Config{HistorySize: 128, HistoryTTL: time.Hour, ExemptUsers: exempt}
	return New(cfg, budgets, logger.Nop(), clock.Now), clock
}

func TestCheckAllowsWithinBudget(t *testing.T) {
	budgets := map[action.Type]Budget{
		action.EmailSend: {MaxCalls: 3, Window: time.Minute, Cooldown: 2 * time.Minute},
	}
	l, _ := newTestLimiter(budgets)

	for i := 0; i < 3; i++ {
		d := l.Check("alice", action.EmailSend)
		if !d.Allowed {
			t.Fatalf("Check %d should be allowed, got rejected: %s", i+1, d.Reason)
		}
		want := 3 - i - 1
		if d.Remaining != want {
			t.Errorf("Check %d: expected %d remaining, got %d", i+1, want, d.Remaining)
		}
		l.Record("alice", action.EmailSend)
	}
}

func TestBudgetExhaustionCooldownAndRecovery(t *testing.T) {
	l, clock := newTestLimiter(nil)

	// email_send default budget is 5 calls per 5 minutes, 10 minute cooldown.
	for i := 0; i < 5; i++ {
		d := l.Check("alice", action.EmailSend)
		if !d.Allowed {
			t.Fatalf("Call %d should be allowed: %s", i+1, d.Reason)
		}
		l.Record("alice", action.EmailSend)
	}

	d := l.Check("alice", action.EmailSend)
	if d.Allowed {
		t.Fatal("6th call within the window should be rejected")
	}
	if d.RetryAfter != 10*time.Minute {
		t.Errorf("Expected retry after 10m, got %s", d.RetryAfter)
	}

	// Still inside the cooldown.
	clock.Advance(9 * time.Minute)
	d = l.Check("alice", action.EmailSend)
	if d.Allowed {
		t.Fatal("Call during cooldown should be rejected")
	}
	if d.RetryAfter != time.Minute {
		t.Errorf("Expected 1m left on cooldown, got %s", d.RetryAfter)
	}

	// Past the cooldown the window has also rolled over.
	clock.Advance(time.Minute + time.Second)
	d = l.Check("alice", action.EmailSend)
	if !d.Allowed {
		t.Fatalf("Call after cooldown should be allowed: %s", d.Reason)
	}
}

func TestSlidingWindowFreesBudget(t *testing.T) {
	budgets := map[action.Type]Budget{
		action.NoteCreate: {MaxCalls: 2, Window: time.Minute, Cooldown: 2 * time.Minute},
	}
	l, clock := newTestLimiter(budgets)

	for i := 0; i < 2; i++ {
		if d := l.Check("alice", action.NoteCreate); !d.Allowed {
			t.Fatalf("Call %d should be allowed: %s", i+1, d.Reason)
		}
		l.Record("alice", action.NoteCreate)
	}

	clock.Advance(61 * time.Second)

	d := l.Check("alice", action.NoteCreate)
	if !d.Allowed {
		t.Fatalf("Call after window rollover should be allowed: %s", d.Reason)
	}
	if d.Remaining != 1 {
		t.Errorf("Expected 1 remaining after rollover, got %d", d.Remaining)
	}
}

func TestCooldownDoesNotResetOnRejectedChecks(t *testing.T) {
	budgets := map[action.Type]Budget{
		action.EmailSend: {MaxCalls: 1, Window: time.Minute, Cooldown: 10 * time.Minute},
	}
	l, clock := newTestLimiter(budgets)

	if d := l.Check("alice", action.EmailSend); !d.Allowed {
		t.Fatalf("First call should be allowed: %s", d.Reason)
	}
	l.Record("alice", action.EmailSend)

	if d := l.Check("alice", action.EmailSend); d.Allowed {
		t.Fatal("Second call should trigger the cooldown")
	}

	// Hammering Check during the cooldown must not extend it.
	for i := 0; i < 5; i++ {
		clock.Advance(time.Minute)
		d := l.Check("alice", action.EmailSend)
		if d.Allowed {
			t.Fatalf("Check %d during cooldown should be rejected", i+1)
		}
		want := 10*time.Minute - time.Duration(i+1)*time.Minute
		if d.RetryAfter != want {
			t.Errorf("Check %d: expected retry after %s, got %s", i+1, want, d.RetryAfter)
		}
	}

	clock.Advance(5*time.Minute + time.Second)
	if d := l.Check("alice", action.EmailSend); !d.Allowed {
		t.Fatalf("Call after cooldown expiry should be allowed: %s", d.Reason)
	}
}

func TestActiveCooldownOutlivesHistoryTTL(t *testing.T) {
	budgets := map[action.Type]Budget{
		action.EmailSend: {MaxCalls: 1, Window: time.Minute, Cooldown: 10 * time.Minute},
	}
	l, _ := newTestLimiter(budgets)

	// The entry table measures idle time with the real clock, so this test
	// runs in real time: shrink the TTL below the test duration and rely on
	// per-check renewal to keep the entry alive.
	l.entries = expirable.NewLRU[string, *entry](8, nil, 250*time.Millisecond)

	if d := l.Check("alice", action.EmailSend); !d.Allowed {
		t.Fatalf("First check should be allowed: %s", d.Reason)
	}
	l.Record("alice", action.EmailSend)

	if d := l.Check("alice", action.EmailSend); d.Allowed {
		t.Fatal("Second check should trigger the cooldown")
	}

	// Stay active well past the table TTL. Each check renews the entry; if
	// expiry were still anchored at creation, the entry would die mid-loop
	// and a fresh one would let the user through with the cooldown erased.
	deadline := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(deadline) {
		if d := l.Check("alice", action.EmailSend); d.Allowed {
			t.Fatal("Cooldown erased while the user stayed active")
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestConcurrentChecksDoNotOverAdmit(t *testing.T) {
	budgets := map[action.Type]Budget{
		action.EmailSend: {MaxCalls: 5, Window: time.Minute, Cooldown: time.Minute},
	}
	l, _ := newTestLimiter(budgets)

	for i := 0; i < 4; i++ {
		if d := l.Check("alice", action.EmailSend); !d.Allowed {
			t.Fatalf("Setup call %d should be allowed", i+1)
		}
		l.Record("alice", action.EmailSend)
	}

	// One slot left. Of 20 concurrent checks exactly one may claim it.
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("alice", action.EmailSend).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 1 {
		t.Errorf("Expected exactly 1 concurrent check admitted, got %d", got)
	}
}

func TestUnrecordedReservationExpiresWithWindow(t *testing.T) {
	budgets := map[action.Type]Budget{
		action.WebSearch: {MaxCalls: 1, Window: time.Minute, Cooldown: 2 * time.Minute},
	}
	l, clock := newTestLimiter(budgets)

	// Admitted but never recorded, as when the tool call crashes.
	if d := l.Check("alice", action.WebSearch); !d.Allowed {
		t.Fatalf("First check should be allowed: %s", d.Reason)
	}

	clock.Advance(61 * time.Second)

	if d := l.Check("alice", action.WebSearch); !d.Allowed {
		t.Fatalf("Check after reservation expiry should be allowed: %s", d.Reason)
	}
}

func TestAbandonedReservationStillCountsInWindow(t *testing.T) {
	budgets := map[action.Type]Budget{
		action.WebSearch: {MaxCalls: 1, Window: time.Minute, Cooldown: 2 * time.Minute},
	}
	l, clock := newTestLimiter(budgets)

	if d := l.Check("alice", action.WebSearch); !d.Allowed {
		t.Fatalf("First check should be allowed: %s", d.Reason)
	}

	clock.Advance(30 * time.Second)

	if d := l.Check("alice", action.WebSearch); d.Allowed {
		t.Fatal("Check with an in-flight reservation holding the last slot should be rejected")
	}
}

func TestRecordConsumesReservation(t *testing.T) {
	budgets := map[action.Type]Budget{
		action.TaskCreate: {MaxCalls: 2, Window: time.Minute, Cooldown: time.Minute},
	}
	l, _ := newTestLimiter(budgets)

	if d := l.Check("alice", action.TaskCreate); !d.Allowed {
		t.Fatal("First check should be allowed")
	}
	l.Record("alice", action.TaskCreate)

	u := l.Usage("alice", action.TaskCreate)
	if u.Used != 1 {
		t.Errorf("Expected 1 used after check+record, got %d", u.Used)
	}

	// The recorded call replaced its reservation rather than stacking on it,
	// so one slot remains.
	if d := l.Check("alice", action.TaskCreate); !d.Allowed {
		t.Fatalf("Second check should be allowed: %s", d.Reason)
	}
}

func TestExemptUserBypassesLimits(t *testing.T) {
	budgets := map[action.Type]Budget{
		action.EmailSend: {MaxCalls: 1, Window: time.Minute, Cooldown: 10 * time.Minute},
	}
	l, _ := newTestLimiter(budgets, "svc-backup")

	for i := 0; i < 50; i++ {
		d := l.Check("svc-backup", action.EmailSend)
		if !d.Allowed {
			t.Fatalf("Exempt check %d should be allowed: %s", i+1, d.Reason)
		}
		l.Record("svc-backup", action.EmailSend)
	}

	if u := l.Usage("svc-backup", action.EmailSend); u.Used != 0 {
		t.Errorf("Exempt user should report zero usage, got %d", u.Used)
	}

	// Other users still hit the budget.
	l.Check("alice", action.EmailSend)
	l.Record("alice", action.EmailSend)
	if d := l.Check("alice", action.EmailSend); d.Allowed {
		t.Error("Non-exempt user should still be limited")
	}
}

func TestUsageIsReadOnly(t *testing.T) {
	budgets := map[action.Type]Budget{
		action.EmailSend: {MaxCalls: 5, Window: time.Minute, Cooldown: time.Minute},
	}
	l, _ := newTestLimiter(budgets)

	for i := 0; i < 2; i++ {
		l.Check("alice", action.EmailSend)
		l.Record("alice", action.EmailSend)
	}

	for i := 0; i < 10; i++ {
		u := l.Usage("alice", action.EmailSend)
		if u.Used != 2 || u.Limit != 5 || u.Window != time.Minute {
			t.Fatalf("Usage call %d: expected {2 5 1m0s}, got %+v", i+1, u)
		}
	}

	// Usage took no reservations, so three slots are still free.
	for i := 0; i < 3; i++ {
		if d := l.Check("alice", action.EmailSend); !d.Allowed {
			t.Fatalf("Check %d after Usage calls should be allowed: %s", i+1, d.Reason)
		}
		l.Record("alice", action.EmailSend)
	}
}

func TestUnknownActionUsesDefaultBudget(t *testing.T) {
	l, _ := newTestLimiter(nil)

	u := l.Usage("alice", action.Unknown)
	if u.Limit != DefaultBudget.MaxCalls {
		t.Errorf("Expected default limit %d for unknown action, got %d", DefaultBudget.MaxCalls, u.Limit)
	}
	if u.Window != DefaultBudget.Window {
		t.Errorf("Expected default window %s, got %s", DefaultBudget.Window, u.Window)
	}

	if d := l.Check("alice", action.Unknown); !d.Allowed {
		t.Errorf("Unknown action within default budget should be allowed: %s", d.Reason)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	budgets := map[action.Type]Budget{
		action.EmailSend: {MaxCalls: 1, Window: time.Minute, Cooldown: 10 * time.Minute},
	}
	l, _ := newTestLimiter(budgets)

	l.Check("alice", action.EmailSend)
	l.Record("alice", action.EmailSend)
	if d := l.Check("alice", action.EmailSend); d.Allowed {
		t.Fatal("alice should be limited")
	}

	if d := l.Check("bob", action.EmailSend); !d.Allowed {
		t.Errorf("bob should not inherit alice's limit: %s", d.Reason)
	}
}

func TestActionsAreIsolated(t *testing.T) {
	budgets := map[action.Type]Budget{
		action.EmailSend: {MaxCalls: 1, Window: time.Minute, Cooldown: 10 * time.Minute},
		action.EmailRead: {MaxCalls: 5, Window: time.Minute, Cooldown: time.Minute},
	}
	l, _ := newTestLimiter(budgets)

	l.Check("alice", action.EmailSend)
	l.Record("alice", action.EmailSend)
	if d := l.Check("alice", action.EmailSend); d.Allowed {
		t.Fatal("email_send should be exhausted")
	}

	if d := l.Check("alice", action.EmailRead); !d.Allowed {
		t.Errorf("email_read budget should be independent: %s", d.Reason)
	}
}

func TestEntryTableIsBounded(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	l := New(Config{HistorySize: 8, HistoryTTL: time.Hour}, nil, logger.Nop(), clock.Now)

	for i := 0; i < 100; i++ {
		user := fmt.Sprintf("user-%03d", i)
		l.Check(user, action.WebSearch)
		l.Record(user, action.WebSearch)
	}

	if n := l.entries.Len(); n > 8 {
		t.Errorf("Expected at most 8 tracked entries, got %d", n)
	}
}

func TestDefaultBudgets(t *testing.T) {
	budgets := DefaultBudgets()

	tests := []struct {
		act  action.Type
		want Budget
	}{
		{action.EmailSend, Budget{MaxCalls: 5, Window: 5 * time.Minute, Cooldown: 10 * time.Minute}},
		{action.CalendarCreate, Budget{MaxCalls: 10, Window: 5 * time.Minute, Cooldown: 10 * time.Minute}},
		{action.NoteCreate, Budget{MaxCalls: 20, Window: time.Minute, Cooldown: 2 * time.Minute}},
		{action.EmailRead, Budget{MaxCalls: 30, Window: time.Minute, Cooldown: time.Minute}},
		{action.WebSearch, Budget{MaxCalls: 30, Window: time.Minute, Cooldown: time.Minute}},
	}

	for _, tt := range tests {
		t.Run(tt.act.String(), func(t *testing.T) {
			got, ok := budgets[tt.act]
			if !ok {
				t.Fatalf("No budget registered for %s", tt.act)
			}
			if got != tt.want {
				t.Errorf("Expected budget %+v, got %+v", tt.want, got)
			}
		})
	}

	if _, ok := budgets[action.Unknown]; ok {
		t.Error("Unknown action should fall back to the default, not have its own budget")
	}
}

func TestExemptList(t *testing.T) {
	l := NewExemptList("svc-a", "", "svc-b")

	if !l.Contains("svc-a") || !l.Contains("svc-b") {
		t.Error("Seeded users should be exempt")
	}
	if l.Contains("") {
		t.Error("Empty user ID should never be exempt")
	}
	if l.Contains("alice") {
		t.Error("Unknown user should not be exempt")
	}

	l.Add("alice")
	if !l.Contains("alice") {
		t.Error("Added user should be exempt")
	}

	l.Remove("alice")
	if l.Contains("alice") {
		t.Error("Removed user should no longer be exempt")
	}

	if got := len(l.List()); got != 2 {
		t.Errorf("Expected 2 exempt users, got %d", got)
	}
}

func BenchmarkLimiter_Check(b *testing.B) {
	l := New(Config{HistorySize: 1024, HistoryTTL: time.Hour}, nil, logger.Nop(), nil)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		l.Check("alice", action.WebSearch)
	}
}

func BenchmarkLimiter_CheckParallel(b *testing.B) {
	l := New(Config{HistorySize: 1024, HistoryTTL: time.Hour}, nil, logger.Nop(), nil)
	users := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9"}
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			l.Check(users[i%len(users)], action.WebSearch)
			i++
		}
	})
}
