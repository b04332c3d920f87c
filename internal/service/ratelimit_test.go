package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/applerag/apple-rag-backend/internal/model"
)

// mockCounter implements EventCounter for testing. Counts are keyed by
// the window length so week and minute queries can differ.
type mockCounter struct {
	counts map[string]int // "week" / "minute"
	err    error
	now    time.Time
}

func (m *mockCounter) CountEvents(ctx context.Context, identifier string, since time.Time) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	if m.now.Sub(since) <= 2*time.Minute {
		return m.counts["minute"], nil
	}
	return m.counts["week"], nil
}

func newTestLimiter(counter *mockCounter, now time.Time) *RateLimiter {
	l := NewRateLimiter(counter, time.Sunday, time.UTC)
	l.nowFunc = func() time.Time { return now }
	counter.now = now
	return l
}

// A Wednesday, mid-week, mid-minute.
var testNow = time.Date(2025, time.June, 18, 15, 30, 42, 0, time.UTC)

func TestCheck_AllowedUnderBothLimits(t *testing.T) {
	limiter := newTestLimiter(&mockCounter{counts: map[string]int{"week": 3, "minute": 0}}, testNow)

	decision := limiter.Check(context.Background(), model.Identity{
		Kind: model.IdentityToken, UserID: "u1", Plan: model.PlanHobby,
	})

	if !decision.Allowed {
		t.Fatalf("decision = %+v, want allowed", decision)
	}
	if decision.WeeklyLimit != 10 || decision.MinuteLimit != 1 {
		t.Errorf("limits = (%d, %d), want (10, 1)", decision.WeeklyLimit, decision.MinuteLimit)
	}
}

func TestCheck_WeeklyLimitExceeded(t *testing.T) {
	limiter := newTestLimiter(&mockCounter{counts: map[string]int{"week": 10, "minute": 0}}, testNow)

	decision := limiter.Check(context.Background(), model.Identity{
		Kind: model.IdentityToken, UserID: "u1", Plan: model.PlanHobby,
	})

	if decision.Allowed {
		t.Fatal("expected denial")
	}
	if decision.LimitType != "weekly" {
		t.Errorf("LimitType = %q, want weekly", decision.LimitType)
	}
	// Next Sunday 00:00 UTC after Wednesday June 18 2025 is June 22.
	wantReset := time.Date(2025, time.June, 22, 0, 0, 0, 0, time.UTC)
	if !decision.ResetAt.Equal(wantReset) {
		t.Errorf("ResetAt = %v, want %v", decision.ResetAt, wantReset)
	}
}

func TestCheck_MinuteLimitExceeded(t *testing.T) {
	limiter := newTestLimiter(&mockCounter{counts: map[string]int{"week": 50, "minute": 20}}, testNow)

	decision := limiter.Check(context.Background(), model.Identity{
		Kind: model.IdentityToken, UserID: "u2", Plan: model.PlanPro,
	})

	if decision.Allowed {
		t.Fatal("expected denial")
	}
	if decision.LimitType != "minute" {
		t.Errorf("LimitType = %q, want minute", decision.LimitType)
	}
	wantReset := time.Date(2025, time.June, 18, 15, 31, 0, 0, time.UTC)
	if !decision.MinuteResetAt.Equal(wantReset) {
		t.Errorf("MinuteResetAt = %v, want %v", decision.MinuteResetAt, wantReset)
	}
}

func TestCheck_MinuteTakesPrecedenceOverWeekly(t *testing.T) {
	// Both windows exhausted: the denial names the minute window.
	limiter := newTestLimiter(&mockCounter{counts: map[string]int{"week": 10, "minute": 1}}, testNow)

	decision := limiter.Check(context.Background(), model.Identity{
		Kind: model.IdentityToken, UserID: "u1", Plan: model.PlanHobby,
	})

	if decision.Allowed {
		t.Fatal("expected denial")
	}
	if decision.LimitType != "minute" {
		t.Errorf("LimitType = %q, want minute", decision.LimitType)
	}
}

func TestCheck_EnterpriseUnlimited(t *testing.T) {
	limiter := newTestLimiter(&mockCounter{counts: map[string]int{"week": 1_000_000, "minute": 500}}, testNow)

	decision := limiter.Check(context.Background(), model.Identity{
		Kind: model.IdentityToken, UserID: "u3", Plan: model.PlanEnterprise,
	})

	if !decision.Allowed {
		t.Fatalf("decision = %+v, want allowed", decision)
	}
}

func TestCheck_UnknownPlanUsesHobbyQuotas(t *testing.T) {
	limiter := newTestLimiter(&mockCounter{counts: map[string]int{"week": 10, "minute": 0}}, testNow)

	decision := limiter.Check(context.Background(), model.Identity{
		Kind: model.IdentityToken, UserID: "u4", Plan: "platinum",
	})

	if decision.Allowed {
		t.Fatal("expected denial under hobby quotas")
	}
	if decision.WeeklyLimit != 10 {
		t.Errorf("WeeklyLimit = %d, want 10", decision.WeeklyLimit)
	}
}

func TestCheck_BackendErrorFailsOpen(t *testing.T) {
	limiter := newTestLimiter(&mockCounter{err: fmt.Errorf("store down")}, testNow)

	decision := limiter.Check(context.Background(), model.Identity{
		Kind: model.IdentityToken, UserID: "u1", Plan: model.PlanHobby,
	})

	if !decision.Allowed {
		t.Fatal("expected fail-open allow")
	}
	if decision.Plan != model.PlanUnknown {
		t.Errorf("Plan = %q, want unknown", decision.Plan)
	}
	if decision.WeeklyLimit != -1 || decision.MinuteLimit != -1 {
		t.Errorf("limits = (%d, %d), want (-1, -1)", decision.WeeklyLimit, decision.MinuteLimit)
	}
}

func TestStartOfWeek_SundayBoundary(t *testing.T) {
	limiter := NewRateLimiter(&mockCounter{}, time.Sunday, time.UTC)

	cases := []struct {
		now  time.Time
		want time.Time
	}{
		// Wednesday → previous Sunday
		{time.Date(2025, time.June, 18, 15, 0, 0, 0, time.UTC), time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)},
		// Sunday morning → that same Sunday midnight
		{time.Date(2025, time.June, 15, 8, 0, 0, 0, time.UTC), time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)},
		// Saturday night → previous Sunday
		{time.Date(2025, time.June, 21, 23, 59, 0, 0, time.UTC), time.Date(2025, time.June, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, c := range cases {
		if got := limiter.startOfWeek(c.now); !got.Equal(c.want) {
			t.Errorf("startOfWeek(%v) = %v, want %v", c.now, got, c.want)
		}
	}
}

func TestStartOfWeek_MondayConfigured(t *testing.T) {
	limiter := NewRateLimiter(&mockCounter{}, time.Monday, time.UTC)

	// Wednesday June 18 2025 → Monday June 16.
	now := time.Date(2025, time.June, 18, 15, 0, 0, 0, time.UTC)
	want := time.Date(2025, time.June, 16, 0, 0, 0, 0, time.UTC)
	if got := limiter.startOfWeek(now); !got.Equal(want) {
		t.Errorf("startOfWeek = %v, want %v", got, want)
	}
}
