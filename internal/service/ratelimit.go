package service

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/applerag/apple-rag-backend/internal/model"
)

// minuteWindow is the short rate-limit window.
const minuteWindow = 60 * time.Second

// EventCounter counts usage events for an identifier since a point in
// time, summed across the search and fetch logs. Implemented by
// repository.UsageRepo.
type EventCounter interface {
	CountEvents(ctx context.Context, identifier string, since time.Time) (int, error)
}

// RateLimiter enforces the two-window quota (per-minute and per-week)
// for every tool invocation. It reads counts from the usage logs on
// every check and never increments anything itself: the post-hoc usage
// log write is the source of truth for the next request.
type RateLimiter struct {
	counter   EventCounter
	weekStart time.Weekday
	loc       *time.Location
	nowFunc   func() time.Time
}

// NewRateLimiter creates a RateLimiter. Week boundaries are computed in
// loc with weeks starting on weekStart.
func NewRateLimiter(counter EventCounter, weekStart time.Weekday, loc *time.Location) *RateLimiter {
	return &RateLimiter{
		counter:   counter,
		weekStart: weekStart,
		loc:       loc,
		nowFunc:   time.Now,
	}
}

// Check decides whether the identity may proceed. On any backend error
// it fails open: the request is allowed and the decision reports an
// unknown plan with unlimited quotas.
func (l *RateLimiter) Check(ctx context.Context, identity model.Identity) model.RateDecision {
	limits := model.LimitsFor(identity.Plan)
	now := l.nowFunc()

	weekStart := l.startOfWeek(now)
	minuteStart := now.Add(-minuteWindow)

	var weekUsed, minuteUsed int
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		weekUsed, err = l.counter.CountEvents(gCtx, identity.UserID, weekStart)
		return err
	})
	g.Go(func() error {
		var err error
		minuteUsed, err = l.counter.CountEvents(gCtx, identity.UserID, minuteStart)
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("rate limit check failed open", "user_id", identity.UserID, "error", err)
		return model.RateDecision{
			Allowed:     true,
			Plan:        model.PlanUnknown,
			WeeklyLimit: -1,
			MinuteLimit: -1,
			WeekUsed:    -1,
			MinuteUsed:  -1,
		}
	}

	weekOK := limits.WeeklyQuota == -1 || weekUsed < limits.WeeklyQuota
	minuteOK := limits.MinuteQuota == -1 || minuteUsed < limits.MinuteQuota

	decision := model.RateDecision{
		Allowed:       weekOK && minuteOK,
		Plan:          identity.Plan,
		WeeklyLimit:   limits.WeeklyQuota,
		MinuteLimit:   limits.MinuteQuota,
		WeekUsed:      weekUsed,
		MinuteUsed:    minuteUsed,
		WeekResetAt:   l.nextWeekStart(now),
		MinuteResetAt: now.Truncate(time.Minute).Add(time.Minute),
	}

	if !decision.Allowed {
		// Minute takes precedence when both windows are exhausted.
		if !minuteOK {
			decision.LimitType = "minute"
			decision.ResetAt = decision.MinuteResetAt
		} else {
			decision.LimitType = "weekly"
			decision.ResetAt = decision.WeekResetAt
		}
		slog.Info("rate limit exceeded",
			"user_id", identity.UserID,
			"plan", identity.Plan,
			"limit_type", decision.LimitType,
			"week_used", weekUsed,
			"minute_used", minuteUsed,
		)
	}

	return decision
}

// startOfWeek returns the most recent week boundary (weekStart weekday,
// midnight) at or before now, in the limiter's location.
func (l *RateLimiter) startOfWeek(now time.Time) time.Time {
	local := now.In(l.loc)
	daysBack := (int(local.Weekday()) - int(l.weekStart) + 7) % 7
	day := local.AddDate(0, 0, -daysBack)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, l.loc)
}

// nextWeekStart returns the week boundary strictly after now.
func (l *RateLimiter) nextWeekStart(now time.Time) time.Time {
	return l.startOfWeek(now).AddDate(0, 0, 7)
}
