// Package ratelimit tracks the per-day send budget.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"

	"bizconnect/internal/clock"
	"bizconnect/internal/domain"
	"bizconnect/internal/store"
)

type Limiter struct {
	Store       store.LimitStore
	Clock       clock.Clock
	DefaultMode domain.LimitMode

	// serializes the read-then-write fallback between local callers
	mu sync.Mutex
}

func New(s store.LimitStore, clk clock.Clock) *Limiter {
	return &Limiter{Store: s, Clock: clk, DefaultMode: domain.LimitSafe}
}

func (l *Limiter) today() string {
	return l.Clock.Now().Format("2006-01-02")
}

func (l *Limiter) load(ctx context.Context, userID, date string) (domain.DailyLimitRecord, error) {
	rec, found, err := l.Store.GetDailyLimit(ctx, userID, date)
	if err != nil {
		return domain.DailyLimitRecord{}, err
	}
	if !found {
		// A new date implicitly starts a fresh record.
		rec = domain.DailyLimitRecord{UserID: userID, Date: date, SentCount: 0, LimitMode: l.DefaultMode}
	}
	return rec, nil
}

func (l *Limiter) CheckDailyLimit(ctx context.Context, userID string) (domain.LimitStatus, error) {
	rec, err := l.load(ctx, userID, l.today())
	if err != nil {
		return domain.LimitStatus{}, err
	}
	cap := rec.LimitMode.Cap()
	remaining := cap - rec.SentCount
	if remaining < 0 {
		remaining = 0
	}
	return domain.LimitStatus{CanSend: remaining > 0, Remaining: remaining, Limit: cap}, nil
}

// IncrementSentCount prefers the store's atomic increment. Backends without
// it get a read-then-write fallback, safe only under the single client per
// user assumption.
func (l *Limiter) IncrementSentCount(ctx context.Context, userID string) error {
	date := l.today()

	if inc, ok := l.Store.(store.AtomicIncrementer); ok {
		n, err := inc.IncrementSentCount(ctx, userID, date)
		if err == nil {
			slog.Debug("sent count incremented", "user_id", userID, "count", n)
			return nil
		}
		slog.Warn("atomic increment unavailable, falling back", "err", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.load(ctx, userID, date)
	if err != nil {
		return err
	}
	rec.SentCount++
	return l.Store.PutDailyLimit(ctx, rec)
}
