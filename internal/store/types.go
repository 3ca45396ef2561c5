package store

import (
	"context"
	"time"

	"bizconnect/internal/domain"
)

// TaskStore is the slice of the remote data store the agent reads and
// mutates. Tasks are never deleted, only moved to terminal states.
type TaskStore interface {
	InsertTask(ctx context.Context, t domain.Task) error
	GetTask(ctx context.Context, id string) (domain.Task, bool, error)
	UpdateTaskStatus(ctx context.Context, in StatusUpdate) error

	// ListRecentPending returns pending tasks for the user created after
	// `since` whose scheduledAt is unset or ≤ now.
	ListRecentPending(ctx context.Context, userID string, since, now time.Time) ([]domain.Task, error)
}

type StatusUpdate struct {
	ID        string
	Status    domain.TaskStatus
	LastError string
	Now       time.Time
}

// ConfigStore serves the per-user callback configuration and customer set.
type ConfigStore interface {
	GetCallbackConfig(ctx context.Context, userID string) (domain.CallbackConfig, bool, error)
	FindCustomerByPhone(ctx context.Context, userID, normalizedPhone string) (domain.Customer, bool, error)

	// LookupPreviewURL resolves an uploaded image URL to its canonical
	// preview form; found=false means the caller keeps the original.
	LookupPreviewURL(ctx context.Context, imageURL string) (string, bool, error)
}

// LimitStore persists per-day send counters.
type LimitStore interface {
	GetDailyLimit(ctx context.Context, userID, date string) (domain.DailyLimitRecord, bool, error)
	PutDailyLimit(ctx context.Context, rec domain.DailyLimitRecord) error
}

// AtomicIncrementer is an optional capability of a LimitStore. When the
// backend can bump the counter server-side the rate limiter prefers it over
// the read-then-write fallback.
type AtomicIncrementer interface {
	IncrementSentCount(ctx context.Context, userID, date string) (newCount int, err error)
}

// AttemptStore records send attempts for auditing.
type AttemptStore interface {
	InsertAttempt(ctx context.Context, in Attempt) error
}

type Attempt struct {
	TaskID     string
	Result     string
	ErrorMsg   string
	RetryCount int
	At         time.Time
}
