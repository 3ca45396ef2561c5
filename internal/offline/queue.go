package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"bizconnect/internal/domain"
	"bizconnect/internal/kv"
	"bizconnect/internal/observability"
	"bizconnect/internal/store"
)

const bufferKey = "offline:writes"

// Write is one buffered remote mutation. Exactly one of the payload fields
// is set, matching Kind.
type Write struct {
	Kind       string              `json:"kind"` // task_insert | status_update | attempt
	Task       *domain.Task        `json:"task,omitempty"`
	Status     *store.StatusUpdate `json:"status,omitempty"`
	Attempt    *store.Attempt      `json:"attempt,omitempty"`
	BufferedAt time.Time           `json:"bufferedAt"`
}

const (
	KindTaskInsert   = "task_insert"
	KindStatusUpdate = "status_update"
	KindAttempt      = "attempt"
)

// Remote is the slice of the remote store replays are applied against.
// Writes are assumed idempotent on the remote side.
type Remote interface {
	InsertTask(ctx context.Context, t domain.Task) error
	UpdateTaskStatus(ctx context.Context, in store.StatusUpdate) error
	InsertAttempt(ctx context.Context, in store.Attempt) error
}

// Queue buffers unconfirmed remote writes in the local store and replays
// them in FIFO order on reconnect.
type Queue struct {
	KV     kv.Store
	Remote Remote
}

func (q *Queue) Buffer(ctx context.Context, w Write) error {
	if w.BufferedAt.IsZero() {
		w.BufferedAt = time.Now().UTC()
	}
	b, err := json.Marshal(w)
	if err != nil {
		return err
	}
	return q.KV.ListPush(ctx, bufferKey, b)
}

func (q *Queue) apply(ctx context.Context, w Write) error {
	switch w.Kind {
	case KindTaskInsert:
		if w.Task == nil {
			return fmt.Errorf("buffered %s without payload", w.Kind)
		}
		return q.Remote.InsertTask(ctx, *w.Task)
	case KindStatusUpdate:
		if w.Status == nil {
			return fmt.Errorf("buffered %s without payload", w.Kind)
		}
		return q.Remote.UpdateTaskStatus(ctx, *w.Status)
	case KindAttempt:
		if w.Attempt == nil {
			return fmt.Errorf("buffered %s without payload", w.Kind)
		}
		return q.Remote.InsertAttempt(ctx, *w.Attempt)
	default:
		return fmt.Errorf("unknown buffered write kind %q", w.Kind)
	}
}

// Replay walks the buffer in order: a successful write is removed, a failed
// one stays for the next attempt. Returns how many were applied and how many
// remain.
func (q *Queue) Replay(ctx context.Context) (applied, remaining int, err error) {
	raw, err := q.KV.ListRange(ctx, bufferKey)
	if err != nil {
		return 0, 0, err
	}
	if len(raw) == 0 {
		return 0, 0, nil
	}

	var keep [][]byte
	for _, b := range raw {
		var w Write
		if err := json.Unmarshal(b, &w); err != nil {
			// Corrupt entry: dropping it is the only way forward.
			slog.Error("dropping corrupt buffered write", "err", err)
			continue
		}
		if err := q.apply(ctx, w); err != nil {
			observability.OfflineReplays.WithLabelValues("error").Inc()
			slog.Warn("buffered write replay failed", "kind", w.Kind, "err", err)
			keep = append(keep, b)
			continue
		}
		observability.OfflineReplays.WithLabelValues("ok").Inc()
		applied++
	}

	// Rewrite the buffer with only the survivors, preserving order.
	if err := q.KV.Delete(ctx, bufferKey); err != nil {
		return applied, len(keep), err
	}
	for _, b := range keep {
		if err := q.KV.ListPush(ctx, bufferKey, b); err != nil {
			return applied, len(keep), err
		}
	}
	if applied > 0 || len(keep) > 0 {
		slog.Info("offline buffer replayed", "applied", applied, "remaining", len(keep))
	}
	return applied, len(keep), nil
}

// Depth reports the number of buffered writes.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	raw, err := q.KV.ListRange(ctx, bufferKey)
	if err != nil {
		return 0, err
	}
	return len(raw), nil
}
