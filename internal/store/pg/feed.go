package pg

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// FeedEvent is the NOTIFY payload emitted by the tasks table trigger for
// INSERTs and for UPDATEs that land a row back in pending.
type FeedEvent struct {
	Op     string `json:"op"`
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type FeedHandler func(ctx context.Context, ev FeedEvent)

// Feed is the live change-feed subscription on the remote store. It holds a
// dedicated connection in LISTEN mode and redials with backoff when the
// connection drops; the poller covers any gap.
type Feed struct {
	DB      *pgxpool.Pool
	Channel string // defaults to "task_events"
	UserID  string
}

func (f *Feed) channel() string {
	if f.Channel == "" {
		return "task_events"
	}
	return f.Channel
}

// Run blocks until ctx is cancelled, delivering matching events to handler.
func (f *Feed) Run(ctx context.Context, handler FeedHandler) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.listenOnce(ctx, handler); err != nil && ctx.Err() == nil {
			slog.Error("change feed disconnected", "err", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (f *Feed) listenOnce(ctx context.Context, handler FeedHandler) error {
	conn, err := f.DB.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+f.channel()); err != nil {
		return err
	}
	slog.Info("change feed listening", "channel", f.channel(), "user_id", f.UserID)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var ev FeedEvent
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			slog.Warn("change feed bad payload", "err", err)
			continue
		}
		if ev.UserID != f.UserID {
			continue
		}
		handler(ctx, ev)
	}
}
