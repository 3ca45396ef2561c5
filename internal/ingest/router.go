// Package ingest merges the three arrival channels for remotely-originated
// tasks and gates them behind the approval gateway.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bizconnect/internal/approval"
	"bizconnect/internal/clock"
	"bizconnect/internal/domain"
	"bizconnect/internal/observability"
	"bizconnect/internal/store"
)

// Channel names, used for logging and metrics only.
const (
	ChannelFeed = "feed"
	ChannelPoll = "poll"
	ChannelPush = "push"
)

// Admitter is the dispatch queue's admission surface.
type Admitter interface {
	Admit(ctx context.Context, task domain.Task, priority int) error
}

type Router struct {
	UserID  string
	Store   store.TaskStore
	Writer  StatusWriter
	Gateway *approval.Gateway
	Queue   Admitter
	Clock   clock.Clock

	// RecencyWindow bounds how old a pending task may be and still prompt
	// the user. Freshness over completeness after a long disconnection.
	RecencyWindow time.Duration

	Notified *NotifiedSet
}

// StatusWriter applies status mutations; callers route it through the
// offline-resilient writer.
type StatusWriter interface {
	UpdateTaskStatus(ctx context.Context, in store.StatusUpdate) error
}

func (r *Router) window() time.Duration {
	if r.RecencyWindow <= 0 {
		return 30 * time.Minute
	}
	return r.RecencyWindow
}

// candidate applies the ingestion filter: owned by this user, still pending,
// fresh, and not scheduled for the future.
func (r *Router) candidate(t domain.Task, now time.Time) bool {
	if t.UserID != r.UserID || t.Status != domain.StatusPending {
		return false
	}
	if now.Sub(t.CreatedAt) > r.window() {
		return false
	}
	if t.ScheduledAt != nil && t.ScheduledAt.After(now) {
		return false
	}
	return true
}

// HandleTaskID ingests a task known only by id (feed and push channels).
func (r *Router) HandleTaskID(ctx context.Context, taskID, channel string) error {
	task, found, err := r.Store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("task lookup: %w", err)
	}
	if !found {
		slog.Warn("ingest for unknown task", "task_id", taskID, "channel", channel)
		return nil
	}
	return r.ingest(ctx, task, channel)
}

// Poll is the recency-windowed fallback and startup catch-up.
func (r *Router) Poll(ctx context.Context) {
	now := r.Clock.Now()
	tasks, err := r.Store.ListRecentPending(ctx, r.UserID, now.Add(-r.window()), now)
	if err != nil {
		slog.Error("pending task poll failed", "err", err)
		return
	}
	for _, t := range tasks {
		if err := r.ingest(ctx, t, ChannelPoll); err != nil {
			slog.Error("poll ingest failed", "task_id", t.ID, "err", err)
		}
	}
}

// ingest is the single-task path shared by all channels: candidacy filter,
// synchronous dedup mark, then the asynchronous prompt.
func (r *Router) ingest(ctx context.Context, task domain.Task, channel string) error {
	if !r.candidate(task, r.Clock.Now()) {
		return nil
	}
	if !r.Notified.MarkIfAbsent(task.ID) {
		observability.DuplicatesDropped.WithLabelValues(channel).Inc()
		return nil
	}

	auto, err := r.Gateway.PromptTask(ctx, task)
	if err != nil {
		// Roll the mark back so a later channel delivery can retry.
		r.Notified.Unmark(task.ID)
		return err
	}
	observability.Ingested.WithLabelValues(channel).Inc()
	slog.Info("task presented for approval", "task_id", task.ID, "channel", channel, "auto", auto)

	if auto {
		return r.Resolve(ctx, task.ID, approval.Approved)
	}
	return nil
}

// HandleBatch ingests a batch of task ids (push channel). All members are
// pre-marked and the UI gets one aggregate prompt; each member still
// resolves individually.
func (r *Router) HandleBatch(ctx context.Context, taskIDs []string, channel string) error {
	now := r.Clock.Now()
	var members []string
	for _, id := range taskIDs {
		task, found, err := r.Store.GetTask(ctx, id)
		if err != nil {
			slog.Error("batch member lookup failed", "task_id", id, "err", err)
			continue
		}
		if !found || !r.candidate(task, now) {
			continue
		}
		if !r.Notified.MarkIfAbsent(id) {
			observability.DuplicatesDropped.WithLabelValues(channel).Inc()
			continue
		}
		members = append(members, id)
	}
	if len(members) == 0 {
		return nil
	}

	auto, err := r.Gateway.PromptBatch(ctx, members)
	if err != nil {
		for _, id := range members {
			r.Notified.Unmark(id)
		}
		return err
	}
	observability.Ingested.WithLabelValues(channel).Add(float64(len(members)))
	slog.Info("batch presented for approval", "count", len(members), "channel", channel, "auto", auto)

	if auto {
		for _, id := range members {
			if err := r.Resolve(ctx, id, approval.Approved); err != nil {
				slog.Error("auto-approve resolution failed", "task_id", id, "err", err)
			}
		}
	}
	return nil
}

// Resolve applies an approval decision. Approved admits into the dispatch
// queue (subject to the rate limit inside admission); Cancelled terminates
// the task; TimedOut leaves the mark so the prompt is not repeated until
// restart.
func (r *Router) Resolve(ctx context.Context, taskID string, d approval.Decision) error {
	observability.Approvals.WithLabelValues(string(d)).Inc()

	switch d {
	case Approved:
		task, found, err := r.Store.GetTask(ctx, taskID)
		if err != nil {
			return fmt.Errorf("task lookup: %w", err)
		}
		if !found {
			r.Notified.Unmark(taskID)
			return domain.ErrNotFound
		}
		r.Notified.Unmark(taskID)
		if err := r.Queue.Admit(ctx, task, task.Priority); err != nil {
			return fmt.Errorf("admit approved task: %w", err)
		}
		slog.Info("task approved and queued", "task_id", taskID)
		return nil

	case Cancelled:
		r.Notified.Unmark(taskID)
		err := r.Writer.UpdateTaskStatus(ctx, store.StatusUpdate{
			ID: taskID, Status: domain.StatusCancelled, Now: r.Clock.Now(),
		})
		if err != nil {
			return fmt.Errorf("cancel task: %w", err)
		}
		slog.Info("task cancelled by user", "task_id", taskID)
		return nil

	case TimedOut:
		slog.Info("approval prompt timed out", "task_id", taskID)
		return nil

	default:
		return fmt.Errorf("unknown approval decision %q", d)
	}
}

// Aliases so callers don't need both packages for the common case.
const (
	Approved  = approval.Approved
	Cancelled = approval.Cancelled
	TimedOut  = approval.TimedOut
)
