package offline

import (
	"context"
	"log/slog"

	"bizconnect/internal/domain"
	"bizconnect/internal/store"
)

// Writer fronts the remote store: writes go straight through when the
// device is online and confirm; anything unconfirmed lands in the buffer.
// A performed send is never rolled back because its status write failed.
type Writer struct {
	Remote  Remote
	Buffer  *Queue
	Monitor *Monitor
}

func (w *Writer) online() bool {
	return w.Monitor == nil || w.Monitor.Online()
}

func (w *Writer) InsertTask(ctx context.Context, t domain.Task) error {
	if w.online() {
		err := w.Remote.InsertTask(ctx, t)
		if err == nil {
			return nil
		}
		slog.Warn("task insert unconfirmed, buffering", "task_id", t.ID, "err", err)
	}
	return w.Buffer.Buffer(ctx, Write{Kind: KindTaskInsert, Task: &t})
}

func (w *Writer) UpdateTaskStatus(ctx context.Context, in store.StatusUpdate) error {
	if w.online() {
		err := w.Remote.UpdateTaskStatus(ctx, in)
		if err == nil {
			return nil
		}
		slog.Warn("status update unconfirmed, buffering", "task_id", in.ID, "err", err)
	}
	return w.Buffer.Buffer(ctx, Write{Kind: KindStatusUpdate, Status: &in})
}

func (w *Writer) InsertAttempt(ctx context.Context, in store.Attempt) error {
	if w.online() {
		err := w.Remote.InsertAttempt(ctx, in)
		if err == nil {
			return nil
		}
		slog.Warn("attempt record unconfirmed, buffering", "task_id", in.TaskID, "err", err)
	}
	return w.Buffer.Buffer(ctx, Write{Kind: KindAttempt, Attempt: &in})
}
