// Package dispatch owns the persisted, throttled, priority-ordered send
// pipeline. Exactly one task is in flight at a time.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"bizconnect/internal/clock"
	"bizconnect/internal/domain"
	"bizconnect/internal/kv"
	"bizconnect/internal/observability"
	"bizconnect/internal/store"
)

const (
	snapQueueKey      = "dispatch:queue"
	snapProcessingKey = "dispatch:processing"
)

// Sender is the native send capability.
type Sender interface {
	Send(ctx context.Context, phone, message, imageURL string) error
}

// TaskWriter applies task mutations against the remote store; callers route
// it through the offline-resilient writer.
type TaskWriter interface {
	UpdateTaskStatus(ctx context.Context, in store.StatusUpdate) error
	InsertAttempt(ctx context.Context, in store.Attempt) error
}

// RateLimiter gates admission and the send hook.
type RateLimiter interface {
	CheckDailyLimit(ctx context.Context, userID string) (domain.LimitStatus, error)
	IncrementSentCount(ctx context.Context, userID string) error
}

// Item is a queued task. The queue owns it while queued; ownership passes to
// the worker during processing and returns (retryCount+1) on retry.
type Item struct {
	Task       domain.Task `json:"task"`
	Priority   int         `json:"priority"`
	RetryCount int         `json:"retryCount"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`

	seq uint64
}

type Options struct {
	ThrottleInterval time.Duration // spacing between consecutive dispatches
	RetryDelay       time.Duration
	MaxAttempts      int
}

func (o Options) withDefaults() Options {
	if o.ThrottleInterval <= 0 {
		o.ThrottleInterval = 15 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	return o
}

type Queue struct {
	Sender  Sender
	Writer  TaskWriter
	Limiter RateLimiter
	Breaker *gobreaker.CircuitBreaker

	// OnExhausted fires after the final attempt of a task fails.
	OnExhausted func(task domain.Task, err error)

	opts  Options
	snap  kv.Store
	clock clock.Clock
	pacer *rate.Limiter

	mu         sync.Mutex
	items      []*Item // sorted: priority desc, insertion order within ties
	processing *Item
	seq        uint64
	timers     map[string]*time.Timer
	wake       chan struct{}

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func NewQueue(sender Sender, writer TaskWriter, limiter RateLimiter, snap kv.Store, clk clock.Clock, opts Options) *Queue {
	opts = opts.withDefaults()
	return &Queue{
		Sender:  sender,
		Writer:  writer,
		Limiter: limiter,
		opts:    opts,
		snap:    snap,
		clock:   clk,
		pacer:   rate.NewLimiter(rate.Every(opts.ThrottleInterval), 1),
		timers:  map[string]*time.Timer{},
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the single consumer loop.
func (q *Queue) Start(ctx context.Context) {
	q.loopCtx, q.loopCancel = context.WithCancel(ctx)
	q.loopDone = make(chan struct{})
	go q.run()
	q.kick()
}

// Stop cancels the loop and waits for the in-flight send, if any, to resolve.
func (q *Queue) Stop() {
	if q.loopCancel == nil {
		return
	}
	q.loopCancel()
	<-q.loopDone
}

// Admit validates, checks the daily budget, marks the task queued, and
// enqueues it. Rate-limit rejections mark the task failed without consuming a
// retry slot.
func (q *Queue) Admit(ctx context.Context, task domain.Task, priority int) error {
	if err := task.Validate(); err != nil {
		return err
	}

	st, err := q.Limiter.CheckDailyLimit(ctx, task.UserID)
	if err != nil {
		return fmt.Errorf("daily limit check: %w", err)
	}
	if !st.CanSend {
		observability.RateLimited.Inc()
		q.writeStatus(ctx, task.ID, domain.StatusFailed, "rate_limited")
		return domain.ErrRateLimited
	}

	q.writeStatus(ctx, task.ID, domain.StatusQueued, "")
	task.Status = domain.StatusQueued

	q.mu.Lock()
	q.insertLocked(&Item{Task: task, Priority: priority, EnqueuedAt: q.clock.Now()})
	q.snapshotLocked()
	q.mu.Unlock()

	q.kick()
	return nil
}

// insertLocked keeps items ordered by priority descending with stable FIFO
// order inside a priority class.
func (q *Queue) insertLocked(it *Item) {
	q.seq++
	it.seq = q.seq
	pos := sort.Search(len(q.items), func(i int) bool {
		return q.items[i].Priority < it.Priority
	})
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = it
}

// next pops the highest-priority eligible item; items scheduled in the
// future are skipped without removal. Must be called with the lock held.
func (q *Queue) nextLocked(now time.Time) *Item {
	for i, it := range q.items {
		if it.Task.ScheduledAt != nil && it.Task.ScheduledAt.After(now) {
			continue
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		return it
	}
	return nil
}

// earliestScheduledLocked returns the soonest future scheduledAt, if any.
func (q *Queue) earliestScheduledLocked(now time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, it := range q.items {
		if it.Task.ScheduledAt == nil || !it.Task.ScheduledAt.After(now) {
			continue
		}
		if !found || it.Task.ScheduledAt.Before(best) {
			best = *it.Task.ScheduledAt
			found = true
		}
	}
	return best, found
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.loopDone)
	for {
		select {
		case <-q.loopCtx.Done():
			return
		case <-q.wake:
		}

		for {
			now := q.clock.Now()
			q.mu.Lock()
			it := q.nextLocked(now)
			if it == nil {
				if at, ok := q.earliestScheduledLocked(now); ok {
					q.armWakeLocked("scheduled", at.Sub(now))
				}
				q.mu.Unlock()
				break
			}
			q.processing = it
			q.snapshotLocked()
			q.mu.Unlock()

			// Throttle pacing. A full bucket after an idle period lets the
			// first dispatch go out immediately.
			if err := q.pacer.Wait(q.loopCtx); err != nil {
				q.requeueFrontOnShutdown(it)
				return
			}

			q.process(q.loopCtx, it)

			q.mu.Lock()
			q.processing = nil
			q.snapshotLocked()
			q.mu.Unlock()

			if q.loopCtx.Err() != nil {
				return
			}
		}
	}
}

// requeueFrontOnShutdown puts an item claimed but never attempted back so the
// restart snapshot resembles the pre-claim state.
func (q *Queue) requeueFrontOnShutdown(it *Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = nil
	q.items = append([]*Item{it}, q.items...)
	q.snapshotLocked()
}

func (q *Queue) process(ctx context.Context, it *Item) {
	task := it.Task
	log := slog.With("task_id", task.ID, "retry_count", it.RetryCount)

	q.writeStatus(ctx, task.ID, domain.StatusProcessing, "")

	// Budget re-check: time has passed since admission.
	st, err := q.Limiter.CheckDailyLimit(ctx, task.UserID)
	if err == nil && !st.CanSend {
		observability.RateLimited.Inc()
		log.Warn("send rejected by daily limit")
		q.writeStatus(ctx, task.ID, domain.StatusFailed, "rate_limited")
		q.recordAttempt(ctx, it, "rate_limited", domain.ErrRateLimited)
		return
	}
	if err != nil {
		// Limit state unknown: treat as transient and retry.
		q.fail(ctx, it, fmt.Errorf("daily limit check: %w", err))
		return
	}

	start := time.Now()
	sendErr := q.send(ctx, task)
	observability.SendLatency.Observe(time.Since(start).Seconds())

	if sendErr == nil {
		observability.Sends.WithLabelValues("ok").Inc()
		q.recordAttempt(ctx, it, "ok", nil)
		q.writeStatus(ctx, task.ID, domain.StatusCompleted, "")
		if err := q.Limiter.IncrementSentCount(ctx, task.UserID); err != nil {
			log.Error("sent count increment failed", "err", err)
		}
		log.Info("task sent", "phone", task.CustomerPhone)
		return
	}

	observability.Sends.WithLabelValues("error").Inc()
	q.recordAttempt(ctx, it, "error", sendErr)
	q.fail(ctx, it, sendErr)
}

func (q *Queue) send(ctx context.Context, task domain.Task) error {
	call := func() (any, error) {
		return nil, q.Sender.Send(ctx, task.CustomerPhone, task.MessageContent, task.ImageURL)
	}
	if q.Breaker == nil {
		_, err := call()
		return err
	}
	_, err := q.Breaker.Execute(call)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("send bridge unavailable: %w", err)
	}
	return err
}

// fail applies the retry policy: re-enqueue after a fixed delay up to
// MaxAttempts total attempts, then terminal failure.
func (q *Queue) fail(ctx context.Context, it *Item, cause error) {
	attempts := it.RetryCount + 1
	log := slog.With("task_id", it.Task.ID, "attempt", attempts, "err", cause)

	if attempts >= q.opts.MaxAttempts {
		log.Error("send attempts exhausted")
		q.writeStatus(ctx, it.Task.ID, domain.StatusFailed, cause.Error())
		if q.OnExhausted != nil {
			q.OnExhausted(it.Task, cause)
		}
		return
	}

	log.Warn("send failed, scheduling retry", "delay", q.opts.RetryDelay)
	q.writeStatus(ctx, it.Task.ID, domain.StatusQueued, cause.Error())

	// The retry goes straight back into the queue with a future ScheduledAt
	// rather than waiting in a timer: it lands in the snapshot immediately, so
	// a crash during the backoff cannot orphan it. The consumer loop skips it
	// until due.
	retry := &Item{Task: it.Task, Priority: it.Priority, RetryCount: it.RetryCount + 1, EnqueuedAt: it.EnqueuedAt}
	retry.Task.Status = domain.StatusQueued
	due := q.clock.Now().Add(q.opts.RetryDelay)
	retry.Task.ScheduledAt = &due

	q.mu.Lock()
	q.insertLocked(retry)
	q.snapshotLocked()
	q.mu.Unlock()
	q.kick()
}

func (q *Queue) armTimerLocked(key string, d time.Duration, fn func()) {
	if t, ok := q.timers[key]; ok {
		t.Stop()
	}
	q.timers[key] = time.AfterFunc(d, func() {
		q.mu.Lock()
		delete(q.timers, key)
		q.mu.Unlock()
		fn()
	})
}

func (q *Queue) armWakeLocked(key string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	q.armTimerLocked("wake:"+key, d, q.kick)
}

// Restore loads the persisted snapshot. An item found mid-processing is
// requeued at the front, never assumed sent.
func (q *Queue) Restore(ctx context.Context) error {
	var items []*Item
	if b, found, err := q.snap.Get(ctx, snapQueueKey); err != nil {
		return err
	} else if found {
		if err := json.Unmarshal(b, &items); err != nil {
			return fmt.Errorf("queue snapshot corrupt: %w", err)
		}
	}

	if b, found, err := q.snap.Get(ctx, snapProcessingKey); err != nil {
		return err
	} else if found && len(b) > 0 {
		var proc Item
		if err := json.Unmarshal(b, &proc); err != nil {
			return fmt.Errorf("processing snapshot corrupt: %w", err)
		}
		items = append([]*Item{&proc}, items...)
		slog.Info("requeued mid-processing task", "task_id", proc.Task.ID)
	}

	q.mu.Lock()
	q.items = items
	for _, it := range q.items {
		q.seq++
		it.seq = q.seq
	}
	q.snapshotLocked()
	q.mu.Unlock()

	if len(items) > 0 {
		slog.Info("dispatch snapshot restored", "items", len(items))
		q.kick()
	}
	return nil
}

// snapshotLocked persists the queue after a mutation. Failures are logged,
// not propagated: startup reconciliation re-derives truth from the remote
// store of record.
func (q *Queue) snapshotLocked() {
	ctx := context.Background()
	b, _ := json.Marshal(q.items)
	if err := q.snap.Set(ctx, snapQueueKey, b); err != nil {
		slog.Error("queue snapshot write failed", "err", err)
	}
	if q.processing == nil {
		if err := q.snap.Delete(ctx, snapProcessingKey); err != nil {
			slog.Error("processing snapshot clear failed", "err", err)
		}
		return
	}
	pb, _ := json.Marshal(q.processing)
	if err := q.snap.Set(ctx, snapProcessingKey, pb); err != nil {
		slog.Error("processing snapshot write failed", "err", err)
	}
}

// Clear cancels all pending timers, empties the queue, and removes the
// persisted snapshots.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	for k, t := range q.timers {
		t.Stop()
		delete(q.timers, k)
	}
	q.items = nil
	q.processing = nil
	q.mu.Unlock()

	if err := q.snap.Delete(ctx, snapQueueKey); err != nil {
		slog.Error("queue snapshot clear failed", "err", err)
	}
	if err := q.snap.Delete(ctx, snapProcessingKey); err != nil {
		slog.Error("processing snapshot clear failed", "err", err)
	}
}

// Stats reports queue depth for the agent API.
type Stats struct {
	Queued     int  `json:"queued"`
	Processing bool `json:"processing"`
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Queued: len(q.items), Processing: q.processing != nil}
}

func (q *Queue) writeStatus(ctx context.Context, id string, status domain.TaskStatus, lastErr string) {
	err := q.Writer.UpdateTaskStatus(ctx, store.StatusUpdate{
		ID: id, Status: status, LastError: lastErr, Now: q.clock.Now(),
	})
	if err != nil {
		slog.Error("task status write failed", "task_id", id, "status", status, "err", err)
	}
}

func (q *Queue) recordAttempt(ctx context.Context, it *Item, result string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	err := q.Writer.InsertAttempt(ctx, store.Attempt{
		TaskID: it.Task.ID, Result: result, ErrorMsg: msg,
		RetryCount: it.RetryCount, At: q.clock.Now(),
	})
	if err != nil {
		slog.Error("attempt record write failed", "task_id", it.Task.ID, "err", err)
	}
}
