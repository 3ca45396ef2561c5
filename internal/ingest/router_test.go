package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bizconnect/internal/approval"
	"bizconnect/internal/bridge"
	"bizconnect/internal/domain"
	"bizconnect/internal/store"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type memTaskStore struct {
	mu    sync.Mutex
	tasks map[string]domain.Task
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{tasks: map[string]domain.Task{}}
}

func (s *memTaskStore) InsertTask(_ context.Context, t domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}

func (s *memTaskStore) GetTask(_ context.Context, id string) (domain.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok, nil
}

func (s *memTaskStore) UpdateTaskStatus(_ context.Context, in store.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[in.ID]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = in.Status
	t.UpdatedAt = in.Now
	s.tasks[in.ID] = t
	return nil
}

func (s *memTaskStore) ListRecentPending(_ context.Context, userID string, since, now time.Time) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Task
	for _, t := range s.tasks {
		if t.UserID != userID || t.Status != domain.StatusPending || !t.CreatedAt.After(since) {
			continue
		}
		if t.ScheduledAt != nil && t.ScheduledAt.After(now) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

type fakePrompter struct {
	mu      sync.Mutex
	prompts []bridge.PromptRequest
	err     error
}

func (p *fakePrompter) Prompt(_ context.Context, req bridge.PromptRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.prompts = append(p.prompts, req)
	return nil
}

func (p *fakePrompter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

type fakeAdmitter struct {
	mu       sync.Mutex
	admitted []string
	err      error
}

func (a *fakeAdmitter) Admit(_ context.Context, t domain.Task, _ int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.admitted = append(a.admitted, t.ID)
	return nil
}

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(_ context.Context, k string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[k]
	return b, ok, nil
}

func (m *memKV) Set(_ context.Context, k string, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[k] = v
	return nil
}

func (m *memKV) Delete(_ context.Context, k string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, k)
	return nil
}

func (m *memKV) ListPush(_ context.Context, k string, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[k] = append(m.data[k], v...)
	return nil
}

func (m *memKV) ListRange(context.Context, string) ([][]byte, error) { return nil, nil }
func (m *memKV) ListPopHead(context.Context, string) error           { return nil }

func newRouter(ts *memTaskStore, p *fakePrompter, adm *fakeAdmitter, now time.Time) *Router {
	return &Router{
		UserID:        "u1",
		Store:         ts,
		Writer:        ts,
		Gateway:       &approval.Gateway{Prompter: p, KV: newMemKV()},
		Queue:         adm,
		Clock:         fixedClock{now},
		RecencyWindow: 30 * time.Minute,
		Notified:      NewNotifiedSet(),
	}
}

func pendingTask(id string, createdAt time.Time) domain.Task {
	return domain.Task{
		ID: id, UserID: "u1", CustomerPhone: "01012345678",
		MessageContent: "hi", Type: domain.TypeSendSMS,
		Status: domain.StatusPending, Priority: 3,
		CreatedAt: createdAt, UpdatedAt: createdAt,
	}
}

func TestSameTaskAcrossChannelsPromptsOnce(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := newMemTaskStore()
	_ = ts.InsertTask(context.Background(), pendingTask("T1", now.Add(-10*time.Minute)))

	p := &fakePrompter{}
	r := newRouter(ts, p, &fakeAdmitter{}, now)

	ctx := context.Background()
	if err := r.HandleTaskID(ctx, "T1", ChannelFeed); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if err := r.HandleTaskID(ctx, "T1", ChannelPush); err != nil {
		t.Fatalf("push: %v", err)
	}
	r.Poll(ctx)

	if p.count() != 1 {
		t.Fatalf("expected exactly one approval prompt, got %d", p.count())
	}
}

func TestStaleTaskIsIgnored(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := newMemTaskStore()
	_ = ts.InsertTask(context.Background(), pendingTask("old", now.Add(-45*time.Minute)))

	p := &fakePrompter{}
	r := newRouter(ts, p, &fakeAdmitter{}, now)

	if err := r.HandleTaskID(context.Background(), "old", ChannelFeed); err != nil {
		t.Fatalf("HandleTaskID: %v", err)
	}
	if p.count() != 0 {
		t.Fatalf("stale task must not prompt")
	}
}

func TestFutureScheduledTaskIsIgnored(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := newMemTaskStore()
	task := pendingTask("sched", now.Add(-time.Minute))
	future := now.Add(time.Hour)
	task.ScheduledAt = &future
	_ = ts.InsertTask(context.Background(), task)

	p := &fakePrompter{}
	r := newRouter(ts, p, &fakeAdmitter{}, now)

	if err := r.HandleTaskID(context.Background(), "sched", ChannelFeed); err != nil {
		t.Fatalf("HandleTaskID: %v", err)
	}
	if p.count() != 0 {
		t.Fatalf("future-scheduled task must not prompt")
	}
}

func TestPromptFailureRollsBackMark(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := newMemTaskStore()
	_ = ts.InsertTask(context.Background(), pendingTask("T1", now.Add(-time.Minute)))

	p := &fakePrompter{err: errors.New("ui unavailable")}
	r := newRouter(ts, p, &fakeAdmitter{}, now)

	ctx := context.Background()
	if err := r.HandleTaskID(ctx, "T1", ChannelFeed); err == nil {
		t.Fatalf("expected prompt failure")
	}
	if r.Notified.Contains("T1") {
		t.Fatalf("mark must be rolled back on prompt failure")
	}

	// A later channel delivery can retry.
	p.mu.Lock()
	p.err = nil
	p.mu.Unlock()
	if err := r.HandleTaskID(ctx, "T1", ChannelPush); err != nil {
		t.Fatalf("retry via push: %v", err)
	}
	if p.count() != 1 {
		t.Fatalf("expected retry prompt, got %d", p.count())
	}
}

func TestResolveApprovedAdmitsAndClearsMark(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := newMemTaskStore()
	_ = ts.InsertTask(context.Background(), pendingTask("T1", now.Add(-time.Minute)))

	adm := &fakeAdmitter{}
	r := newRouter(ts, &fakePrompter{}, adm, now)

	ctx := context.Background()
	if err := r.HandleTaskID(ctx, "T1", ChannelFeed); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := r.Resolve(ctx, "T1", Approved); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(adm.admitted) != 1 || adm.admitted[0] != "T1" {
		t.Fatalf("expected T1 admitted, got %v", adm.admitted)
	}
	if r.Notified.Contains("T1") {
		t.Fatalf("mark must clear on approval")
	}
}

func TestResolveCancelledTerminatesTask(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := newMemTaskStore()
	_ = ts.InsertTask(context.Background(), pendingTask("T1", now.Add(-time.Minute)))

	adm := &fakeAdmitter{}
	r := newRouter(ts, &fakePrompter{}, adm, now)

	ctx := context.Background()
	if err := r.HandleTaskID(ctx, "T1", ChannelFeed); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := r.Resolve(ctx, "T1", Cancelled); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got, _, _ := ts.GetTask(ctx, "T1")
	if got.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if len(adm.admitted) != 0 {
		t.Fatalf("cancelled task must not be admitted")
	}
}

func TestResolveTimedOutKeepsMark(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := newMemTaskStore()
	_ = ts.InsertTask(context.Background(), pendingTask("T1", now.Add(-time.Minute)))

	p := &fakePrompter{}
	adm := &fakeAdmitter{}
	r := newRouter(ts, p, adm, now)

	ctx := context.Background()
	if err := r.HandleTaskID(ctx, "T1", ChannelFeed); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := r.Resolve(ctx, "T1", TimedOut); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(adm.admitted) != 0 {
		t.Fatalf("timed-out task must not be admitted")
	}
	if !r.Notified.Contains("T1") {
		t.Fatalf("timed-out mark must stay so the prompt is not repeated")
	}

	// A later delivery on another channel is a duplicate, not a re-prompt.
	if err := r.HandleTaskID(ctx, "T1", ChannelPush); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if p.count() != 1 {
		t.Fatalf("expected no re-prompt after timeout, got %d", p.count())
	}
}

func TestBatchGetsOneAggregatePrompt(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := newMemTaskStore()
	ctx := context.Background()
	_ = ts.InsertTask(ctx, pendingTask("B1", now.Add(-time.Minute)))
	_ = ts.InsertTask(ctx, pendingTask("B2", now.Add(-time.Minute)))
	_ = ts.InsertTask(ctx, pendingTask("B3", now.Add(-50*time.Minute))) // stale

	p := &fakePrompter{}
	r := newRouter(ts, p, &fakeAdmitter{}, now)

	if err := r.HandleBatch(ctx, []string{"B1", "B2", "B3"}, ChannelPush); err != nil {
		t.Fatalf("HandleBatch: %v", err)
	}
	if p.count() != 1 {
		t.Fatalf("expected one aggregate prompt, got %d", p.count())
	}
	req := p.prompts[0]
	if len(req.TaskIDs) != 2 || req.Count != 2 {
		t.Fatalf("expected 2 fresh members, got %+v", req)
	}
	// Members were pre-marked so single deliveries are duplicates now.
	if err := r.HandleTaskID(ctx, "B1", ChannelFeed); err != nil {
		t.Fatalf("duplicate feed delivery: %v", err)
	}
	if p.count() != 1 {
		t.Fatalf("batch member must not re-prompt")
	}
}

func TestAutoApproveSkipsPrompt(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ts := newMemTaskStore()
	_ = ts.InsertTask(context.Background(), pendingTask("T1", now.Add(-time.Minute)))

	p := &fakePrompter{}
	adm := &fakeAdmitter{}
	r := newRouter(ts, p, adm, now)
	if err := r.Gateway.SetAutoApprove(context.Background(), true); err != nil {
		t.Fatalf("SetAutoApprove: %v", err)
	}

	if err := r.HandleTaskID(context.Background(), "T1", ChannelFeed); err != nil {
		t.Fatalf("HandleTaskID: %v", err)
	}
	if p.count() != 0 {
		t.Fatalf("auto-approve must bypass the prompt")
	}
	if len(adm.admitted) != 1 {
		t.Fatalf("auto-approved task must be admitted, got %v", adm.admitted)
	}
}
