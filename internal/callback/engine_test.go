package callback

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bizconnect/internal/domain"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeConfigStore struct {
	cfg       domain.CallbackConfig
	cfgFound  bool
	cfgErr    error
	customers map[string]domain.Customer // keyed by normalized phone
	previews  map[string]string
	lookupErr error
}

func (s *fakeConfigStore) GetCallbackConfig(context.Context, string) (domain.CallbackConfig, bool, error) {
	return s.cfg, s.cfgFound, s.cfgErr
}

func (s *fakeConfigStore) FindCustomerByPhone(_ context.Context, _, phone string) (domain.Customer, bool, error) {
	c, ok := s.customers[phone]
	return c, ok, nil
}

func (s *fakeConfigStore) LookupPreviewURL(_ context.Context, u string) (string, bool, error) {
	if s.lookupErr != nil {
		return "", false, s.lookupErr
	}
	p, ok := s.previews[u]
	return p, ok, nil
}

type fakeCreator struct{ tasks []domain.Task }

func (c *fakeCreator) InsertTask(_ context.Context, t domain.Task) error {
	c.tasks = append(c.tasks, t)
	return nil
}

type fakeAdmitter struct {
	admitted []domain.Task
	err      error
}

func (a *fakeAdmitter) Admit(_ context.Context, t domain.Task, _ int) error {
	if a.err != nil {
		return a.err
	}
	a.admitted = append(a.admitted, t)
	return nil
}

func enabledConfig() domain.CallbackConfig {
	return domain.CallbackConfig{
		GlobalEnabled: true,
		Ended:         domain.EventRule{Enabled: true, Message: "{name}, thanks for calling on {date}."},
		Missed:        domain.EventRule{Enabled: true},
		Busy:          domain.EventRule{Enabled: true},
	}
}

func newEngine(cs *fakeConfigStore) (*Engine, *fakeCreator, *fakeAdmitter) {
	creator := &fakeCreator{}
	admitter := &fakeAdmitter{}
	n := 0
	e := &Engine{
		Config:  cs,
		Creator: creator,
		Queue:   admitter,
		Clock:   fixedClock{time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)},
		IDGen: func() string {
			n++
			return "task_" + strings.Repeat("0", n)
		},
		Priority: 5,
	}
	return e, creator, admitter
}

func TestHandleCallEvent_CreatesPendingTaskAndAdmits(t *testing.T) {
	cs := &fakeConfigStore{
		cfg: enabledConfig(), cfgFound: true,
		customers: map[string]domain.Customer{
			"01012345678": {Name: "Kim", Phone: "010-1234-5678"},
		},
	}
	e, creator, admitter := newEngine(cs)

	e.HandleCallEvent(context.Background(), "u1", "010-1234-5678", domain.CallEnded)

	if len(creator.tasks) != 1 || len(admitter.admitted) != 1 {
		t.Fatalf("expected 1 created + 1 admitted, got %d/%d", len(creator.tasks), len(admitter.admitted))
	}
	task := creator.tasks[0]
	if task.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", task.Status)
	}
	if task.Type != domain.TypeCallback {
		t.Fatalf("expected callback type, got %s", task.Type)
	}
	if task.CustomerPhone != "01012345678" {
		t.Fatalf("expected normalized phone, got %q", task.CustomerPhone)
	}
	if want := "Kim, thanks for calling on 2025-03-01."; task.MessageContent != want {
		t.Fatalf("message = %q, want %q", task.MessageContent, want)
	}
}

func TestHandleCallEvent_GlobalDisabledIsSilentNoop(t *testing.T) {
	cfg := enabledConfig()
	cfg.GlobalEnabled = false
	cs := &fakeConfigStore{cfg: cfg, cfgFound: true}
	e, creator, admitter := newEngine(cs)

	for _, ev := range []domain.CallEventType{domain.CallEnded, domain.CallMissed, domain.CallBusy, domain.CallNone} {
		e.HandleCallEvent(context.Background(), "u1", "01012345678", ev)
	}
	if len(creator.tasks) != 0 || len(admitter.admitted) != 0 {
		t.Fatalf("expected no tasks with global disabled")
	}
}

func TestHandleCallEvent_PerEventFlagDisabled(t *testing.T) {
	cfg := enabledConfig()
	cfg.Missed.Enabled = false
	cs := &fakeConfigStore{cfg: cfg, cfgFound: true}
	e, creator, _ := newEngine(cs)

	e.HandleCallEvent(context.Background(), "u1", "01012345678", domain.CallMissed)
	if len(creator.tasks) != 0 {
		t.Fatalf("expected no task for disabled event")
	}
}

func TestHandleCallEvent_ConfigErrorFailsClosed(t *testing.T) {
	cs := &fakeConfigStore{cfgErr: errors.New("store down")}
	e, creator, _ := newEngine(cs)

	e.HandleCallEvent(context.Background(), "u1", "01012345678", domain.CallEnded)
	if len(creator.tasks) != 0 {
		t.Fatalf("expected no task when config load fails")
	}
}

func TestHandleCallEvent_PersonalGroupSuppressed(t *testing.T) {
	for _, group := range []string{"가족", "Family & VIP", "FRIENDS", "친구 모임"} {
		cs := &fakeConfigStore{
			cfg: enabledConfig(), cfgFound: true,
			customers: map[string]domain.Customer{
				"01012345678": {Name: "Kim", GroupName: group},
			},
		}
		e, creator, _ := newEngine(cs)
		e.HandleCallEvent(context.Background(), "u1", "01012345678", domain.CallEnded)
		if len(creator.tasks) != 0 {
			t.Fatalf("group %q: expected suppression", group)
		}
	}
}

func TestHandleCallEvent_NoneEventNeverCreatesTask(t *testing.T) {
	cs := &fakeConfigStore{cfg: enabledConfig(), cfgFound: true}
	e, creator, _ := newEngine(cs)

	e.HandleCallEvent(context.Background(), "u1", "01012345678", domain.CallNone)
	if len(creator.tasks) != 0 {
		t.Fatalf("none outcome must not create a task")
	}
}

func TestHandleCallEvent_UnknownCustomerStillSends(t *testing.T) {
	cs := &fakeConfigStore{cfg: enabledConfig(), cfgFound: true}
	e, creator, _ := newEngine(cs)

	e.HandleCallEvent(context.Background(), "u1", "010-9999-0000", domain.CallMissed)
	if len(creator.tasks) != 1 {
		t.Fatalf("expected task for unknown caller, got %d", len(creator.tasks))
	}
	// The default template addresses the caller by formatted number.
	if !strings.Contains(creator.tasks[0].MessageContent, "010-9999-0000") {
		t.Fatalf("expected formatted phone in message, got %q", creator.tasks[0].MessageContent)
	}
}

func TestResolveImage_Priority(t *testing.T) {
	cs := &fakeConfigStore{
		cfg: enabledConfig(), cfgFound: true,
		previews: map[string]string{
			"https://cdn.example/raw/ev.png":   "https://cdn.example/preview/ev.png",
			"https://cdn.example/raw/card.png": "https://cdn.example/preview/card.png",
		},
	}
	e, _, _ := newEngine(cs)
	ctx := context.Background()

	cfg := enabledConfig()
	cfg.BusinessCardEnabled = true
	cfg.BusinessCardImage = "https://cdn.example/raw/card.png"

	// Event image wins over the business card.
	rule := domain.EventRule{ImageURL: "https://cdn.example/raw/ev.png"}
	if got := e.resolveImage(ctx, rule, cfg); got != "https://cdn.example/preview/ev.png" {
		t.Fatalf("expected event preview, got %q", got)
	}

	// Falls back to the business card.
	if got := e.resolveImage(ctx, domain.EventRule{}, cfg); got != "https://cdn.example/preview/card.png" {
		t.Fatalf("expected card preview, got %q", got)
	}

	// No image at all.
	cfg.BusinessCardEnabled = false
	if got := e.resolveImage(ctx, domain.EventRule{}, cfg); got != "" {
		t.Fatalf("expected empty image, got %q", got)
	}
}

func TestResolveImage_LookupFailureKeepsOriginal(t *testing.T) {
	cs := &fakeConfigStore{cfg: enabledConfig(), cfgFound: true, lookupErr: errors.New("timeout")}
	e, _, _ := newEngine(cs)

	rule := domain.EventRule{ImageURL: "https://cdn.example/raw/ev.png"}
	if got := e.resolveImage(context.Background(), rule, enabledConfig()); got != "https://cdn.example/raw/ev.png" {
		t.Fatalf("expected original url on lookup failure, got %q", got)
	}
}

func TestResolveImage_AlreadyCanonical(t *testing.T) {
	cs := &fakeConfigStore{cfg: enabledConfig(), cfgFound: true}
	e, _, _ := newEngine(cs)

	rule := domain.EventRule{ImageURL: "https://cdn.example/preview/ev.png"}
	if got := e.resolveImage(context.Background(), rule, enabledConfig()); got != rule.ImageURL {
		t.Fatalf("canonical url must pass through, got %q", got)
	}
}
