// Package callback turns classified call outcomes into send tasks.
package callback

import (
	"context"
	"log/slog"
	"strings"

	"bizconnect/internal/clock"
	"bizconnect/internal/domain"
	"bizconnect/internal/observability"
	"bizconnect/internal/store"
	"bizconnect/internal/util"
)

// Group-name keywords that suppress callbacks regardless of config flags.
// Case-insensitive, Korean and English.
var personalGroupKeywords = []string{"가족", "친구", "지인", "family", "friend"}

// Admitter hands a finished decision to the dispatch pipeline.
type Admitter interface {
	Admit(ctx context.Context, task domain.Task, priority int) error
}

// TaskCreator persists the new task row; callers route it through the
// offline-resilient writer.
type TaskCreator interface {
	InsertTask(ctx context.Context, t domain.Task) error
}

const previewMarker = "/preview/"

// Engine applies the business rules between a classified call event and a
// task. Every failure path is a logged no-op: this runs unattended in the
// background, so it fails closed.
type Engine struct {
	Config   store.ConfigStore
	Creator  TaskCreator
	Queue    Admitter
	Clock    clock.Clock
	IDGen    func() string
	Priority int // queue priority for locally-originated callbacks
}

// HandleCallEvent runs the decision pipeline for one classified outcome.
// Locally-originated tasks bypass the approval gateway: they result from the
// device's own telephony observation.
func (e *Engine) HandleCallEvent(ctx context.Context, userID, phone string, ev domain.CallEventType) {
	cfg, found, err := e.Config.GetCallbackConfig(ctx, userID)
	if err != nil {
		// Fail closed: unknown config means all disabled.
		slog.Error("callback config load failed", "user_id", userID, "err", err)
		observability.CallbacksSuppressed.WithLabelValues("config_error").Inc()
		return
	}
	if !found || !cfg.GlobalEnabled {
		return
	}
	rule, ok := cfg.Rule(ev)
	if !ok || !rule.Enabled {
		return
	}

	normalized := util.NormalizePhone(phone)
	if normalized == "" {
		slog.Warn("call event with unusable phone number", "user_id", userID, "event", ev)
		observability.CallbacksSuppressed.WithLabelValues("bad_phone").Inc()
		return
	}

	customer, _, err := e.Config.FindCustomerByPhone(ctx, userID, normalized)
	if err != nil {
		slog.Error("customer lookup failed", "user_id", userID, "err", err)
		observability.CallbacksSuppressed.WithLabelValues("lookup_error").Inc()
		return
	}

	if isPersonalGroup(customer.GroupName) {
		slog.Info("callback suppressed for personal group",
			"user_id", userID, "group", customer.GroupName)
		observability.CallbacksSuppressed.WithLabelValues("personal_group").Inc()
		return
	}

	now := e.Clock.Now()
	message := Compose(rule, ev, customer, phone, now)
	imageURL := e.resolveImage(ctx, rule, cfg)

	task := domain.Task{
		ID:             e.IDGen(),
		UserID:         userID,
		CustomerPhone:  normalized,
		CustomerName:   customer.Name,
		MessageContent: message,
		Type:           domain.TypeCallback,
		Status:         domain.StatusPending,
		Priority:       e.Priority,
		ImageURL:       imageURL,
		IsMMS:          imageURL != "",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.Creator.InsertTask(ctx, task); err != nil {
		// The offline writer buffers this; admission proceeds regardless.
		slog.Error("task row write failed", "task_id", task.ID, "err", err)
	}

	if err := e.Queue.Admit(ctx, task, e.Priority); err != nil {
		slog.Error("callback admission failed", "task_id", task.ID, "err", err)
		return
	}
	slog.Info("callback task created", "task_id", task.ID, "event", ev, "phone", normalized)
}

// resolveImage applies the attachment priority: event image, then business
// card (if enabled), then none; rewritten to the canonical preview form when
// a mapping exists.
func (e *Engine) resolveImage(ctx context.Context, rule domain.EventRule, cfg domain.CallbackConfig) string {
	img := rule.ImageURL
	if img == "" && cfg.BusinessCardEnabled {
		img = cfg.BusinessCardImage
	}
	if img == "" || strings.Contains(img, previewMarker) {
		return img
	}
	preview, found, err := e.Config.LookupPreviewURL(ctx, img)
	if err != nil || !found {
		if err != nil {
			slog.Warn("preview url lookup failed, keeping original", "err", err)
		}
		return img
	}
	return preview
}

func isPersonalGroup(group string) bool {
	if group == "" {
		return false
	}
	g := strings.ToLower(group)
	for _, kw := range personalGroupKeywords {
		if strings.Contains(g, kw) {
			return true
		}
	}
	return false
}
