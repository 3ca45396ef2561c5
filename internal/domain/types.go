package domain

import (
	"errors"
	"time"
	"unicode/utf8"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition enforces the monotone task lifecycle:
// pending → queued → processing → {completed|failed};
// cancelled is reachable only from pending or queued.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusQueued || next == StatusProcessing || next == StatusCancelled || next == StatusFailed
	case StatusQueued:
		return next == StatusProcessing || next == StatusCancelled || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

type TaskType string

const (
	TypeSendSMS  TaskType = "send_sms"
	TypeSendMMS  TaskType = "send_mms"
	TypeCallback TaskType = "callback"
)

type Task struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	CustomerPhone  string     `json:"customerPhone"`
	CustomerName   string     `json:"customerName,omitempty"`
	MessageContent string     `json:"messageContent"`
	Type           TaskType   `json:"type"`
	Status         TaskStatus `json:"status"`
	Priority       int        `json:"priority"`
	ScheduledAt    *time.Time `json:"scheduledAt,omitempty"`
	ImageURL       string     `json:"imageUrl,omitempty"`
	IsMMS          bool       `json:"isMms"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

const MaxMessageRunes = 2000

func (t Task) Validate() error {
	if t.UserID == "" || t.CustomerPhone == "" {
		return ErrMissingFields
	}
	if t.MessageContent == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(t.MessageContent) > MaxMessageRunes {
		return ErrMessageTooLong
	}
	return nil
}

type LimitMode string

const (
	LimitSafe LimitMode = "safe"
	LimitMax  LimitMode = "max"
)

// Cap returns the daily send ceiling for the mode. Unknown modes get the
// conservative cap.
func (m LimitMode) Cap() int {
	if m == LimitMax {
		return 499
	}
	return 199
}

type DailyLimitRecord struct {
	UserID    string
	Date      string // YYYY-MM-DD in the device's zone
	SentCount int
	LimitMode LimitMode
}

type LimitStatus struct {
	CanSend   bool `json:"canSend"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

// CallEventType is the classified outcome of a finished call.
type CallEventType string

const (
	CallEnded  CallEventType = "ended"
	CallMissed CallEventType = "missed"
	CallBusy   CallEventType = "busy"
	CallNone   CallEventType = "none"
)

// EventRule is the per-outcome slice of a user's callback configuration.
type EventRule struct {
	Enabled  bool   `json:"enabled"`
	Message  string `json:"message"`
	ImageURL string `json:"imageUrl"`
}

type CallbackConfig struct {
	GlobalEnabled       bool      `json:"globalEnabled"`
	Ended               EventRule `json:"ended"`
	Missed              EventRule `json:"missed"`
	Busy                EventRule `json:"busy"`
	BusinessCardEnabled bool      `json:"businessCardEnabled"`
	BusinessCardImage   string    `json:"businessCardImage"`
}

// Rule returns the per-event rule, or ok=false for events that never
// trigger a callback.
func (c CallbackConfig) Rule(ev CallEventType) (EventRule, bool) {
	switch ev {
	case CallEnded:
		return c.Ended, true
	case CallMissed:
		return c.Missed, true
	case CallBusy:
		return c.Busy, true
	default:
		return EventRule{}, false
	}
}

type Customer struct {
	ID          string
	UserID      string
	Name        string
	Phone       string
	GroupName   string
	Industry    string
	Notes       string
	Birthday    string
	Anniversary string
}

var (
	ErrMissingFields    = errors.New("missing required fields")
	ErrEmptyMessage     = errors.New("empty message content")
	ErrMessageTooLong   = errors.New("message content too long")
	ErrInvalidPhone     = errors.New("invalid phone number")
	ErrPermissionDenied = errors.New("permission denied")
	ErrRateLimited      = errors.New("daily send limit exceeded")
	ErrNotFound         = errors.New("not found")
	ErrBadTransition    = errors.New("illegal status transition")
)
