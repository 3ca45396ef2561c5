package callback

import (
	"strings"
	"time"

	"bizconnect/internal/domain"
	"bizconnect/internal/util"
)

// Default bodies used when the per-event template is empty.
var defaultTemplates = map[domain.CallEventType]string{
	domain.CallEnded:  "{name}, thanks for your call today. I'll follow up shortly.",
	domain.CallMissed: "{name}, sorry we missed your call. We'll get back to you as soon as possible.",
	domain.CallBusy:   "{name}, the line was busy just now. Please leave a message and we'll call back.",
}

// RenderTemplate does simple {var} replacement.
func RenderTemplate(body string, vars map[string]string) string {
	out := body
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

// templateVars builds the substitution set for one callback message.
func templateVars(c domain.Customer, phone string, now time.Time) map[string]string {
	name := c.Name
	if name == "" {
		name = util.FormatPhone(phone)
	}
	return map[string]string{
		"name":        name,
		"phone":       util.FormatPhone(phone),
		"date":        now.Format("2006-01-02"),
		"time":        now.Format("15:04"),
		"month":       now.Format("01"),
		"day":         now.Format("02"),
		"industry":    c.Industry,
		"notes":       c.Notes,
		"birthday":    c.Birthday,
		"anniversary": c.Anniversary,
	}
}

// Compose picks the per-event or default template and fills it in.
func Compose(rule domain.EventRule, ev domain.CallEventType, c domain.Customer, phone string, now time.Time) string {
	body := rule.Message
	if body == "" {
		body = defaultTemplates[ev]
	}
	return RenderTemplate(body, templateVars(c, phone, now))
}
