package util

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NormalizePhone strips everything but digits so "010-1234-5678" and
// "(010) 1234 5678" collapse to the same key.
func NormalizePhone(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for _, r := range p {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatPhone renders a normalized Korean mobile number with dashes for
// display in message templates. Anything unrecognized is returned as-is.
func FormatPhone(p string) string {
	d := NormalizePhone(p)
	switch len(d) {
	case 11:
		return d[:3] + "-" + d[3:7] + "-" + d[7:]
	case 10:
		return d[:3] + "-" + d[3:6] + "-" + d[6:]
	default:
		return p
	}
}

func NewTaskID() string {
	// ULID is sortable (nice for DB indexes and dashboards)
	t := time.Now().UTC()
	return "task_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
