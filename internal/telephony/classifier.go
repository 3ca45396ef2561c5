// Package telephony classifies raw call signals into business outcomes.
package telephony

import (
	"log/slog"
	"sync"

	"bizconnect/internal/domain"
	"bizconnect/internal/observability"
)

// Signal is a raw event from the telephony signal source.
type Signal string

const (
	SignalIncoming     Signal = "incoming"
	SignalOffhook      Signal = "offhook"
	SignalDisconnected Signal = "disconnected"
	SignalMissed       Signal = "missed"
)

type callState int

const (
	stateIdle callState = iota
	stateRinging
	stateActive
)

// Sink receives each classified outcome together with the peer number.
type Sink func(event domain.CallEventType, phone string)

// Classifier is the call-state machine. It holds only the running call's
// state; queueing and retries live elsewhere.
type Classifier struct {
	mu       sync.Mutex
	state    callState
	inbound  bool
	answered bool
	phone    string

	sink Sink
}

func NewClassifier(sink Sink) *Classifier {
	return &Classifier{sink: sink}
}

// Observe feeds one raw signal through the transition table. Terminal
// transitions emit an outcome and reset the machine.
func (c *Classifier) Observe(sig Signal, phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if phone != "" {
		c.phone = phone
	}

	switch sig {
	case SignalIncoming:
		if c.state == stateIdle {
			c.state = stateRinging
			c.inbound = true
			c.answered = false
		}

	case SignalOffhook:
		switch c.state {
		case stateIdle:
			// Offhook with no prior ring is an outbound call; outbound
			// calls never produce a callback.
			c.state = stateActive
			c.inbound = false
			c.answered = true
		case stateRinging:
			c.state = stateActive
			c.answered = true
		}

	case SignalDisconnected:
		switch c.state {
		case stateRinging:
			if c.inbound {
				c.emit(domain.CallMissed)
			} else {
				c.emit(domain.CallNone)
			}
		case stateActive:
			// Inbound without answered can only happen when Active was
			// reached without a ring; treat it as ended anyway. Heuristic,
			// not a verified outcome.
			if c.inbound {
				c.emit(domain.CallEnded)
			} else {
				c.emit(domain.CallNone)
			}
		}

	case SignalMissed:
		if c.inbound {
			c.emit(domain.CallMissed)
		} else {
			c.emit(domain.CallNone)
		}

	default:
		slog.Warn("unknown telephony signal", "signal", string(sig))
	}
}

// emit must be called with the lock held.
func (c *Classifier) emit(ev domain.CallEventType) {
	phone := c.phone
	c.state = stateIdle
	c.inbound = false
	c.answered = false
	c.phone = ""

	observability.CallEvents.WithLabelValues(string(ev)).Inc()
	if c.sink != nil {
		c.sink(ev, phone)
	}
}
