package push

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Payload is the data-only push notification. TaskIDs arrives as a JSON
// array encoded into a string, the way push data maps carry it.
type Payload struct {
	Type    string `json:"type"` // send_sms | send_mms | send_sms_batch
	TaskID  string `json:"taskId,omitempty"`
	TaskIDs string `json:"taskIds,omitempty"`
	Count   int    `json:"count,omitempty"`
}

const (
	TypeSendSMS      = "send_sms"
	TypeSendMMS      = "send_mms"
	TypeSendSMSBatch = "send_sms_batch"
)

var ErrBadPayload = errors.New("bad push payload")

// IsBatch reports whether the payload carries a taskIds array.
func (p Payload) IsBatch() bool {
	return p.Type == TypeSendSMSBatch || p.TaskIDs != ""
}

// BatchIDs decodes the embedded taskIds array.
func (p Payload) BatchIDs() ([]string, error) {
	if p.TaskIDs == "" {
		return nil, fmt.Errorf("%w: empty taskIds", ErrBadPayload)
	}
	var ids []string
	if err := json.Unmarshal([]byte(p.TaskIDs), &ids); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: empty taskIds array", ErrBadPayload)
	}
	return ids, nil
}

func (p Payload) Validate() error {
	switch p.Type {
	case TypeSendSMS, TypeSendMMS:
		if p.TaskID == "" && p.TaskIDs == "" {
			return fmt.Errorf("%w: missing taskId", ErrBadPayload)
		}
	case TypeSendSMSBatch:
		if p.TaskIDs == "" {
			return fmt.Errorf("%w: missing taskIds", ErrBadPayload)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadPayload, p.Type)
	}
	return nil
}
