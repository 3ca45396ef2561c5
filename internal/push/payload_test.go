package push

import (
	"encoding/json"
	"testing"
)

func TestPayload_SingleTask(t *testing.T) {
	raw := `{"type":"send_sms","taskId":"T1"}`
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.IsBatch() {
		t.Fatalf("single payload misread as batch")
	}
	if p.TaskID != "T1" {
		t.Fatalf("taskId = %q", p.TaskID)
	}
}

func TestPayload_BatchDecodesEmbeddedArray(t *testing.T) {
	raw := `{"type":"send_sms_batch","taskIds":"[\"a\",\"b\",\"c\"]","count":3}`
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !p.IsBatch() {
		t.Fatalf("batch payload not recognized")
	}
	ids, err := p.BatchIDs()
	if err != nil {
		t.Fatalf("BatchIDs: %v", err)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestPayload_Invalid(t *testing.T) {
	cases := []Payload{
		{Type: "send_sms"},                        // no id
		{Type: "send_sms_batch"},                  // no ids
		{Type: "ring_device", TaskID: "T1"},       // unknown type
		{},                                        // empty
	}
	for i, p := range cases {
		if err := p.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, p)
		}
	}
}

func TestPayload_BatchIDsRejectsGarbage(t *testing.T) {
	p := Payload{Type: TypeSendSMSBatch, TaskIDs: "not json"}
	if _, err := p.BatchIDs(); err == nil {
		t.Fatalf("expected decode error")
	}
	p = Payload{Type: TypeSendSMSBatch, TaskIDs: "[]"}
	if _, err := p.BatchIDs(); err == nil {
		t.Fatalf("expected error for empty array")
	}
}
