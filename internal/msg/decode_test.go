package msg

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeMessage_FieldAliases(t *testing.T) {
	raw := json.RawMessage(`{
		"guid": "m1",
		"chat_id": "ignored",
		"from": "alice@example.org",
		"display_name": "Alice",
		"text": "hello",
		"ts": 1700000000,
		"reply_to": "m0",
		"is_from_me": false
	}`)

	decoded, err := DecodeMessage(raw, "conv1")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ServerID != "m1" || decoded.LocalKey != "m1" {
		t.Fatalf("unexpected ids: %q / %q", decoded.ServerID, decoded.LocalKey)
	}
	if decoded.ConversationID != "conv1" {
		t.Fatalf("context conversation must win, got %q", decoded.ConversationID)
	}
	if decoded.Body != "hello" || decoded.SenderID != "alice@example.org" || decoded.SenderName != "Alice" {
		t.Fatalf("unexpected fields: %#v", decoded)
	}
	if decoded.ParentID != "m0" {
		t.Fatalf("expected reply_to alias, got %q", decoded.ParentID)
	}
	if decoded.State != StateConfirmed {
		t.Fatalf("decoded messages are confirmed, got %q", decoded.State)
	}
	if !decoded.Timestamp.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("unexpected timestamp: %v", decoded.Timestamp)
	}
}

func TestDecodeMessage_MillisecondTimestamps(t *testing.T) {
	raw := json.RawMessage(`{"id":"m2","timestamp":1700000000123,"body":"x"}`)
	decoded, err := DecodeMessage(raw, "conv1")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Timestamp.Equal(time.UnixMilli(1700000000123).UTC()) {
		t.Fatalf("unexpected timestamp: %v", decoded.Timestamp)
	}
}

func TestDecodeMessage_RFC3339Timestamp(t *testing.T) {
	raw := json.RawMessage(`{"id":"m3","date":"2026-02-09T08:00:00Z","body":"x"}`)
	decoded, err := DecodeMessage(raw, "conv1")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	if !decoded.Timestamp.Equal(want) {
		t.Fatalf("got %v want %v", decoded.Timestamp, want)
	}
}

func TestDecodeMessage_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{`,
		"missing id":   `{"body":"x","ts":1700000000}`,
		"missing time": `{"id":"m4","body":"x"}`,
		"bad time":     `{"id":"m5","body":"x","date":"yesterday"}`,
	}
	for name, payload := range cases {
		if _, err := DecodeMessage(json.RawMessage(payload), "conv1"); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("%s: expected ErrMalformedPayload, got %v", name, err)
		}
	}
}

func TestDecodePage_DropsOffendersKeepsSiblings(t *testing.T) {
	raws := []json.RawMessage{
		json.RawMessage(`{"id":"m1","body":"ok","ts":1700000000}`),
		json.RawMessage(`{"body":"no id","ts":1700000001}`),
		json.RawMessage(`{"id":"m2","body":"also ok","ts":1700000002}`),
	}
	decoded, dropped := DecodePage(raws, "conv1")
	if dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", dropped)
	}
	if len(decoded) != 2 || decoded[0].ServerID != "m1" || decoded[1].ServerID != "m2" {
		t.Fatalf("unexpected page: %#v", decoded)
	}
}

func TestDecodeMessage_EmptyAttachmentsNormalized(t *testing.T) {
	raw := json.RawMessage(`{"id":"m6","ts":1700000000,"attachments":[]}`)
	decoded, err := DecodeMessage(raw, "conv1")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Attachments != "" {
		t.Fatalf("empty attachment list should normalize to empty, got %q", decoded.Attachments)
	}
	if decoded.Displayable() {
		t.Fatalf("message without body or attachments must not be displayable")
	}
}
