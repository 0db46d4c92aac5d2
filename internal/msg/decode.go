package msg

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedPayload marks a backend entry that failed to decode into the
// canonical model. Callers drop the single offending entry and keep its
// siblings.
var ErrMalformedPayload = errors.New("malformed payload")

// millisecondEpochFloor: numeric timestamps at or above this value are
// taken to be milliseconds, below it seconds.
const millisecondEpochFloor = int64(1e12)

// wireMessage accepts the field-name variants the aggregated protocols
// emit. Normalization to the canonical Message happens here and nowhere
// else; no tolerant-shape logic leaks past this boundary.
type wireMessage struct {
	GUID     string `json:"guid"`
	ID       string `json:"id"`
	ServerID string `json:"server_id"`

	ConversationID string `json:"conversation_id"`
	ChatID         string `json:"chat_id"`

	ParentID string `json:"parent_id"`
	ReplyTo  string `json:"reply_to"`

	SenderID   string `json:"sender_id"`
	From       string `json:"from"`
	SenderName string `json:"sender_name"`
	Display    string `json:"display_name"`

	IsFromMe *bool `json:"is_from_me"`
	FromMe   *bool `json:"from_me"`

	Body string `json:"body"`
	Text string `json:"text"`

	Attachments json.RawMessage `json:"attachments"`

	Timestamp json.RawMessage `json:"timestamp"`
	TS        json.RawMessage `json:"ts"`
	Date      json.RawMessage `json:"date"`

	Edited  bool `json:"edited"`
	Deleted bool `json:"deleted"`
}

// DecodeMessage parses one backend entry into the canonical Message. The
// conversation ID from the surrounding request context wins over any
// conversation field in the payload.
func DecodeMessage(raw json.RawMessage, conversationID string) (Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	serverID := firstNonEmpty(wire.GUID, wire.ID, wire.ServerID)
	if serverID == "" {
		return Message{}, fmt.Errorf("%w: missing message id", ErrMalformedPayload)
	}

	conv := strings.TrimSpace(conversationID)
	if conv == "" {
		conv = firstNonEmpty(wire.ConversationID, wire.ChatID)
	}
	if conv == "" {
		return Message{}, fmt.Errorf("%w: missing conversation id", ErrMalformedPayload)
	}

	ts, err := decodeTimestamp(wire.Timestamp, wire.TS, wire.Date)
	if err != nil {
		return Message{}, err
	}

	fromMe := false
	if wire.IsFromMe != nil {
		fromMe = *wire.IsFromMe
	} else if wire.FromMe != nil {
		fromMe = *wire.FromMe
	}

	attachments := ""
	if len(wire.Attachments) > 0 && string(wire.Attachments) != "null" &&
		string(wire.Attachments) != "[]" && string(wire.Attachments) != `""` {
		attachments = string(wire.Attachments)
	}

	return Message{
		ServerID:       serverID,
		LocalKey:       DeriveLocalKey(serverID, "", ts),
		ConversationID: conv,
		ParentID:       firstNonEmpty(wire.ParentID, wire.ReplyTo),
		SenderID:       firstNonEmpty(wire.SenderID, wire.From),
		SenderName:     firstNonEmpty(wire.SenderName, wire.Display),
		FromMe:         fromMe,
		Body:           firstNonEmpty(wire.Body, wire.Text),
		Attachments:    attachments,
		Timestamp:      ts,
		State:          StateConfirmed,
		Edited:         wire.Edited,
		Deleted:        wire.Deleted,
	}, nil
}

// DecodePage decodes a batch of entries, dropping malformed ones
// individually. It returns the decoded messages and the drop count.
func DecodePage(raws []json.RawMessage, conversationID string) ([]Message, int) {
	out := make([]Message, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		decoded, err := DecodeMessage(raw, conversationID)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, decoded)
	}
	return out, dropped
}

func decodeTimestamp(candidates ...json.RawMessage) (time.Time, error) {
	for _, raw := range candidates {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}

		var n int64
		if err := json.Unmarshal(raw, &n); err == nil {
			if n <= 0 {
				continue
			}
			if n >= millisecondEpochFloor {
				return time.UnixMilli(n).UTC(), nil
			}
			return time.Unix(n, 0).UTC(), nil
		}

		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
			if err != nil {
				return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedPayload, s)
			}
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: missing timestamp", ErrMalformedPayload)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
