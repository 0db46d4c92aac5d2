package msg

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Conversation is one entry in the aggregated conversation directory.
type Conversation struct {
	ID           string
	Title        string
	LastActivity time.Time
}

// wireConversation accepts the directory field variants the aggregated
// protocols emit.
type wireConversation struct {
	ID     string `json:"id"`
	GUID   string `json:"guid"`
	ChatID string `json:"chat_id"`

	Title   string `json:"title"`
	Name    string `json:"name"`
	Display string `json:"display_name"`

	LastActivity json.RawMessage `json:"last_activity"`
	LastMessage  json.RawMessage `json:"last_message_at"`
	Updated      json.RawMessage `json:"updated_at"`
}

// DecodeConversation parses one directory entry.
func DecodeConversation(raw json.RawMessage) (Conversation, error) {
	var wire wireConversation
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Conversation{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	id := firstNonEmpty(wire.ID, wire.GUID, wire.ChatID)
	if id == "" {
		return Conversation{}, fmt.Errorf("%w: missing conversation id", ErrMalformedPayload)
	}

	conv := Conversation{
		ID:    id,
		Title: firstNonEmpty(wire.Title, wire.Name, wire.Display),
	}
	if conv.Title == "" {
		conv.Title = id
	}
	// Directory entries without activity timestamps still list; they sort
	// last.
	if ts, err := decodeTimestamp(wire.LastActivity, wire.LastMessage, wire.Updated); err == nil {
		conv.LastActivity = ts
	}
	return conv, nil
}

// DecodeConversations decodes a directory listing, dropping malformed
// entries individually and ordering by most recent activity.
func DecodeConversations(raws []json.RawMessage) ([]Conversation, int) {
	out := make([]Conversation, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		decoded, err := DecodeConversation(raw)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, decoded)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, dropped
}
