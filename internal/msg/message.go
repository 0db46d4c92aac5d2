// Package msg defines the canonical message model shared by the feed engine,
// the backend boundary, and the presentation layer.
package msg

import (
	"fmt"
	"strings"
	"time"
)

// State is the delivery lifecycle of a message.
type State string

const (
	// StateConfirmed marks a message acknowledged by the backend.
	StateConfirmed State = "confirmed"
	// StatePending marks a locally-originated message awaiting acknowledgment.
	StatePending State = "pending"
	// StateFailed marks a locally-originated message the backend rejected.
	StateFailed State = "failed"
)

// Message is the canonical conversation entry.
type Message struct {
	// ServerID is the backend-assigned identifier; empty on purely local
	// optimistic messages until confirmation.
	ServerID string `json:"server_id,omitempty"`

	// LocalKey is the stable identity used across renders and pages.
	// Unique within a conversation's loaded set at all times.
	LocalKey string `json:"local_key"`

	ConversationID string `json:"conversation_id"`

	// ParentID non-empty marks the message as a thread reply.
	ParentID string `json:"parent_id,omitempty"`

	SenderID   string `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	FromMe     bool   `json:"from_me,omitempty"`

	Body string `json:"body,omitempty"`
	// Attachments is an opaque serialized payload; rendering is out of scope.
	Attachments string `json:"attachments,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	State   State `json:"state"`
	Edited  bool  `json:"edited,omitempty"`
	Deleted bool  `json:"deleted,omitempty"`
}

// Displayable reports whether the message carries any renderable content.
// Messages with neither body nor attachments are filtered as noise.
func (m Message) Displayable() bool {
	return strings.TrimSpace(m.Body) != "" || strings.TrimSpace(m.Attachments) != ""
}

// IsReply reports whether the message belongs to a thread.
func (m Message) IsReply() bool {
	return strings.TrimSpace(m.ParentID) != ""
}

// DeriveLocalKey picks the stable key for a message: the server ID when the
// backend assigned one, else the caller's synthetic ID, else a
// timestamp-derived fallback.
func DeriveLocalKey(serverID, syntheticID string, ts time.Time) string {
	if s := strings.TrimSpace(serverID); s != "" {
		return s
	}
	if s := strings.TrimSpace(syntheticID); s != "" {
		return "local:" + s
	}
	return fmt.Sprintf("ts:%d", ts.UnixNano())
}

// Page is an ordered batch of confirmed messages returned by one pagination
// fetch, tagged with the cursor that produced it. A zero Cursor marks the
// initial page.
type Page struct {
	ConversationID string
	Cursor         time.Time
	Messages       []Message
}
