// Package backend defines the boundary to the aggregator backend process:
// request/response calls plus a subscribe-style push-event channel.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/manifoldchat/manifold/internal/msg"
)

var (
	// ErrTransient marks a call that failed for a recoverable reason
	// (connection loss, timeout, backend overload). Callers leave local
	// state unchanged and let a future trigger retry.
	ErrTransient = errors.New("transient backend error")

	// ErrRejected marks a mutation the backend refused. Callers restore
	// prior local state and surface a notice.
	ErrRejected = errors.New("backend rejected mutation")
)

// Client is the request/response half of the backend boundary.
type Client interface {
	ListConversations(ctx context.Context) ([]msg.Conversation, error)
	FetchInitialPage(ctx context.Context, conversationID string) ([]msg.Message, error)
	FetchPageBefore(ctx context.Context, conversationID string, before time.Time) ([]msg.Message, error)
	SendMessage(ctx context.Context, conversationID, text string) (msg.Message, error)
	SendReply(ctx context.Context, conversationID, text, parentID string) (msg.Message, error)
	EditMessage(ctx context.Context, conversationID, serverID, newText string) error
	DeleteMessage(ctx context.Context, conversationID, serverID string) error

	// Subscribe streams push events in arrival order and returns a cancel
	// function. The channel is closed on cancel or connection teardown.
	Subscribe(filter SubscribeFilter) (<-chan Event, func())
}

// EventType names a push event category.
type EventType string

const (
	// EventSyncStatus carries the serialized status of a long-running
	// backend sync. Forwarded to the presentation layer, not interpreted.
	EventSyncStatus EventType = "sync_status"

	// EventNewData signals new or changed messages for a conversation,
	// carrying enough payload to merge as a page update.
	EventNewData EventType = "new_data"
)

// Event is one push notification from the backend.
type Event struct {
	Type           EventType
	ConversationID string

	// Seq and Cycle order sync-status events; events arriving with a
	// sequence at or below the highest seen for their cycle are dropped
	// before delivery.
	Seq   int64
	Cycle string

	// Status is the opaque sync-status payload, forwarded as-is.
	Status json.RawMessage

	// Messages carries the decoded page payload of a new-data event.
	// Dropped counts entries discarded as malformed.
	Messages []msg.Message
	Dropped  int
}

// SubscribeFilter narrows which push events a subscriber receives.
// Sync-status events are always delivered.
type SubscribeFilter struct {
	// ConversationID limits new-data events to one conversation;
	// empty receives all.
	ConversationID string
}

func (f SubscribeFilter) matches(ev Event) bool {
	if ev.Type == EventSyncStatus {
		return true
	}
	return f.ConversationID == "" || f.ConversationID == ev.ConversationID
}
