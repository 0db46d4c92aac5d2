package feed

import "github.com/manifoldchat/manifold/internal/msg"

// ReadTracker maintains the per-conversation, per-message read state.
// It is an explicitly constructed container, passed into the controller;
// tests build a fresh one per case.
type ReadTracker struct {
	byConv map[string]map[string]bool
}

// NewReadTracker creates an empty tracker.
func NewReadTracker() *ReadTracker {
	return &ReadTracker{byConv: make(map[string]map[string]bool)}
}

// Observe creates the lazy entry for a message on first sight. Messages
// from the current user are implicitly read; everything else starts unread.
func (t *ReadTracker) Observe(conversationID string, m msg.Message) {
	conv := t.conv(conversationID)
	if _, seen := conv[m.LocalKey]; seen {
		return
	}
	conv[m.LocalKey] = m.FromMe
}

// MarkRead marks one message read.
func (t *ReadTracker) MarkRead(conversationID, localKey string) {
	t.conv(conversationID)[localKey] = true
}

// IsRead reports the read state; ok is false when the message was never
// observed for that conversation.
func (t *ReadTracker) IsRead(conversationID, localKey string) (read, ok bool) {
	conv, exists := t.byConv[conversationID]
	if !exists {
		return false, false
	}
	read, ok = conv[localKey]
	return read, ok
}

// Reconcile drops every tracked key absent from the currently loaded set.
// Idempotent: a second call with the same set changes nothing. This is what
// keeps unread counts honest after messages are filtered out, deleted
// upstream, or aged out of the loaded window.
func (t *ReadTracker) Reconcile(conversationID string, currentKeys map[string]struct{}) {
	conv, exists := t.byConv[conversationID]
	if !exists {
		return
	}
	for key := range conv {
		if _, present := currentKeys[key]; !present {
			delete(conv, key)
		}
	}
}

// UnreadCount returns the number of tracked-unread messages.
func (t *ReadTracker) UnreadCount(conversationID string) int {
	count := 0
	for _, read := range t.byConv[conversationID] {
		if !read {
			count++
		}
	}
	return count
}

// FirstUnread returns the key of the oldest message in the given timeline
// whose read state is explicitly false.
func (t *ReadTracker) FirstUnread(conversationID string, timeline []msg.Message) (string, bool) {
	conv, exists := t.byConv[conversationID]
	if !exists {
		return "", false
	}
	for _, m := range timeline {
		if read, tracked := conv[m.LocalKey]; tracked && !read {
			return m.LocalKey, true
		}
	}
	return "", false
}

func (t *ReadTracker) conv(conversationID string) map[string]bool {
	conv, exists := t.byConv[conversationID]
	if !exists {
		conv = make(map[string]bool)
		t.byConv[conversationID] = conv
	}
	return conv
}
