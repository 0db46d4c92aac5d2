package feed

import (
	"time"

	"github.com/google/uuid"

	"github.com/manifoldchat/manifold/internal/msg"
)

// mutationState is the explicit state machine for one locally-originated
// message. pending is the only non-terminal state.
type mutationState int

const (
	mutationPending mutationState = iota
	mutationFailed
)

type stagedEntry struct {
	key     string
	state   mutationState
	message msg.Message
	err     error
}

// Reconciler stages speculative message inserts for one conversation and
// tracks their pending -> confirmed / pending -> failed transitions.
//
// Synthetic keys are namespaced ("local:<uuid>") so they can never collide
// with a confirmed message's server-derived key.
type Reconciler struct {
	conversationID string
	entries        []stagedEntry
	newKey         func() string
}

// NewReconciler creates an empty reconciler for one conversation.
func NewReconciler(conversationID string) *Reconciler {
	return &Reconciler{
		conversationID: conversationID,
		newKey:         uuid.NewString,
	}
}

// Stage inserts a speculative message and returns its synthetic key. The
// staged timestamp is pushed past latestLoaded so the entry sorts after all
// currently loaded messages. Every call allocates a fresh key; rapid sends
// are never coalesced.
func (r *Reconciler) Stage(body, parentID string, now, latestLoaded time.Time) (msg.Message, string) {
	ts := now
	if !ts.After(latestLoaded) {
		ts = latestLoaded.Add(time.Millisecond)
	}
	key := msg.DeriveLocalKey("", r.newKey(), ts)
	staged := msg.Message{
		LocalKey:       key,
		ConversationID: r.conversationID,
		ParentID:       parentID,
		FromMe:         true,
		Body:           body,
		Timestamp:      ts,
		State:          msg.StatePending,
	}
	r.entries = append(r.entries, stagedEntry{key: key, state: mutationPending, message: staged})
	return staged, key
}

// Confirm resolves a pending entry with its backend-confirmed counterpart
// and removes it from the staged set; the caller merges the confirmed
// message into the page store. Confirming an unknown or already-failed key
// is a no-op returning false.
func (r *Reconciler) Confirm(key string) bool {
	for i := range r.entries {
		if r.entries[i].key != key || r.entries[i].state != mutationPending {
			continue
		}
		r.entries = append(r.entries[:i], r.entries[i+1:]...)
		return true
	}
	return false
}

// Fail flips a pending entry to failed in place. The entry stays visible,
// marked, and is never retried automatically.
func (r *Reconciler) Fail(key string, err error) bool {
	for i := range r.entries {
		if r.entries[i].key != key || r.entries[i].state != mutationPending {
			continue
		}
		r.entries[i].state = mutationFailed
		r.entries[i].err = err
		r.entries[i].message.State = msg.StateFailed
		return true
	}
	return false
}

// Staged returns the visible staged messages (pending and failed) in
// insertion order.
func (r *Reconciler) Staged() []msg.Message {
	if len(r.entries) == 0 {
		return nil
	}
	out := make([]msg.Message, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.message)
	}
	return out
}

// KeySet returns the staged LocalKeys.
func (r *Reconciler) KeySet() map[string]struct{} {
	keys := make(map[string]struct{}, len(r.entries))
	for _, e := range r.entries {
		keys[e.key] = struct{}{}
	}
	return keys
}
