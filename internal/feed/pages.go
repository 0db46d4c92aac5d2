// Package feed implements the conversation feed synchronization engine: an
// ordered, de-duplicated view of one conversation's messages kept consistent
// under backward pagination, optimistic local mutations, and pushed backend
// events.
package feed

import (
	"sort"
	"time"

	"github.com/manifoldchat/manifold/internal/msg"
)

// PageStore holds the ordered pages of confirmed history for one
// conversation and owns the backward-pagination cursor.
//
// Pages may arrive out of request order; de-duplication by LocalKey makes
// adding a page idempotent. Flatten always yields ascending timestamps with
// ties broken by arrival order.
type PageStore struct {
	conversationID string
	pages          []msg.Page
	arrival        map[string]int
	counter        int
	exhausted      bool
}

// NewPageStore creates an empty store for one conversation.
func NewPageStore(conversationID string) *PageStore {
	return &PageStore{
		conversationID: conversationID,
		arrival:        make(map[string]int),
	}
}

// ConversationID returns the owning conversation.
func (s *PageStore) ConversationID() string {
	return s.conversationID
}

// AddPage records one pagination fetch result. An empty page marks history
// as exhausted until the next fresh initial load.
//
// Keys already loaded are skipped: the stored copy is kept current in place
// by MergeNewest and Update, while an overlapping page carries request-time
// state that may predate pushes applied since.
func (s *PageStore) AddPage(cursor time.Time, messages []msg.Message) {
	if len(messages) == 0 {
		s.exhausted = true
		return
	}
	page := msg.Page{ConversationID: s.conversationID, Cursor: cursor}
	for _, m := range messages {
		if _, seen := s.arrival[m.LocalKey]; seen {
			continue
		}
		s.noteArrival(m.LocalKey)
		page.Messages = append(page.Messages, m)
	}
	if len(page.Messages) == 0 {
		return
	}
	s.pages = append(s.pages, page)
}

// MergeNewest merges pushed messages into the newest page: entries with a
// known LocalKey replace the stored copy in place (edits, deletions),
// unknown entries append.
func (s *PageStore) MergeNewest(messages []msg.Message) {
	if len(messages) == 0 {
		return
	}
	var fresh []msg.Message
	for _, m := range messages {
		if _, seen := s.arrival[m.LocalKey]; seen {
			s.replace(m)
			continue
		}
		s.noteArrival(m.LocalKey)
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return
	}
	if len(s.pages) == 0 {
		s.pages = append(s.pages, msg.Page{ConversationID: s.conversationID, Messages: fresh})
		return
	}
	newest := &s.pages[0]
	newest.Messages = append(newest.Messages, fresh...)
}

// Update mutates the stored message with the given key in place and reports
// whether it was found. The prior value is returned for restore-on-failure.
func (s *PageStore) Update(localKey string, mutate func(*msg.Message)) (msg.Message, bool) {
	for pi := range s.pages {
		for mi := range s.pages[pi].Messages {
			if s.pages[pi].Messages[mi].LocalKey != localKey {
				continue
			}
			prior := s.pages[pi].Messages[mi]
			mutate(&s.pages[pi].Messages[mi])
			return prior, true
		}
	}
	return msg.Message{}, false
}

// Get returns the stored message with the given key.
func (s *PageStore) Get(localKey string) (msg.Message, bool) {
	for pi := range s.pages {
		for mi := range s.pages[pi].Messages {
			if s.pages[pi].Messages[mi].LocalKey == localKey {
				return s.pages[pi].Messages[mi], true
			}
		}
	}
	return msg.Message{}, false
}

// Flatten returns the loaded set ordered ascending by timestamp,
// de-duplicated by LocalKey, ties preserving insertion order. The
// first-stored copy wins; in-place mutation keeps it the freshest.
func (s *PageStore) Flatten() []msg.Message {
	byKey := make(map[string]msg.Message, len(s.arrival))
	for _, page := range s.pages {
		for _, m := range page.Messages {
			if _, ok := byKey[m.LocalKey]; ok {
				continue
			}
			byKey[m.LocalKey] = m
		}
	}
	out := make([]msg.Message, 0, len(byKey))
	for _, m := range byKey {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return s.arrival[out[i].LocalKey] < s.arrival[out[j].LocalKey]
	})
	return out
}

// KeySet returns the set of currently loaded LocalKeys.
func (s *PageStore) KeySet() map[string]struct{} {
	keys := make(map[string]struct{}, len(s.arrival))
	for key := range s.arrival {
		keys[key] = struct{}{}
	}
	return keys
}

// Cursor returns the boundary for the next backward fetch: the minimum
// timestamp among loaded messages. ok is false while nothing is loaded.
func (s *PageStore) Cursor() (time.Time, bool) {
	var min time.Time
	found := false
	for _, page := range s.pages {
		for _, m := range page.Messages {
			if !found || m.Timestamp.Before(min) {
				min = m.Timestamp
				found = true
			}
		}
	}
	return min, found
}

// Exhausted reports whether the backend signaled the end of history.
func (s *PageStore) Exhausted() bool {
	return s.exhausted
}

// MaxTimestamp returns the newest loaded timestamp, zero when empty.
func (s *PageStore) MaxTimestamp() time.Time {
	var max time.Time
	for _, page := range s.pages {
		for _, m := range page.Messages {
			if m.Timestamp.After(max) {
				max = m.Timestamp
			}
		}
	}
	return max
}

func (s *PageStore) noteArrival(localKey string) {
	if _, seen := s.arrival[localKey]; seen {
		return
	}
	s.counter++
	s.arrival[localKey] = s.counter
}

func (s *PageStore) replace(m msg.Message) {
	for pi := range s.pages {
		for mi := range s.pages[pi].Messages {
			if s.pages[pi].Messages[mi].LocalKey == m.LocalKey {
				s.pages[pi].Messages[mi] = m
				return
			}
		}
	}
}
