package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/manifoldchat/manifold/internal/backend"
	"github.com/manifoldchat/manifold/internal/logging"
	"github.com/manifoldchat/manifold/internal/msg"
)

var (
	// ErrNoConversation is returned by mutations issued before any
	// conversation is active.
	ErrNoConversation = errors.New("no active conversation")

	// ErrUnknownMessage is returned when a mutation targets a key absent
	// from the loaded set.
	ErrUnknownMessage = errors.New("unknown message")

	// ErrNotConfirmed is returned when editing or deleting a message the
	// backend has not acknowledged yet.
	ErrNotConfirmed = errors.New("message not yet confirmed")
)

// visibleCoverageThreshold is the fraction of a message's height that must
// intersect the viewport before a focus-gated read mark fires.
const visibleCoverageThreshold = 0.6

// Snapshot is the read-only view the presentation layer renders.
type Snapshot struct {
	ConversationID   string
	Main             []msg.Message
	ThreadsByParent  map[string]Thread
	IsLoadingInitial bool
	IsLoadingMore    bool
	HasMoreHistory   bool
	UnreadCount      int
	Notice           string
	SyncStatus       json.RawMessage
}

// Controller composes the page store, optimistic reconciler, read tracker,
// and thread partitioner into one queryable view and drives all side
// effects.
//
// All state transitions are applied atomically: method bodies and async
// completions each hold the controller lock for the whole update, so no two
// mutations to a conversation's state ever interleave mid-update.
// Completions carry the generation current when their call was issued and
// are discarded when it no longer matches, which is how switching
// conversations cancels interest in in-flight fetches.
type Controller struct {
	mu       sync.Mutex
	client   backend.Client
	reads    *ReadTracker
	log      zerolog.Logger
	now      func() time.Time
	dispatch func(func())

	conversationID string
	generation     int

	store  *PageStore
	staged map[string]*Reconciler

	loadingInitial    bool
	loadingMore       bool
	initialLoaded     bool
	userScrolled      bool
	scrollTowardOlder bool
	nearBottom        bool
	focused           bool

	visible         map[string]float64
	revealedDeleted map[string]bool

	firstUnreadUsed   bool
	pendingAutoScroll bool
	notice            string
	syncStatus        json.RawMessage
}

// NewController creates a feed controller over the given backend client and
// read tracker.
func NewController(client backend.Client, reads *ReadTracker) *Controller {
	return &Controller{
		client:          client,
		reads:           reads,
		log:             logging.Component("feed"),
		now:             func() time.Time { return time.Now().UTC() },
		dispatch:        func(fn func()) { go fn() },
		staged:          make(map[string]*Reconciler),
		visible:         make(map[string]float64),
		revealedDeleted: make(map[string]bool),
		focused:         true,
	}
}

// Switch activates a conversation: pagination cursor, first-unread flag,
// and transient UI state are reset, then the initial page is fetched.
// Any in-flight fetch for the previous conversation is invalidated by the
// generation check at apply time.
func (c *Controller) Switch(conversationID string) {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.conversationID = conversationID
	c.store = NewPageStore(conversationID)
	c.loadingInitial = true
	c.loadingMore = false
	c.initialLoaded = false
	c.userScrolled = false
	c.scrollTowardOlder = false
	c.nearBottom = true
	c.firstUnreadUsed = false
	c.pendingAutoScroll = false
	c.notice = ""
	c.visible = make(map[string]float64)
	c.revealedDeleted = make(map[string]bool)
	c.mu.Unlock()

	c.dispatch(func() {
		messages, err := c.client.FetchInitialPage(context.Background(), conversationID)

		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.generation {
			return
		}
		c.loadingInitial = false
		c.initialLoaded = true
		if err != nil {
			c.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("initial page fetch failed")
			c.notice = "could not load conversation"
			return
		}
		c.store.AddPage(time.Time{}, messages)
		c.afterDataChangeLocked()
	})
}

// NotifyScrollProximity triggers backward pagination when the viewport is
// near the oldest loaded message. It fires only after the initial load,
// only when the user has actually scrolled toward older messages, and never
// while another fetch is outstanding.
func (c *Controller) NotifyScrollProximity() {
	c.mu.Lock()
	if !c.initialLoaded || !c.userScrolled || !c.scrollTowardOlder ||
		c.loadingInitial || c.loadingMore || c.store == nil || c.store.Exhausted() {
		c.mu.Unlock()
		return
	}
	cursor, ok := c.store.Cursor()
	if !ok {
		c.mu.Unlock()
		return
	}
	c.loadingMore = true
	gen := c.generation
	conversationID := c.conversationID
	c.mu.Unlock()

	c.dispatch(func() {
		messages, err := c.client.FetchPageBefore(context.Background(), conversationID, cursor)

		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.generation {
			return
		}
		c.loadingMore = false
		if err != nil {
			// Cursor stays unchanged; the next explicit trigger retries.
			c.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("pagination fetch failed")
			return
		}
		c.store.AddPage(cursor, messages)
		c.afterDataChangeLocked()
	})
}

// SetScrollState records the viewport position after a user scroll.
func (c *Controller) SetScrollState(nearBottom, towardOlder bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userScrolled = true
	c.nearBottom = nearBottom
	c.scrollTowardOlder = towardOlder
}

// SubmitMessage stages an optimistic send and returns its local key
// immediately; confirmation or failure is reconciled asynchronously.
func (c *Controller) SubmitMessage(text string) (string, error) {
	return c.submit(text, "")
}

// SubmitReply stages an optimistic thread reply.
func (c *Controller) SubmitReply(text, parentID string) (string, error) {
	return c.submit(text, parentID)
}

func (c *Controller) submit(text, parentID string) (string, error) {
	c.mu.Lock()
	if c.conversationID == "" {
		c.mu.Unlock()
		return "", ErrNoConversation
	}
	conversationID := c.conversationID
	rec := c.stagedForLocked(conversationID)

	latest := c.store.MaxTimestamp()
	if entries := rec.Staged(); len(entries) > 0 {
		if last := entries[len(entries)-1].Timestamp; last.After(latest) {
			latest = last
		}
	}
	staged, key := rec.Stage(text, parentID, c.now(), latest)
	c.reads.Observe(conversationID, staged)
	c.pendingAutoScroll = true
	gen := c.generation
	c.mu.Unlock()

	c.dispatch(func() {
		var confirmed msg.Message
		var err error
		if parentID == "" {
			confirmed, err = c.client.SendMessage(context.Background(), conversationID, text)
		} else {
			confirmed, err = c.client.SendReply(context.Background(), conversationID, text, parentID)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		rec := c.stagedForLocked(conversationID)
		if err != nil {
			rec.Fail(key, err)
			c.log.Warn().Err(err).Str("local_key", key).
				Str("preview", logging.Preview(text)).Msg("send failed")
			if conversationID == c.conversationID {
				c.notice = "message failed to send"
				c.afterDataChangeLocked()
			}
			return
		}

		rec.Confirm(key)
		c.reads.MarkRead(conversationID, confirmed.LocalKey)
		// Only the active conversation still has a page store; a confirmed
		// send for a switched-away conversation is re-fetched on return.
		if conversationID == c.conversationID && gen == c.generation {
			c.store.MergeNewest([]msg.Message{confirmed})
			c.afterDataChangeLocked()
		}
	})
	return key, nil
}

// RequestEdit optimistically applies an edit and issues the backend call.
// On rejection the prior body is restored and a notice surfaced.
func (c *Controller) RequestEdit(localKey, newText string) error {
	return c.mutate(localKey, "edit failed",
		func(m *msg.Message) {
			m.Body = newText
			m.Edited = true
		},
		func(ctx context.Context, conversationID, serverID string) error {
			return c.client.EditMessage(ctx, conversationID, serverID, newText)
		})
}

// RequestDelete optimistically marks a message deleted and issues the
// backend call. Deletion is a soft marker: the message is retained so its
// placeholder can render and be toggled open.
func (c *Controller) RequestDelete(localKey string) error {
	return c.mutate(localKey, "delete failed",
		func(m *msg.Message) {
			m.Deleted = true
		},
		func(ctx context.Context, conversationID, serverID string) error {
			return c.client.DeleteMessage(ctx, conversationID, serverID)
		})
}

func (c *Controller) mutate(localKey, failNotice string, apply func(*msg.Message), call func(context.Context, string, string) error) error {
	c.mu.Lock()
	if c.conversationID == "" || c.store == nil {
		c.mu.Unlock()
		return ErrNoConversation
	}
	current, ok := c.store.Get(localKey)
	if !ok {
		c.mu.Unlock()
		return ErrUnknownMessage
	}
	if current.ServerID == "" || current.State != msg.StateConfirmed {
		c.mu.Unlock()
		return ErrNotConfirmed
	}

	conversationID := c.conversationID
	serverID := current.ServerID
	gen := c.generation
	prior, _ := c.store.Update(localKey, apply)
	c.mu.Unlock()

	c.dispatch(func() {
		err := call(context.Background(), conversationID, serverID)
		if err == nil {
			// The next backend-driven refresh supplies authoritative state.
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		c.log.Warn().Err(err).Str("local_key", localKey).Msg(failNotice)
		if gen != c.generation || conversationID != c.conversationID {
			return
		}
		c.store.Update(localKey, func(m *msg.Message) { *m = prior })
		c.notice = failNotice
		c.afterDataChangeLocked()
	})
	return nil
}

// HandleEvent applies one push event. New-data events for the active
// conversation merge into the newest page and count as a data change for
// auto-scroll and read-state reconciliation; sync-status events are only
// forwarded.
func (c *Controller) HandleEvent(ev backend.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Type {
	case backend.EventSyncStatus:
		c.syncStatus = ev.Status
	case backend.EventNewData:
		if c.store == nil || ev.ConversationID != c.conversationID {
			return
		}
		c.store.MergeNewest(ev.Messages)
		c.afterDataChangeLocked()
	}
}

// NotifyVisible records a message's viewport coverage. The read mark fires
// only when coverage meets the threshold and the window holds focus.
func (c *Controller) NotifyVisible(localKey string, coverage float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible[localKey] = coverage
	if c.focused && coverage >= visibleCoverageThreshold {
		c.reads.MarkRead(c.conversationID, localKey)
	}
}

// NotifyHidden removes a message from the visible set.
func (c *Controller) NotifyHidden(localKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.visible, localKey)
}

// SetFocused records window focus. Regaining focus re-scans everything
// currently visible instead of waiting for new visibility signals.
func (c *Controller) SetFocused(focused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	regained := focused && !c.focused
	c.focused = focused
	if !regained {
		return
	}
	for key, coverage := range c.visible {
		if coverage >= visibleCoverageThreshold {
			c.reads.MarkRead(c.conversationID, key)
		}
	}
}

// ToggleRevealDeleted flips the transient placeholder toggle for a deleted
// message; cleared on conversation switch.
func (c *Controller) ToggleRevealDeleted(localKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revealedDeleted[localKey] = !c.revealedDeleted[localKey]
}

// RevealedDeleted reports whether a deleted message's body is toggled open.
func (c *Controller) RevealedDeleted(localKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revealedDeleted[localKey]
}

// Snapshot assembles the read-only view for rendering.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		ConversationID:   c.conversationID,
		IsLoadingInitial: c.loadingInitial,
		IsLoadingMore:    c.loadingMore,
		Notice:           c.notice,
		SyncStatus:       c.syncStatus,
	}
	if c.store == nil {
		snap.HasMoreHistory = false
		return snap
	}
	snap.HasMoreHistory = !c.store.Exhausted()
	snap.UnreadCount = c.reads.UnreadCount(c.conversationID)

	timeline := PartitionTimeline(c.timelineLocked())
	snap.Main = timeline.Main
	snap.ThreadsByParent = timeline.ByParent
	return snap
}

// ConsumeAutoScroll reports and clears the auto-advance hint set when a
// data change lands while the viewport was near the bottom.
func (c *Controller) ConsumeAutoScroll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pendingAutoScroll
	c.pendingAutoScroll = false
	return pending
}

// ConsumeFirstUnread returns the initial scroll target: the oldest
// top-level message explicitly unread. Used at most once per conversation
// load.
func (c *Controller) ConsumeFirstUnread() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firstUnreadUsed || !c.initialLoaded || c.store == nil {
		return "", false
	}
	c.firstUnreadUsed = true
	timeline := PartitionTimeline(c.timelineLocked())
	return c.reads.FirstUnread(c.conversationID, timeline.Main)
}

// ConsumeNotice returns and clears the current user-visible notice.
func (c *Controller) ConsumeNotice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	notice := c.notice
	c.notice = ""
	return notice
}

// timelineLocked flattens loaded history plus staged optimistic entries
// into one ascending, de-duplicated sequence.
func (c *Controller) timelineLocked() []msg.Message {
	flat := c.store.Flatten()
	staged := c.stagedForLocked(c.conversationID).Staged()
	if len(staged) == 0 {
		return flat
	}
	combined := make([]msg.Message, 0, len(flat)+len(staged))
	combined = append(combined, flat...)
	combined = append(combined, staged...)
	sortByTimestampStable(combined)
	return combined
}

// afterDataChangeLocked runs the bookkeeping every data change shares:
// observe new messages, reconcile read state against the loaded key set,
// and arm auto-advance when the viewport was near the bottom.
func (c *Controller) afterDataChangeLocked() {
	conversationID := c.conversationID
	keys := c.store.KeySet()
	for _, m := range c.store.Flatten() {
		c.reads.Observe(conversationID, m)
	}
	for key := range c.stagedForLocked(conversationID).KeySet() {
		keys[key] = struct{}{}
	}
	c.reads.Reconcile(conversationID, keys)

	if c.nearBottom {
		c.pendingAutoScroll = true
	}
}

func (c *Controller) stagedForLocked(conversationID string) *Reconciler {
	rec, ok := c.staged[conversationID]
	if !ok {
		rec = NewReconciler(conversationID)
		c.staged[conversationID] = rec
	}
	return rec
}

func sortByTimestampStable(messages []msg.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}
