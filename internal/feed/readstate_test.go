package feed

import (
	"testing"
	"time"

	"github.com/manifoldchat/manifold/internal/msg"
)

func TestReadTracker_DefaultsUnreadExceptOwn(t *testing.T) {
	tracker := NewReadTracker()
	tracker.Observe("conv1", msg.Message{LocalKey: "m1"})
	tracker.Observe("conv1", msg.Message{LocalKey: "m2", FromMe: true})

	if read, ok := tracker.IsRead("conv1", "m1"); !ok || read {
		t.Fatalf("m1 should be tracked unread, got read=%v ok=%v", read, ok)
	}
	if read, ok := tracker.IsRead("conv1", "m2"); !ok || !read {
		t.Fatalf("own message must always be read, got read=%v ok=%v", read, ok)
	}
	if _, ok := tracker.IsRead("conv1", "m3"); ok {
		t.Fatal("unobserved message must report unknown")
	}
	if _, ok := tracker.IsRead("conv2", "m1"); ok {
		t.Fatal("read state must be conversation-scoped")
	}
}

func TestReadTracker_ObserveDoesNotDowngrade(t *testing.T) {
	tracker := NewReadTracker()
	tracker.MarkRead("conv1", "m1")
	tracker.Observe("conv1", msg.Message{LocalKey: "m1"})
	if read, _ := tracker.IsRead("conv1", "m1"); !read {
		t.Fatal("re-observing must not reset an explicit read mark")
	}
}

func TestReadTracker_ReconcileDropsOrphansIdempotently(t *testing.T) {
	tracker := NewReadTracker()
	tracker.Observe("conv1", msg.Message{LocalKey: "m1"})
	tracker.Observe("conv1", msg.Message{LocalKey: "m2"})
	tracker.MarkRead("conv1", "m2")
	tracker.Observe("conv1", msg.Message{LocalKey: "gone"})

	current := map[string]struct{}{"m1": {}, "m2": {}}
	tracker.Reconcile("conv1", current)

	if _, ok := tracker.IsRead("conv1", "gone"); ok {
		t.Fatal("orphan must be dropped")
	}
	if read, ok := tracker.IsRead("conv1", "m2"); !ok || !read {
		t.Fatal("surviving entries must keep their state")
	}

	tracker.Reconcile("conv1", current)
	if _, ok := tracker.IsRead("conv1", "m1"); !ok {
		t.Fatal("second reconcile with same set must change nothing")
	}
	if got := tracker.UnreadCount("conv1"); got != 1 {
		t.Fatalf("expected 1 unread, got %d", got)
	}
}

func TestReadTracker_FirstUnread(t *testing.T) {
	base := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	tracker := NewReadTracker()
	timeline := []msg.Message{
		{LocalKey: "m1", Timestamp: base},
		{LocalKey: "m2", Timestamp: base.Add(time.Second)},
		{LocalKey: "m3", Timestamp: base.Add(2 * time.Second)},
	}
	for _, m := range timeline {
		tracker.Observe("conv1", m)
	}
	tracker.MarkRead("conv1", "m1")

	key, ok := tracker.FirstUnread("conv1", timeline)
	if !ok || key != "m2" {
		t.Fatalf("expected m2, got %q ok=%v", key, ok)
	}

	tracker.MarkRead("conv1", "m2")
	tracker.MarkRead("conv1", "m3")
	if _, ok := tracker.FirstUnread("conv1", timeline); ok {
		t.Fatal("fully read conversation has no first unread")
	}
}
