package feed

import (
	"testing"
	"time"

	"github.com/manifoldchat/manifold/internal/msg"
)

func confirmedAt(id string, ts time.Time) msg.Message {
	return msg.Message{
		ServerID:       id,
		LocalKey:       id,
		ConversationID: "conv1",
		Body:           "body " + id,
		Timestamp:      ts,
		State:          msg.StateConfirmed,
	}
}

func assertOrderedUnique(t *testing.T, flat []msg.Message) {
	t.Helper()
	seen := make(map[string]struct{}, len(flat))
	for i, m := range flat {
		if _, dup := seen[m.LocalKey]; dup {
			t.Fatalf("duplicate local key %q", m.LocalKey)
		}
		seen[m.LocalKey] = struct{}{}
		if i > 0 && flat[i-1].Timestamp.After(m.Timestamp) {
			t.Fatalf("timestamps out of order at %d: %v > %v", i, flat[i-1].Timestamp, m.Timestamp)
		}
	}
}

func TestPageStore_FlattenSortedNoDuplicates(t *testing.T) {
	base := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	s := NewPageStore("conv1")

	s.AddPage(time.Time{}, []msg.Message{
		confirmedAt("m5", base.Add(5*time.Second)),
		confirmedAt("m6", base.Add(6*time.Second)),
	})
	s.AddPage(base.Add(5*time.Second), []msg.Message{
		confirmedAt("m3", base.Add(3*time.Second)),
		confirmedAt("m4", base.Add(4*time.Second)),
		confirmedAt("m5", base.Add(5*time.Second)), // overlap with initial page
	})

	flat := s.Flatten()
	if len(flat) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(flat))
	}
	assertOrderedUnique(t, flat)
	if flat[0].LocalKey != "m3" || flat[3].LocalKey != "m6" {
		t.Fatalf("unexpected order: %q .. %q", flat[0].LocalKey, flat[3].LocalKey)
	}
}

func TestPageStore_OutOfOrderPageArrival(t *testing.T) {
	base := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	s := NewPageStore("conv1")
	s.AddPage(time.Time{}, []msg.Message{confirmedAt("m9", base.Add(9*time.Second))})

	// The response for the newer cursor (T2) resolves before the older (T1).
	s.AddPage(base.Add(9*time.Second), []msg.Message{
		confirmedAt("m7", base.Add(7*time.Second)),
		confirmedAt("m8", base.Add(8*time.Second)),
	})
	s.AddPage(base.Add(7*time.Second), []msg.Message{
		confirmedAt("m5", base.Add(5*time.Second)),
		confirmedAt("m7", base.Add(7*time.Second)),
	})

	flat := s.Flatten()
	assertOrderedUnique(t, flat)
	if len(flat) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(flat))
	}
	if flat[0].LocalKey != "m5" || flat[3].LocalKey != "m9" {
		t.Fatalf("unexpected order: %v", flat)
	}
}

func TestPageStore_TimestampTiesKeepInsertionOrder(t *testing.T) {
	ts := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	s := NewPageStore("conv1")
	s.AddPage(time.Time{}, []msg.Message{
		confirmedAt("a", ts),
		confirmedAt("b", ts),
	})
	s.AddPage(ts, []msg.Message{confirmedAt("c", ts)})

	flat := s.Flatten()
	if flat[0].LocalKey != "a" || flat[1].LocalKey != "b" || flat[2].LocalKey != "c" {
		t.Fatalf("tie order not preserved: %q %q %q", flat[0].LocalKey, flat[1].LocalKey, flat[2].LocalKey)
	}
}

func TestPageStore_CursorIsMinimumTimestamp(t *testing.T) {
	base := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	s := NewPageStore("conv1")
	if _, ok := s.Cursor(); ok {
		t.Fatal("empty store must have no cursor")
	}
	s.AddPage(time.Time{}, []msg.Message{
		confirmedAt("m2", base.Add(2*time.Second)),
		confirmedAt("m1", base.Add(1*time.Second)),
	})
	cursor, ok := s.Cursor()
	if !ok || !cursor.Equal(base.Add(1*time.Second)) {
		t.Fatalf("unexpected cursor %v ok=%v", cursor, ok)
	}
}

func TestPageStore_EmptyPageEndsHistory(t *testing.T) {
	s := NewPageStore("conv1")
	s.AddPage(time.Time{}, nil)
	if !s.Exhausted() {
		t.Fatal("empty page must mark history exhausted")
	}
}

func TestPageStore_OverlappingPageKeepsMutatedCopy(t *testing.T) {
	base := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	s := NewPageStore("conv1")
	s.AddPage(time.Time{}, []msg.Message{
		confirmedAt("m1", base.Add(time.Second)),
		confirmedAt("m2", base.Add(2*time.Second)),
	})

	// A pushed edit lands while an older fetch is still in flight.
	edited := confirmedAt("m1", base.Add(time.Second))
	edited.Body = "edited body"
	edited.Edited = true
	s.MergeNewest([]msg.Message{edited})

	// The late response overlaps m1 with its pre-edit body.
	s.AddPage(base.Add(time.Second), []msg.Message{
		confirmedAt("m0", base),
		confirmedAt("m1", base.Add(time.Second)),
	})

	flat := s.Flatten()
	assertOrderedUnique(t, flat)
	if len(flat) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(flat))
	}
	if flat[1].Body != "edited body" || !flat[1].Edited {
		t.Fatalf("stale page copy overwrote the edit: %#v", flat[1])
	}
}

func TestPageStore_FullyOverlappingPageIsNoOp(t *testing.T) {
	base := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	s := NewPageStore("conv1")
	s.AddPage(time.Time{}, []msg.Message{confirmedAt("m1", base)})
	s.AddPage(base, []msg.Message{confirmedAt("m1", base)})

	if s.Exhausted() {
		t.Fatal("overlap-only page must not end history")
	}
	if flat := s.Flatten(); len(flat) != 1 {
		t.Fatalf("expected 1 message, got %d", len(flat))
	}
}

func TestPageStore_MergeNewestReplacesInPlace(t *testing.T) {
	base := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	s := NewPageStore("conv1")
	s.AddPage(time.Time{}, []msg.Message{confirmedAt("m1", base)})

	edited := confirmedAt("m1", base)
	edited.Body = "edited body"
	edited.Edited = true
	s.MergeNewest([]msg.Message{edited, confirmedAt("m2", base.Add(time.Second))})

	flat := s.Flatten()
	if len(flat) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(flat))
	}
	if flat[0].Body != "edited body" || !flat[0].Edited {
		t.Fatalf("edit not applied in place: %#v", flat[0])
	}
	if flat[1].LocalKey != "m2" {
		t.Fatalf("new message not appended: %v", flat)
	}
}
