package feed

import "github.com/manifoldchat/manifold/internal/msg"

// Thread is a reply group anchored to a parent message.
type Thread struct {
	ParentID string
	// Replies in ascending timestamp order.
	Replies []msg.Message
}

// Count returns the number of replies in the thread.
func (t Thread) Count() int {
	return len(t.Replies)
}

// LastReply returns the reply with the maximum timestamp.
func (t Thread) LastReply() msg.Message {
	last := t.Replies[0]
	for _, reply := range t.Replies[1:] {
		if reply.Timestamp.After(last.Timestamp) {
			last = reply
		}
	}
	return last
}

// Timeline is the partitioned view of a flattened conversation: top-level
// messages and thread-reply groups keyed by parent identifier.
type Timeline struct {
	Main     []msg.Message
	ByParent map[string]Thread
}

// PartitionTimeline splits an already-ordered flattened view into top-level
// messages and threads. Messages with neither body nor attachments are
// excluded first, independent of thread membership; replies never appear in
// Main.
func PartitionTimeline(flat []msg.Message) Timeline {
	timeline := Timeline{ByParent: make(map[string]Thread)}
	for _, m := range flat {
		if !m.Displayable() {
			continue
		}
		if !m.IsReply() {
			timeline.Main = append(timeline.Main, m)
			continue
		}
		thread := timeline.ByParent[m.ParentID]
		thread.ParentID = m.ParentID
		thread.Replies = append(thread.Replies, m)
		timeline.ByParent[m.ParentID] = thread
	}
	return timeline
}
