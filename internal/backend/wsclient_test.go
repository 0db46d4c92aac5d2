package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeRequest mirrors the client's request envelope, keeping the payload raw
// so handlers can decode it themselves.
type fakeRequest struct {
	ID      string          `json:"id"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

// fakeBackend upgrades one connection and answers ops from canned handlers.
type fakeBackend struct {
	t        *testing.T
	upgrader websocket.Upgrader
	handlers map[string]func(payload json.RawMessage) wsEnvelope

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeBackend(t *testing.T) *fakeBackend {
	return &fakeBackend{
		t:        t,
		handlers: make(map[string]func(payload json.RawMessage) wsEnvelope),
	}
}

func (f *fakeBackend) handle(op string, fn func(payload json.RawMessage) wsEnvelope) {
	f.handlers[op] = fn
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	for {
		var req fakeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		handler, ok := f.handlers[req.Op]
		if !ok {
			f.t.Errorf("unexpected op %q", req.Op)
			return
		}
		resp := handler(req.Payload)
		resp.ID = req.ID
		f.mu.Lock()
		_ = conn.WriteJSON(resp)
		f.mu.Unlock()
	}
}

func (f *fakeBackend) push(event string, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		f.t.Fatal("no connection to push on")
	}
	env := wsEnvelope{Event: event, Payload: json.RawMessage(payload)}
	if err := f.conn.WriteJSON(env); err != nil {
		f.t.Fatalf("push: %v", err)
	}
}

func okEnvelope(payload string) wsEnvelope {
	ok := true
	return wsEnvelope{OK: &ok, Payload: json.RawMessage(payload)}
}

func errEnvelope(code, message string, retryable bool) wsEnvelope {
	ok := false
	return wsEnvelope{OK: &ok, Error: &wsError{Code: code, Message: message, Retryable: retryable}}
}

func dialTestClient(t *testing.T, fake *fakeBackend) *WSClient {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := NewWSClient(context.Background(), WSConfig{URL: url, CallTimeout: 2 * time.Second, PageSize: 25})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestWSClient_FetchInitialPage(t *testing.T) {
	fake := newFakeBackend(t)
	fake.handle("fetch_initial", func(payload json.RawMessage) wsEnvelope {
		var req struct {
			ConversationID string `json:"conversation_id"`
			Limit          int    `json:"limit"`
		}
		require.NoError(t, json.Unmarshal(payload, &req))
		require.Equal(t, "conv1", req.ConversationID)
		require.Equal(t, 25, req.Limit, "configured page size travels with the fetch")
		return okEnvelope(`{"messages":[
			{"guid":"m1","text":"hi","ts":1700000000,"from":"alice"},
			{"text":"no id","ts":1700000001},
			{"guid":"m2","text":"there","ts":1700000002,"from":"bob"}
		]}`)
	})
	client := dialTestClient(t, fake)

	page, err := client.FetchInitialPage(context.Background(), "conv1")
	require.NoError(t, err)
	require.Len(t, page, 2, "malformed sibling dropped, rest applied")
	require.Equal(t, "m1", page[0].ServerID)
	require.Equal(t, "conv1", page[0].ConversationID)
	require.Equal(t, "m2", page[1].ServerID)
}

func TestWSClient_ListConversations(t *testing.T) {
	fake := newFakeBackend(t)
	fake.handle("list_conversations", func(json.RawMessage) wsEnvelope {
		return okEnvelope(`{"conversations":[
			{"chat_id":"conv2","display_name":"Standup","last_message_at":1700000100},
			{"bad":"entry"},
			{"id":"conv1","title":"Dana","last_activity":1700000200}
		]}`)
	})
	client := dialTestClient(t, fake)

	listing, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, listing, 2, "malformed directory entry dropped")
	require.Equal(t, "conv1", listing[0].ID, "most recent activity first")
	require.Equal(t, "Dana", listing[0].Title)
	require.Equal(t, "Standup", listing[1].Title)
}

func TestWSClient_SendMessageConfirmed(t *testing.T) {
	fake := newFakeBackend(t)
	fake.handle("send_message", func(payload json.RawMessage) wsEnvelope {
		return okEnvelope(`{"guid":"m42","text":"hi","ts":1700000005,"is_from_me":true}`)
	})
	client := dialTestClient(t, fake)

	confirmed, err := client.SendMessage(context.Background(), "conv1", "hi")
	require.NoError(t, err)
	require.Equal(t, "m42", confirmed.ServerID)
	require.True(t, confirmed.FromMe)
}

func TestWSClient_ErrorClassification(t *testing.T) {
	fake := newFakeBackend(t)
	fake.handle("edit_message", func(json.RawMessage) wsEnvelope {
		return errEnvelope("edit_denied", "message too old", false)
	})
	fake.handle("delete_message", func(json.RawMessage) wsEnvelope {
		return errEnvelope("busy", "try again", true)
	})
	client := dialTestClient(t, fake)

	err := client.EditMessage(context.Background(), "conv1", "m1", "new")
	require.ErrorIs(t, err, ErrRejected)

	err = client.DeleteMessage(context.Background(), "conv1", "m1")
	require.ErrorIs(t, err, ErrTransient)
}

func TestWSClient_PushEventsFiltered(t *testing.T) {
	fake := newFakeBackend(t)
	fake.handle("fetch_initial", func(json.RawMessage) wsEnvelope {
		return okEnvelope(`{"messages":[]}`)
	})
	client := dialTestClient(t, fake)

	// Establish the server-side connection before pushing.
	_, err := client.FetchInitialPage(context.Background(), "conv1")
	require.NoError(t, err)

	events, cancel := client.Subscribe(SubscribeFilter{ConversationID: "conv1"})
	defer cancel()

	fake.push("new_data", `{"conversation_id":"conv2","messages":[{"guid":"x1","text":"other","ts":1700000010}]}`)
	fake.push("new_data", `{"conversation_id":"conv1","messages":[{"guid":"m9","text":"mine","ts":1700000011}]}`)

	select {
	case ev := <-events:
		require.Equal(t, EventNewData, ev.Type)
		require.Equal(t, "conv1", ev.ConversationID, "conv2 event must be filtered out")
		require.Len(t, ev.Messages, 1)
		require.Equal(t, "m9", ev.Messages[0].ServerID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push event")
	}
}

func TestWSClient_SyncStatusSequenceDedup(t *testing.T) {
	fake := newFakeBackend(t)
	fake.handle("fetch_initial", func(json.RawMessage) wsEnvelope {
		return okEnvelope(`{"messages":[]}`)
	})
	client := dialTestClient(t, fake)
	_, err := client.FetchInitialPage(context.Background(), "conv1")
	require.NoError(t, err)

	events, cancel := client.Subscribe(SubscribeFilter{})
	defer cancel()

	fake.push("sync_status", `{"cycle":"c1","seq":1,"state":"fetching"}`)
	fake.push("sync_status", `{"cycle":"c1","seq":3,"state":"completed"}`)
	fake.push("sync_status", `{"cycle":"c1","seq":2,"state":"fetching"}`)
	fake.push("sync_status", `{"cycle":"c2","seq":1,"state":"fetching"}`)

	var got []int64
	var cycles []string
	deadline := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case ev := <-events:
			require.Equal(t, EventSyncStatus, ev.Type)
			got = append(got, ev.Seq)
			cycles = append(cycles, ev.Cycle)
		case <-deadline:
			t.Fatalf("timed out, got %v", got)
		}
	}
	require.Equal(t, []int64{1, 3, 1}, got, "late seq 2 for cycle c1 must be dropped")
	require.Equal(t, []string{"c1", "c1", "c2"}, cycles)

	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWSClient_ConnectionLossFailsPendingTransient(t *testing.T) {
	fake := newFakeBackend(t)
	fake.handle("fetch_initial", func(json.RawMessage) wsEnvelope {
		return okEnvelope(`{"messages":[]}`)
	})
	client := dialTestClient(t, fake)
	_, err := client.FetchInitialPage(context.Background(), "conv1")
	require.NoError(t, err)

	require.NoError(t, client.Close())

	_, err = client.FetchInitialPage(context.Background(), "conv1")
	require.True(t, errors.Is(err, ErrTransient))
}
