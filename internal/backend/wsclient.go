package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/manifoldchat/manifold/internal/logging"
	"github.com/manifoldchat/manifold/internal/msg"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the peer.
	maxMessageSize = 1 << 20

	defaultCallTimeout     = 15 * time.Second
	defaultSubscribeBuffer = 256
	defaultPageSize        = 50
)

// WSConfig configures the WebSocket backend client.
type WSConfig struct {
	// URL is the backend endpoint, e.g. ws://127.0.0.1:7644/stream.
	URL string

	// CallTimeout bounds each request/response call.
	CallTimeout time.Duration

	// SubscribeBuffer sizes each subscriber's event channel.
	SubscribeBuffer int

	// PageSize is the message count requested per history fetch.
	PageSize int
}

// WSClient talks to the aggregator backend over one WebSocket carrying JSON
// envelopes: correlated request/response pairs plus uncorrelated push events.
type WSClient struct {
	url             string
	callTimeout     time.Duration
	subscribeBuffer int
	pageSize        int
	log             zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan wsResponse
	subs     map[string]subscriber
	cycleSeq map[string]int64
	closed   bool

	done chan struct{}
}

type subscriber struct {
	filter SubscribeFilter
	ch     chan Event
}

type wsRequest struct {
	ID      string      `json:"id"`
	Op      string      `json:"op"`
	Payload interface{} `json:"payload,omitempty"`
}

type wsError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (e *wsError) String() string {
	if e == nil {
		return "unknown error"
	}
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

type wsEnvelope struct {
	ID      string          `json:"id,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsResponse struct {
	payload json.RawMessage
	err     error
}

// NewWSClient dials the backend and starts the read and ping pumps.
func NewWSClient(ctx context.Context, cfg WSConfig) (*WSClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("backend url required")
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	subscribeBuffer := cfg.SubscribeBuffer
	if subscribeBuffer <= 0 {
		subscribeBuffer = defaultSubscribeBuffer
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransient, cfg.URL, err)
	}

	c := &WSClient{
		url:             cfg.URL,
		callTimeout:     callTimeout,
		subscribeBuffer: subscribeBuffer,
		pageSize:        pageSize,
		log:             logging.Component("backend"),
		conn:            conn,
		pending:         make(map[string]chan wsResponse),
		subs:            make(map[string]subscriber),
		cycleSeq:        make(map[string]int64),
		done:            make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.pingPump()
	return c, nil
}

// Close tears down the connection. Outstanding calls fail with ErrTransient.
func (c *WSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *WSClient) ListConversations(ctx context.Context) ([]msg.Conversation, error) {
	raw, err := c.call(ctx, "list_conversations", nil)
	if err != nil {
		return nil, err
	}
	var listing struct {
		Conversations []json.RawMessage `json:"conversations"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, fmt.Errorf("%w: list_conversations response: %v", msg.ErrMalformedPayload, err)
	}
	decoded, dropped := msg.DecodeConversations(listing.Conversations)
	if dropped > 0 {
		c.log.Warn().Int("dropped", dropped).Msg("dropped malformed directory entries")
	}
	return decoded, nil
}

func (c *WSClient) FetchInitialPage(ctx context.Context, conversationID string) ([]msg.Message, error) {
	return c.fetchPage(ctx, "fetch_initial", map[string]interface{}{
		"conversation_id": conversationID,
		"limit":           c.pageSize,
	}, conversationID)
}

func (c *WSClient) FetchPageBefore(ctx context.Context, conversationID string, before time.Time) ([]msg.Message, error) {
	return c.fetchPage(ctx, "fetch_before", map[string]interface{}{
		"conversation_id": conversationID,
		"before":          before.UnixMilli(),
		"limit":           c.pageSize,
	}, conversationID)
}

func (c *WSClient) fetchPage(ctx context.Context, op string, payload interface{}, conversationID string) ([]msg.Message, error) {
	raw, err := c.call(ctx, op, payload)
	if err != nil {
		return nil, err
	}
	var page struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("%w: %s response: %v", msg.ErrMalformedPayload, op, err)
	}
	decoded, dropped := msg.DecodePage(page.Messages, conversationID)
	if dropped > 0 {
		c.log.Warn().Str("op", op).Int("dropped", dropped).Msg("dropped malformed page entries")
	}
	return decoded, nil
}

func (c *WSClient) SendMessage(ctx context.Context, conversationID, text string) (msg.Message, error) {
	return c.sendOp(ctx, "send_message", map[string]interface{}{
		"conversation_id": conversationID,
		"text":            text,
	}, conversationID)
}

func (c *WSClient) SendReply(ctx context.Context, conversationID, text, parentID string) (msg.Message, error) {
	return c.sendOp(ctx, "send_reply", map[string]interface{}{
		"conversation_id": conversationID,
		"text":            text,
		"parent_id":       parentID,
	}, conversationID)
}

func (c *WSClient) sendOp(ctx context.Context, op string, payload interface{}, conversationID string) (msg.Message, error) {
	raw, err := c.call(ctx, op, payload)
	if err != nil {
		return msg.Message{}, err
	}
	confirmed, err := msg.DecodeMessage(raw, conversationID)
	if err != nil {
		return msg.Message{}, err
	}
	return confirmed, nil
}

func (c *WSClient) EditMessage(ctx context.Context, conversationID, serverID, newText string) error {
	_, err := c.call(ctx, "edit_message", map[string]interface{}{
		"conversation_id": conversationID,
		"server_id":       serverID,
		"text":            newText,
	})
	return err
}

func (c *WSClient) DeleteMessage(ctx context.Context, conversationID, serverID string) error {
	_, err := c.call(ctx, "delete_message", map[string]interface{}{
		"conversation_id": conversationID,
		"server_id":       serverID,
	})
	return err
}

// Subscribe registers a push-event subscriber. Events are delivered in
// arrival order; a subscriber that falls more than the buffer size behind
// loses the oldest events.
func (c *WSClient) Subscribe(filter SubscribeFilter) (<-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, c.subscribeBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subs[id] = subscriber{filter: filter, ch: ch}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		sub, ok := c.subs[id]
		if ok {
			delete(c.subs, id)
		}
		c.mu.Unlock()
		if ok {
			close(sub.ch)
		}
	}
	return ch, cancel
}

func (c *WSClient) call(ctx context.Context, op string, payload interface{}) (json.RawMessage, error) {
	ctx, cancelCtx := context.WithTimeout(ctx, c.callTimeout)
	defer cancelCtx()

	id := uuid.NewString()
	respCh := make(chan wsResponse, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: connection closed", ErrTransient)
	}
	c.pending[id] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.writeJSON(wsRequest{ID: id, Op: op, Payload: payload}); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrTransient, op, err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrTransient, op, ctx.Err())
	case <-c.done:
		return nil, fmt.Errorf("%w: connection closed", ErrTransient)
	case resp := <-respCh:
		if resp.err != nil {
			return nil, resp.err
		}
		return resp.payload, nil
	}
}

func (c *WSClient) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *WSClient) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *WSClient) readPump() {
	defer c.teardown()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("backend connection lost")
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn().Err(err).Msg("dropped malformed envelope")
			continue
		}

		switch {
		case env.ID != "":
			c.dispatchResponse(env)
		case env.Event != "":
			c.dispatchEvent(env)
		}
	}
}

func (c *WSClient) dispatchResponse(env wsEnvelope) {
	c.mu.Lock()
	respCh, ok := c.pending[env.ID]
	c.mu.Unlock()
	if !ok {
		return
	}

	resp := wsResponse{payload: env.Payload}
	if env.OK != nil && !*env.OK {
		if env.Error != nil && env.Error.Retryable {
			resp.err = fmt.Errorf("%w: %s", ErrTransient, env.Error.String())
		} else {
			resp.err = fmt.Errorf("%w: %s", ErrRejected, env.Error.String())
		}
	}
	respCh <- resp
}

func (c *WSClient) dispatchEvent(env wsEnvelope) {
	var ev Event
	switch EventType(env.Event) {
	case EventSyncStatus:
		var status struct {
			Cycle string `json:"cycle"`
			Seq   int64  `json:"seq"`
		}
		if err := json.Unmarshal(env.Payload, &status); err != nil {
			c.log.Warn().Err(err).Msg("dropped malformed sync status")
			return
		}
		if c.staleSyncStatus(status.Cycle, status.Seq) {
			return
		}
		ev = Event{Type: EventSyncStatus, Cycle: status.Cycle, Seq: status.Seq, Status: env.Payload}

	case EventNewData:
		var data struct {
			ConversationID string            `json:"conversation_id"`
			Messages       []json.RawMessage `json:"messages"`
		}
		if err := json.Unmarshal(env.Payload, &data); err != nil || data.ConversationID == "" {
			c.log.Warn().Msg("dropped malformed new-data event")
			return
		}
		decoded, dropped := msg.DecodePage(data.Messages, data.ConversationID)
		if dropped > 0 {
			c.log.Warn().Int("dropped", dropped).Msg("dropped malformed push entries")
		}
		ev = Event{
			Type:           EventNewData,
			ConversationID: data.ConversationID,
			Messages:       decoded,
			Dropped:        dropped,
		}

	default:
		c.log.Debug().Str("event", env.Event).Msg("ignoring unknown push event")
		return
	}

	c.mu.Lock()
	subs := make([]subscriber, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.filter.matches(ev) {
			subs = append(subs, sub)
		}
	}
	c.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber: shed the oldest buffered event.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// staleSyncStatus drops sync-status events at or below the highest sequence
// already seen for their cycle, so a late "fetching" can never follow a
// "completed" from the same cycle.
func (c *WSClient) staleSyncStatus(cycle string, seq int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq <= c.cycleSeq[cycle] {
		return true
	}
	c.cycleSeq[cycle] = seq
	return false
}

func (c *WSClient) teardown() {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]chan wsResponse)
	subs := c.subs
	c.subs = make(map[string]subscriber)
	c.mu.Unlock()

	if !alreadyClosed {
		close(c.done)
	}
	_ = c.conn.Close()

	for _, respCh := range pending {
		respCh <- wsResponse{err: fmt.Errorf("%w: connection closed", ErrTransient)}
	}
	for _, sub := range subs {
		close(sub.ch)
	}
}
