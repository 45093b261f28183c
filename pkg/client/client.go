// Package client ties the realtime core together for one authenticated
// session: connection, event routing, room membership, presence, and
// reconciled message state behind a single facade the UI reads from.
package client

import (
	"context"
	"fmt"
	"log"
	"sync"

	"chatlink/pkg/messages"
	"chatlink/pkg/presence"
	"chatlink/pkg/realtime"
	"chatlink/pkg/rooms"
)

// API is the REST collaborator surface the core consumes. Implementations
// live elsewhere (pkg/rest speaks to the chatlink server); the core only
// defines how results merge into local state.
type API interface {
	History(ctx context.Context, peerID int64, skip, limit int) ([]realtime.Message, error)
	SendText(ctx context.Context, receiverID int64, content string) (realtime.Message, error)
	SendImage(ctx context.Context, receiverID int64, fileURL string) (realtime.Message, error)
	SendVoice(ctx context.Context, receiverID int64, fileURL string, duration int) (realtime.Message, error)
	MarkRead(ctx context.Context, peerID int64) error
	DeleteMessage(ctx context.Context, messageID int64) error
	OnlineStatus(ctx context.Context, userIDs []int64) ([]presence.Entry, error)
}

// Config configures a session client.
type Config struct {
	// SelfID is the authenticated user's id.
	SelfID int64

	// Realtime configures the socket connection.
	Realtime realtime.Config

	// Tokens supplies the bearer credential for the socket handshake.
	Tokens realtime.TokenSource

	// API is the REST collaborator.
	API API

	// HistoryPageSize bounds history fetches on conversation activation.
	// Default 50.
	HistoryPageSize int

	Logger realtime.Logger
}

// Client is the per-session entry point. Construct one at login, Close it
// at logout. All state it exposes is a snapshot; the UI never mutates it.
type Client struct {
	cfg    Config
	api    API
	logger realtime.Logger

	conn     *realtime.Conn
	router   *realtime.Router
	tracker  *rooms.Tracker
	presence *presence.Aggregator
	store    *messages.Store

	mu         sync.Mutex
	activeRoom string
	activePeer int64

	cbMu     sync.Mutex
	onTyping []func(senderID int64, typing bool)
	onUpdate []func()
}

// New builds a session client and wires inbound events into the reconciler
// and the presence aggregator. It does not connect; call Connect.
func New(cfg Config) *Client {
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[chatlink] ", log.LstdFlags)
	}

	c := &Client{
		cfg:    cfg,
		api:    cfg.API,
		logger: cfg.Logger,
		router: realtime.NewRouter(),
	}
	c.router.SetLogger(cfg.Logger)
	c.conn = realtime.NewConn(cfg.Realtime, cfg.Tokens, c.router)
	c.tracker = rooms.NewTracker(c.conn)
	c.tracker.SetLogger(cfg.Logger)
	c.presence = presence.NewAggregator(cfg.API, c.conn.Connected)
	c.presence.SetLogger(cfg.Logger)
	c.store = messages.NewStore(cfg.SelfID, cfg.API)
	c.store.SetLogger(cfg.Logger)

	c.router.On(realtime.EventNewMessage, func(ev realtime.Event) {
		e, ok := ev.(realtime.NewMessageEvent)
		if !ok {
			return
		}
		peer := e.SenderID
		if peer == c.cfg.SelfID {
			peer = e.ReceiverID
		}
		if c.store.ApplyLive(peer, e.Message) {
			c.notifyUpdate()
		}
	})
	c.router.On(realtime.EventPresenceUpdate, func(ev realtime.Event) {
		e, ok := ev.(realtime.PresenceEvent)
		if !ok {
			return
		}
		c.presence.ApplyLiveEvent(e.UserID, e.IsOnline, e.LastSeen)
		c.notifyUpdate()
	})
	c.router.On(realtime.EventReadReceipt, func(ev realtime.Event) {
		e, ok := ev.(realtime.ReadReceiptEvent)
		if !ok {
			return
		}
		c.store.MarkMessageRead(e.ReaderID, e.MessageID)
		c.notifyUpdate()
	})
	typing := func(ev realtime.Event) {
		e, ok := ev.(realtime.TypingEvent)
		if !ok {
			return
		}
		c.cbMu.Lock()
		handlers := make([]func(int64, bool), len(c.onTyping))
		copy(handlers, c.onTyping)
		c.cbMu.Unlock()
		for _, h := range handlers {
			h(e.SenderID, !e.Stopped)
		}
	}
	c.router.On(realtime.EventTyping, typing)
	c.router.On(realtime.EventStopTyping, typing)

	// Live events observed from here on supersede anything a bulk query
	// fetched before the outage.
	c.conn.OnConnect(c.presence.Reset)

	return c
}

// Connect opens the realtime socket. Idempotent; a missing token is "not
// ready", not an error.
func (c *Client) Connect() error { return c.conn.Connect() }

// Close tears the session down: leaves the active room bookkeeping behind
// and disconnects without scheduling a reconnect.
func (c *Client) Close() {
	c.conn.Disconnect()
}

// Connected reports whether the socket is open.
func (c *Client) Connected() bool { return c.conn.Connected() }

// Conn exposes the connection for callback registration.
func (c *Client) Conn() *realtime.Conn { return c.conn }

// Router exposes the event router for extra subscribers.
func (c *Client) Router() *realtime.Router { return c.router }

// Presence exposes the presence aggregator.
func (c *Client) Presence() *presence.Aggregator { return c.presence }

// OnTyping registers a callback for peer typing indicators.
func (c *Client) OnTyping(f func(senderID int64, typing bool)) {
	c.cbMu.Lock()
	c.onTyping = append(c.onTyping, f)
	c.cbMu.Unlock()
}

// OnUpdate registers a callback fired after any message or presence state
// change, for the UI to re-render from snapshots.
func (c *Client) OnUpdate(f func()) {
	c.cbMu.Lock()
	c.onUpdate = append(c.onUpdate, f)
	c.cbMu.Unlock()
}

func (c *Client) notifyUpdate() {
	c.cbMu.Lock()
	handlers := make([]func(), len(c.onUpdate))
	copy(handlers, c.onUpdate)
	c.cbMu.Unlock()
	for _, h := range handlers {
		h()
	}
}

// SetActiveConversation makes peerID the active conversation: leaves the
// previous room, joins the new one, and loads the first history page. The
// reconciler's dedup makes it safe for live messages to land while the
// fetch is in flight.
func (c *Client) SetActiveConversation(ctx context.Context, peerID int64) error {
	room := rooms.RoomID(c.cfg.SelfID, peerID)

	c.mu.Lock()
	prev := c.activeRoom
	c.activeRoom = room
	c.activePeer = peerID
	c.mu.Unlock()

	c.tracker.Switch(prev, room)

	history, err := c.api.History(ctx, peerID, 0, c.cfg.HistoryPageSize)
	if err != nil {
		return fmt.Errorf("load history for peer %d: %w", peerID, err)
	}
	c.store.LoadHistory(peerID, history)
	c.notifyUpdate()
	return nil
}

// LeaveActiveConversation leaves the current room, e.g. when the chat view
// unmounts.
func (c *Client) LeaveActiveConversation() {
	c.mu.Lock()
	prev := c.activeRoom
	c.activeRoom = ""
	c.activePeer = 0
	c.mu.Unlock()

	if prev != "" {
		c.tracker.Leave(prev)
	}
}

// ActivePeer returns the peer id of the active conversation, 0 when none.
func (c *Client) ActivePeer() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activePeer
}

// SendText sends a text message over REST, the durable path, and records
// the authoritative response immediately. A later socket echo of the same
// id deduplicates to a no-op.
func (c *Client) SendText(ctx context.Context, peerID int64, content string) (realtime.Message, error) {
	msg, err := c.api.SendText(ctx, peerID, content)
	if err != nil {
		return realtime.Message{}, fmt.Errorf("send text to %d: %w", peerID, err)
	}
	c.store.ApplySent(peerID, msg)
	c.notifyUpdate()
	return msg, nil
}

// SendImage sends an image message over REST.
func (c *Client) SendImage(ctx context.Context, peerID int64, fileURL string) (realtime.Message, error) {
	msg, err := c.api.SendImage(ctx, peerID, fileURL)
	if err != nil {
		return realtime.Message{}, fmt.Errorf("send image to %d: %w", peerID, err)
	}
	c.store.ApplySent(peerID, msg)
	c.notifyUpdate()
	return msg, nil
}

// SendVoice sends a voice message over REST.
func (c *Client) SendVoice(ctx context.Context, peerID int64, fileURL string, duration int) (realtime.Message, error) {
	msg, err := c.api.SendVoice(ctx, peerID, fileURL, duration)
	if err != nil {
		return realtime.Message{}, fmt.Errorf("send voice to %d: %w", peerID, err)
	}
	c.store.ApplySent(peerID, msg)
	c.notifyUpdate()
	return msg, nil
}

// SendTyping notifies the peer that we started typing. Fire-and-forget.
func (c *Client) SendTyping(peerID int64) {
	_ = c.conn.Send(realtime.FrameTyping, map[string]interface{}{"receiver_id": peerID})
}

// SendStopTyping notifies the peer that we stopped typing.
func (c *Client) SendStopTyping(peerID int64) {
	_ = c.conn.Send(realtime.FrameStopTyping, map[string]interface{}{"receiver_id": peerID})
}

// MarkConversationRead optimistically marks the peer's messages read and
// persists via REST in the background.
func (c *Client) MarkConversationRead(ctx context.Context, peerID int64) {
	c.store.MarkConversationRead(ctx, peerID)
	c.notifyUpdate()
}

// RemoveMessage removes a message locally; with forEveryone it first issues
// the REST delete so the peer's copy goes too.
func (c *Client) RemoveMessage(ctx context.Context, peerID, messageID int64, forEveryone bool) error {
	if forEveryone {
		if err := c.api.DeleteMessage(ctx, messageID); err != nil {
			return fmt.Errorf("delete message %d: %w", messageID, err)
		}
	}
	c.store.Remove(peerID, messageID)
	c.notifyUpdate()
	return nil
}

// RefreshPresence requests current status for a batch of users, typically
// the visible friend list. No-op while disconnected.
func (c *Client) RefreshPresence(ctx context.Context, userIDs []int64) {
	c.presence.RequestBulk(ctx, userIDs)
	c.notifyUpdate()
}

// Messages returns the reconciled ordered sequence for a conversation.
func (c *Client) Messages(peerID int64) []realtime.Message {
	return c.store.Messages(peerID)
}

// UnreadCount returns the conversation's derived unread count.
func (c *Client) UnreadCount(peerID int64) int {
	return c.store.UnreadCount(peerID)
}

// TotalUnread is the global badge count.
func (c *Client) TotalUnread() int {
	return c.store.TotalUnread()
}

// IsOnline reports the tracked presence for a user, falling back to the
// caller's last known value when no live signal has arrived.
func (c *Client) IsOnline(userID int64, fallback bool) bool {
	return c.presence.IsOnline(userID, fallback)
}
