package chatserver

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chatlink/pkg/presence"
	"chatlink/pkg/realtime"
	"chatlink/pkg/response"
)

// Outbound frame shapes. Payload fields sit flat next to the type
// discriminator, matching what the client's event decoder expects.
type messageFrame struct {
	Type string `json:"type"`
	realtime.Message
}

type presenceFrame struct {
	Type     string `json:"type"`
	UserID   int64  `json:"user_id"`
	IsOnline bool   `json:"is_online"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

type readReceiptFrame struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
	ReaderID  int64  `json:"reader_id"`
}

type typingFrame struct {
	Type     string `json:"type"`
	SenderID int64  `json:"sender_id"`
}

type inboundFrame struct {
	Type       string `json:"type"`
	RoomID     string `json:"room_id"`
	ReceiverID int64  `json:"receiver_id"`
}

type sendMessageRequest struct {
	ReceiverID  int64  `json:"receiver_id" binding:"required"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	FileURL     string `json:"file_url"`
	Duration    int    `json:"duration"`
}

// Handler serves the wire protocol and the REST collaborator surface the
// client core consumes: dev login, socket upgrade, history, send, read
// state, delete, and bulk presence.
type Handler struct {
	manager *ConnectionManager
	tokens  *TokenRegistry
	store   MessageStore
	logger  interface {
		Printf(string, ...interface{})
	}
}

// NewHandler creates a chat server handler with an in-memory store.
func NewHandler(manager *ConnectionManager, tokens *TokenRegistry) *Handler {
	return &Handler{
		manager: manager,
		tokens:  tokens,
		store:   NewMemoryStore(),
		logger:  log.New(log.Writer(), "[chatserver] ", log.LstdFlags),
	}
}

// SetStore swaps the message store, e.g. for Postgres persistence.
func (h *Handler) SetStore(s MessageStore) {
	if s != nil {
		h.store = s
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin properly
		return true
	},
}

// Register mounts all routes on the router.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/auth/login", h.Login)
	r.GET("/ws", h.HandleWebSocket)
	r.GET("/messages", h.GetMessages)
	r.POST("/messages", h.SendMessage)
	r.POST("/messages/read", h.MarkRead)
	r.DELETE("/messages/:id", h.DeleteMessage)
	r.POST("/presence/status", h.OnlineStatus)
}

// Login issues a development session token for a user id.
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		UserID int64 `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "user_id is required", nil)
		return
	}
	token := h.tokens.Issue(req.UserID)
	response.SendAPIResponse(c, http.StatusOK, true, "session created", map[string]interface{}{
		"token": token,
	})
}

// authUserID resolves the bearer token from the Authorization header or the
// token query parameter.
func (h *Handler) authUserID(c *gin.Context) (int64, bool) {
	token := c.Query("token")
	if auth := c.GetHeader("Authorization"); auth != "" {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if token == "" {
		return 0, false
	}
	return h.tokens.Resolve(token)
}

// HandleWebSocket upgrades the connection and starts the read/write pumps.
// Auth is the token query parameter, matching the client's dial URL.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID, ok := h.tokens.Resolve(c.Query("token"))
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade error: %v", err)
		return
	}

	client := h.manager.AddClient(userID, conn)
	h.logger.Printf("user %d connected", userID)

	h.manager.Broadcast(presenceFrame{
		Type:     realtime.EventPresenceUpdate,
		UserID:   userID,
		IsOnline: true,
	})

	go h.readLoop(client)
	go h.writeLoop(client)
}

// readLoop consumes control frames from the client: join, leave, typing,
// stop_typing. Anything else is logged and ignored.
func (h *Handler) readLoop(client *Client) {
	defer func() {
		h.manager.RemoveClient(client.UserID)
		client.Conn.Close()
		h.logger.Printf("user %d disconnected", client.UserID)

		h.manager.Broadcast(presenceFrame{
			Type:     realtime.EventPresenceUpdate,
			UserID:   client.UserID,
			IsOnline: false,
			LastSeen: h.manager.LastSeen(client.UserID),
		})
	}()

	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-client.Done:
			return
		default:
		}

		var frame inboundFrame
		if err := client.Conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Printf("websocket error for user %d: %v", client.UserID, err)
			}
			return
		}
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		switch frame.Type {
		case realtime.FrameJoin:
			h.manager.JoinRoom(client.UserID, frame.RoomID)
		case realtime.FrameLeave:
			h.manager.LeaveRoom(client.UserID, frame.RoomID)
		case realtime.FrameTyping, realtime.FrameStopTyping:
			if frame.ReceiverID == 0 {
				continue
			}
			relay := typingFrame{Type: frame.Type, SenderID: client.UserID}
			if err := h.manager.SendToUser(frame.ReceiverID, relay); err != nil {
				h.logger.Printf("typing relay to %d dropped: %v", frame.ReceiverID, err)
			}
		default:
			h.logger.Printf("unknown frame type %q from user %d", frame.Type, client.UserID)
		}
	}
}

// writeLoop drains the client's frame queue and keeps the connection alive
// with pings.
func (h *Handler) writeLoop(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-client.Done:
			return

		case frame, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(frame); err != nil {
				h.logger.Printf("write error for user %d: %v", client.UserID, err)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Printf("ping error for user %d: %v", client.UserID, err)
				return
			}
		}
	}
}

// GetMessages returns a page of conversation history with the peer.
func (h *Handler) GetMessages(c *gin.Context) {
	userID, ok := h.authUserID(c)
	if !ok {
		response.SendAPIResponse(c, http.StatusUnauthorized, false, "invalid token", nil)
		return
	}

	peerID, err := strconv.ParseInt(c.Query("peer_id"), 10, 64)
	if err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "peer_id is required", nil)
		return
	}
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if skip < 0 {
		skip = 0
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	msgs, err := h.store.History(c.Request.Context(), userID, peerID, skip, limit)
	if err != nil {
		h.logger.Printf("history %d <-> %d failed: %v", userID, peerID, err)
		response.SendAPIResponse(c, http.StatusInternalServerError, false, "failed to fetch messages", nil)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "messages", map[string]interface{}{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// SendMessage persists a message and pushes the live new_message frame to
// both participants. The REST response carries the authoritative message;
// the sender's socket echo deduplicates client side on the message id.
func (h *Handler) SendMessage(c *gin.Context) {
	userID, ok := h.authUserID(c)
	if !ok {
		response.SendAPIResponse(c, http.StatusUnauthorized, false, "invalid token", nil)
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid message payload", nil)
		return
	}
	if req.ReceiverID == userID {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "cannot send messages to yourself", nil)
		return
	}
	msgType := realtime.MessageType(req.MessageType)
	if msgType == "" {
		msgType = realtime.MessageText
	}
	switch msgType {
	case realtime.MessageText:
		if req.Content == "" {
			response.SendAPIResponse(c, http.StatusBadRequest, false, "content is required", nil)
			return
		}
	case realtime.MessageImage, realtime.MessageVoice:
		if req.FileURL == "" {
			response.SendAPIResponse(c, http.StatusBadRequest, false, "file_url is required", nil)
			return
		}
	case realtime.MessagePromotion:
	default:
		response.SendAPIResponse(c, http.StatusBadRequest, false, "unknown message_type", nil)
		return
	}

	msg, err := h.store.SaveMessage(c.Request.Context(), realtime.Message{
		SenderID:    userID,
		ReceiverID:  req.ReceiverID,
		MessageType: msgType,
		Content:     req.Content,
		FileURL:     req.FileURL,
		Duration:    req.Duration,
	})
	if err != nil {
		h.logger.Printf("save message %d -> %d failed: %v", userID, req.ReceiverID, err)
		response.SendAPIResponse(c, http.StatusInternalServerError, false, "failed to persist message", nil)
		return
	}

	frame := messageFrame{Type: realtime.EventNewMessage, Message: msg}
	for _, target := range []int64{msg.ReceiverID, msg.SenderID} {
		if h.manager.IsOnline(target) {
			if err := h.manager.SendToUser(target, frame); err != nil {
				h.logger.Printf("push new_message %d to %d dropped: %v", msg.ID, target, err)
			}
		}
	}

	response.SendAPIResponse(c, http.StatusCreated, true, "message sent", map[string]interface{}{
		"message": msg,
	})
}

// MarkRead marks every unread message from the peer as read and pushes a
// read_receipt frame per message back to the peer.
func (h *Handler) MarkRead(c *gin.Context) {
	userID, ok := h.authUserID(c)
	if !ok {
		response.SendAPIResponse(c, http.StatusUnauthorized, false, "invalid token", nil)
		return
	}

	var req struct {
		PeerID int64 `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "peer_id is required", nil)
		return
	}

	ids, err := h.store.MarkRead(c.Request.Context(), userID, req.PeerID)
	if err != nil {
		h.logger.Printf("mark read %d from %d failed: %v", userID, req.PeerID, err)
		response.SendAPIResponse(c, http.StatusInternalServerError, false, "failed to mark messages read", nil)
		return
	}

	if h.manager.IsOnline(req.PeerID) {
		for _, id := range ids {
			frame := readReceiptFrame{Type: realtime.EventReadReceipt, MessageID: id, ReaderID: userID}
			if err := h.manager.SendToUser(req.PeerID, frame); err != nil {
				h.logger.Printf("read receipt %d to %d dropped: %v", id, req.PeerID, err)
			}
		}
	}

	response.SendAPIResponse(c, http.StatusOK, true, "messages marked read", map[string]interface{}{
		"message_ids": ids,
	})
}

// DeleteMessage removes a message the requester participates in.
func (h *Handler) DeleteMessage(c *gin.Context) {
	userID, ok := h.authUserID(c)
	if !ok {
		response.SendAPIResponse(c, http.StatusUnauthorized, false, "invalid token", nil)
		return
	}

	messageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid message id", nil)
		return
	}

	switch err := h.store.DeleteMessage(c.Request.Context(), userID, messageID); {
	case errors.Is(err, ErrNotFound):
		response.SendAPIResponse(c, http.StatusNotFound, false, "message not found", nil)
	case err != nil:
		h.logger.Printf("delete message %d failed: %v", messageID, err)
		response.SendAPIResponse(c, http.StatusInternalServerError, false, "failed to delete message", nil)
	default:
		response.SendAPIResponse(c, http.StatusOK, true, "message deleted", nil)
	}
}

// OnlineStatus answers the bulk presence query for a batch of user ids.
func (h *Handler) OnlineStatus(c *gin.Context) {
	if _, ok := h.authUserID(c); !ok {
		response.SendAPIResponse(c, http.StatusUnauthorized, false, "invalid token", nil)
		return
	}

	var req struct {
		UserIDs []int64 `json:"user_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "user_ids is required", nil)
		return
	}

	statuses := make([]presence.Entry, 0, len(req.UserIDs))
	for _, id := range req.UserIDs {
		statuses = append(statuses, presence.Entry{
			UserID:   id,
			IsOnline: h.manager.IsOnline(id),
			LastSeen: h.manager.LastSeen(id),
		})
	}
	response.SendAPIResponse(c, http.StatusOK, true, "online status", map[string]interface{}{
		"statuses": statuses,
	})
}
