package chatserver

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a connected user session on the server side.
type Client struct {
	UserID int64
	Conn   *websocket.Conn
	Send   chan interface{} // Frames queued for this client
	Done   chan struct{}    // Signal to stop reading/writing
}

// ConnectionManager tracks active socket sessions, their room memberships,
// and last-seen timestamps for users that went offline.
type ConnectionManager struct {
	mu       sync.RWMutex
	clients  map[int64]*Client            // user_id -> client
	rooms    map[string]map[int64]struct{} // room_id -> member user ids
	lastSeen map[int64]int64               // user_id -> epoch seconds at disconnect
}

// NewConnectionManager creates an empty manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients:  make(map[int64]*Client),
		rooms:    make(map[string]map[int64]struct{}),
		lastSeen: make(map[int64]int64),
	}
}

// AddClient registers a connection, replacing any existing session for the
// same user. One socket per user session.
func (cm *ConnectionManager) AddClient(userID int64, conn *websocket.Conn) *Client {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if existing, ok := cm.clients[userID]; ok {
		close(existing.Done)
		existing.Conn.Close()
	}

	client := &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan interface{}, 32),
		Done:   make(chan struct{}),
	}
	cm.clients[userID] = client
	delete(cm.lastSeen, userID)
	return client
}

// RemoveClient unregisters a client and records when the user was last
// seen. Room memberships for the user are dropped too.
func (cm *ConnectionManager) RemoveClient(userID int64) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if client, ok := cm.clients[userID]; ok {
		close(client.Done)
		delete(cm.clients, userID)
		cm.lastSeen[userID] = time.Now().Unix()
	}
	for roomID, members := range cm.rooms {
		delete(members, userID)
		if len(members) == 0 {
			delete(cm.rooms, roomID)
		}
	}
}

// IsOnline reports whether a user has an active connection.
func (cm *ConnectionManager) IsOnline(userID int64) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	_, ok := cm.clients[userID]
	return ok
}

// LastSeen returns the epoch seconds the user disconnected, 0 if unknown.
func (cm *ConnectionManager) LastSeen(userID int64) int64 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.lastSeen[userID]
}

// OnlineUsers returns all user ids with an active connection.
func (cm *ConnectionManager) OnlineUsers() []int64 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	users := make([]int64, 0, len(cm.clients))
	for id := range cm.clients {
		users = append(users, id)
	}
	return users
}

// JoinRoom marks the user as a member of the room.
func (cm *ConnectionManager) JoinRoom(userID int64, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	members, ok := cm.rooms[roomID]
	if !ok {
		members = make(map[int64]struct{})
		cm.rooms[roomID] = members
	}
	members[userID] = struct{}{}
}

// LeaveRoom removes the user's room membership.
func (cm *ConnectionManager) LeaveRoom(userID int64, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if members, ok := cm.rooms[roomID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(cm.rooms, roomID)
		}
	}
}

// RoomMembers returns the user ids currently joined to a room.
func (cm *ConnectionManager) RoomMembers(roomID string) []int64 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]int64, 0, len(cm.rooms[roomID]))
	for id := range cm.rooms[roomID] {
		out = append(out, id)
	}
	return out
}

// SendToUser queues a frame for a specific user. Returns an error if the
// user is offline or their queue is saturated.
func (cm *ConnectionManager) SendToUser(userID int64, frame interface{}) error {
	cm.mu.RLock()
	client, ok := cm.clients[userID]
	cm.mu.RUnlock()

	if !ok {
		return fmt.Errorf("user %d is not online", userID)
	}

	select {
	case client.Send <- frame:
		return nil
	case <-client.Done:
		return fmt.Errorf("user %d disconnected", userID)
	default:
		return fmt.Errorf("user %d frame queue full", userID)
	}
}

// Broadcast queues a frame for every connected client. Used for presence
// updates.
func (cm *ConnectionManager) Broadcast(frame interface{}) {
	cm.mu.RLock()
	clients := make([]*Client, 0, len(cm.clients))
	for _, c := range cm.clients {
		clients = append(clients, c)
	}
	cm.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.Send <- frame:
		case <-c.Done:
		default:
		}
	}
}
