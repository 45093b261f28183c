// Package rooms tracks which conversation rooms the client has joined and
// emits the join/leave control frames that scope message delivery.
package rooms

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"chatlink/pkg/realtime"
)

// FrameSender is the outbound side of the socket, satisfied by
// *realtime.Conn.
type FrameSender interface {
	Send(eventType string, data map[string]interface{}) error
}

// RoomID derives the conversation room id for two participants. Both peers
// sort the pair so they compute the same id with no negotiation.
func RoomID(a, b int64) string {
	ids := []int64{a, b}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return fmt.Sprintf("%d_%d", ids[0], ids[1])
}

// Tracker remembers joined rooms and keeps join/leave transitions for a room
// strictly ordered: the tracked-set check and the control frame happen under
// one lock, so the same room is never mid-transition twice.
type Tracker struct {
	sender FrameSender
	logger realtime.Logger

	mu     sync.Mutex
	joined map[string]struct{}
}

// NewTracker creates a tracker that emits control frames through sender.
func NewTracker(sender FrameSender) *Tracker {
	return &Tracker{
		sender: sender,
		logger: log.New(log.Writer(), "[rooms] ", log.LstdFlags),
		joined: make(map[string]struct{}),
	}
}

// SetLogger replaces the tracker's logger.
func (t *Tracker) SetLogger(l realtime.Logger) {
	if l != nil {
		t.logger = l
	}
}

// Join sends a join frame and marks the room joined. Already-joined rooms
// are a no-op.
func (t *Tracker) Join(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.joined[roomID]; ok {
		return
	}
	if err := t.sender.Send(realtime.FrameJoin, map[string]interface{}{"room_id": roomID}); err != nil {
		t.logger.Printf("join %s frame not delivered: %v", roomID, err)
	}
	t.joined[roomID] = struct{}{}
}

// Leave sends a leave frame and unmarks the room. Untracked rooms are a
// no-op.
func (t *Tracker) Leave(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.joined[roomID]; !ok {
		return
	}
	if err := t.sender.Send(realtime.FrameLeave, map[string]interface{}{"room_id": roomID}); err != nil {
		t.logger.Printf("leave %s frame not delivered: %v", roomID, err)
	}
	delete(t.joined, roomID)
}

// Switch leaves prev (when non-empty) and joins next in a single call, so
// switching the active conversation is one transition with no window where
// both rooms are held.
func (t *Tracker) Switch(prev, next string) {
	if prev != "" && prev != next {
		t.Leave(prev)
	}
	if next != "" {
		t.Join(next)
	}
}

// Joined reports whether the room is currently tracked as joined.
func (t *Tracker) Joined(roomID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.joined[roomID]
	return ok
}

// Rooms returns a snapshot of the joined room ids.
func (t *Tracker) Rooms() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.joined))
	for id := range t.joined {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
