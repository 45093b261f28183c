// Package messages reconciles REST-fetched history with live-streamed
// messages per conversation and derives the unread counts the UI renders.
package messages

import (
	"context"
	"log"
	"sort"
	"sync"

	"chatlink/pkg/realtime"
)

// ReadPersister is the REST collaborator that persists read state. Failures
// are logged only; the local optimistic update stands.
type ReadPersister interface {
	MarkRead(ctx context.Context, peerID int64) error
}

type conversation struct {
	msgs []realtime.Message
	ids  map[int64]struct{}
}

func newConversation() *conversation {
	return &conversation{ids: make(map[int64]struct{})}
}

// Store owns per-conversation message state, keyed by peer user id. All
// mutation goes through it; readers get snapshots. Duplicate deliveries
// collapse on the server-assigned message id, which makes the merge of a
// REST send response and its live echo order-independent.
type Store struct {
	self      int64
	persister ReadPersister
	logger    realtime.Logger

	mu     sync.Mutex
	convos map[int64]*conversation
}

// NewStore creates a store for the given local user id. persister may be
// nil when read state is not persisted.
func NewStore(selfID int64, persister ReadPersister) *Store {
	return &Store{
		self:      selfID,
		persister: persister,
		logger:    log.New(log.Writer(), "[messages] ", log.LstdFlags),
		convos:    make(map[int64]*conversation),
	}
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(l realtime.Logger) {
	if l != nil {
		s.logger = l
	}
}

// SelfID returns the local user id the store counts unread against.
func (s *Store) SelfID() int64 { return s.self }

// LoadHistory replaces the conversation with a REST-fetched page, sorted
// ascending by created_at with ties broken by id.
func (s *Store) LoadHistory(peerID int64, msgs []realtime.Message) {
	conv := newConversation()
	conv.msgs = make([]realtime.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := conv.ids[m.ID]; dup {
			continue
		}
		conv.ids[m.ID] = struct{}{}
		conv.msgs = append(conv.msgs, m)
	}
	sort.SliceStable(conv.msgs, func(i, j int) bool {
		a, b := conv.msgs[i], conv.msgs[j]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})

	s.mu.Lock()
	s.convos[peerID] = conv
	s.mu.Unlock()
}

// ApplyLive inserts a pushed message unless its id is already present.
// Reports whether the message was new. Applying the same message twice is a
// no-op, so history loads and live echoes can race freely.
func (s *Store) ApplyLive(peerID int64, m realtime.Message) bool {
	return s.insert(peerID, m)
}

// ApplySent records the authoritative message returned by the REST send
// call, without waiting for the live echo. The echo, if it arrives, is
// dropped as a duplicate.
func (s *Store) ApplySent(peerID int64, m realtime.Message) bool {
	return s.insert(peerID, m)
}

func (s *Store) insert(peerID int64, m realtime.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.convos[peerID]
	if conv == nil {
		conv = newConversation()
		s.convos[peerID] = conv
	}
	if _, dup := conv.ids[m.ID]; dup {
		return false
	}
	conv.ids[m.ID] = struct{}{}

	// Insert after any message with the same timestamp so arrival order is
	// the tie-break for live traffic.
	pos := sort.Search(len(conv.msgs), func(i int) bool {
		return conv.msgs[i].CreatedAt > m.CreatedAt
	})
	conv.msgs = append(conv.msgs, realtime.Message{})
	copy(conv.msgs[pos+1:], conv.msgs[pos:])
	conv.msgs[pos] = m
	return true
}

// Remove deletes a message locally. Server-side deletion is the caller's
// concern; "remove for me" stops here, "remove for everyone" also issues
// the REST delete.
func (s *Store) Remove(peerID, messageID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.convos[peerID]
	if conv == nil {
		return false
	}
	if _, ok := conv.ids[messageID]; !ok {
		return false
	}
	delete(conv.ids, messageID)
	for i, m := range conv.msgs {
		if m.ID == messageID {
			conv.msgs = append(conv.msgs[:i:i], conv.msgs[i+1:]...)
			break
		}
	}
	return true
}

// Messages returns a copy of the conversation's ordered sequence. Safe to
// call from a render path; never nil.
func (s *Store) Messages(peerID int64) []realtime.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.convos[peerID]
	if conv == nil {
		return []realtime.Message{}
	}
	out := make([]realtime.Message, len(conv.msgs))
	copy(out, conv.msgs)
	return out
}

// MarkMessageRead flips is_read on a single message, typically when the
// peer's read receipt arrives for something we sent.
func (s *Store) MarkMessageRead(peerID, messageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.convos[peerID]
	if conv == nil {
		return
	}
	for i := range conv.msgs {
		if conv.msgs[i].ID == messageID {
			conv.msgs[i].IsRead = true
			return
		}
	}
}

// MarkConversationRead marks every loaded message from the peer as read
// locally, then asks the REST collaborator to persist without blocking the
// caller.
func (s *Store) MarkConversationRead(ctx context.Context, peerID int64) {
	s.mu.Lock()
	conv := s.convos[peerID]
	changed := false
	if conv != nil {
		for i := range conv.msgs {
			if conv.msgs[i].SenderID == peerID && !conv.msgs[i].IsRead {
				conv.msgs[i].IsRead = true
				changed = true
			}
		}
	}
	s.mu.Unlock()

	if !changed || s.persister == nil {
		return
	}
	// The caller's request scope may end before the persist finishes;
	// cancellation must not revert the read state server side.
	persistCtx := context.WithoutCancel(ctx)
	go func() {
		if err := s.persister.MarkRead(persistCtx, peerID); err != nil {
			s.logger.Printf("persist read state for peer %d failed: %v", peerID, err)
		}
	}()
}

// UnreadCount derives the conversation's unread count: messages from the
// peer not yet read. Recomputed on every call so it cannot drift.
func (s *Store) UnreadCount(peerID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadLocked(peerID)
}

func (s *Store) unreadLocked(peerID int64) int {
	conv := s.convos[peerID]
	if conv == nil {
		return 0
	}
	n := 0
	for _, m := range conv.msgs {
		if !m.IsRead && m.SenderID != s.self {
			n++
		}
	}
	return n
}

// TotalUnread is the global badge: the sum of every conversation's unread
// count.
func (s *Store) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for peerID := range s.convos {
		total += s.unreadLocked(peerID)
	}
	return total
}

// Conversations returns the peer ids with loaded state, for UI iteration.
func (s *Store) Conversations() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.convos))
	for id := range s.convos {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
