// Package presence merges server-pushed online/offline events with bulk
// status query results into one source of truth per user id.
package presence

import (
	"context"
	"log"
	"sync"

	"chatlink/pkg/realtime"
)

// Entry is the tracked presence for one user.
type Entry struct {
	UserID   int64 `json:"user_id"`
	IsOnline bool  `json:"is_online"`
	LastSeen int64 `json:"last_seen,omitempty"` // epoch seconds, 0 when unknown
}

// BulkQuerier is the REST collaborator that answers batched online-status
// queries.
type BulkQuerier interface {
	OnlineStatus(ctx context.Context, userIDs []int64) ([]Entry, error)
}

// ConnectedFunc reports whether the realtime connection is open. Bulk
// queries are skipped while offline to avoid wasted requests.
type ConnectedFunc func() bool

// Aggregator owns the presence map. Live events always win; bulk query
// results only seed ids that no live event has touched, which is the
// practical precedence rule when events carry no sequence numbers.
type Aggregator struct {
	querier   BulkQuerier
	connected ConnectedFunc
	logger    realtime.Logger

	mu      sync.Mutex
	entries map[int64]Entry
	live    map[int64]struct{} // ids whose entry came from a live event
}

// NewAggregator creates an aggregator. querier and connected may be nil
// when bulk queries are not used.
func NewAggregator(querier BulkQuerier, connected ConnectedFunc) *Aggregator {
	return &Aggregator{
		querier:   querier,
		connected: connected,
		logger:    log.New(log.Writer(), "[presence] ", log.LstdFlags),
		entries:   make(map[int64]Entry),
		live:      make(map[int64]struct{}),
	}
}

// SetLogger replaces the aggregator's logger.
func (a *Aggregator) SetLogger(l realtime.Logger) {
	if l != nil {
		a.logger = l
	}
}

// ApplyLiveEvent records a pushed presence update. Last event processed
// wins unconditionally.
func (a *Aggregator) ApplyLiveEvent(userID int64, isOnline bool, lastSeen int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[userID] = Entry{UserID: userID, IsOnline: isOnline, LastSeen: lastSeen}
	a.live[userID] = struct{}{}
}

// ApplyBulkResult merges a bulk query response. Ids already touched by a
// live event keep their live value; everything else is seeded.
func (a *Aggregator) ApplyBulkResult(entries []Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range entries {
		if _, fresh := a.live[e.UserID]; fresh {
			continue
		}
		a.entries[e.UserID] = e
	}
}

// IsOnline returns the tracked status for the user, or fallback when no
// signal has arrived yet. The fallback lets the UI degrade to the last
// REST-known value.
func (a *Aggregator) IsOnline(userID int64, fallback bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[userID]; ok {
		return e.IsOnline
	}
	return fallback
}

// Lookup returns the tracked entry, if any.
func (a *Aggregator) Lookup(userID int64) (Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[userID]
	return e, ok
}

// RequestBulk issues a batched status query and merges the result. Skipped
// while disconnected or with no ids; REST failures are logged, the map is
// left untouched, and the caller's retry policy applies.
func (a *Aggregator) RequestBulk(ctx context.Context, userIDs []int64) {
	if a.querier == nil || len(userIDs) == 0 {
		return
	}
	if a.connected != nil && !a.connected() {
		return
	}

	entries, err := a.querier.OnlineStatus(ctx, userIDs)
	if err != nil {
		a.logger.Printf("bulk status query for %d users failed: %v", len(userIDs), err)
		return
	}
	a.ApplyBulkResult(entries)
}

// Reset clears live-event freshness markers. Called on reconnect so the
// next bulk query can reseed state the client missed while offline.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live = make(map[int64]struct{})
}
