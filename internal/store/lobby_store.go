// Package store holds the runtime's only mutable state: in-memory indexed
// records for lobbies, games, and sessions. Every read hands out a deep
// copy and every write copies its input, so no caller ever shares a record
// with a store.
package store

import (
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/fun-euchre/server/internal/lobby"
)

// LobbyRecord wraps a lobby state with store bookkeeping.
type LobbyRecord struct {
	State       lobby.State `json:"state"`
	CreatedAtMs int64       `json:"createdAtMs"`
	UpdatedAtMs int64       `json:"updatedAtMs"`
}

// Clone returns a record copy safe to hand across the store boundary.
func (r LobbyRecord) Clone() LobbyRecord {
	out := r
	out.State = r.State.Clone()
	return out
}

// LobbyStore keeps lobby records keyed by lobby id.
type LobbyStore struct {
	mu      sync.RWMutex
	records map[string]LobbyRecord
	ttlMs   *int64 // nil = retention disabled
	clock   clock.Clock
}

// NewLobbyStore builds a store. ttlMs of nil disables expiry.
func NewLobbyStore(ttlMs *int64, clk clock.Clock) *LobbyStore {
	return &LobbyStore{
		records: make(map[string]LobbyRecord),
		ttlMs:   ttlMs,
		clock:   clk,
	}
}

func (s *LobbyStore) nowMs() int64 { return s.clock.Now().UnixMilli() }

// Upsert inserts or replaces the record for the state's lobby id and
// returns the stored copy.
func (s *LobbyStore) Upsert(state lobby.State) LobbyRecord {
	if state.LobbyID == "" {
		panic("store: lobby record with empty lobbyId")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowMs()
	rec := LobbyRecord{State: state.Clone(), CreatedAtMs: now, UpdatedAtMs: now}
	if prev, ok := s.records[state.LobbyID]; ok {
		rec.CreatedAtMs = prev.CreatedAtMs
	}
	s.records[state.LobbyID] = rec
	return rec.Clone()
}

// Get returns the record for a lobby id.
func (s *LobbyStore) Get(lobbyID string) (LobbyRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[lobbyID]
	if !ok {
		return LobbyRecord{}, false
	}
	return rec.Clone(), true
}

// FindByPlayer returns the lobby seating the given player, if any.
func (s *LobbyStore) FindByPlayer(playerID string) (LobbyRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if rec.State.SeatOf(playerID) != "" {
			return rec.Clone(), true
		}
	}
	return LobbyRecord{}, false
}

// Delete removes a record, reporting whether it existed.
func (s *LobbyStore) Delete(lobbyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[lobbyID]
	delete(s.records, lobbyID)
	return ok
}

// List returns copies of every record.
func (s *LobbyStore) List() []LobbyRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LobbyRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

// ReplaceAll swaps the full record set, used by snapshot restore.
func (s *LobbyStore) ReplaceAll(records []LobbyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]LobbyRecord, len(records))
	for _, rec := range records {
		if rec.State.LobbyID == "" {
			panic("store: lobby record with empty lobbyId")
		}
		s.records[rec.State.LobbyID] = rec.Clone()
	}
}

// IsExpired reports whether the record's TTL has elapsed at nowMs.
func (s *LobbyStore) IsExpired(rec LobbyRecord, nowMs int64) bool {
	if s.ttlMs == nil {
		return false
	}
	return nowMs > rec.UpdatedAtMs+*s.ttlMs
}

// PruneExpired deletes expired records and returns how many were removed.
func (s *LobbyStore) PruneExpired(nowMs int64) int {
	if s.ttlMs == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if nowMs > rec.UpdatedAtMs+*s.ttlMs {
			delete(s.records, id)
			n++
		}
	}
	return n
}

// Len returns the record count.
func (s *LobbyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
