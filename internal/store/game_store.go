package store

import (
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/fun-euchre/server/internal/euchre"
)

// GameRecord wraps a game state with store bookkeeping.
type GameRecord struct {
	State       euchre.GameState `json:"state"`
	CreatedAtMs int64            `json:"createdAtMs"`
	UpdatedAtMs int64            `json:"updatedAtMs"`
}

// Clone returns a record copy safe to hand across the store boundary.
func (r GameRecord) Clone() GameRecord {
	out := r
	out.State = r.State.Clone()
	return out
}

// GameStore keeps game records keyed by game id with a lobby-id secondary
// index.
type GameStore struct {
	mu      sync.RWMutex
	records map[string]GameRecord
	byLobby map[string]string // lobbyId -> gameId
	ttlMs   *int64
	clock   clock.Clock
}

// NewGameStore builds a store. ttlMs of nil disables expiry.
func NewGameStore(ttlMs *int64, clk clock.Clock) *GameStore {
	return &GameStore{
		records: make(map[string]GameRecord),
		byLobby: make(map[string]string),
		ttlMs:   ttlMs,
		clock:   clk,
	}
}

// Upsert inserts or replaces the record for the state's game id.
func (s *GameStore) Upsert(state euchre.GameState) GameRecord {
	if state.GameID == "" {
		panic("store: game record with empty gameId")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UnixMilli()
	rec := GameRecord{State: state.Clone(), CreatedAtMs: now, UpdatedAtMs: now}
	if prev, ok := s.records[state.GameID]; ok {
		rec.CreatedAtMs = prev.CreatedAtMs
		delete(s.byLobby, prev.State.LobbyID)
	}
	s.records[state.GameID] = rec
	if state.LobbyID != "" {
		s.byLobby[state.LobbyID] = state.GameID
	}
	return rec.Clone()
}

// Get returns the record for a game id.
func (s *GameStore) Get(gameID string) (GameRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[gameID]
	if !ok {
		return GameRecord{}, false
	}
	return rec.Clone(), true
}

// FindByLobby returns the game attached to a lobby, if any.
func (s *GameStore) FindByLobby(lobbyID string) (GameRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gameID, ok := s.byLobby[lobbyID]
	if !ok {
		return GameRecord{}, false
	}
	rec, ok := s.records[gameID]
	if !ok {
		return GameRecord{}, false
	}
	return rec.Clone(), true
}

// Delete removes a record and its lobby index entry.
func (s *GameStore) Delete(gameID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[gameID]
	if !ok {
		return false
	}
	delete(s.records, gameID)
	delete(s.byLobby, rec.State.LobbyID)
	return true
}

// List returns copies of every record.
func (s *GameStore) List() []GameRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GameRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

// ReplaceAll swaps the full record set and rebuilds the lobby index.
func (s *GameStore) ReplaceAll(records []GameRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]GameRecord, len(records))
	s.byLobby = make(map[string]string, len(records))
	for _, rec := range records {
		if rec.State.GameID == "" {
			panic("store: game record with empty gameId")
		}
		s.records[rec.State.GameID] = rec.Clone()
		if rec.State.LobbyID != "" {
			s.byLobby[rec.State.LobbyID] = rec.State.GameID
		}
	}
}

// IsExpired reports whether the record's TTL has elapsed at nowMs.
func (s *GameStore) IsExpired(rec GameRecord, nowMs int64) bool {
	if s.ttlMs == nil {
		return false
	}
	return nowMs > rec.UpdatedAtMs+*s.ttlMs
}

// PruneExpired deletes expired records and returns how many were removed.
func (s *GameStore) PruneExpired(nowMs int64) int {
	if s.ttlMs == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if nowMs > rec.UpdatedAtMs+*s.ttlMs {
			delete(s.records, id)
			delete(s.byLobby, rec.State.LobbyID)
			n++
		}
	}
	return n
}

// Len returns the record count.
func (s *GameStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
