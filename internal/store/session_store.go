package store

import (
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// SessionRecord binds a connected (or recently disconnected) player to its
// lobby and optional game. ReconnectByMs is set exactly while the session
// is disconnected.
type SessionRecord struct {
	SessionID      string `json:"sessionId"`
	PlayerID       string `json:"playerId"`
	LobbyID        string `json:"lobbyId"`
	GameID         string `json:"gameId,omitempty"`
	ReconnectToken string `json:"reconnectToken"`
	Connected      bool   `json:"connected"`
	ReconnectByMs  *int64 `json:"reconnectByMs,omitempty"`
	CreatedAtMs    int64  `json:"createdAtMs"`
	UpdatedAtMs    int64  `json:"updatedAtMs"`
}

// Clone returns a record copy safe to hand across the store boundary.
func (r SessionRecord) Clone() SessionRecord {
	out := r
	if r.ReconnectByMs != nil {
		v := *r.ReconnectByMs
		out.ReconnectByMs = &v
	}
	return out
}

// SessionStore keeps session records keyed by session id with player and
// reconnect-token secondary indexes. At most one session exists per player;
// upserting a player's new session evicts the old one.
type SessionStore struct {
	mu       sync.RWMutex
	records  map[string]SessionRecord
	byPlayer map[string]string // playerId -> sessionId
	byToken  map[string]string // reconnectToken -> sessionId
	ttlMs    *int64
	graceMs  int64
	clock    clock.Clock
	log      *zap.Logger
}

// NewSessionStore builds a store. graceMs is the reconnect window armed on
// disconnect; ttlMs of nil disables expiry.
func NewSessionStore(ttlMs *int64, graceMs int64, clk clock.Clock, log *zap.Logger) *SessionStore {
	return &SessionStore{
		records:  make(map[string]SessionRecord),
		byPlayer: make(map[string]string),
		byToken:  make(map[string]string),
		ttlMs:    ttlMs,
		graceMs:  graceMs,
		clock:    clk,
		log:      log,
	}
}

// Upsert inserts or replaces a session. A different existing session for
// the same player is evicted.
func (s *SessionStore) Upsert(rec SessionRecord) SessionRecord {
	if rec.SessionID == "" || rec.PlayerID == "" {
		panic("store: session record with empty primary id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now().UnixMilli()
	rec = rec.Clone()
	rec.UpdatedAtMs = now
	if prev, ok := s.records[rec.SessionID]; ok {
		rec.CreatedAtMs = prev.CreatedAtMs
		s.evictLocked(prev)
	} else {
		rec.CreatedAtMs = now
	}
	if prevID, ok := s.byPlayer[rec.PlayerID]; ok && prevID != rec.SessionID {
		if prev, ok := s.records[prevID]; ok {
			s.evictLocked(prev)
			delete(s.records, prevID)
			s.log.Info("session_evicted",
				zap.String("sessionId", prevID),
				zap.String("playerId", rec.PlayerID),
				zap.String("replacedBy", rec.SessionID),
			)
		}
	}
	s.records[rec.SessionID] = rec
	s.byPlayer[rec.PlayerID] = rec.SessionID
	if rec.ReconnectToken != "" {
		s.byToken[rec.ReconnectToken] = rec.SessionID
	}
	return rec.Clone()
}

func (s *SessionStore) evictLocked(rec SessionRecord) {
	if s.byPlayer[rec.PlayerID] == rec.SessionID {
		delete(s.byPlayer, rec.PlayerID)
	}
	if rec.ReconnectToken != "" && s.byToken[rec.ReconnectToken] == rec.SessionID {
		delete(s.byToken, rec.ReconnectToken)
	}
}

// Get returns the record for a session id.
func (s *SessionStore) Get(sessionID string) (SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return SessionRecord{}, false
	}
	return rec.Clone(), true
}

// FindByPlayer returns the player's session, if any.
func (s *SessionStore) FindByPlayer(playerID string) (SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPlayer[playerID]
	if !ok {
		return SessionRecord{}, false
	}
	rec, ok := s.records[id]
	if !ok {
		return SessionRecord{}, false
	}
	return rec.Clone(), true
}

// FindByToken returns the session bound to a reconnect token, if any.
func (s *SessionStore) FindByToken(token string) (SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return SessionRecord{}, false
	}
	rec, ok := s.records[id]
	if !ok {
		return SessionRecord{}, false
	}
	return rec.Clone(), true
}

// MarkDisconnected flips the session to disconnected and arms the
// reconnect deadline.
func (s *SessionStore) MarkDisconnected(sessionID string) (SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return SessionRecord{}, false
	}
	now := s.clock.Now().UnixMilli()
	deadline := now + s.graceMs
	rec.Connected = false
	rec.ReconnectByMs = &deadline
	rec.UpdatedAtMs = now
	s.records[sessionID] = rec
	s.log.Info("session_disconnected",
		zap.String("sessionId", sessionID),
		zap.String("playerId", rec.PlayerID),
		zap.Int64("reconnectByMs", deadline),
	)
	return rec.Clone(), true
}

// MarkConnected flips the session back to connected and clears the
// reconnect deadline.
func (s *SessionStore) MarkConnected(sessionID string) (SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return SessionRecord{}, false
	}
	rec.Connected = true
	rec.ReconnectByMs = nil
	rec.UpdatedAtMs = s.clock.Now().UnixMilli()
	s.records[sessionID] = rec
	s.log.Info("session_reconnected",
		zap.String("sessionId", sessionID),
		zap.String("playerId", rec.PlayerID),
	)
	return rec.Clone(), true
}

// Touch bumps the record's updatedAtMs, extending its retention.
func (s *SessionStore) Touch(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return false
	}
	rec.UpdatedAtMs = s.clock.Now().UnixMilli()
	s.records[sessionID] = rec
	return true
}

// Delete removes a session and its index entries.
func (s *SessionStore) Delete(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return false
	}
	s.evictLocked(rec)
	delete(s.records, sessionID)
	return true
}

// List returns copies of every record.
func (s *SessionStore) List() []SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

// ReplaceAll swaps the full record set and rebuilds both indexes.
func (s *SessionStore) ReplaceAll(records []SessionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]SessionRecord, len(records))
	s.byPlayer = make(map[string]string, len(records))
	s.byToken = make(map[string]string, len(records))
	for _, rec := range records {
		if rec.SessionID == "" || rec.PlayerID == "" {
			panic("store: session record with empty primary id")
		}
		s.records[rec.SessionID] = rec.Clone()
		s.byPlayer[rec.PlayerID] = rec.SessionID
		if rec.ReconnectToken != "" {
			s.byToken[rec.ReconnectToken] = rec.SessionID
		}
	}
}

// IsExpired reports whether the record's TTL has elapsed at nowMs.
func (s *SessionStore) IsExpired(rec SessionRecord, nowMs int64) bool {
	if s.ttlMs == nil {
		return false
	}
	return nowMs > rec.UpdatedAtMs+*s.ttlMs
}

// PruneExpired deletes expired records and returns how many were removed.
func (s *SessionStore) PruneExpired(nowMs int64) int {
	if s.ttlMs == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.records {
		if nowMs > rec.UpdatedAtMs+*s.ttlMs {
			s.evictLocked(rec)
			delete(s.records, id)
			n++
		}
	}
	return n
}

// Len returns the record count.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
