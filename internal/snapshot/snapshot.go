// Package snapshot persists the runtime stores as a single versioned
// JSON document, written atomically and reloaded at boot.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fun-euchre/server/internal/store"
)

// Schema and Version identify the document format. Unknown values are
// rejected on read.
const (
	Schema  = "fun-euchre.runtime.snapshot"
	Version = 1
)

// Document is the persisted form of all three stores.
type Document struct {
	Schema         string                `json:"schema"`
	Version        int                   `json:"version"`
	GeneratedAtMs  int64                 `json:"generatedAtMs"`
	LobbyRecords   []store.LobbyRecord   `json:"lobbyRecords"`
	GameRecords    []store.GameRecord    `json:"gameRecords"`
	SessionRecords []store.SessionRecord `json:"sessionRecords"`
}

// Stores bundles the three runtime stores for snapshot exchange.
type Stores struct {
	Lobbies  *store.LobbyStore
	Games    *store.GameStore
	Sessions *store.SessionStore
}

// Create captures the current store contents.
func Create(s Stores, nowMs int64) Document {
	return Document{
		Schema:         Schema,
		Version:        Version,
		GeneratedAtMs:  nowMs,
		LobbyRecords:   s.Lobbies.List(),
		GameRecords:    s.Games.List(),
		SessionRecords: s.Sessions.List(),
	}
}

// Parse validates raw snapshot bytes. Unknown keys are tolerated only
// after the schema and version match.
func Parse(raw []byte) (Document, error) {
	var probe struct {
		Schema  string `json:"schema"`
		Version int    `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Document{}, fmt.Errorf("snapshot: not a JSON document: %w", err)
	}
	if probe.Schema != Schema {
		return Document{}, fmt.Errorf("snapshot: unknown schema %q", probe.Schema)
	}
	if probe.Version != Version {
		return Document{}, fmt.Errorf("snapshot: unsupported version %d", probe.Version)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("snapshot: malformed body: %w", err)
	}
	if doc.GeneratedAtMs < 0 {
		return Document{}, fmt.Errorf("snapshot: negative generatedAtMs %d", doc.GeneratedAtMs)
	}
	for i, rec := range doc.LobbyRecords {
		if rec.State.LobbyID == "" {
			return Document{}, fmt.Errorf("snapshot: lobbyRecords[%d] missing lobbyId", i)
		}
	}
	for i, rec := range doc.GameRecords {
		if rec.State.GameID == "" {
			return Document{}, fmt.Errorf("snapshot: gameRecords[%d] missing gameId", i)
		}
	}
	for i, rec := range doc.SessionRecords {
		if rec.SessionID == "" || rec.PlayerID == "" {
			return Document{}, fmt.Errorf("snapshot: sessionRecords[%d] missing primary ids", i)
		}
	}
	return doc, nil
}

// Apply replaces every store's contents with the document's records.
func Apply(doc Document, s Stores) {
	s.Lobbies.ReplaceAll(doc.LobbyRecords)
	s.Games.ReplaceAll(doc.GameRecords)
	s.Sessions.ReplaceAll(doc.SessionRecords)
}

// Serialize renders the document with a trailing newline.
func Serialize(doc Document) ([]byte, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("snapshot: serialize: %w", err)
	}
	return append(raw, '\n'), nil
}

// WriteAtomic writes the document to path via a uniquely named temp file
// and rename, so readers never observe a partial snapshot. On failure the
// temp file is unlinked best-effort.
func WriteAtomic(path string, doc Document) error {
	raw, err := Serialize(doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir %q: %w", filepath.Dir(path), err)
	}
	tmp := fmt.Sprintf("%s.tmp-%d-%s", path, os.Getpid(), uuid.NewString())
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("snapshot: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("snapshot: rename %q: %w", path, err)
	}
	return nil
}

// Load reads the snapshot at path into the stores. A missing file means
// a clean start; an unreadable or invalid document also starts clean but
// logs a warning. Startup never fails on snapshot problems.
func Load(path string, s Stores, log *zap.Logger) bool {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	if err != nil {
		log.Warn("snapshot unreadable, starting clean",
			zap.String("path", path), zap.Error(err))
		return false
	}
	doc, err := Parse(raw)
	if err != nil {
		log.Warn("snapshot invalid, starting clean",
			zap.String("path", path), zap.Error(err))
		return false
	}
	Apply(doc, s)
	log.Info("snapshot restored",
		zap.String("path", path),
		zap.Int("lobbies", len(doc.LobbyRecords)),
		zap.Int("games", len(doc.GameRecords)),
		zap.Int("sessions", len(doc.SessionRecords)),
	)
	return true
}

// Checkpointer debounces snapshot writes. Schedule is non-blocking; the
// flush loop serializes once per burst and re-runs while new changes
// arrive during a write.
type Checkpointer struct {
	path     string
	stores   Stores
	clock    clock.Clock
	debounce int64 // ms
	log      *zap.Logger

	mu      sync.Mutex
	dirty   bool
	armed   bool
	stopped bool
	timer   *clock.Timer
}

// NewCheckpointer builds a debounced writer. debounceMs below 1 is
// clamped to the 75 ms default.
func NewCheckpointer(path string, stores Stores, clk clock.Clock, debounceMs int64, log *zap.Logger) *Checkpointer {
	if debounceMs < 1 {
		debounceMs = 75
	}
	return &Checkpointer{
		path:     path,
		stores:   stores,
		clock:    clk,
		debounce: debounceMs,
		log:      log,
	}
}

// Schedule marks the stores dirty and arms the debounce timer if it is
// not already running.
func (c *Checkpointer) Schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.dirty = true
	if c.armed {
		return
	}
	c.armed = true
	c.timer = c.clock.AfterFunc(time.Duration(c.debounce)*time.Millisecond, c.fire)
}

func (c *Checkpointer) fire() {
	for {
		c.mu.Lock()
		if c.stopped || !c.dirty {
			c.armed = false
			c.mu.Unlock()
			return
		}
		c.dirty = false
		doc := Create(c.stores, c.clock.Now().UnixMilli())
		c.mu.Unlock()

		if err := WriteAtomic(c.path, doc); err != nil {
			// The in-memory state is authoritative; the next state
			// change schedules a retry.
			c.log.Error("checkpoint write failed", zap.String("path", c.path), zap.Error(err))
		}
	}
}

// FlushNow writes synchronously regardless of the debounce state.
func (c *Checkpointer) FlushNow() error {
	c.mu.Lock()
	c.dirty = false
	doc := Create(c.stores, c.clock.Now().UnixMilli())
	c.mu.Unlock()
	return WriteAtomic(c.path, doc)
}

// Stop cancels any pending flush. A final FlushNow is the caller's
// responsibility.
func (c *Checkpointer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
}
