// Package dispatch turns validated protocol commands into store
// transitions and broker publications. The lobby dispatcher serializes
// per lobbyId with a keyed mutex; the game dispatcher rides the
// per-game manager queue.
package dispatch

import (
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/fun-euchre/server/internal/broker"
	"github.com/fun-euchre/server/internal/ident"
	"github.com/fun-euchre/server/internal/manager"
	"github.com/fun-euchre/server/internal/metrics"
	"github.com/fun-euchre/server/internal/protocol"
	"github.com/fun-euchre/server/internal/store"
)

// CheckpointScheduler is the non-blocking hook dispatchers call after a
// state-changing transition.
type CheckpointScheduler interface {
	Schedule()
}

// Identity is the caller-facing credential bundle minted or resolved by
// a lobby command.
type Identity struct {
	PlayerID       string `json:"playerId"`
	SessionID      string `json:"sessionId"`
	LobbyID        string `json:"lobbyId"`
	GameID         string `json:"gameId,omitempty"`
	ReconnectToken string `json:"reconnectToken"`
}

// Reply is a dispatcher's authoritative acknowledgement. Outbound mirrors
// what was published so the request/reply transport can echo it on the
// originating connection.
type Reply struct {
	OK       bool
	Code     string
	Message  string
	Issues   []protocol.Issue
	Outbound []protocol.Event
	Identity *Identity
}

// Deps is the wiring surface shared by both dispatchers.
type Deps struct {
	Clock      clock.Clock
	IDs        ident.Factory
	Tokens     *ident.TokenManager
	Lobbies    *store.LobbyStore
	Games      *store.GameStore
	Sessions   *store.SessionStore
	Broker     *broker.Broker
	Publisher  *broker.Publisher
	Manager    *manager.Manager
	Metrics    *metrics.Metrics
	Checkpoint CheckpointScheduler
	Log        *zap.Logger
}

func (d Deps) checkpoint() {
	if d.Checkpoint != nil {
		d.Checkpoint.Schedule()
	}
}

func (d Deps) observeSessions() {
	if d.Metrics != nil {
		d.Metrics.ObserveSessions(d.Sessions.Len())
	}
}

// rejectReply builds a failed Reply mirrored as a single action.rejected
// event.
func rejectReply(requestID, code, message string) Reply {
	return Reply{
		Code:     code,
		Message:  message,
		Outbound: []protocol.Event{protocol.ActionRejected(requestID, code, message)},
	}
}

// issuesReply reports envelope/payload validation failures. Every
// violated constraint is enumerated; nothing was applied.
func issuesReply(requestID string, issues []protocol.Issue) Reply {
	r := rejectReply(requestID, protocol.CodeInvalidAction, "Command validation failed")
	r.Issues = issues
	return r
}

// keyedLocks serializes work per key. Entries are never removed; the
// population is bounded by live lobby ids.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()
	l.Lock()
	return l.Unlock
}
