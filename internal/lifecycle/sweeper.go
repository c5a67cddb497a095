// Package lifecycle runs the timer-driven sweep that turns expired
// reconnect windows into forfeits and prunes retained records.
package lifecycle

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/fun-euchre/server/internal/broker"
	"github.com/fun-euchre/server/internal/euchre"
	"github.com/fun-euchre/server/internal/lobby"
	"github.com/fun-euchre/server/internal/manager"
	"github.com/fun-euchre/server/internal/metrics"
	"github.com/fun-euchre/server/internal/policy"
	"github.com/fun-euchre/server/internal/protocol"
	"github.com/fun-euchre/server/internal/store"
)

const minSweepIntervalMs = 1_000

// Scheduler requests a debounced checkpoint after sweep mutations.
type Scheduler interface {
	Schedule()
}

// Deps is the sweeper's wiring surface.
type Deps struct {
	Clock      clock.Clock
	Policy     policy.Policy
	Lobbies    *store.LobbyStore
	Games      *store.GameStore
	Sessions   *store.SessionStore
	Broker     *broker.Broker
	Publisher  *broker.Publisher
	Manager    *manager.Manager
	Metrics    *metrics.Metrics
	Checkpoint Scheduler
	Log        *zap.Logger
}

// Sweeper evaluates every session on an interval. Concurrent sweep
// requests coalesce: at most one queued run is remembered while a sweep
// is in progress.
type Sweeper struct {
	deps     Deps
	interval time.Duration

	mu      sync.Mutex
	running bool
	queued  bool
	started bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds a sweeper. Intervals below one second are clamped.
func New(deps Deps, intervalMs int64) *Sweeper {
	if intervalMs < minSweepIntervalMs {
		intervalMs = minSweepIntervalMs
	}
	return &Sweeper{
		deps:     deps,
		interval: time.Duration(intervalMs) * time.Millisecond,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the timer loop.
func (s *Sweeper) Start() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	go func() {
		defer close(s.done)
		ticker := s.deps.Clock.Ticker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RequestSweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the timer loop and waits for it to exit. An in-flight sweep
// finishes on its own goroutine. Stopping a sweeper that was never started
// is a no-op.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

// RequestSweep runs a sweep now, or queues exactly one follow-up if a
// sweep is already in progress.
func (s *Sweeper) RequestSweep() {
	s.mu.Lock()
	if s.running {
		s.queued = true
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	for {
		s.Sweep()
		s.mu.Lock()
		if !s.queued {
			s.running = false
			s.mu.Unlock()
			return
		}
		s.queued = false
		s.mu.Unlock()
	}
}

// Sweep evaluates every session once against the current clock.
func (s *Sweeper) Sweep() {
	nowMs := s.deps.Clock.Now().UnixMilli()
	changed := false

	for _, sess := range s.deps.Sessions.List() {
		switch s.deps.Policy.Evaluate(sess, nowMs) {
		case policy.StateActive, policy.StateGracePeriod:
			// nothing to do
		case policy.StateForfeitDue:
			if s.resolveForfeit(sess) {
				changed = true
			}
		case policy.StateRetentionExpired:
			s.expire(sess)
			changed = true
		}
	}

	if n := s.pruneAll(nowMs); n > 0 {
		changed = true
	}
	if changed && s.deps.Checkpoint != nil {
		s.deps.Checkpoint.Schedule()
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveSessions(s.deps.Sessions.Len())
	}
}

// resolveForfeit completes the session's game against its player, if a
// live game exists. The session record survives until retention expiry
// so the final state stays reachable.
func (s *Sweeper) resolveForfeit(sess store.SessionRecord) bool {
	lob, ok := s.deps.Lobbies.Get(sess.LobbyID)
	if !ok {
		return false
	}
	game, ok := s.gameFor(sess)
	if !ok || game.State.Phase == euchre.PhaseCompleted {
		return false
	}

	res := policy.ResolveForfeit(game.State, lob.State, sess.PlayerID)
	if !res.OK {
		s.deps.Log.Warn("forfeit resolution refused",
			zap.String("gameId", game.State.GameID),
			zap.String("playerId", sess.PlayerID),
			zap.String("code", res.Code),
			zap.String("message", res.Message),
		)
		return false
	}

	s.deps.Games.Upsert(res.State)
	s.deps.Broker.BroadcastGameEvents(s.deps.Publisher, res.State.GameID, res.Outbound)
	if done := lobby.Complete(lob.State); done.OK {
		s.deps.Lobbies.Upsert(done.State)
		s.deps.Broker.BroadcastLobbyEvents(s.deps.Publisher, lob.State.LobbyID,
			[]protocol.Event{protocol.LobbyStateEvent(done.State)})
	}
	s.deps.Log.Info("game_forfeited",
		zap.String("gameId", res.State.GameID),
		zap.String("playerId", sess.PlayerID),
		zap.String("winner", string(res.State.Winner)),
	)
	if s.deps.Metrics != nil {
		s.deps.Metrics.GamesForfeited.Inc()
	}
	return true
}

// expire deletes the session and, when nothing else references them, its
// terminal game and empty lobby.
func (s *Sweeper) expire(sess store.SessionRecord) {
	s.deps.Sessions.Delete(sess.SessionID)
	s.deps.Broker.RemoveSession(sess.SessionID)
	s.deps.Log.Info("session_expired",
		zap.String("sessionId", sess.SessionID),
		zap.String("playerId", sess.PlayerID),
	)

	if game, ok := s.gameFor(sess); ok && game.State.Phase == euchre.PhaseCompleted {
		s.deps.Games.Delete(game.State.GameID)
		if s.deps.Manager != nil {
			s.deps.Manager.Forget(game.State.GameID)
		}
	}
	if sess.LobbyID != "" && !s.lobbyHasLiveSessions(sess.LobbyID) {
		s.deps.Lobbies.Delete(sess.LobbyID)
	}
}

func (s *Sweeper) gameFor(sess store.SessionRecord) (store.GameRecord, bool) {
	if sess.GameID != "" {
		return s.deps.Games.Get(sess.GameID)
	}
	return s.deps.Games.FindByLobby(sess.LobbyID)
}

func (s *Sweeper) lobbyHasLiveSessions(lobbyID string) bool {
	for _, sess := range s.deps.Sessions.List() {
		if sess.LobbyID == lobbyID {
			return true
		}
	}
	return false
}

func (s *Sweeper) pruneAll(nowMs int64) int {
	n := s.deps.Sessions.PruneExpired(nowMs)
	n += s.deps.Games.PruneExpired(nowMs)
	n += s.deps.Lobbies.PruneExpired(nowMs)
	return n
}
