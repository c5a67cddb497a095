// Package runtime assembles the stores, dispatchers, broker, sweeper, and
// HTTP transport into one process-wide server and owns their lifecycles.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fun-euchre/server/internal/broker"
	"github.com/fun-euchre/server/internal/config"
	"github.com/fun-euchre/server/internal/dispatch"
	"github.com/fun-euchre/server/internal/ident"
	"github.com/fun-euchre/server/internal/lifecycle"
	"github.com/fun-euchre/server/internal/manager"
	"github.com/fun-euchre/server/internal/metrics"
	"github.com/fun-euchre/server/internal/policy"
	"github.com/fun-euchre/server/internal/snapshot"
	"github.com/fun-euchre/server/internal/store"
	"github.com/fun-euchre/server/internal/transport"
)

// Runtime is the assembled server. Build one with New, then Start it.
type Runtime struct {
	cfg *config.Config
	log *zap.Logger

	clock    clock.Clock
	lobbies  *store.LobbyStore
	games    *store.GameStore
	sessions *store.SessionStore
	broker   *broker.Broker
	metrics  *metrics.Metrics
	manager  *manager.Manager
	sweeper  *lifecycle.Sweeper
	checkpt  *snapshot.Checkpointer
	server   *transport.Server
	httpSrv  *http.Server

	restored bool
}

// Options tweak construction for tests. The zero value is production wiring.
type Options struct {
	Clock clock.Clock // nil means the wall clock
	Seed  int64       // 0 means time-derived deal shuffling
}

// New builds the full dependency graph from cfg and, when file persistence is
// enabled, restores the previous snapshot before anything else can mutate the
// stores.
func New(cfg *config.Config, log *zap.Logger, opts Options) (*Runtime, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	seed := opts.Seed
	if seed == 0 {
		seed = clk.Now().UnixNano()
	}

	tokens, err := ident.NewTokenManager(cfg.Tokens.Secret, time.Duration(cfg.Tokens.MaxAgeMs)*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("token manager: %w", err)
	}

	m := metrics.New()
	b := broker.New(clk, m, log)
	rt := &Runtime{
		cfg:     cfg,
		log:     log,
		clock:   clk,
		lobbies: store.NewLobbyStore(cfg.Lifecycle.LobbyTTLMs, clk),
		games:   store.NewGameStore(cfg.Lifecycle.GameTTLMs, clk),
		broker:  b,
		metrics: m,
	}
	rt.sessions = store.NewSessionStore(cfg.Lifecycle.SessionTTLMs, cfg.Lifecycle.ReconnectGraceMs, clk, log)

	stores := snapshot.Stores{Lobbies: rt.lobbies, Games: rt.games, Sessions: rt.sessions}
	var checkpoint dispatch.CheckpointScheduler
	if cfg.Persistence.Mode == config.PersistenceFile {
		rt.restored = snapshot.Load(cfg.Persistence.Path, stores, log)
		rt.checkpt = snapshot.NewCheckpointer(cfg.Persistence.Path, stores, clk, cfg.Persistence.DebounceMs, log)
		checkpoint = rt.checkpt
	}

	deps := dispatch.Deps{
		Clock:      clk,
		IDs:        ident.NewSecureFactory(),
		Tokens:     tokens,
		Lobbies:    rt.lobbies,
		Games:      rt.games,
		Sessions:   rt.sessions,
		Broker:     b,
		Publisher:  b.Publisher(),
		Metrics:    m,
		Checkpoint: checkpoint,
		Log:        log,
	}
	rt.manager = manager.New(dispatch.NewGameProcessor(deps, seed), log)
	deps.Manager = rt.manager

	lobbyDisp := dispatch.NewLobby(deps, seed)
	gameDisp := dispatch.NewGame(deps)

	rt.sweeper = lifecycle.New(lifecycle.Deps{
		Clock:      clk,
		Policy:     policy.New(cfg.Lifecycle.ReconnectGraceMs, cfg.Lifecycle.GameRetentionMs),
		Lobbies:    rt.lobbies,
		Games:      rt.games,
		Sessions:   rt.sessions,
		Broker:     b,
		Publisher:  b.Publisher(),
		Manager:    rt.manager,
		Metrics:    m,
		Checkpoint: checkpoint,
		Log:        log,
	}, cfg.Lifecycle.SweepIntervalMs)

	rt.server = transport.NewServer(transport.Deps{
		ServiceName: cfg.Server.Name,
		Clock:       clk,
		Lobby:       lobbyDisp,
		Game:        gameDisp,
		Sessions:    rt.sessions,
		Tokens:      tokens,
		Broker:      b,
		Metrics:     m,
		RateLimit:   cfg.RateLimit,
		Log:         log,
	})
	return rt, nil
}

// Handler exposes the HTTP surface without binding a listener.
func (r *Runtime) Handler() http.Handler { return r.server }

// Restored reports whether a snapshot was loaded during construction.
func (r *Runtime) Restored() bool { return r.restored }

// Counts returns the live record counts per store.
func (r *Runtime) Counts() (lobbies, games, sessions int) {
	return r.lobbies.Len(), r.games.Len(), r.sessions.Len()
}

// Start binds the HTTP listener and runs until ctx is cancelled or the
// listener fails, then shuts everything down in dependency order.
func (r *Runtime) Start(ctx context.Context) error {
	r.sweeper.Start()

	r.httpSrv = &http.Server{
		Addr:              r.cfg.Server.HTTPAddr,
		Handler:           r.server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.httpSrv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	r.Close()
	return err
}

// Close stops background workers and flushes the final snapshot. Safe to call
// after Start returns, and usable on its own when the listener never ran.
func (r *Runtime) Close() {
	r.sweeper.Stop()
	r.manager.Close()
	if r.checkpt != nil {
		r.checkpt.Stop()
		if err := r.checkpt.FlushNow(); err != nil {
			r.log.Warn("final snapshot flush failed", zap.Error(err))
		}
	}
}
