// Package transport exposes the HTTP command surface and the realtime
// WebSocket endpoint.
package transport

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fun-euchre/server/internal/broker"
	"github.com/fun-euchre/server/internal/config"
	"github.com/fun-euchre/server/internal/dispatch"
	"github.com/fun-euchre/server/internal/ident"
	"github.com/fun-euchre/server/internal/metrics"
	"github.com/fun-euchre/server/internal/protocol"
	"github.com/fun-euchre/server/internal/store"
)

// maxBodyBytes caps command payload reads.
const maxBodyBytes = 1 << 20

// codeRateLimited is returned with HTTP 429.
const codeRateLimited = "RATE_LIMITED"

// Deps wires the transport to the dispatch layer.
type Deps struct {
	ServiceName string
	Clock       clock.Clock
	Lobby       *dispatch.Lobby
	Game        *dispatch.Game
	Sessions    *store.SessionStore
	Tokens      *ident.TokenManager
	Broker      *broker.Broker
	Metrics     *metrics.Metrics
	RateLimit   config.RateLimitConfig
	Log         *zap.Logger
}

// Server is the HTTP handler graph.
type Server struct {
	deps   Deps
	router chi.Router

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:     deps,
		limiters: make(map[string]*rate.Limiter),
	}
	r := chi.NewRouter()
	r.Use(s.rateLimit)

	r.Post("/lobbies/create", s.handleLobbyCommand)
	r.Post("/lobbies/join", s.handleLobbyCommand)
	r.Post("/lobbies/update-name", s.handleLobbyCommand)
	r.Post("/lobbies/start", s.handleLobbyCommand)
	r.Post("/actions", s.handleGameCommand)
	r.Get("/health", s.handleHealth)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}
	r.Get("/realtime/ws", s.handleWebSocket)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// errorBody is the failure half of the reply envelope.
type errorBody struct {
	Code    string           `json:"code"`
	Message string           `json:"message"`
	Issues  []protocol.Issue `json:"issues,omitempty"`
}

type replyEnvelope struct {
	RequestID string           `json:"requestId"`
	Outbound  []protocol.Event `json:"outbound,omitempty"`
	Identity  any              `json:"identity,omitempty"`
	Error     *errorBody       `json:"error,omitempty"`
}

func statusFor(code string) int {
	switch code {
	case protocol.CodeUnauthorized:
		return http.StatusForbidden
	case protocol.CodeInvalidAction:
		return http.StatusBadRequest
	case protocol.CodeInvalidState, protocol.CodeNotYourTurn:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.deps.Log.Warn("response write failed", zap.Error(err))
	}
}

func (s *Server) writeReply(w http.ResponseWriter, requestID string, reply dispatch.Reply) {
	if reply.OK {
		body := replyEnvelope{RequestID: requestID, Outbound: reply.Outbound}
		if reply.Identity != nil {
			body.Identity = reply.Identity
		}
		s.writeJSON(w, http.StatusOK, body)
		return
	}
	s.writeJSON(w, statusFor(reply.Code), replyEnvelope{
		RequestID: requestID,
		Error: &errorBody{
			Code:    reply.Code,
			Message: reply.Message,
			Issues:  reply.Issues,
		},
	})
}

// readCommand parses the envelope from the capped request body. A nil
// command with handled=true means the error reply was already written.
func (s *Server) readCommand(w http.ResponseWriter, r *http.Request) (protocol.Command, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, replyEnvelope{
			Error: &errorBody{Code: protocol.CodeInvalidAction, Message: "Unreadable request body"},
		})
		return protocol.Command{}, false
	}
	cmd, issues := protocol.ParseCommand(raw)
	if len(issues) > 0 {
		s.writeJSON(w, http.StatusBadRequest, replyEnvelope{
			RequestID: cmd.RequestID,
			Error: &errorBody{
				Code:    protocol.CodeInvalidAction,
				Message: "Command validation failed",
				Issues:  issues,
			},
		})
		return protocol.Command{}, false
	}
	return cmd, true
}

func (s *Server) handleLobbyCommand(w http.ResponseWriter, r *http.Request) {
	cmd, ok := s.readCommand(w, r)
	if !ok {
		return
	}
	if protocol.IsGameCommand(cmd.Type) {
		s.writeJSON(w, http.StatusBadRequest, replyEnvelope{
			RequestID: cmd.RequestID,
			Error: &errorBody{
				Code:    protocol.CodeInvalidAction,
				Message: "Game commands go to /actions",
			},
		})
		return
	}
	s.writeReply(w, cmd.RequestID, s.deps.Lobby.Dispatch(cmd))
}

func (s *Server) handleGameCommand(w http.ResponseWriter, r *http.Request) {
	cmd, ok := s.readCommand(w, r)
	if !ok {
		return
	}
	if !protocol.IsGameCommand(cmd.Type) {
		s.writeJSON(w, http.StatusBadRequest, replyEnvelope{
			RequestID: cmd.RequestID,
			Error: &errorBody{
				Code:    protocol.CodeInvalidAction,
				Message: "Lobby commands go to /lobbies/*",
			},
		})
		return
	}
	s.writeReply(w, cmd.RequestID, s.deps.Game.Dispatch(r.Context(), cmd))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.deps.ServiceName,
	})
}

// rateLimit throttles commands per remote address. Reads, health checks
// and metrics scrapes are exempt.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.deps.RateLimit.Enabled || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiterFor(remoteIP(r)).Allow() {
			s.writeJSON(w, http.StatusTooManyRequests, replyEnvelope{
				Error: &errorBody{Code: codeRateLimited, Message: "Too many commands"},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[ip]
	if !ok {
		cps := s.deps.RateLimit.CommandsPerSecond
		l = rate.NewLimiter(rate.Limit(cps), int(cps)+1)
		s.limiters[ip] = l
	}
	return l
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
