package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fun-euchre/server/internal/ident"
	"github.com/fun-euchre/server/internal/protocol"
)

const (
	wsSendBuffer   = 256
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// errSinkFull drops a connection whose client stopped reading.
var errSinkFull = errors.New("transport: websocket send buffer full")

// wsSink adapts one WebSocket connection to the broker's Sink. Sends
// are buffered; a full buffer fails the send and the connection is torn
// down by the write loop.
type wsSink struct {
	conn   *websocket.Conn
	out    chan protocol.Event
	closed chan struct{}
	log    *zap.Logger
}

func newWSSink(conn *websocket.Conn, log *zap.Logger) *wsSink {
	return &wsSink{
		conn:   conn,
		out:    make(chan protocol.Event, wsSendBuffer),
		closed: make(chan struct{}),
		log:    log,
	}
}

func (s *wsSink) Send(ev protocol.Event) error {
	select {
	case <-s.closed:
		return errors.New("transport: websocket closed")
	default:
	}
	select {
	case s.out <- ev:
		return nil
	default:
		return errSinkFull
	}
}

// writeLoop owns all writes to the connection.
func (s *wsSink) writeLoop() {
	for {
		select {
		case ev := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := s.conn.WriteJSON(ev); err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				s.Close()
				return
			}
		case <-s.closed:
			return
		}
	}
}

// Close also closes the connection so the read loop unblocks. Idempotent;
// the broker calls it when a replacement sink evicts this one.
func (s *wsSink) Close() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
		_ = s.conn.Close()
	}
}

// subscribeFrame is the only client-to-server WebSocket message.
type subscribeFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Payload   struct {
		LobbyID string `json:"lobbyId"`
		GameID  string `json:"gameId,omitempty"`
	} `json:"payload"`
}

// handleWebSocket authenticates the session token, upgrades, and runs
// the read loop until the peer drops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	token := r.URL.Query().Get("reconnectToken")

	sess, ok := s.deps.Sessions.Get(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusUnauthorized)
		return
	}
	if _, err := s.deps.Tokens.Verify(token, ident.Expect{
		SessionID: sess.SessionID,
		PlayerID:  sess.PlayerID,
		LobbyID:   sess.LobbyID,
	}, s.deps.Clock.Now()); err != nil {
		s.deps.Log.Info("websocket token refused",
			zap.String("sessionId", sessionID),
			zap.Error(err),
		)
		http.Error(w, "invalid reconnect token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sink := newWSSink(conn, s.deps.Log)
	go sink.writeLoop()
	s.deps.Broker.ConnectSession(sessionID, sink)
	s.deps.Lobby.HandleConnect(sessionID)

	_ = sink.Send(protocol.WSReady(sessionID))
	s.readLoop(sessionID, conn, sink)
}

func (s *Server) readLoop(sessionID string, conn *websocket.Conn, sink *wsSink) {
	// A stale connection must not disturb its replacement: the session is
	// marked disconnected only when the closing sink was still current.
	defer func() {
		sink.Close()
		if s.deps.Broker.DetachSink(sessionID, sink) {
			s.deps.Lobby.HandleDisconnect(sessionID)
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame subscribeFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != "subscribe" {
			_ = sink.Send(protocol.ActionRejected(frame.RequestID,
				protocol.CodeInvalidAction, "Expected a subscribe frame"))
			continue
		}

		var rooms []string
		if frame.Payload.LobbyID != "" {
			s.deps.Broker.BindSessionToLobby(sessionID, frame.Payload.LobbyID)
			rooms = append(rooms, "lobby:"+frame.Payload.LobbyID)
		}
		if frame.Payload.GameID != "" {
			s.deps.Broker.BindSessionToGame(sessionID, frame.Payload.GameID)
			rooms = append(rooms, "game:"+frame.Payload.GameID)
		}
		_ = sink.Send(protocol.WSSubscribed(frame.RequestID, rooms))
	}
}
