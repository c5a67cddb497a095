// Package protocol defines the wire envelope, command payloads, and the
// server-to-client projections. Everything here is plain data: the adapter
// functions translate domain state into events and never touch stores.
package protocol

import (
	"encoding/json"
	"strings"
)

// Version is the only protocol version this runtime speaks.
const Version = 1

// Client-to-server command types.
const (
	TypeLobbyCreate     = "lobby.create"
	TypeLobbyJoin       = "lobby.join"
	TypeLobbyUpdateName = "lobby.update_name"
	TypeLobbyStart      = "lobby.start"
	TypeGamePlayCard    = "game.play_card"
	TypeGamePass        = "game.pass"
	TypeGameOrderUp     = "game.order_up"
	TypeGameCallTrump   = "game.call_trump"
)

// Server-to-client event types.
const (
	TypeLobbyState     = "lobby.state"
	TypeGameState      = "game.state"
	TypePrivateState   = "game.private_state"
	TypeActionRejected = "action.rejected"
	TypeSystemNotice   = "system.notice"
	TypeWSReady        = "ws.ready"
	TypeWSSubscribed   = "ws.subscribed"
)

// Reject codes surfaced to clients.
const (
	CodeNotYourTurn   = "NOT_YOUR_TURN"
	CodeInvalidAction = "INVALID_ACTION"
	CodeInvalidState  = "INVALID_STATE"
	CodeUnauthorized  = "UNAUTHORIZED"
)

// Issue is one violated constraint found while validating an envelope.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Command is the client-to-server envelope.
type Command struct {
	Version   int             `json:"version"`
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Payload   json.RawMessage `json:"payload"`
}

var commandTypes = map[string]bool{
	TypeLobbyCreate:     true,
	TypeLobbyJoin:       true,
	TypeLobbyUpdateName: true,
	TypeLobbyStart:      true,
	TypeGamePlayCard:    true,
	TypeGamePass:        true,
	TypeGameOrderUp:     true,
	TypeGameCallTrump:   true,
}

// IsGameCommand reports whether the type routes through the game manager.
func IsGameCommand(typ string) bool {
	return strings.HasPrefix(typ, "game.")
}

// ParseCommand decodes and validates the outer envelope. A non-empty issue
// list means the command must be rejected with INVALID_ACTION and no state
// change.
func ParseCommand(data []byte) (Command, []Issue) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, []Issue{{Path: "", Message: "body is not valid JSON: " + err.Error()}}
	}
	var issues []Issue
	if cmd.Version != Version {
		issues = append(issues, Issue{Path: "version", Message: "version must be 1"})
	}
	if !commandTypes[cmd.Type] {
		issues = append(issues, Issue{Path: "type", Message: "unknown command type " + strconvQuote(cmd.Type)})
	}
	cmd.RequestID = strings.TrimSpace(cmd.RequestID)
	if cmd.RequestID == "" {
		issues = append(issues, Issue{Path: "requestId", Message: "requestId must be a non-empty string"})
	}
	if len(cmd.Payload) == 0 {
		issues = append(issues, Issue{Path: "payload", Message: "payload is required"})
	}
	return cmd, issues
}

func strconvQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
