package protocol

import (
	"encoding/json"
	"strings"

	"github.com/fun-euchre/server/internal/euchre"
	"github.com/fun-euchre/server/internal/ident"
)

// LobbyCreatePayload opens a new lobby with the caller as host.
type LobbyCreatePayload struct {
	DisplayName string `json:"displayName"`
}

// LobbyJoinPayload seats the caller, or revives a session when a reconnect
// token is supplied.
type LobbyJoinPayload struct {
	LobbyID        string `json:"lobbyId"`
	DisplayName    string `json:"displayName"`
	ReconnectToken string `json:"reconnectToken,omitempty"`
}

// LobbyUpdateNamePayload renames a seated player.
type LobbyUpdateNamePayload struct {
	LobbyID     string `json:"lobbyId"`
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
}

// LobbyStartPayload starts the lobby's game.
type LobbyStartPayload struct {
	LobbyID       string `json:"lobbyId"`
	ActorPlayerID string `json:"actorPlayerId"`
}

// GamePlayCardPayload plays a card.
type GamePlayCardPayload struct {
	GameID    string      `json:"gameId"`
	ActorSeat euchre.Seat `json:"actorSeat"`
	CardID    string      `json:"cardId"`
}

// GamePassPayload passes during bidding.
type GamePassPayload struct {
	GameID    string      `json:"gameId"`
	ActorSeat euchre.Seat `json:"actorSeat"`
}

// GameOrderUpPayload orders the upcard suit as trump.
type GameOrderUpPayload struct {
	GameID    string      `json:"gameId"`
	ActorSeat euchre.Seat `json:"actorSeat"`
	Alone     bool        `json:"alone,omitempty"`
}

// GameCallTrumpPayload names trump in round two.
type GameCallTrumpPayload struct {
	GameID    string      `json:"gameId"`
	ActorSeat euchre.Seat `json:"actorSeat"`
	Trump     euchre.Suit `json:"trump"`
	Alone     bool        `json:"alone,omitempty"`
}

func decode(raw json.RawMessage, into any) []Issue {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	if err := dec.Decode(into); err != nil {
		return []Issue{{Path: "payload", Message: "payload decode: " + err.Error()}}
	}
	return nil
}

func requireID(issues []Issue, path, value string) []Issue {
	if value == "" {
		return append(issues, Issue{Path: path, Message: path + " is required"})
	}
	if !ident.ValidID(value) {
		return append(issues, Issue{Path: path, Message: path + " is not a well-formed identifier"})
	}
	return issues
}

func requireSeat(issues []Issue, path string, seat euchre.Seat) []Issue {
	if !euchre.ValidSeat(seat) {
		return append(issues, Issue{Path: path, Message: path + " must be north, east, south, or west"})
	}
	return issues
}

// DecodeLobbyCreate validates and decodes a lobby.create payload.
func DecodeLobbyCreate(cmd Command) (LobbyCreatePayload, []Issue) {
	var p LobbyCreatePayload
	if issues := decode(cmd.Payload, &p); issues != nil {
		return p, issues
	}
	var issues []Issue
	if strings.TrimSpace(p.DisplayName) == "" {
		issues = append(issues, Issue{Path: "displayName", Message: "displayName must be a non-empty string"})
	}
	return p, issues
}

// DecodeLobbyJoin validates and decodes a lobby.join payload.
func DecodeLobbyJoin(cmd Command) (LobbyJoinPayload, []Issue) {
	var p LobbyJoinPayload
	if issues := decode(cmd.Payload, &p); issues != nil {
		return p, issues
	}
	var issues []Issue
	issues = requireID(issues, "lobbyId", p.LobbyID)
	if p.ReconnectToken == "" && strings.TrimSpace(p.DisplayName) == "" {
		issues = append(issues, Issue{Path: "displayName", Message: "displayName is required when joining without a reconnect token"})
	}
	if p.ReconnectToken != "" && !ident.ValidTokenShape(p.ReconnectToken) {
		issues = append(issues, Issue{Path: "reconnectToken", Message: "reconnectToken is malformed"})
	}
	return p, issues
}

// DecodeLobbyUpdateName validates and decodes a lobby.update_name payload.
func DecodeLobbyUpdateName(cmd Command) (LobbyUpdateNamePayload, []Issue) {
	var p LobbyUpdateNamePayload
	if issues := decode(cmd.Payload, &p); issues != nil {
		return p, issues
	}
	var issues []Issue
	issues = requireID(issues, "lobbyId", p.LobbyID)
	issues = requireID(issues, "playerId", p.PlayerID)
	if strings.TrimSpace(p.DisplayName) == "" {
		issues = append(issues, Issue{Path: "displayName", Message: "displayName must be a non-empty string"})
	}
	return p, issues
}

// DecodeLobbyStart validates and decodes a lobby.start payload.
func DecodeLobbyStart(cmd Command) (LobbyStartPayload, []Issue) {
	var p LobbyStartPayload
	if issues := decode(cmd.Payload, &p); issues != nil {
		return p, issues
	}
	var issues []Issue
	issues = requireID(issues, "lobbyId", p.LobbyID)
	issues = requireID(issues, "actorPlayerId", p.ActorPlayerID)
	return p, issues
}

// DecodeGamePlayCard validates and decodes a game.play_card payload.
func DecodeGamePlayCard(cmd Command) (GamePlayCardPayload, []Issue) {
	var p GamePlayCardPayload
	if issues := decode(cmd.Payload, &p); issues != nil {
		return p, issues
	}
	var issues []Issue
	issues = requireID(issues, "gameId", p.GameID)
	issues = requireSeat(issues, "actorSeat", p.ActorSeat)
	if _, err := euchre.ParseCardID(p.CardID); err != nil {
		issues = append(issues, Issue{Path: "cardId", Message: err.Error()})
	}
	return p, issues
}

// DecodeGamePass validates and decodes a game.pass payload.
func DecodeGamePass(cmd Command) (GamePassPayload, []Issue) {
	var p GamePassPayload
	if issues := decode(cmd.Payload, &p); issues != nil {
		return p, issues
	}
	var issues []Issue
	issues = requireID(issues, "gameId", p.GameID)
	issues = requireSeat(issues, "actorSeat", p.ActorSeat)
	return p, issues
}

// DecodeGameOrderUp validates and decodes a game.order_up payload.
func DecodeGameOrderUp(cmd Command) (GameOrderUpPayload, []Issue) {
	var p GameOrderUpPayload
	if issues := decode(cmd.Payload, &p); issues != nil {
		return p, issues
	}
	var issues []Issue
	issues = requireID(issues, "gameId", p.GameID)
	issues = requireSeat(issues, "actorSeat", p.ActorSeat)
	return p, issues
}

// DecodeGameCallTrump validates and decodes a game.call_trump payload.
func DecodeGameCallTrump(cmd Command) (GameCallTrumpPayload, []Issue) {
	var p GameCallTrumpPayload
	if issues := decode(cmd.Payload, &p); issues != nil {
		return p, issues
	}
	var issues []Issue
	issues = requireID(issues, "gameId", p.GameID)
	issues = requireSeat(issues, "actorSeat", p.ActorSeat)
	switch p.Trump {
	case euchre.Clubs, euchre.Diamonds, euchre.Hearts, euchre.Spades:
	default:
		issues = append(issues, Issue{Path: "trump", Message: "trump must be clubs, diamonds, hearts, or spades"})
	}
	return p, issues
}
