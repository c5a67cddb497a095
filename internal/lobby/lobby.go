// Package lobby holds the pure seat-occupancy state machine. Transitions
// never mutate their input; they return a fresh state or a coded reject.
package lobby

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/fun-euchre/server/internal/euchre"
)

// Phase is the lobby lifecycle phase.
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseInGame    Phase = "in_game"
	PhaseCompleted Phase = "completed"
)

// Reject codes for lobby transitions.
const (
	CodeInvalidAction = "INVALID_ACTION"
	CodeInvalidState  = "INVALID_STATE"
	CodeUnauthorized  = "UNAUTHORIZED"
)

// SeatState is one of the four fixed seats.
type SeatState struct {
	Seat        euchre.Seat `json:"seat"`
	Team        euchre.Team `json:"team"`
	PlayerID    string      `json:"playerId,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
	Connected   bool        `json:"connected"`
}

// State is the full lobby state. Seats keep the fixed north/east/south/west
// order.
type State struct {
	LobbyID      string       `json:"lobbyId"`
	HostPlayerID string       `json:"hostPlayerId"`
	Phase        Phase        `json:"phase"`
	Seats        [4]SeatState `json:"seats"`
}

// Result is the outcome of a lobby transition.
type Result struct {
	OK      bool
	State   State
	Code    string
	Message string
}

func accepted(st State) Result { return Result{OK: true, State: st} }

func rejected(code, format string, args ...any) Result {
	return Result{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Clone returns a deep copy; the seat array is a value so a shallow copy
// of the struct suffices.
func (s State) Clone() State { return s }

// CleanDisplayName trims and NFC-normalizes a display name. Empty after
// cleaning means invalid.
func CleanDisplayName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Create seats the host at north and opens the lobby for joins.
func Create(lobbyID, hostPlayerID, displayName string) Result {
	name := CleanDisplayName(displayName)
	if name == "" {
		return rejected(CodeInvalidAction, "display name must not be empty")
	}
	st := State{
		LobbyID:      lobbyID,
		HostPlayerID: hostPlayerID,
		Phase:        PhaseWaiting,
	}
	for i, seat := range euchre.SeatOrder {
		st.Seats[i] = SeatState{Seat: seat, Team: euchre.TeamOf(seat)}
	}
	st.Seats[0].PlayerID = hostPlayerID
	st.Seats[0].DisplayName = name
	st.Seats[0].Connected = true
	return accepted(st)
}

// Join seats a new player in the first open seat, north to west.
func Join(s State, playerID, displayName string) Result {
	if s.Phase != PhaseWaiting {
		return rejected(CodeInvalidState, "lobby %q is not accepting players", s.LobbyID)
	}
	name := CleanDisplayName(displayName)
	if name == "" {
		return rejected(CodeInvalidAction, "display name must not be empty")
	}
	st := s.Clone()
	open := -1
	for i := range st.Seats {
		if st.Seats[i].PlayerID == playerID {
			return rejected(CodeInvalidAction, "player %q is already seated", playerID)
		}
		if open < 0 && st.Seats[i].PlayerID == "" {
			open = i
		}
	}
	if open < 0 {
		return rejected(CodeInvalidAction, "lobby %q is full", s.LobbyID)
	}
	st.Seats[open].PlayerID = playerID
	st.Seats[open].DisplayName = name
	st.Seats[open].Connected = true
	return accepted(st)
}

// UpdateDisplayName renames a seated player while the lobby is waiting.
func UpdateDisplayName(s State, playerID, displayName string) Result {
	if s.Phase != PhaseWaiting {
		return rejected(CodeInvalidState, "names are locked once the game starts")
	}
	name := CleanDisplayName(displayName)
	if name == "" {
		return rejected(CodeInvalidAction, "display name must not be empty")
	}
	st := s.Clone()
	for i := range st.Seats {
		if st.Seats[i].PlayerID == playerID {
			st.Seats[i].DisplayName = name
			return accepted(st)
		}
	}
	return rejected(CodeUnauthorized, "player %q is not seated in lobby %q", playerID, s.LobbyID)
}

// SetConnection flips a seated player's connected flag. Phase-agnostic:
// disconnects matter mid-game too.
func SetConnection(s State, playerID string, connected bool) Result {
	st := s.Clone()
	for i := range st.Seats {
		if st.Seats[i].PlayerID == playerID {
			st.Seats[i].Connected = connected
			return accepted(st)
		}
	}
	return rejected(CodeUnauthorized, "player %q is not seated in lobby %q", playerID, s.LobbyID)
}

// Start moves the lobby into its game. Host only, waiting phase only, all
// four seats filled.
func Start(s State, actorPlayerID string) Result {
	if s.Phase != PhaseWaiting {
		return rejected(CodeInvalidState, "lobby %q has already started", s.LobbyID)
	}
	if actorPlayerID != s.HostPlayerID {
		return rejected(CodeUnauthorized, "only the host can start the game")
	}
	for i := range s.Seats {
		if s.Seats[i].PlayerID == "" {
			return rejected(CodeInvalidAction, "all four seats must be filled to start")
		}
	}
	st := s.Clone()
	st.Phase = PhaseInGame
	return accepted(st)
}

// Complete marks the lobby's game as finished.
func Complete(s State) Result {
	if s.Phase != PhaseInGame {
		return rejected(CodeInvalidState, "lobby %q has no running game", s.LobbyID)
	}
	st := s.Clone()
	st.Phase = PhaseCompleted
	return accepted(st)
}

// SeatOf returns the seat a player occupies, or "" when unseated.
func (s State) SeatOf(playerID string) euchre.Seat {
	for i := range s.Seats {
		if s.Seats[i].PlayerID == playerID && playerID != "" {
			return s.Seats[i].Seat
		}
	}
	return ""
}

// SeatPlayers returns the seat-to-player mapping for game creation.
func (s State) SeatPlayers() map[euchre.Seat]string {
	out := make(map[euchre.Seat]string, 4)
	for i := range s.Seats {
		if s.Seats[i].PlayerID != "" {
			out[s.Seats[i].Seat] = s.Seats[i].PlayerID
		}
	}
	return out
}
