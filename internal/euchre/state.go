package euchre

// Seat is one of the four fixed table positions, clockwise.
type Seat string

const (
	North Seat = "north"
	East  Seat = "east"
	South Seat = "south"
	West  Seat = "west"
)

// SeatOrder is the clockwise rotation used everywhere.
var SeatOrder = []Seat{North, East, South, West}

// Team groups opposite seats: north/south are teamA, east/west teamB.
type Team string

const (
	TeamA Team = "teamA"
	TeamB Team = "teamB"
)

// TeamOf returns the team a seat belongs to.
func TeamOf(s Seat) Team {
	if s == North || s == South {
		return TeamA
	}
	return TeamB
}

// OpposingTeam returns the other team.
func OpposingTeam(t Team) Team {
	if t == TeamA {
		return TeamB
	}
	return TeamA
}

// PartnerOf returns the seat across the table.
func PartnerOf(s Seat) Seat {
	switch s {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	case West:
		return East
	}
	return s
}

// NextSeat returns the next seat clockwise.
func NextSeat(s Seat) Seat {
	switch s {
	case North:
		return East
	case East:
		return South
	case South:
		return West
	case West:
		return North
	}
	return s
}

// ValidSeat reports whether s is one of the four table positions.
func ValidSeat(s Seat) bool {
	switch s {
	case North, East, South, West:
		return true
	}
	return false
}

// Phase is the game state machine phase.
type Phase string

const (
	PhaseDeal      Phase = "deal"
	PhaseRound1    Phase = "round1_bidding"
	PhaseRound2    Phase = "round2_bidding"
	PhasePlay      Phase = "play"
	PhaseScore     Phase = "score"
	PhaseCompleted Phase = "completed"
)

// BiddingState tracks the bidding rounds of the current hand.
type BiddingState struct {
	Round  int    `json:"round"` // 1 or 2
	Turn   Seat   `json:"turn"`
	Passes []Seat `json:"passes"`
}

// TrickPlay is one card played into the current trick.
type TrickPlay struct {
	Seat Seat `json:"seat"`
	Card Card `json:"card"`
}

// TrickState is the trick currently on the table.
type TrickState struct {
	Number    int         `json:"number"` // 1-based within the hand
	Leader    Seat        `json:"leader"`
	SeatOrder []Seat      `json:"seatOrder"` // rotation excluding a sitting-out partner
	Plays     []TrickPlay `json:"plays"`
}

// LedSuit returns the effective suit led this trick, or "" before any play.
func (t *TrickState) LedSuit(trump Suit) Suit {
	if t == nil || len(t.Plays) == 0 {
		return ""
	}
	return EffectiveSuit(t.Plays[0].Card, trump)
}

// HandResult summarizes the most recently scored hand.
type HandResult struct {
	HandNumber int           `json:"handNumber"`
	Maker      Team          `json:"maker"`
	Alone      bool          `json:"alone"`
	TricksWon  map[Team]int  `json:"tricksWon"`
	ScoredTeam Team          `json:"scoredTeam"`
	Points     int           `json:"points"`
}

// GameState is the authoritative state of one euchre game. All transition
// functions treat it as a value: they deep-copy before mutating and never
// alias slices or maps of their input.
type GameState struct {
	GameID  string `json:"gameId"`
	LobbyID string `json:"lobbyId"`

	Phase       Phase `json:"phase"`
	HandNumber  int   `json:"handNumber"`
	Dealer      Seat  `json:"dealer"`
	TargetScore int   `json:"targetScore"`

	Scores map[Team]int `json:"scores"`
	Winner Team         `json:"winner,omitempty"`

	SeatPlayers map[Seat]string `json:"seatPlayers"` // seat -> playerId

	Hands  map[Seat][]Card `json:"hands"`
	Upcard *Card           `json:"upcard,omitempty"`
	Kitty  []Card          `json:"kitty"`

	Bidding *BiddingState `json:"bidding,omitempty"`

	Trump          Suit `json:"trump,omitempty"`
	Maker          Team `json:"maker,omitempty"`
	MakerSeat      Seat `json:"makerSeat,omitempty"`
	Alone          bool `json:"alone"`
	PartnerSitsOut Seat `json:"partnerSitsOut,omitempty"`

	Trick       *TrickState  `json:"trick,omitempty"`
	TricksWon   map[Team]int `json:"tricksWon"`
	PlayedCards []Card       `json:"playedCards"` // completed trick plays this hand

	LastHand *HandResult `json:"lastHand,omitempty"`
}

// Clone returns a deep copy sharing no mutable state with the receiver.
func (g GameState) Clone() GameState {
	out := g
	out.Scores = cloneTeamInts(g.Scores)
	out.TricksWon = cloneTeamInts(g.TricksWon)
	out.SeatPlayers = cloneSeatStrings(g.SeatPlayers)
	out.Hands = make(map[Seat][]Card, len(g.Hands))
	for s, h := range g.Hands {
		out.Hands[s] = append([]Card(nil), h...)
	}
	if g.Upcard != nil {
		u := *g.Upcard
		out.Upcard = &u
	}
	out.Kitty = append([]Card(nil), g.Kitty...)
	if g.Bidding != nil {
		b := *g.Bidding
		b.Passes = append([]Seat(nil), g.Bidding.Passes...)
		out.Bidding = &b
	}
	if g.Trick != nil {
		t := *g.Trick
		t.SeatOrder = append([]Seat(nil), g.Trick.SeatOrder...)
		t.Plays = append([]TrickPlay(nil), g.Trick.Plays...)
		out.Trick = &t
	}
	out.PlayedCards = append([]Card(nil), g.PlayedCards...)
	if g.LastHand != nil {
		lh := *g.LastHand
		lh.TricksWon = cloneTeamInts(g.LastHand.TricksWon)
		out.LastHand = &lh
	}
	return out
}

func cloneTeamInts(m map[Team]int) map[Team]int {
	if m == nil {
		return nil
	}
	out := make(map[Team]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSeatStrings(m map[Seat]string) map[Seat]string {
	if m == nil {
		return nil
	}
	out := make(map[Seat]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CurrentTurn returns the seat whose action the game is waiting on, or ""
// when no seat is on turn (deal, score, completed).
func (g GameState) CurrentTurn() Seat {
	switch g.Phase {
	case PhaseRound1, PhaseRound2:
		if g.Bidding != nil {
			return g.Bidding.Turn
		}
	case PhasePlay:
		if g.Trick != nil && len(g.Trick.Plays) < len(g.Trick.SeatOrder) {
			return g.Trick.SeatOrder[len(g.Trick.Plays)]
		}
	}
	return ""
}

// TrickNumber returns the 1-based number of the trick in progress, or the
// count of completed tricks outside the play phase.
func (g GameState) TrickNumber() int {
	if g.Trick != nil {
		return g.Trick.Number
	}
	n := 0
	for _, v := range g.TricksWon {
		n += v
	}
	return n
}

// NewGame builds a fresh game in the deal phase. Seats map table positions
// to player ids; dealer opens at north for hand one.
func NewGame(gameID, lobbyID string, seatPlayers map[Seat]string, targetScore int) GameState {
	if targetScore < 1 {
		targetScore = 10
	}
	return GameState{
		GameID:      gameID,
		LobbyID:     lobbyID,
		Phase:       PhaseDeal,
		HandNumber:  0,
		Dealer:      North,
		TargetScore: targetScore,
		Scores:      map[Team]int{TeamA: 0, TeamB: 0},
		TricksWon:   map[Team]int{TeamA: 0, TeamB: 0},
		SeatPlayers: cloneSeatStrings(seatPlayers),
		Hands:       map[Seat][]Card{},
	}
}
