package protocol

import (
	"github.com/fun-euchre/server/internal/euchre"
)

// TrickView is the public view of the trick in progress.
type TrickView struct {
	Number    int                `json:"number"`
	Leader    euchre.Seat        `json:"leader"`
	SeatOrder []euchre.Seat      `json:"seatOrder"`
	Plays     []euchre.TrickPlay `json:"plays"`
}

// BiddingView is the public view of the bidding rounds.
type BiddingView struct {
	Round  int           `json:"round"`
	Turn   euchre.Seat   `json:"turn"`
	Passes []euchre.Seat `json:"passes"`
	Upcard *euchre.Card  `json:"upcard,omitempty"`
}

// GameStatePayload is the public projection of a game: no hands, no kitty.
type GameStatePayload struct {
	GameID         string              `json:"gameId"`
	HandNumber     int                 `json:"handNumber"`
	TrickNumber    int                 `json:"trickNumber"`
	Dealer         euchre.Seat         `json:"dealer"`
	Turn           euchre.Seat         `json:"turn,omitempty"`
	Trump          *euchre.Suit        `json:"trump"`
	Phase          euchre.Phase        `json:"phase"`
	Maker          euchre.Team         `json:"maker,omitempty"`
	Alone          bool                `json:"alone"`
	PartnerSitsOut euchre.Seat         `json:"partnerSitsOut,omitempty"`
	Bidding        *BiddingView        `json:"bidding,omitempty"`
	Trick          *TrickView          `json:"trick,omitempty"`
	Scores         map[euchre.Team]int `json:"scores"`
	Winner         euchre.Team         `json:"winner,omitempty"`
	LastHand       *euchre.HandResult  `json:"lastHand,omitempty"`
}

func (p GameStatePayload) clone() GameStatePayload {
	out := p
	if p.Trump != nil {
		t := *p.Trump
		out.Trump = &t
	}
	if p.Bidding != nil {
		b := *p.Bidding
		b.Passes = append([]euchre.Seat(nil), p.Bidding.Passes...)
		if p.Bidding.Upcard != nil {
			u := *p.Bidding.Upcard
			b.Upcard = &u
		}
		out.Bidding = &b
	}
	if p.Trick != nil {
		t := *p.Trick
		t.SeatOrder = append([]euchre.Seat(nil), p.Trick.SeatOrder...)
		t.Plays = append([]euchre.TrickPlay(nil), p.Trick.Plays...)
		out.Trick = &t
	}
	if p.Scores != nil {
		m := make(map[euchre.Team]int, len(p.Scores))
		for k, v := range p.Scores {
			m[k] = v
		}
		out.Scores = m
	}
	if p.LastHand != nil {
		lh := *p.LastHand
		if p.LastHand.TricksWon != nil {
			tw := make(map[euchre.Team]int, len(p.LastHand.TricksWon))
			for k, v := range p.LastHand.TricksWon {
				tw[k] = v
			}
			lh.TricksWon = tw
		}
		out.LastHand = &lh
	}
	return out
}

// PrivateStatePayload is the seat-owner-only projection: the hand and the
// legal moves.
type PrivateStatePayload struct {
	GameID          string       `json:"gameId"`
	Seat            euchre.Seat  `json:"seat"`
	Phase           euchre.Phase `json:"phase"`
	HandCardIDs     []string     `json:"handCardIds"`
	LegalActions    []string     `json:"legalActions"`
	PlayableCardIDs []string     `json:"playableCardIds,omitempty"`
}

func (p PrivateStatePayload) clone() PrivateStatePayload {
	out := p
	out.HandCardIDs = append([]string(nil), p.HandCardIDs...)
	out.LegalActions = append([]string(nil), p.LegalActions...)
	out.PlayableCardIDs = append([]string(nil), p.PlayableCardIDs...)
	return out
}

// GameStateEvent projects the public view of a game state.
func GameStateEvent(st euchre.GameState) Event {
	p := GameStatePayload{
		GameID:         st.GameID,
		HandNumber:     st.HandNumber,
		TrickNumber:    st.TrickNumber(),
		Dealer:         st.Dealer,
		Turn:           st.CurrentTurn(),
		Phase:          st.Phase,
		Maker:          st.Maker,
		Alone:          st.Alone,
		PartnerSitsOut: st.PartnerSitsOut,
		Winner:         st.Winner,
	}
	if st.Trump != "" {
		t := st.Trump
		p.Trump = &t
	}
	if st.Bidding != nil {
		p.Bidding = &BiddingView{
			Round:  st.Bidding.Round,
			Turn:   st.Bidding.Turn,
			Passes: append([]euchre.Seat(nil), st.Bidding.Passes...),
		}
		if st.Upcard != nil {
			u := *st.Upcard
			p.Bidding.Upcard = &u
		}
	}
	if st.Trick != nil {
		p.Trick = &TrickView{
			Number:    st.Trick.Number,
			Leader:    st.Trick.Leader,
			SeatOrder: append([]euchre.Seat(nil), st.Trick.SeatOrder...),
			Plays:     append([]euchre.TrickPlay(nil), st.Trick.Plays...),
		}
	}
	p.Scores = map[euchre.Team]int{
		euchre.TeamA: st.Scores[euchre.TeamA],
		euchre.TeamB: st.Scores[euchre.TeamB],
	}
	if st.LastHand != nil {
		lh := *st.LastHand
		p.LastHand = &lh
	}
	return Event{Version: Version, Type: TypeGameState, Payload: p}
}

// PrivateStateEvent projects a seat's private view.
func PrivateStateEvent(st euchre.GameState, seat euchre.Seat) Event {
	hand := st.Hands[seat]
	ids := make([]string, 0, len(hand))
	for _, c := range hand {
		ids = append(ids, c.ID())
	}
	return Event{Version: Version, Type: TypePrivateState, Payload: PrivateStatePayload{
		GameID:          st.GameID,
		Seat:            seat,
		Phase:           st.Phase,
		HandCardIDs:     ids,
		LegalActions:    euchre.LegalActions(st, seat),
		PlayableCardIDs: euchre.PlayableCards(st, seat),
	}}
}
