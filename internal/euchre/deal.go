package euchre

import (
	"fmt"
	"math/rand"
)

// Deal distributes a prepared 24-card deck: five cards to each seat in
// dealing order, one upcard, three to the kitty. The state advances to
// round-1 bidding with the seat left of the dealer on turn. The deck order
// is the caller's concern, which keeps dealing deterministic for replay.
func Deal(g GameState, deck []Card) Result {
	if g.Phase != PhaseDeal {
		return rejected(CodeInvalidState,
			fmt.Sprintf("cannot deal during %s", g.Phase), g.Phase, "deal")
	}
	if len(deck) != 24 {
		return rejected(CodeInvalidAction,
			fmt.Sprintf("deal requires a 24-card deck, got %d", len(deck)), g.Phase, "deal")
	}
	st := g.Clone()
	st.HandNumber++
	st.Hands = make(map[Seat][]Card, 4)

	// Deal in rotation starting left of the dealer.
	seat := NextSeat(st.Dealer)
	idx := 0
	for i := 0; i < 4; i++ {
		hand := make([]Card, 5)
		copy(hand, deck[idx:idx+5])
		st.Hands[seat] = hand
		idx += 5
		seat = NextSeat(seat)
	}
	up := deck[idx]
	idx++
	st.Upcard = &up
	st.Kitty = append([]Card(nil), deck[idx:]...)

	st.Phase = PhaseRound1
	st.Bidding = &BiddingState{Round: 1, Turn: NextSeat(st.Dealer)}
	st.Trump = ""
	st.Maker = ""
	st.MakerSeat = ""
	st.Alone = false
	st.PartnerSitsOut = ""
	st.Trick = nil
	st.TricksWon = map[Team]int{TeamA: 0, TeamB: 0}
	st.PlayedCards = nil
	return accepted(st)
}

// DealShuffled deals from a deck shuffled with the supplied source.
func DealShuffled(g GameState, rng *rand.Rand) Result {
	return Deal(g, ShuffledDeck(rng))
}
