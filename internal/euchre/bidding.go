package euchre

import "fmt"

// Pass declines to name trump. Four passes in round 1 turn down the upcard
// and open round 2; four more passes redeal with the dealer rotated.
func Pass(g GameState, seat Seat) Result {
	if r := checkBidding(g, seat, "pass"); r != nil {
		return *r
	}
	st := g.Clone()
	st.Bidding.Passes = append(st.Bidding.Passes, seat)

	if len(st.Bidding.Passes) < 4 {
		st.Bidding.Turn = NextSeat(seat)
		return accepted(st)
	}

	if st.Bidding.Round == 1 {
		// Upcard turned down; its suit is barred in round 2.
		st.Phase = PhaseRound2
		st.Bidding = &BiddingState{Round: 2, Turn: NextSeat(st.Dealer)}
		return accepted(st)
	}

	// Full table passed twice: redeal with the deal rotated.
	st.Phase = PhaseDeal
	st.Dealer = NextSeat(st.Dealer)
	st.HandNumber-- // the redealt hand keeps its number
	st.Bidding = nil
	st.Hands = map[Seat][]Card{}
	st.Upcard = nil
	st.Kitty = nil
	return accepted(st)
}

// OrderUp accepts the upcard suit as trump. Legal only in round 1. The
// dealer takes the upcard into hand and discards to the kitty.
func OrderUp(g GameState, seat Seat, alone bool) Result {
	if r := checkBidding(g, seat, "order_up"); r != nil {
		return *r
	}
	if g.Phase != PhaseRound1 {
		return rejected(CodeInvalidAction, "order_up is only legal in round-1 bidding", g.Phase, "order_up")
	}
	st := g.Clone()
	trump := st.Upcard.Suit

	// Dealer picks up the upcard and buries the lowest non-trump card.
	hand := append(st.Hands[st.Dealer], *st.Upcard)
	discard := lowestDiscard(hand, trump)
	st.Hands[st.Dealer] = removeCard(hand, discard)
	st.Kitty = append(st.Kitty, discard)
	st.Upcard = nil

	return declareTrump(st, seat, trump, alone)
}

// CallTrump names trump in round 2. The turned-down suit is barred.
func CallTrump(g GameState, seat Seat, trump Suit, alone bool) Result {
	if r := checkBidding(g, seat, "call_trump"); r != nil {
		return *r
	}
	if g.Phase != PhaseRound2 {
		return rejected(CodeInvalidAction, "call_trump is only legal in round-2 bidding", g.Phase, "call_trump")
	}
	switch trump {
	case Clubs, Diamonds, Hearts, Spades:
	default:
		return rejected(CodeInvalidAction, fmt.Sprintf("unknown trump suit %q", trump), g.Phase, "call_trump")
	}
	if g.Upcard != nil && trump == g.Upcard.Suit {
		return rejected(CodeInvalidAction,
			fmt.Sprintf("%s was turned down and cannot be called", trump), g.Phase, "call_trump")
	}
	st := g.Clone()
	return declareTrump(st, seat, trump, alone)
}

func declareTrump(st GameState, seat Seat, trump Suit, alone bool) Result {
	st.Trump = trump
	st.Maker = TeamOf(seat)
	st.MakerSeat = seat
	st.Alone = alone
	st.PartnerSitsOut = ""
	if alone {
		st.PartnerSitsOut = PartnerOf(seat)
	}
	st.Bidding = nil
	st.Phase = PhasePlay
	st.Trick = &TrickState{
		Number:    1,
		Leader:    NextSeat(st.Dealer),
		SeatOrder: rotationFrom(NextSeat(st.Dealer), st.PartnerSitsOut),
	}
	// A sitting-out leader never happens for trick 1 unless the dealer's
	// left is the skipped partner; rotationFrom already excludes it, so
	// realign the leader with the first playing seat.
	st.Trick.Leader = st.Trick.SeatOrder[0]
	return accepted(st)
}

// rotationFrom builds the clockwise seat order starting at lead, skipping
// the sitting-out seat when set.
func rotationFrom(lead Seat, skip Seat) []Seat {
	order := make([]Seat, 0, 4)
	s := lead
	for i := 0; i < 4; i++ {
		if s != skip {
			order = append(order, s)
		}
		s = NextSeat(s)
	}
	return order
}

func checkBidding(g GameState, seat Seat, action string) *Result {
	if g.Phase != PhaseRound1 && g.Phase != PhaseRound2 {
		r := rejected(CodeInvalidState,
			fmt.Sprintf("no bidding during %s", g.Phase), g.Phase, action)
		return &r
	}
	if !ValidSeat(seat) {
		r := rejected(CodeInvalidAction, fmt.Sprintf("unknown seat %q", seat), g.Phase, action)
		return &r
	}
	if g.Bidding == nil || g.Bidding.Turn != seat {
		r := rejected(CodeNotYourTurn,
			fmt.Sprintf("it is not %s's turn to bid", seat), g.Phase, action)
		return &r
	}
	return nil
}

// lowestDiscard picks the weakest card for the dealer to bury after
// ordering up: lowest non-trump by rank, falling back to lowest trump.
func lowestDiscard(hand []Card, trump Suit) Card {
	best := hand[0]
	bestVal := discardValue(best, trump)
	for _, c := range hand[1:] {
		if v := discardValue(c, trump); v < bestVal {
			best, bestVal = c, v
		}
	}
	return best
}

func discardValue(c Card, trump Suit) int {
	if EffectiveSuit(c, trump) == trump {
		return 100 + trickValue(c, trump, trump)
	}
	return rankOrder(c.Rank)
}

func removeCard(hand []Card, target Card) []Card {
	out := make([]Card, 0, len(hand))
	removed := false
	for _, c := range hand {
		if !removed && c == target {
			removed = true
			continue
		}
		out = append(out, c)
	}
	return out
}
