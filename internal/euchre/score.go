package euchre

import "fmt"

// ScoreHand converts the trick tally of a finished hand into points,
// rotates the deal, and either opens the next hand or completes the game
// when a team reaches the target score.
//
// Payouts: makers taking 3-4 tricks score 1; a 5-trick march scores 2, or 4
// alone; defenders holding the makers to 0-2 tricks score 2 (a euchre).
func ScoreHand(g GameState) Result {
	if g.Phase != PhaseScore {
		return rejected(CodeInvalidState,
			fmt.Sprintf("cannot score during %s", g.Phase), g.Phase, "score_hand")
	}
	st := g.Clone()

	makerTricks := st.TricksWon[st.Maker]
	scored := st.Maker
	points := 1
	switch {
	case makerTricks == 5 && st.Alone:
		points = 4
	case makerTricks == 5:
		points = 2
	case makerTricks >= 3:
		points = 1
	default:
		scored = OpposingTeam(st.Maker)
		points = 2
	}
	st.Scores[scored] += points

	st.LastHand = &HandResult{
		HandNumber: st.HandNumber,
		Maker:      st.Maker,
		Alone:      st.Alone,
		TricksWon:  cloneTeamInts(st.TricksWon),
		ScoredTeam: scored,
		Points:     points,
	}

	st.Trump = ""
	st.Maker = ""
	st.MakerSeat = ""
	st.Alone = false
	st.PartnerSitsOut = ""
	st.Trick = nil
	st.TricksWon = map[Team]int{TeamA: 0, TeamB: 0}
	st.PlayedCards = nil
	st.Hands = map[Seat][]Card{}
	st.Upcard = nil
	st.Kitty = nil

	if st.Scores[scored] >= st.TargetScore {
		st.Phase = PhaseCompleted
		st.Winner = scored
		return accepted(st)
	}

	st.Phase = PhaseDeal
	st.Dealer = NextSeat(st.Dealer)
	return accepted(st)
}

// CompleteByForfeit ends the game in favor of the given team, forcing its
// score to at least the target. Used by the reconnect forfeit resolver.
func CompleteByForfeit(g GameState, winner Team) Result {
	if g.Phase == PhaseCompleted {
		return rejected(CodeInvalidState, "game is already completed", g.Phase, "forfeit")
	}
	st := g.Clone()
	st.Phase = PhaseCompleted
	st.Winner = winner
	if st.Scores[winner] < st.TargetScore {
		st.Scores[winner] = st.TargetScore
	}
	st.Bidding = nil
	st.Trick = nil
	return accepted(st)
}
