package euchre

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func scoredState(makerTricks int, alone bool) GameState {
	g := NewGame("game-1", "lobby-1", testSeatPlayers(), 10)
	g.Phase = PhaseScore
	g.HandNumber = 1
	g.Maker = TeamA
	g.MakerSeat = North
	g.Alone = alone
	if alone {
		g.PartnerSitsOut = South
	}
	g.Trump = Hearts
	g.TricksWon = map[Team]int{TeamA: makerTricks, TeamB: 5 - makerTricks}
	return g
}

func TestScoreHandPayouts(t *testing.T) {
	tests := []struct {
		name        string
		makerTricks int
		alone       bool
		wantTeam    Team
		wantPoints  int
	}{
		{"makers take three", 3, false, TeamA, 1},
		{"makers take four", 4, false, TeamA, 1},
		{"partnered march", 5, false, TeamA, 2},
		{"lone march", 5, true, TeamA, 4},
		{"euchred at two", 2, false, TeamB, 2},
		{"euchred at zero", 0, false, TeamB, 2},
		{"euchred alone", 1, true, TeamB, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ScoreHand(scoredState(tt.makerTricks, tt.alone))
			require.True(t, res.OK)
			st := res.State
			require.Equal(t, tt.wantPoints, st.Scores[tt.wantTeam])
			require.Equal(t, 0, st.Scores[OpposingTeam(tt.wantTeam)])
			require.Equal(t, PhaseDeal, st.Phase)
			require.Equal(t, East, st.Dealer, "deal rotates")
			require.NotNil(t, st.LastHand)
			require.Equal(t, tt.wantTeam, st.LastHand.ScoredTeam)
			require.Equal(t, tt.wantPoints, st.LastHand.Points)
		})
	}
}

func TestScoreHandCompletesAtTarget(t *testing.T) {
	g := scoredState(5, true)
	g.Scores[TeamA] = 6 // 6 + 4 reaches the target of 10

	res := ScoreHand(g)
	require.True(t, res.OK)
	require.Equal(t, PhaseCompleted, res.State.Phase)
	require.Equal(t, TeamA, res.State.Winner)
	require.Equal(t, 10, res.State.Scores[TeamA])
}

func TestScoreHandWrongPhase(t *testing.T) {
	g := NewGame("game-1", "lobby-1", testSeatPlayers(), 10)
	res := ScoreHand(g)
	require.False(t, res.OK)
	require.Equal(t, CodeInvalidState, res.Reject.Code)
}

func TestCompleteByForfeit(t *testing.T) {
	st := dealtGame(t)
	res := CompleteByForfeit(st, TeamB)
	require.True(t, res.OK)
	require.Equal(t, PhaseCompleted, res.State.Phase)
	require.Equal(t, TeamB, res.State.Winner)
	require.Equal(t, 10, res.State.Scores[TeamB], "winner score forced to target")

	res = CompleteByForfeit(res.State, TeamA)
	require.False(t, res.OK)
	require.Equal(t, CodeInvalidState, res.Reject.Code)
}

func TestCompleteByForfeitKeepsHigherScore(t *testing.T) {
	st := dealtGame(t)
	st.Scores[TeamB] = 11
	res := CompleteByForfeit(st, TeamB)
	require.True(t, res.OK)
	require.Equal(t, 11, res.State.Scores[TeamB])
}
