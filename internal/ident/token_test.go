package ident

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testMaxAge = 24 * time.Hour

func testManager(t *testing.T) *TokenManager {
	t.Helper()
	m, err := NewTokenManager("unit-test-secret", testMaxAge)
	require.NoError(t, err)
	return m
}

func TestTokenRoundTrip(t *testing.T) {
	m := testManager(t)
	now := time.UnixMilli(1_000_000)
	token := m.Issue("session-1", "player-1", "lobby-1", now)

	require.True(t, ValidTokenShape(token))

	claims, err := m.Verify(token, Expect{
		SessionID: "session-1",
		PlayerID:  "player-1",
		LobbyID:   "lobby-1",
	}, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, "session-1", claims.SessionID)
	require.Equal(t, "player-1", claims.PlayerID)
	require.Equal(t, "lobby-1", claims.LobbyID)
	require.Equal(t, now.UnixMilli(), claims.IssuedAtMs)
}

// TestTokenSingleByteTamper flips every byte of the token in turn; each
// mutation must fail verification.
func TestTokenSingleByteTamper(t *testing.T) {
	m := testManager(t)
	now := time.UnixMilli(1_000_000)
	token := m.Issue("session-1", "player-1", "lobby-1", now)

	for i := 0; i < len(token); i++ {
		mutated := []byte(token)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		if string(mutated) == token {
			continue
		}
		_, err := m.Verify(string(mutated), Expect{}, now)
		require.Error(t, err, "byte %d mutation must fail", i)
	}
}

func TestTokenExpiry(t *testing.T) {
	m := testManager(t)
	issued := time.UnixMilli(1_000_000)
	token := m.Issue("session-1", "player-1", "lobby-1", issued)

	_, err := m.Verify(token, Expect{}, issued.Add(testMaxAge))
	require.NoError(t, err, "exactly max age is still valid")

	_, err = m.Verify(token, Expect{}, issued.Add(testMaxAge+time.Millisecond))
	require.ErrorIs(t, err, ErrExpired)
}

func TestTokenBindingMismatch(t *testing.T) {
	m := testManager(t)
	now := time.UnixMilli(1_000_000)
	token := m.Issue("session-1", "player-1", "lobby-1", now)

	_, err := m.Verify(token, Expect{SessionID: "session-2"}, now)
	require.ErrorIs(t, err, ErrMismatch)
	_, err = m.Verify(token, Expect{PlayerID: "player-2"}, now)
	require.ErrorIs(t, err, ErrMismatch)
	_, err = m.Verify(token, Expect{LobbyID: "lobby-2"}, now)
	require.ErrorIs(t, err, ErrMismatch)
}

func TestTokenWrongAlgorithm(t *testing.T) {
	m := testManager(t)
	now := time.UnixMilli(1_000_000)
	token := m.Issue("session-1", "player-1", "lobby-1", now)
	mutated := "v2" + token[2:]
	_, err := m.Verify(mutated, Expect{}, now)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestTokenWrongSecret(t *testing.T) {
	m := testManager(t)
	other, err := NewTokenManager("a-different-secret", testMaxAge)
	require.NoError(t, err)
	now := time.UnixMilli(1_000_000)
	token := m.Issue("session-1", "player-1", "lobby-1", now)
	_, err = other.Verify(token, Expect{}, now)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestLegacyTokenRejectedUnlessDevSecret(t *testing.T) {
	m := testManager(t)
	_, err := m.Verify("session-legacy-1", Expect{}, time.Now())
	require.ErrorIs(t, err, ErrUnsigned)

	dev, err := NewTokenManager(DevSecret, testMaxAge)
	require.NoError(t, err)
	_, err = dev.Verify("session-legacy-1", Expect{}, time.Now())
	require.NoError(t, err, "dev sentinel accepts legacy tokens")
}

func TestTokenShapes(t *testing.T) {
	require.True(t, ValidTokenShape("plain-legacy-token"))
	require.True(t, ValidTokenShape("v1.abc_DEF-123.mac"))
	require.False(t, ValidTokenShape("v1.only-two"))
	require.False(t, ValidTokenShape("v1..empty"))
	require.False(t, ValidTokenShape("bad segment.a.b"))
	require.False(t, ValidTokenShape(""))
}

func TestNewTokenManagerValidation(t *testing.T) {
	_, err := NewTokenManager("", testMaxAge)
	require.Error(t, err)
	_, err = NewTokenManager("x", 0)
	require.Error(t, err)
}
