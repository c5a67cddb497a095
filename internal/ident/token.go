package ident

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const tokenAlg = "v1"

// DevSecret is the sentinel development secret. Legacy unsigned tokens are
// only honored when the manager is configured with it.
const DevSecret = "dev-secret"

// Verification failures, matched with errors.Is.
var (
	ErrUnsigned     = errors.New("UNSIGNED")
	ErrMalformed    = errors.New("MALFORMED")
	ErrBadSignature = errors.New("BAD_SIGNATURE")
	ErrExpired      = errors.New("EXPIRED")
	ErrMismatch     = errors.New("MISMATCH")
)

var b64Segment = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// TokenClaims is the signed payload of a reconnect token. Field order is
// the canonical encoding; do not reorder.
type TokenClaims struct {
	SessionID  string `json:"sessionId"`
	PlayerID   string `json:"playerId"`
	LobbyID    string `json:"lobbyId"`
	IssuedAtMs int64  `json:"issuedAtMs"`
}

// Expect pins claim fields during verification; empty fields are unchecked.
type Expect struct {
	SessionID string
	PlayerID  string
	LobbyID   string
}

// ValidTokenShape reports whether s parses as a reconnect token: either a
// plain legacy identifier or an <alg>.<payload>.<mac> triple of URL-safe
// base64 segments.
func ValidTokenShape(s string) bool {
	if ValidID(s) {
		return true
	}
	parts := splitToken(s)
	if parts == nil {
		return false
	}
	for _, p := range parts {
		if !b64Segment.MatchString(p) {
			return false
		}
	}
	return true
}

func splitToken(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil
	}
	return parts
}

// TokenManager issues and verifies HMAC-signed reconnect tokens.
type TokenManager struct {
	secret  []byte
	maxAge  time.Duration
	devMode bool
}

// NewTokenManager builds a manager for the given secret. maxAge bounds the
// token lifetime during verification.
func NewTokenManager(secret string, maxAge time.Duration) (*TokenManager, error) {
	if secret == "" {
		return nil, errors.New("reconnect token secret must not be empty")
	}
	if maxAge <= 0 {
		return nil, errors.New("reconnect token max age must be positive")
	}
	return &TokenManager{
		secret:  []byte(secret),
		maxAge:  maxAge,
		devMode: secret == DevSecret,
	}, nil
}

// Issue signs a token binding the session, player, and lobby at now.
func (m *TokenManager) Issue(sessionID, playerID, lobbyID string, now time.Time) string {
	claims := TokenClaims{
		SessionID:  sessionID,
		PlayerID:   playerID,
		LobbyID:    lobbyID,
		IssuedAtMs: now.UnixMilli(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		panic(fmt.Sprintf("ident: marshal token claims: %v", err))
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return tokenAlg + "." + encoded + "." + base64.RawURLEncoding.EncodeToString(m.mac(encoded))
}

func (m *TokenManager) mac(encodedPayload string) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(tokenAlg + "." + encodedPayload))
	return h.Sum(nil)
}

// Verify checks the token's signature, age, and bound fields, returning the
// claims on success. Legacy plain-identifier tokens fail with UNSIGNED
// unless the manager runs on the dev sentinel secret.
func (m *TokenManager) Verify(token string, expect Expect, now time.Time) (TokenClaims, error) {
	parts := splitToken(token)
	if parts == nil {
		if ValidID(token) {
			if m.devMode {
				return TokenClaims{SessionID: expect.SessionID, PlayerID: expect.PlayerID, LobbyID: expect.LobbyID}, nil
			}
			return TokenClaims{}, fmt.Errorf("legacy token rejected: %w", ErrUnsigned)
		}
		return TokenClaims{}, fmt.Errorf("token is not an alg.payload.mac triple: %w", ErrMalformed)
	}
	if parts[0] != tokenAlg {
		return TokenClaims{}, fmt.Errorf("unsupported token algorithm %q: %w", parts[0], ErrBadSignature)
	}
	wantMac, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return TokenClaims{}, fmt.Errorf("mac segment: %w", ErrMalformed)
	}
	if !hmac.Equal(wantMac, m.mac(parts[1])) {
		return TokenClaims{}, fmt.Errorf("token signature mismatch: %w", ErrBadSignature)
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return TokenClaims{}, fmt.Errorf("payload segment: %w", ErrMalformed)
	}
	var claims TokenClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return TokenClaims{}, fmt.Errorf("payload decode: %w", ErrMalformed)
	}
	if claims.SessionID == "" || claims.PlayerID == "" || claims.LobbyID == "" {
		return TokenClaims{}, fmt.Errorf("payload missing bound fields: %w", ErrMalformed)
	}
	if expect.SessionID != "" && claims.SessionID != expect.SessionID {
		return TokenClaims{}, fmt.Errorf("token bound to another session: %w", ErrMismatch)
	}
	if expect.PlayerID != "" && claims.PlayerID != expect.PlayerID {
		return TokenClaims{}, fmt.Errorf("token bound to another player: %w", ErrMismatch)
	}
	if expect.LobbyID != "" && claims.LobbyID != expect.LobbyID {
		return TokenClaims{}, fmt.Errorf("token bound to another lobby: %w", ErrMismatch)
	}
	if now.UnixMilli()-claims.IssuedAtMs > m.maxAge.Milliseconds() {
		return TokenClaims{}, fmt.Errorf("token issued %dms ago: %w", now.UnixMilli()-claims.IssuedAtMs, ErrExpired)
	}
	return claims, nil
}
