// Package ident mints and validates the runtime's opaque identifiers and
// signs reconnect tokens.
package ident

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync/atomic"
)

// idPattern matches every opaque identifier: lowercase alphanumeric runs
// joined by single dashes or underscores, case-insensitive.
var idPattern = regexp.MustCompile(`^(?i)[a-z0-9]+([-_][a-z0-9]+)*$`)

// ValidID reports whether s is a well-formed opaque identifier.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// Identifier kinds used by the runtime.
const (
	KindLobby   = "lobby"
	KindGame    = "game"
	KindPlayer  = "player"
	KindSession = "session"
)

// Factory mints opaque identifiers for a given kind.
type Factory interface {
	NewID(kind string) string
}

// SequentialFactory mints deterministic prefix-kind-N identifiers. Used in
// tests and offline replay where stable ids matter.
type SequentialFactory struct {
	prefix string
	next   atomic.Uint64
}

// NewSequentialFactory returns a factory minting "<prefix>-<kind>-<n>".
func NewSequentialFactory(prefix string) *SequentialFactory {
	return &SequentialFactory{prefix: prefix}
}

func (f *SequentialFactory) NewID(kind string) string {
	n := f.next.Add(1)
	return fmt.Sprintf("%s-%s-%d", f.prefix, kind, n)
}

// SecureFactory mints "<kind>-<hex>" ids with 96 random bits.
type SecureFactory struct{}

// NewSecureFactory returns the production id factory.
func NewSecureFactory() *SecureFactory { return &SecureFactory{} }

func (f *SecureFactory) NewID(kind string) string {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the host is unusable.
		panic(fmt.Sprintf("ident: crypto/rand: %v", err))
	}
	return kind + "-" + hex.EncodeToString(buf[:])
}
