// Package cancel provides the cooperative cancellation token checked at the
// top of every repeat and fixed-step invocation.
//
// A Token is a small tagged value with three kinds:
//   - None: never cancelled
//   - Local: a plain flag for a single goroutine (the driver)
//   - Shared: an atomic flag that may be set from any goroutine
//
// Tokens are observed, never enforced. Setting one does not interrupt
// anything; the owning registry drops the entry the next time it looks.
package cancel

import "sync/atomic"

// Kind tags the flavour of a Token.
type Kind uint8

const (
	// KindNone tokens are never cancelled.
	KindNone Kind = iota
	// KindLocal tokens use an unsynchronized flag.
	KindLocal
	// KindShared tokens use an atomic flag.
	KindShared
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindShared:
		return "shared"
	default:
		return "none"
	}
}

// Token is copied by value; copies observe the same flag.
type Token struct {
	kind   Kind
	local  *bool
	shared *atomic.Bool
}

// None returns a token that is never cancelled. The zero Token is None.
func None() Token {
	return Token{}
}

// NewLocal returns a single-goroutine token.
func NewLocal() Token {
	return Token{kind: KindLocal, local: new(bool)}
}

// NewShared returns a token safe to cancel from any goroutine.
func NewShared() Token {
	return Token{kind: KindShared, shared: new(atomic.Bool)}
}

// Kind returns the token flavour.
func (t Token) Kind() Kind {
	return t.kind
}

// Cancel sets the flag. Safe to call repeatedly. No-op for None.
func (t Token) Cancel() {
	switch t.kind {
	case KindLocal:
		*t.local = true
	case KindShared:
		t.shared.Store(true)
	}
}

// Cancelled reports whether Cancel was called on this token or a copy.
func (t Token) Cancelled() bool {
	switch t.kind {
	case KindLocal:
		return *t.local
	case KindShared:
		return t.shared.Load()
	default:
		return false
	}
}

// Guard returns a cancel-on-release guard for t.
//
//	tok := cancel.NewLocal()
//	g := tok.Guard()
//	defer g.Release()
func (t Token) Guard() *Guard {
	return &Guard{token: t}
}

// Guard cancels its token when released unless disarmed. Pair Release with
// defer so the token fires on early return and on panic.
type Guard struct {
	token    Token
	disarmed bool
	released bool
}

// Release cancels the token unless Disarm was called. Idempotent.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	if !g.disarmed {
		g.token.Cancel()
	}
}

// Disarm keeps the token alive past Release.
func (g *Guard) Disarm() {
	g.disarmed = true
}

// Token returns the guarded token.
func (g *Guard) Token() Token {
	return g.token
}
