// Package access implements the password and access-code checks that put
// friction in front of weakening a block: cancelling a lockdown, starting an
// override, or unlocking a password-protected blocked page.
//
// The hash is a 32-bit checksum, not a cryptographic digest. It keeps a
// casual glance at the option store from revealing the password and nothing more.
package access

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"unicode/utf16"
)

// ErrAccessDenied is returned when a password or access code does not match.
var ErrAccessDenied = errors.New("access denied")

// ErrNoChallenge is returned when an access code is checked before one was issued.
var ErrNoChallenge = errors.New("access code not issued")

// codeAlphabet omits characters that are easy to confuse when retyped (0/O, 1/l/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// Mode selects which kind of secret guards a flow.
type Mode int

const (
	ModeNone Mode = iota
	ModePassword
	ModeCode32
	ModeCode64
	ModeCode128
)

// CodeLength returns the number of characters in a generated access code,
// or 0 when the mode does not use one.
func (m Mode) CodeLength() int {
	switch m {
	case ModeCode32:
		return 32
	case ModeCode64:
		return 64
	case ModeCode128:
		return 128
	default:
		return 0
	}
}

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModePassword:
		return "password"
	case ModeCode32, ModeCode64, ModeCode128:
		return fmt.Sprintf("code%d", m.CodeLength())
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Requirement describes what a flow demands before it may proceed.
type Requirement struct {
	Mode         Mode
	PasswordHash int32
	HasPassword  bool
}

// Required reports whether the requirement demands any secret at all.
// Password mode without a stored password imposes nothing.
func (r Requirement) Required() bool {
	switch r.Mode {
	case ModePassword:
		return r.HasPassword
	case ModeCode32, ModeCode64, ModeCode128:
		return true
	default:
		return false
	}
}

// Hash32 hashes s over its UTF-16 code units with 32-bit wrapping arithmetic:
// h = h*31 + c. Stored hashes from earlier installations depend on this exact form.
func Hash32(s string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	return h
}

// Verify reports whether candidate hashes to stored.
func Verify(candidate string, stored int32) bool {
	return subtle.ConstantTimeEq(Hash32(candidate), stored) == 1
}

// CreateAccessCode returns a random code of the given length and its hash.
func CreateAccessCode(length int) (string, int32, error) {
	if length <= 0 {
		return "", 0, fmt.Errorf("invalid access code length: %d", length)
	}
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", 0, fmt.Errorf("generate access code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	code := string(buf)
	return code, Hash32(code), nil
}

// Gate runs the check for one flow. For access-code modes it holds the
// outstanding code between Challenge and Check. A Gate is not safe for
// concurrent use; the engine owns it.
type Gate struct {
	req     Requirement
	pending int32
	armed   bool
}

// NewGate creates a gate for the given requirement.
func NewGate(req Requirement) *Gate {
	return &Gate{req: req}
}

// Requirement returns the gate's requirement.
func (g *Gate) Requirement() Requirement {
	return g.req
}

// SetRequirement replaces the requirement and drops any outstanding code.
func (g *Gate) SetRequirement(req Requirement) {
	if req != g.req {
		g.req = req
		g.armed = false
	}
}

// Required reports whether Check must succeed before the flow proceeds.
func (g *Gate) Required() bool {
	return g.req.Required()
}

// Challenge issues a fresh access code in code modes and returns it for the
// user to retype. Password and none modes return an empty string.
func (g *Gate) Challenge() (string, error) {
	n := g.req.Mode.CodeLength()
	if n == 0 {
		return "", nil
	}
	code, hash, err := CreateAccessCode(n)
	if err != nil {
		return "", err
	}
	g.pending = hash
	g.armed = true
	return code, nil
}

// Check verifies candidate against the requirement. A matching access code is
// consumed; a wrong one leaves the challenge outstanding.
func (g *Gate) Check(candidate string) error {
	if !g.req.Required() {
		return nil
	}
	if g.req.Mode == ModePassword {
		if !Verify(candidate, g.req.PasswordHash) {
			return ErrAccessDenied
		}
		return nil
	}
	if !g.armed {
		return ErrNoChallenge
	}
	if !Verify(candidate, g.pending) {
		return ErrAccessDenied
	}
	g.armed = false
	return nil
}
