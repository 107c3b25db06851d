// Package ghid implements the Golix hash identifier: a 65-byte, typed,
// content-addressed identifier used as the primary key for every primitive
// in the persistence engine.
package ghid

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
)

// Size is the fixed length of a packed ghid: one algorithm byte plus a
// 64-byte digest.
const Size = 65

// Algorithm identifies the hash/signature suite a ghid's digest was produced
// under. Only one is defined by this implementation; the byte exists so a
// future suite can be introduced without changing the wire shape.
type Algorithm byte

// Default is the algorithm tag for a ghid computed as the SHA-512 digest of
// a packed primitive.
const Default Algorithm = 0x01

// RandomTag marks a ghid that is not content-addressed: the stable
// identity a dynamic object's first GOBD frame picks for itself, and every
// later frame for that object carries forward unchanged in its Dynamic
// field (spec.md §3.4's "stable identity of the dynamic object"). Its
// digest bytes are never verified against any content, only compared for
// equality.
const RandomTag Algorithm = 0x02

// Ghid is a 65-byte content identifier. It is a fixed-size array (not a
// slice) so that it is comparable and usable directly as a map key, the way
// every index in the Bookie and Librarian needs it to be.
type Ghid [Size]byte

// Nil is the zero-value ghid, never produced by Address or NewRandom, used
// as a sentinel for "no frame"/"no target".
var Nil Ghid

// Algorithm returns the algorithm byte of this ghid.
func (g Ghid) Algorithm() Algorithm {
	return Algorithm(g[0])
}

// Digest returns the 64-byte digest portion of this ghid.
func (g Ghid) Digest() [64]byte {
	var d [64]byte
	copy(d[:], g[1:])
	return d
}

// IsNil reports whether g is the zero ghid.
func (g Ghid) IsNil() bool {
	return g == Nil
}

// String renders the ghid as lowercase hex, algorithm byte first.
func (g Ghid) String() string {
	return hex.EncodeToString(g[:])
}

// MarshalText implements encoding.TextMarshaler so a Ghid can be used
// directly as a GORM/JSON column and round-trip through text-based stores.
func (g Ghid) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (g *Ghid) UnmarshalText(text []byte) error {
	parsed, err := FromHex(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// FromHex parses a hex-encoded ghid of exactly Size bytes.
func FromHex(s string) (Ghid, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Nil, err
	}
	return FromBytes(b)
}

// FromBytes constructs a Ghid from exactly Size raw bytes.
func FromBytes(b []byte) (Ghid, error) {
	if len(b) != Size {
		return Nil, errors.New("ghid: invalid length")
	}
	var g Ghid
	copy(g[:], b)
	return g, nil
}

// FromDigest builds a ghid from an algorithm byte and a 64-byte digest.
func FromDigest(algo Algorithm, digest [64]byte) Ghid {
	var g Ghid
	g[0] = byte(algo)
	copy(g[1:], digest[:])
	return g
}

// Address computes the content address of a packed primitive: the SHA-512
// digest of packed, tagged with Default.
//
// Hashing is delegated to the standard library (crypto/sha512) rather than
// any third-party digest package — hashing is exactly what the standard
// library is for, and no example in the retrieval pack reaches for a
// third-party hash implementation.
func Address(packed []byte) Ghid {
	digest := sha512.Sum512(packed)
	return FromDigest(Default, digest)
}

// NewRandom mints a fresh RandomTag identity, used as a new dynamic
// object's stable ghid (chosen by its creator, not derived from content).
func NewRandom() (Ghid, error) {
	var digest [64]byte
	if _, err := rand.Read(digest[:]); err != nil {
		return Nil, fmt.Errorf("ghid: new random: %w", err)
	}
	return FromDigest(RandomTag, digest), nil
}

// Set is a convenience alias for the map-as-set idiom used throughout the
// Bookie and Librarian.
type Set map[Ghid]struct{}

// NewSet builds a Set from the given ghids.
func NewSet(ghids ...Ghid) Set {
	s := make(Set, len(ghids))
	for _, g := range ghids {
		s[g] = struct{}{}
	}
	return s
}

// Add inserts g into the set.
func (s Set) Add(g Ghid) { s[g] = struct{}{} }

// Remove deletes g from the set.
func (s Set) Remove(g Ghid) { delete(s, g) }

// Has reports whether g is a member.
func (s Set) Has(g Ghid) bool {
	_, ok := s[g]
	return ok
}

// Slice returns the set's members as a slice, in unspecified order that
// may differ between calls.
func (s Set) Slice() []Ghid {
	out := make([]Ghid, 0, len(s))
	for g := range s {
		out = append(out, g)
	}
	return out
}
