// Package ratchet implements the pure secret-derivation function described
// in spec.md §4.9: given a predecessor Secret and a salt ghid, derive the
// successor Secret. It has no state of its own — staging/committing secrets
// is Privateer's job (internal/privateer); this package is the one formula
// GAO calls to drive the chain forward.
package ratchet

import (
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/herrors"

	"crypto/sha512"
)

// MaxLegroom is the default number of missed frames a single healing pass
// will ratchet through before giving up, per spec.md §4.9's "if N exceeds
// legroom, healing fails" rule. A GAO may configure a smaller legroom.
const MaxLegroom = 7

// Next derives the successor of secret, salted by saltGhid, exactly as
// spec.md §4.9 defines: HKDF-SHA512 over ikm = seed||key, salt = saltGhid,
// split back into (key, seed) of the same lengths.
func Next(secret golix.Secret, saltGhid ghid.Ghid) (golix.Secret, error) {
	ikm := secret.IKM()
	kdf := hkdf.New(sha512.New, ikm, saltGhid[:], nil)

	out := make([]byte, 64)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return golix.Secret{}, fmt.Errorf("ratchet: hkdf expand: %w", err)
	}

	next := golix.Secret{
		CipherID: secret.CipherID,
		Version:  secret.Version + 1,
	}
	copy(next.Seed[:], out[:32])
	copy(next.Key[:], out[32:])
	return next, nil
}

// Heal advances secret forward through each salt in frameGhids, oldest
// missed frame first, stopping early and failing if the number of frames
// to walk exceeds legroom. It returns the fully-advanced secret.
func Heal(secret golix.Secret, frameGhids []ghid.Ghid, legroom int) (golix.Secret, error) {
	if legroom <= 0 {
		legroom = MaxLegroom
	}
	if len(frameGhids) > legroom {
		return golix.Secret{}, fmt.Errorf("%w: %d missed frames exceeds legroom %d", herrors.ErrRatchetError, len(frameGhids), legroom)
	}
	current := secret
	for _, salt := range frameGhids {
		next, err := Next(current, salt)
		if err != nil {
			return golix.Secret{}, fmt.Errorf("%w: %v", herrors.ErrRatchetError, err)
		}
		current = next
	}
	return current, nil
}
