// Package bootstrap implements spec.md §6.4: the account's primary
// manifest, a fixed-layout byte string addressable by the user's user_id
// (itself a dynamic ghid), naming the four dynamic objects that make up an
// account and the master secrets that decrypt each of their chains.
package bootstrap

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
)

// Fixed field offsets and lengths, spec.md §6.4's exact layout.
const (
	offIdentityGhid   = 0
	offIdentitySecret = 65
	offPersistentGhid = 118
	offPersistentSecr = 183
	offQuarantineGhid = 236
	offQuarantineSecr = 301
	offSecondaryGhid  = 354
	offSecondarySecr  = 419
	offPadding        = 472

	fixedLength = offPadding

	// secretFieldLen is the manifest's fixed 53-byte encoding of a Secret:
	// CipherID(1) + Version(1) + Key(32) + a 19-byte half of Seed, the
	// widest slice of Seed the 53-byte field leaves room for once CipherID
	// and Version (both single bytes on golix.Secret) are accounted for.
	// The dropped 13 bytes of Seed are zero-filled on decode, so a decoded
	// secret equals its original only if those bytes were already zero.
	// ratchet.Next feeds the full Seed into HKDF, which is why CreateAccount
	// reduces every master secret to this representable form before use.
	secretFieldLen = 53
	seedHalfLen    = 19

	// paddingMin and paddingMax bound the random-length padding, spec.md
	// §6.4: "R ∈ [1024, 9215]".
	paddingMin = 1024
	paddingMax = 9215
)

// Manifest is the decoded form of the primary manifest: the four
// (dynamic ghid, master secret) pairs an account is built from.
type Manifest struct {
	IdentityGhid     ghid.Ghid
	IdentitySecret   golix.Secret
	PersistentGhid   ghid.Ghid
	PersistentSecret golix.Secret
	QuarantineGhid   ghid.Ghid
	QuarantineSecret golix.Secret
	SecondaryGhid    ghid.Ghid
	SecondarySecret  golix.Secret
}

// Encode renders m as the fixed-layout primary manifest byte string,
// including random-length random-filled padding.
func (m Manifest) Encode() ([]byte, error) {
	padLen, err := randomPadLength()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: encode: %w", err)
	}

	out := make([]byte, fixedLength+padLen)
	copy(out[offIdentityGhid:], m.IdentityGhid[:])
	copy(out[offIdentitySecret:], encodeSecret(m.IdentitySecret))
	copy(out[offPersistentGhid:], m.PersistentGhid[:])
	copy(out[offPersistentSecr:], encodeSecret(m.PersistentSecret))
	copy(out[offQuarantineGhid:], m.QuarantineGhid[:])
	copy(out[offQuarantineSecr:], encodeSecret(m.QuarantineSecret))
	copy(out[offSecondaryGhid:], m.SecondaryGhid[:])
	copy(out[offSecondarySecr:], encodeSecret(m.SecondarySecret))

	if _, err := rand.Read(out[offPadding:]); err != nil {
		return nil, fmt.Errorf("bootstrap: encode: fill padding: %w", err)
	}
	return out, nil
}

// DecodeManifest parses the fixed-layout fields out of a primary manifest
// byte string, ignoring its trailing padding.
func DecodeManifest(data []byte) (Manifest, error) {
	if len(data) < fixedLength {
		return Manifest{}, fmt.Errorf("bootstrap: decode: manifest too short: %d bytes, want at least %d", len(data), fixedLength)
	}

	identityGhid, err := ghid.FromBytes(data[offIdentityGhid : offIdentityGhid+ghid.Size])
	if err != nil {
		return Manifest{}, fmt.Errorf("bootstrap: decode: identity ghid: %w", err)
	}
	persistentGhid, err := ghid.FromBytes(data[offPersistentGhid : offPersistentGhid+ghid.Size])
	if err != nil {
		return Manifest{}, fmt.Errorf("bootstrap: decode: persistent secrets ghid: %w", err)
	}
	quarantineGhid, err := ghid.FromBytes(data[offQuarantineGhid : offQuarantineGhid+ghid.Size])
	if err != nil {
		return Manifest{}, fmt.Errorf("bootstrap: decode: quarantine secrets ghid: %w", err)
	}
	secondaryGhid, err := ghid.FromBytes(data[offSecondaryGhid : offSecondaryGhid+ghid.Size])
	if err != nil {
		return Manifest{}, fmt.Errorf("bootstrap: decode: secondary manifest ghid: %w", err)
	}

	return Manifest{
		IdentityGhid:     identityGhid,
		IdentitySecret:   decodeSecret(data[offIdentitySecret : offIdentitySecret+secretFieldLen]),
		PersistentGhid:   persistentGhid,
		PersistentSecret: decodeSecret(data[offPersistentSecr : offPersistentSecr+secretFieldLen]),
		QuarantineGhid:   quarantineGhid,
		QuarantineSecret: decodeSecret(data[offQuarantineSecr : offQuarantineSecr+secretFieldLen]),
		SecondaryGhid:    secondaryGhid,
		SecondarySecret:  decodeSecret(data[offSecondarySecr : offSecondarySecr+secretFieldLen]),
	}, nil
}

// encodeSecret renders secret into the manifest's fixed 53-byte field.
func encodeSecret(secret golix.Secret) []byte {
	out := make([]byte, secretFieldLen)
	out[0] = secret.CipherID
	out[1] = secret.Version
	copy(out[2:34], secret.Key[:])
	copy(out[34:53], secret.Seed[:seedHalfLen])
	return out
}

// decodeSecret reconstructs a Secret from the manifest's fixed 53-byte
// field, zero-extending the truncated Seed half back to its full width.
func decodeSecret(b []byte) golix.Secret {
	var s golix.Secret
	s.CipherID = b[0]
	s.Version = b[1]
	copy(s.Key[:], b[2:34])
	copy(s.Seed[:seedHalfLen], b[34:53])
	return s
}

// randomPadLength picks a padding length uniformly in [paddingMin, paddingMax].
func randomPadLength() (int, error) {
	span := big.NewInt(paddingMax - paddingMin + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, err
	}
	return paddingMin + int(n.Int64()), nil
}
