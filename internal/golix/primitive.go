// Package golix is the Golix library referred to abstractly by spec.md
// §6.1. Hypergolix has no external Golix dependency to bind against, so
// this package both defines the five wire primitives (plus GARQ) and
// implements identity.* / thirdparty.verify against them: ed25519 signing
// (stdlib crypto/ed25519), X25519 key agreement for asymmetric requests
// (stdlib crypto/ecdh), and AES-256-GCM container encryption modeled
// directly on arkeep's internal/db.EncryptedString.
package golix

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/herrors"
)

// Kind tags which of the five Golix primitives (or GARQ) a packed byte
// string decodes to. This is the tagged-union discriminant spec.md §9 asks
// for instead of runtime type tests.
type Kind byte

const (
	KindGIDC Kind = iota + 1
	KindGEOC
	KindGOBS
	KindGOBD
	KindGDXX
	KindGARQ
)

func (k Kind) String() string {
	switch k {
	case KindGIDC:
		return "GIDC"
	case KindGEOC:
		return "GEOC"
	case KindGOBS:
		return "GOBS"
	case KindGOBD:
		return "GOBD"
	case KindGDXX:
		return "GDXX"
	case KindGARQ:
		return "GARQ"
	default:
		return "UNKNOWN"
	}
}

// MaxHistory is the Enforcer's configured maximum GOBD.history length
// (spec.md §4.3). Defined here, not in Enforcer, since the packing and
// unpacking layer needs the same constant to bound its reads.
const MaxHistory = 7

// Parsed is the "lite" parsed-summary form every component above Doorman
// operates on, so a primitive is parsed from its packed bytes exactly once
// (by Unpack) and never re-parsed by Enforcer, Lawyer, Bookie, or
// Undertaker.
type Parsed struct {
	Ghid   ghid.Ghid
	Kind   Kind
	Packed []byte // the exact bytes this Parsed was derived from

	// Populated depending on Kind; zero-valued fields are simply unused for
	// kinds that don't carry them.
	Author     ghid.Ghid   // GEOC, GOBS, GOBD, GDXX, GARQ
	Target     ghid.Ghid   // GOBS, GOBD, GDXX
	Dynamic    ghid.Ghid   // GOBD: the stable dynamic identity
	History    []ghid.Ghid // GOBD: newest-first prior frame ghids
	Recipient  ghid.Ghid   // GARQ
	SigningPub [32]byte    // GIDC: ed25519 public key
	AgreingPub [32]byte    // GIDC: X25519 public key
	Ciphertext []byte      // GEOC: AES-GCM ciphertext (nonce-prefixed)
	Payload    []byte      // GARQ: ECDH+AES-GCM encrypted payload
}

// ---- wire encoding helpers -------------------------------------------------
//
// The wire format of Golix primitives is explicitly out of scope
// (spec.md §1): any deterministic, stable packing the standard library can
// express is acceptable, since nothing outside this module ever needs to
// parse it. Encoding is [kind byte][body][signature], where signature is a
// 64-byte ed25519 signature over [kind byte][body] (self-signed for GIDC).

func putBytes(buf *[]byte, b []byte) {
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(b)))
	*buf = append(*buf, lenBytes[:]...)
	*buf = append(*buf, b...)
}

func takeBytes(data []byte, off int) ([]byte, int, error) {
	if off+4 > len(data) {
		return nil, 0, errors.New("golix: truncated length prefix")
	}
	n := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if n < 0 || off+n > len(data) {
		return nil, 0, errors.New("golix: truncated field")
	}
	return data[off : off+n], off + n, nil
}

func putGhid(buf *[]byte, g ghid.Ghid) {
	*buf = append(*buf, g[:]...)
}

func takeGhid(data []byte, off int) (ghid.Ghid, int, error) {
	if off+ghid.Size > len(data) {
		return ghid.Nil, 0, errors.New("golix: truncated ghid")
	}
	g, err := ghid.FromBytes(data[off : off+ghid.Size])
	return g, off + ghid.Size, err
}

const signatureSize = 64

// Unpack decodes packed bytes into a Parsed summary. It does not verify the
// signature — that is Doorman's job, which needs the author's public key
// fetched from the Librarian (or, for GIDC, the key embedded in the packed
// bytes itself).
func Unpack(packed []byte) (*Parsed, error) {
	if len(packed) < 1+signatureSize {
		return nil, fmt.Errorf("%w: packed primitive too short", herrors.ErrMalformedObject)
	}
	kind := Kind(packed[0])
	body := packed[1 : len(packed)-signatureSize]

	p := &Parsed{
		Ghid:   ghid.Address(packed),
		Kind:   kind,
		Packed: packed,
	}

	off := 0
	var err error
	switch kind {
	case KindGIDC:
		var signingPub, agreePub []byte
		if signingPub, off, err = takeBytes(body, off); err != nil {
			return nil, err
		}
		if agreePub, off, err = takeBytes(body, off); err != nil {
			return nil, err
		}
		if len(signingPub) != 32 || len(agreePub) != 32 {
			return nil, fmt.Errorf("%w: GIDC key length", herrors.ErrMalformedObject)
		}
		copy(p.SigningPub[:], signingPub)
		copy(p.AgreingPub[:], agreePub)

	case KindGEOC:
		if p.Author, off, err = takeGhid(body, off); err != nil {
			return nil, err
		}
		if p.Ciphertext, off, err = takeBytes(body, off); err != nil {
			return nil, err
		}

	case KindGOBS:
		if p.Author, off, err = takeGhid(body, off); err != nil {
			return nil, err
		}
		if p.Target, off, err = takeGhid(body, off); err != nil {
			return nil, err
		}

	case KindGOBD:
		if p.Author, off, err = takeGhid(body, off); err != nil {
			return nil, err
		}
		if p.Dynamic, off, err = takeGhid(body, off); err != nil {
			return nil, err
		}
		if p.Target, off, err = takeGhid(body, off); err != nil {
			return nil, err
		}
		var count uint32
		if off+4 > len(body) {
			return nil, fmt.Errorf("%w: truncated history count", herrors.ErrMalformedObject)
		}
		count = binary.LittleEndian.Uint32(body[off : off+4])
		off += 4
		if int(count) > MaxHistory {
			return nil, fmt.Errorf("%w: history length %d exceeds max %d", herrors.ErrMalformedObject, count, MaxHistory)
		}
		p.History = make([]ghid.Ghid, count)
		for i := 0; i < int(count); i++ {
			if p.History[i], off, err = takeGhid(body, off); err != nil {
				return nil, err
			}
		}

	case KindGDXX:
		if p.Author, off, err = takeGhid(body, off); err != nil {
			return nil, err
		}
		if p.Target, off, err = takeGhid(body, off); err != nil {
			return nil, err
		}

	case KindGARQ:
		if p.Author, off, err = takeGhid(body, off); err != nil {
			return nil, err
		}
		if p.Recipient, off, err = takeGhid(body, off); err != nil {
			return nil, err
		}
		if p.Payload, off, err = takeBytes(body, off); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: unknown primitive kind %d", herrors.ErrMalformedObject, kind)
	}

	return p, nil
}
