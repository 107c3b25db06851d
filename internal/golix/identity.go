package golix

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/hkdf"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/herrors"
)

// GolixCore is the identity.*/thirdparty.verify surface spec.md §6.1
// describes as belonging to an external Golix library. It holds one
// party's signing and key-agreement keypairs and produces/consumes every
// primitive kind on their behalf.
//
// Container encryption reuses arkeep's EncryptedString scheme verbatim
// (AES-256-GCM, nonce prepended to ciphertext) rather than inventing a
// new envelope, since that is the one AEAD construction already proven
// out in the retrieval pack.
type GolixCore struct {
	signingPriv ed25519.PrivateKey
	signingPub  ed25519.PublicKey
	agreePriv   *ecdh.PrivateKey
	agreePub    *ecdh.PublicKey
}

// NewGolixCore generates a fresh identity: an ed25519 signing keypair and
// an X25519 agreement keypair, the pair GIDC embeds per spec.md §3.1.
func NewGolixCore() (*GolixCore, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("golix: generate signing key: %w", err)
	}
	agreePriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("golix: generate agreement key: %w", err)
	}
	return &GolixCore{
		signingPriv: signPriv,
		signingPub:  signPub,
		agreePriv:   agreePriv,
		agreePub:    agreePriv.PublicKey(),
	}, nil
}

// sign appends a 64-byte ed25519 signature over kind||body to produce the
// packed wire form [kind][body][signature].
func (c *GolixCore) sign(kind Kind, body []byte) []byte {
	packed := make([]byte, 0, 1+len(body)+signatureSize)
	packed = append(packed, byte(kind))
	packed = append(packed, body...)
	sig := ed25519.Sign(c.signingPriv, packed)
	packed = append(packed, sig...)
	return packed
}

// MakeIdentityContainer packs this identity's two public keys into a
// self-signed GIDC.
func (c *GolixCore) MakeIdentityContainer() *Parsed {
	var body []byte
	putBytes(&body, c.signingPub)
	putBytes(&body, c.agreePub.Bytes())
	packed := c.sign(KindGIDC, body)
	p, _ := Unpack(packed)
	return p
}

// MakeContainer encrypts payload under secret and packs it, together with
// this identity's ghid as author, into a GEOC. The nonce-prepend framing
// matches arkeep's EncryptedString exactly: the GCM nonce occupies the
// first aead.NonceSize() bytes of the ciphertext field.
func (c *GolixCore) MakeContainer(author ghid.Ghid, secret Secret, payload []byte) (*Parsed, error) {
	ciphertext, err := sealAESGCM(secret.Key, payload)
	if err != nil {
		return nil, err
	}
	var body []byte
	putGhid(&body, author)
	putBytes(&body, ciphertext)
	packed := c.sign(KindGEOC, body)
	return Unpack(packed)
}

// OpenContainer decrypts a GEOC's ciphertext using secret. The caller
// (Oracle/GAO layer) is responsible for resolving which Secret applies,
// including any ratchet healing.
func OpenContainer(p *Parsed, secret Secret) ([]byte, error) {
	if p.Kind != KindGEOC {
		return nil, fmt.Errorf("%w: OpenContainer on non-GEOC", herrors.ErrMalformedObject)
	}
	return openAESGCM(secret.Key, p.Ciphertext)
}

// MakeBindingStatic produces a GOBS binding author to target.
func (c *GolixCore) MakeBindingStatic(author, target ghid.Ghid) (*Parsed, error) {
	var body []byte
	putGhid(&body, author)
	putGhid(&body, target)
	packed := c.sign(KindGOBS, body)
	return Unpack(packed)
}

// MakeBindingDynamic produces a GOBD frame: author's stable dynamic
// address, the new frame's target, and the newest-first history of prior
// frame ghids. A history longer than MaxHistory is truncated to its
// MaxHistory newest entries.
func (c *GolixCore) MakeBindingDynamic(author, dynamic, target ghid.Ghid, history []ghid.Ghid) (*Parsed, error) {
	if len(history) > MaxHistory {
		history = history[:MaxHistory]
	}
	var body []byte
	putGhid(&body, author)
	putGhid(&body, dynamic)
	putGhid(&body, target)
	var countBytes [4]byte
	binary.LittleEndian.PutUint32(countBytes[:], uint32(len(history)))
	body = append(body, countBytes[:]...)
	for _, h := range history {
		putGhid(&body, h)
	}
	packed := c.sign(KindGOBD, body)
	return Unpack(packed)
}

// MakeDebind produces a GDXX revoking target. Per spec.md's resolved Open
// Question, a GDXX targeting another GDXX is rejected by Lawyer unless the
// outer GDXX's author matches the inner one's; this function itself places
// no such restriction, since that is a cross-reference concern, not an
// encoding one.
func (c *GolixCore) MakeDebind(author, target ghid.Ghid) (*Parsed, error) {
	var body []byte
	putGhid(&body, author)
	putGhid(&body, target)
	packed := c.sign(KindGDXX, body)
	return Unpack(packed)
}

// MakeRequest produces a GARQ: payload is ECDH+HKDF-SHA512+AES-256-GCM
// encrypted to recipientAgreePub, the same KDF-then-AEAD shape the
// Privateer ratchet uses for symmetric secrets, generalized here to an
// ephemeral asymmetric exchange.
func (c *GolixCore) MakeRequest(author, recipient ghid.Ghid, recipientAgreePub *ecdh.PublicKey, payload []byte) (*Parsed, error) {
	ephemeral, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("golix: generate ephemeral key: %w", err)
	}
	shared, err := ephemeral.ECDH(recipientAgreePub)
	if err != nil {
		return nil, fmt.Errorf("golix: ecdh: %w", err)
	}
	key, err := deriveKey(shared, []byte("hypergolix-garq"))
	if err != nil {
		return nil, err
	}
	ciphertext, err := sealAESGCM(key, payload)
	if err != nil {
		return nil, err
	}

	var encoded []byte
	putBytes(&encoded, ephemeral.PublicKey().Bytes())
	putBytes(&encoded, ciphertext)

	var body []byte
	putGhid(&body, author)
	putGhid(&body, recipient)
	putBytes(&body, encoded)
	packed := c.sign(KindGARQ, body)
	return Unpack(packed)
}

// OpenRequest is the recipient-side counterpart to MakeRequest: it
// recovers the ephemeral sender public key and ciphertext packed into
// p.Payload, performs the ECDH against this identity's agreement private
// key, and decrypts.
func (c *GolixCore) OpenRequest(p *Parsed) ([]byte, error) {
	if p.Kind != KindGARQ {
		return nil, fmt.Errorf("%w: OpenRequest on non-GARQ", herrors.ErrMalformedObject)
	}
	ephemeralBytes, off, err := takeBytes(p.Payload, 0)
	if err != nil {
		return nil, err
	}
	ciphertext, _, err := takeBytes(p.Payload, off)
	if err != nil {
		return nil, err
	}
	ephemeralPub, err := ecdh.X25519().NewPublicKey(ephemeralBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ephemeral key: %v", herrors.ErrMalformedObject, err)
	}
	shared, err := c.agreePriv.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("golix: ecdh: %w", err)
	}
	key, err := deriveKey(shared, []byte("hypergolix-garq"))
	if err != nil {
		return nil, err
	}
	return openAESGCM(key, ciphertext)
}

// Verify checks p's trailing ed25519 signature against signingPub. This is
// the thirdparty.verify primitive Doorman calls once it has resolved the
// author's public key from a GIDC in the Librarian (or, for a GIDC itself,
// the key embedded in the packed bytes).
func Verify(p *Parsed, signingPub ed25519.PublicKey) error {
	if len(p.Packed) < signatureSize {
		return fmt.Errorf("%w: packed too short to verify", herrors.ErrMalformedObject)
	}
	signed := p.Packed[:len(p.Packed)-signatureSize]
	sig := p.Packed[len(p.Packed)-signatureSize:]
	if !ed25519.Verify(signingPub, signed, sig) {
		return herrors.ErrInvalidSignature
	}
	return nil
}

// SigningPublicKey returns this identity's ed25519 public key.
func (c *GolixCore) SigningPublicKey() ed25519.PublicKey { return c.signingPub }

// AgreementPublicKey returns this identity's X25519 public key.
func (c *GolixCore) AgreementPublicKey() *ecdh.PublicKey { return c.agreePub }

// ---- shared AEAD + KDF plumbing --------------------------------------------

// sealAESGCM encrypts plaintext under key, prepending the GCM nonce to the
// returned ciphertext. This is arkeep's EncryptedString.Encrypt scheme,
// reused unchanged because it is exactly the AEAD envelope GEOC needs.
func sealAESGCM(key [32]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("golix: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("golix: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("golix: read nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// openAESGCM is the EncryptedString.Decrypt counterpart: it splits the
// leading nonce off ciphertext and opens the remainder.
func openAESGCM(key [32]byte, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("golix: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("golix: new gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", herrors.ErrMalformedObject)
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: gcm open: %v", herrors.ErrSecretMissing, err)
	}
	return plaintext, nil
}

// deriveKey runs HKDF-SHA512 over shared secret material to produce a
// 32-byte AES-256 key. The same construction backs the Privateer ratchet
// in ratchet.go; GARQ's ephemeral ECDH output is fed through it here with
// a distinct info string so the two uses can never collide.
func deriveKey(secret, info []byte) ([32]byte, error) {
	var key [32]byte
	kdf := hkdf.New(sha512.New, secret, nil, info)
	if _, err := kdf.Read(key[:]); err != nil {
		return key, fmt.Errorf("golix: hkdf: %w", err)
	}
	return key, nil
}
