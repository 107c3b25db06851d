package bootstrap

import (
	"context"
	"fmt"

	"golang.org/x/crypto/scrypt"

	"github.com/hypergolix/hypergolix/internal/gao"
	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/oracle"
)

// scrypt cost parameters, spec.md §6.4's exact derivation.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptDKLen  = 48
	scryptKeyEnd = 32 // key is dkLen[0:32]
)

// DerivePrimarySecret recomputes the primary manifest's secret from the
// account password, salted by the user's own dynamic ghid. The same
// (password, userGhid) pair always reproduces the same secret, which is
// what lets account restore work from the password alone (spec.md §6.4,
// §8 property 5's "bootstrap restore").
func DerivePrimarySecret(password []byte, userGhid ghid.Ghid) (golix.Secret, error) {
	dk, err := scrypt.Key(password, userGhid[:], scryptN, scryptR, scryptP, scryptDKLen)
	if err != nil {
		return golix.Secret{}, fmt.Errorf("bootstrap: derive primary secret: %w", err)
	}
	var secret golix.Secret
	secret.CipherID = golix.CipherAES256GCM
	copy(secret.Key[:], dk[0:scryptKeyEnd])
	copy(secret.Seed[:], dk[scryptKeyEnd:scryptDKLen]) // 16 bytes, zero-extended
	return secret, nil
}

// rawState wraps a plain byte payload so the primary manifest's fixed-layout
// bytes can ride through a GAO's Push/Pull without the default JSON codec
// re-encoding them.
type rawState struct {
	Bytes []byte
}

type rawCodec struct{}

func (rawCodec) Marshal(state interface{}) ([]byte, error) {
	s, ok := state.(*rawState)
	if !ok {
		return nil, fmt.Errorf("bootstrap: rawCodec: unexpected state type %T", state)
	}
	return s.Bytes, nil
}

func (rawCodec) Unmarshal(data []byte, out interface{}) error {
	s, ok := out.(*rawState)
	if !ok {
		return fmt.Errorf("bootstrap: rawCodec: unexpected target type %T", out)
	}
	s.Bytes = append([]byte(nil), data...)
	return nil
}

// IdentityState is the identity container's payload: a pointer at the
// account's current GIDC, indirected through a dynamic object so identity
// rotation never has to touch the primary manifest.
type IdentityState struct {
	GIDCGhid ghid.Ghid `json:"gidc_ghid"`
}

// SecretMapState is the payload shape shared by the persistent and
// quarantine secrets stores: an account-level inventory of container
// secrets, keyed by the container ghid's hex string since JSON object keys
// must be strings.
type SecretMapState struct {
	Secrets map[string]golix.Secret `json:"secrets"`
}

// SecondaryManifestState is the secondary manifest's payload: well-known
// string keys to ghids, spec.md §6.4's "rolodex.pending, dispatch.tokens,
// ipc.incoming" examples.
type SecondaryManifestState struct {
	Entries map[string]ghid.Ghid `json:"entries"`
}

// Account is a fully materialized bootstrap chain: the primary manifest
// plus live handles on the four dynamic objects it names.
type Account struct {
	UserGhid      ghid.Ghid
	PrimarySecret golix.Secret
	Manifest      Manifest

	Primary    *gao.GAO
	Identity   *gao.GAO
	Persistent *gao.GAO
	Quarantine *gao.GAO
	Secondary  *gao.GAO
}

// CreateAccount mints a brand-new account: four master-secreted dynamic
// objects (identity, persistent secrets, quarantine secrets, secondary
// manifest), assembles the primary manifest referencing them, and pushes
// it as the master-secreted chain rooted at userGhid, keyed by the
// password-derived primary secret.
func CreateAccount(ctx context.Context, oc *oracle.Oracle, author, userGhid ghid.Ghid, password []byte, initialGIDCGhid ghid.Ghid) (*Account, error) {
	primarySecret, err := DerivePrimarySecret(password, userGhid)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create account: %w", err)
	}

	identitySecret, err := gao.RandomSecret()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create account: %w", err)
	}
	// Each master secret is cut down to what the manifest can store, so
	// RestoreAccount derives the same chain from the decoded copy.
	identitySecret = decodeSecret(encodeSecret(identitySecret))
	identity, err := oc.NewDynamicObject(ctx, author, &IdentityState{GIDCGhid: initialGIDCGhid}, &identitySecret,
		func() interface{} { return &IdentityState{} })
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create account: identity container: %w", err)
	}

	persistentSecret, err := gao.RandomSecret()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create account: %w", err)
	}
	persistentSecret = decodeSecret(encodeSecret(persistentSecret))
	persistent, err := oc.NewDynamicObject(ctx, author, &SecretMapState{Secrets: map[string]golix.Secret{}}, &persistentSecret,
		func() interface{} { return &SecretMapState{} })
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create account: persistent secrets store: %w", err)
	}

	quarantineSecret, err := gao.RandomSecret()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create account: %w", err)
	}
	quarantineSecret = decodeSecret(encodeSecret(quarantineSecret))
	quarantine, err := oc.NewDynamicObject(ctx, author, &SecretMapState{Secrets: map[string]golix.Secret{}}, &quarantineSecret,
		func() interface{} { return &SecretMapState{} })
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create account: quarantine secrets store: %w", err)
	}

	secondarySecret, err := gao.RandomSecret()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create account: %w", err)
	}
	secondarySecret = decodeSecret(encodeSecret(secondarySecret))
	secondary, err := oc.NewDynamicObject(ctx, author, &SecondaryManifestState{Entries: map[string]ghid.Ghid{}}, &secondarySecret,
		func() interface{} { return &SecondaryManifestState{} })
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create account: secondary manifest: %w", err)
	}

	manifest := Manifest{
		IdentityGhid:     identity.Ghid(),
		IdentitySecret:   identitySecret,
		PersistentGhid:   persistent.Ghid(),
		PersistentSecret: persistentSecret,
		QuarantineGhid:   quarantine.Ghid(),
		QuarantineSecret: quarantineSecret,
		SecondaryGhid:    secondary.Ghid(),
		SecondarySecret:  secondarySecret,
	}

	encoded, err := manifest.Encode()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create account: %w", err)
	}

	primary, err := oc.NewDynamicObjectWithGhid(ctx, userGhid, author, &rawState{Bytes: encoded}, &primarySecret,
		func() interface{} { return &rawState{} }, rawCodec{})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: create account: push primary manifest: %w", err)
	}

	return &Account{
		UserGhid:      userGhid,
		PrimarySecret: primarySecret,
		Manifest:      manifest,
		Primary:       primary,
		Identity:      identity,
		Persistent:    persistent,
		Quarantine:    quarantine,
		Secondary:     secondary,
	}, nil
}

// RestoreAccount recomputes the primary secret from (password, userGhid),
// pulls the primary manifest, decodes it, and pulls the four dynamic
// objects it names. Spec.md §8 property 5's "bootstrap restore".
func RestoreAccount(ctx context.Context, oc *oracle.Oracle, author, userGhid ghid.Ghid, password []byte) (*Account, error) {
	primarySecret, err := DerivePrimarySecret(password, userGhid)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: restore account: %w", err)
	}

	primary, err := oc.GetWithCodec(ctx, userGhid, true, author, &primarySecret, func() interface{} { return &rawState{} }, rawCodec{})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: restore account: pull primary manifest: %w", err)
	}
	raw, ok := primary.State().(*rawState)
	if !ok {
		return nil, fmt.Errorf("bootstrap: restore account: primary manifest state has unexpected type %T", primary.State())
	}

	manifest, err := DecodeManifest(raw.Bytes)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: restore account: %w", err)
	}

	identity, err := oc.Get(ctx, manifest.IdentityGhid, true, author, &manifest.IdentitySecret, func() interface{} { return &IdentityState{} })
	if err != nil {
		return nil, fmt.Errorf("bootstrap: restore account: identity container: %w", err)
	}
	persistent, err := oc.Get(ctx, manifest.PersistentGhid, true, author, &manifest.PersistentSecret, func() interface{} { return &SecretMapState{} })
	if err != nil {
		return nil, fmt.Errorf("bootstrap: restore account: persistent secrets store: %w", err)
	}
	quarantine, err := oc.Get(ctx, manifest.QuarantineGhid, true, author, &manifest.QuarantineSecret, func() interface{} { return &SecretMapState{} })
	if err != nil {
		return nil, fmt.Errorf("bootstrap: restore account: quarantine secrets store: %w", err)
	}
	secondary, err := oc.Get(ctx, manifest.SecondaryGhid, true, author, &manifest.SecondarySecret, func() interface{} { return &SecondaryManifestState{} })
	if err != nil {
		return nil, fmt.Errorf("bootstrap: restore account: secondary manifest: %w", err)
	}

	return &Account{
		UserGhid:      userGhid,
		PrimarySecret: primarySecret,
		Manifest:      manifest,
		Primary:       primary,
		Identity:      identity,
		Persistent:    persistent,
		Quarantine:    quarantine,
		Secondary:     secondary,
	}, nil
}
