package ratchet

import (
	"testing"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
)

func testSecret() golix.Secret {
	var s golix.Secret
	s.CipherID = golix.CipherAES256GCM
	for i := range s.Key {
		s.Key[i] = byte(i)
	}
	for i := range s.Seed {
		s.Seed[i] = byte(i + 1)
	}
	return s
}

func TestNextIsDeterministic(t *testing.T) {
	secret := testSecret()
	salt := ghid.Address([]byte("frame one"))

	a, err := Next(secret, salt)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	b, err := Next(secret, salt)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !a.Equal(b) {
		t.Fatal("Next is not deterministic for the same secret and salt")
	}
	if a.Version != secret.Version+1 {
		t.Fatalf("expected version %d, got %d", secret.Version+1, a.Version)
	}
}

func TestNextDiffersOnSalt(t *testing.T) {
	secret := testSecret()
	a, err := Next(secret, ghid.Address([]byte("salt a")))
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	b, err := Next(secret, ghid.Address([]byte("salt b")))
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if a.Equal(b) {
		t.Fatal("different salts produced the same secret")
	}
}

func TestHealWalksSequentially(t *testing.T) {
	secret := testSecret()
	salts := []ghid.Ghid{
		ghid.Address([]byte("f1")),
		ghid.Address([]byte("f2")),
		ghid.Address([]byte("f3")),
	}

	healed, err := Heal(secret, salts, MaxLegroom)
	if err != nil {
		t.Fatalf("Heal: %v", err)
	}

	manual := secret
	for _, salt := range salts {
		manual, err = Next(manual, salt)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
	}

	if !healed.Equal(manual) {
		t.Fatal("Heal did not match a manual sequential Next walk")
	}
}

func TestHealFailsBeyondLegroom(t *testing.T) {
	secret := testSecret()
	salts := make([]ghid.Ghid, MaxLegroom+1)
	for i := range salts {
		salts[i] = ghid.Address([]byte{byte(i)})
	}

	if _, err := Heal(secret, salts, MaxLegroom); err == nil {
		t.Fatal("expected Heal to fail when frame count exceeds legroom")
	}
}
