package gao

import (
	"crypto/rand"
	"fmt"

	"github.com/hypergolix/hypergolix/internal/golix"
)

// RandomSecret produces a fresh, unrelated secret for the first frame of a
// new chain, before any ratchet has anything to start from. Exported for
// Oracle's static-object path, which needs a secret without a GAO.
func RandomSecret() (golix.Secret, error) {
	var s golix.Secret
	s.CipherID = golix.CipherAES256GCM
	s.Version = 0
	if _, err := rand.Read(s.Key[:]); err != nil {
		return golix.Secret{}, fmt.Errorf("gao: random secret: %w", err)
	}
	if _, err := rand.Read(s.Seed[:]); err != nil {
		return golix.Secret{}, fmt.Errorf("gao: random secret: %w", err)
	}
	return s, nil
}
