package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/store"
)

// SecretRepository is the durable-storage contract Privateer composes over
// for its persistent and local-only secret maps (spec.md §3.7), kept as one
// table partitioned by the local_only column rather than two, since the
// only thing distinguishing them is which rows a remote sync may ever read.
type SecretRepository interface {
	Put(ctx context.Context, containerGhid ghid.Ghid, localOnly bool, secret golix.Secret) error
	Get(ctx context.Context, containerGhid ghid.Ghid, localOnly bool) (golix.Secret, bool, error)
	Delete(ctx context.Context, containerGhid ghid.Ghid, localOnly bool) error
}

// gormSecretRepository is the GORM implementation of SecretRepository.
type gormSecretRepository struct {
	db *gorm.DB
}

// NewSecretRepository returns a SecretRepository backed by the provided
// *gorm.DB.
func NewSecretRepository(db *gorm.DB) SecretRepository {
	return &gormSecretRepository{db: db}
}

// Put upserts the secret for containerGhid within the given localOnly
// partition. The secrets table's primary key is container_ghid alone, so a
// ghid has a row in one partition only: a Put for a ghid already stored
// under the other partition fails on that key.
func (r *gormSecretRepository) Put(ctx context.Context, containerGhid ghid.Ghid, localOnly bool, secret golix.Secret) error {
	rec := store.SecretRecord{
		ContainerGhid: containerGhid.String(),
		LocalOnly:     localOnly,
		Secret:        store.EncryptedSecret{Secret: secret},
		UpdatedAt:     time.Now(),
	}
	err := r.db.WithContext(ctx).
		Where("container_ghid = ? AND local_only = ?", rec.ContainerGhid, localOnly).
		Assign(rec).
		FirstOrCreate(&store.SecretRecord{}).Error
	if err != nil {
		return fmt.Errorf("secrets: put: %w", err)
	}
	return nil
}

// Get retrieves the secret committed for containerGhid under the given
// localOnly partition. The bool return is false (with a nil error) if no
// row matches.
func (r *gormSecretRepository) Get(ctx context.Context, containerGhid ghid.Ghid, localOnly bool) (golix.Secret, bool, error) {
	var rec store.SecretRecord
	err := r.db.WithContext(ctx).
		First(&rec, "container_ghid = ? AND local_only = ?", containerGhid.String(), localOnly).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return golix.Secret{}, false, nil
		}
		return golix.Secret{}, false, fmt.Errorf("secrets: get: %w", err)
	}
	return rec.Secret.Secret, true, nil
}

// Delete permanently removes the secret committed for containerGhid.
// Tolerated if absent.
func (r *gormSecretRepository) Delete(ctx context.Context, containerGhid ghid.Ghid, localOnly bool) error {
	err := r.db.WithContext(ctx).
		Where("container_ghid = ? AND local_only = ?", containerGhid.String(), localOnly).
		Delete(&store.SecretRecord{}).Error
	if err != nil {
		return fmt.Errorf("secrets: delete: %w", err)
	}
	return nil
}

// SecretStore adapts a SecretRepository, fixed to one localOnly partition,
// to privateer.Store's narrower per-ghid Put/Get/Delete shape (no localOnly
// parameter — Privateer holds one instance of each partition instead).
type SecretStore struct {
	repo      SecretRepository
	localOnly bool
}

// NewPersistentSecretStore returns a privateer.Store over the non-local
// partition of repo.
func NewPersistentSecretStore(repo SecretRepository) SecretStore {
	return SecretStore{repo: repo, localOnly: false}
}

// NewLocalOnlySecretStore returns a privateer.Store over the local-only
// partition of repo (master-secreted bootstrap chains, spec.md §4.9).
func NewLocalOnlySecretStore(repo SecretRepository) SecretStore {
	return SecretStore{repo: repo, localOnly: true}
}

func (s SecretStore) Put(ctx context.Context, g ghid.Ghid, secret golix.Secret) error {
	return s.repo.Put(ctx, g, s.localOnly, secret)
}

func (s SecretStore) Get(ctx context.Context, g ghid.Ghid) (golix.Secret, bool, error) {
	return s.repo.Get(ctx, g, s.localOnly)
}

func (s SecretStore) Delete(ctx context.Context, g ghid.Ghid) error {
	return s.repo.Delete(ctx, g, s.localOnly)
}
