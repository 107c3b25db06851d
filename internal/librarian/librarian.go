// Package librarian implements spec.md §3.3/§4.1: the durable
// ghid -> {packed, lite} map every other component reads and writes
// through. Writes are serialized per ghid via a striped mutex array, the
// same "shortest possible critical section" discipline arkeep's
// internal/websocket.Hub applies to its connection map, generalized from
// one RWMutex to a fixed-size stripe so concurrent writes to unrelated
// ghids never contend.
package librarian

import (
	"context"
	"errors"
	"fmt"
	"hash/maphash"
	"sync"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/herrors"
	"github.com/hypergolix/hypergolix/internal/repository"
	"github.com/hypergolix/hypergolix/internal/store"
)

const stripeCount = 64

// Librarian is the content-addressed durable store described by spec.md
// §3.3. Parsed summaries are cached in memory (populated on store and on
// restore) so downstream components never re-parse packed bytes.
type Librarian struct {
	records repository.RecordRepository

	stripes [stripeCount]sync.Mutex
	seed    maphash.Seed

	mu    sync.RWMutex
	cache map[ghid.Ghid]*golix.Parsed
}

// New builds a Librarian over the given RecordRepository.
func New(records repository.RecordRepository) *Librarian {
	return &Librarian{
		records: records,
		seed:    maphash.MakeSeed(),
		cache:   make(map[ghid.Ghid]*golix.Parsed),
	}
}

func (l *Librarian) stripe(g ghid.Ghid) *sync.Mutex {
	var h maphash.Hash
	h.SetSeed(l.seed)
	h.Write(g[:])
	return &l.stripes[h.Sum64()%stripeCount]
}

// Store idempotently inserts packed under lite.Ghid. If the ghid is already
// present, packed must match byte-for-byte; a mismatch is a bug-class
// condition (two different primitives hashing to the same address, or a
// caller re-deriving Parsed incorrectly) and is surfaced as ErrInternal
// rather than silently accepted.
func (l *Librarian) Store(ctx context.Context, lite *golix.Parsed, packed []byte) error {
	mu := l.stripe(lite.Ghid)
	mu.Lock()
	defer mu.Unlock()

	existing, err := l.records.GetByGhid(ctx, lite.Ghid)
	if err == nil {
		if string(existing.Packed) != string(packed) {
			return fmt.Errorf("%w: ghid %s already stored with different contents", herrors.ErrInternal, lite.Ghid)
		}
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("librarian: store: %w", err)
	}

	rec := &store.Record{
		Ghid:   lite.Ghid.String(),
		Kind:   byte(lite.Kind),
		Packed: packed,
	}
	if err := l.records.Create(ctx, rec); err != nil {
		return fmt.Errorf("librarian: store: %w", err)
	}

	l.mu.Lock()
	l.cache[lite.Ghid] = lite
	l.mu.Unlock()
	return nil
}

// Retrieve returns the packed bytes for g. Fails with ErrNotFound.
func (l *Librarian) Retrieve(ctx context.Context, g ghid.Ghid) ([]byte, error) {
	rec, err := l.records.GetByGhid(ctx, g)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", herrors.ErrNotFound, g)
		}
		return nil, fmt.Errorf("librarian: retrieve: %w", err)
	}
	return rec.Packed, nil
}

// Summarize returns the lite Parsed view for g, preferring the in-memory
// cache. Fails with ErrNotFound.
func (l *Librarian) Summarize(ctx context.Context, g ghid.Ghid) (*golix.Parsed, error) {
	l.mu.RLock()
	if p, ok := l.cache[g]; ok {
		l.mu.RUnlock()
		return p, nil
	}
	l.mu.RUnlock()

	packed, err := l.Retrieve(ctx, g)
	if err != nil {
		return nil, err
	}
	p, err := golix.Unpack(packed)
	if err != nil {
		return nil, fmt.Errorf("librarian: summarize: %w", err)
	}

	l.mu.Lock()
	l.cache[g] = p
	l.mu.Unlock()
	return p, nil
}

// Abandon removes g entirely. Called by Undertaker once a target has no
// remaining live references.
func (l *Librarian) Abandon(ctx context.Context, g ghid.Ghid) error {
	mu := l.stripe(g)
	mu.Lock()
	defer mu.Unlock()

	if err := l.records.Delete(ctx, g); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("librarian: abandon: %w", err)
	}

	l.mu.Lock()
	delete(l.cache, g)
	l.mu.Unlock()
	return nil
}

// Has reports whether g is present, without populating the cache.
func (l *Librarian) Has(ctx context.Context, g ghid.Ghid) bool {
	_, err := l.records.GetByGhid(ctx, g)
	return err == nil
}

// ContainerGhids returns the ghid of every stored GEOC record, for
// maintenance's background Undertaker sweep (spec.md §4.6(a)). Reads
// straight through the repository rather than the cache, since a GEOC
// evicted by a prior crash would still be cached until process restart.
func (l *Librarian) ContainerGhids(ctx context.Context) ([]ghid.Ghid, error) {
	const pageSize = 1000
	var ghids []ghid.Ghid

	for offset := 0; ; offset += pageSize {
		records, total, err := l.records.List(ctx, repository.ListOptions{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("librarian: container ghids: %w", err)
		}
		for _, rec := range records {
			if golix.Kind(rec.Kind) != golix.KindGEOC {
				continue
			}
			g, err := ghid.FromHex(rec.Ghid)
			if err != nil {
				continue
			}
			ghids = append(ghids, g)
		}
		if int64(offset+len(records)) >= total || len(records) == 0 {
			break
		}
	}
	return ghids, nil
}

// Restore re-parses every record on startup, populating the cache and
// returning the full set of summaries in insertion order so the caller
// (PersistenceCore) can replay Bookie index population. Records that fail
// to parse are discarded rather than aborting startup, per spec.md §4.1 —
// a partially-written record must never wedge the daemon.
func (l *Librarian) Restore(ctx context.Context) ([]*golix.Parsed, error) {
	const pageSize = 1000
	var all []*golix.Parsed

	for offset := 0; ; offset += pageSize {
		records, total, err := l.records.List(ctx, repository.ListOptions{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("librarian: restore: %w", err)
		}
		for _, rec := range records {
			p, err := golix.Unpack(rec.Packed)
			if err != nil {
				// Discard and move on: a partially-written record, per
				// spec.md §4.1's atomicity note, is indistinguishable from
				// absent and must not block restore.
				continue
			}
			l.mu.Lock()
			l.cache[p.Ghid] = p
			l.mu.Unlock()
			all = append(all, p)
		}
		if int64(offset+len(records)) >= total || len(records) == 0 {
			break
		}
	}
	return all, nil
}
