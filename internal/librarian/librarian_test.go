package librarian

import (
	"context"
	"sort"
	"testing"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/repository"
	"github.com/hypergolix/hypergolix/internal/store"
)

type fakeRecordRepository struct {
	byGhid map[string]store.Record
	order  []string
}

func newFakeRecordRepository() *fakeRecordRepository {
	return &fakeRecordRepository{byGhid: make(map[string]store.Record)}
}

func (f *fakeRecordRepository) Create(ctx context.Context, rec *store.Record) error {
	f.byGhid[rec.Ghid] = *rec
	f.order = append(f.order, rec.Ghid)
	return nil
}

func (f *fakeRecordRepository) GetByGhid(ctx context.Context, g ghid.Ghid) (*store.Record, error) {
	rec, ok := f.byGhid[g.String()]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (f *fakeRecordRepository) Delete(ctx context.Context, g ghid.Ghid) error {
	if _, ok := f.byGhid[g.String()]; !ok {
		return repository.ErrNotFound
	}
	delete(f.byGhid, g.String())
	return nil
}

func (f *fakeRecordRepository) List(ctx context.Context, opts repository.ListOptions) ([]store.Record, int64, error) {
	keys := append([]string(nil), f.order...)
	sort.Strings(keys)
	var out []store.Record
	for _, k := range keys {
		if rec, ok := f.byGhid[k]; ok {
			out = append(out, rec)
		}
	}
	total := int64(len(out))
	if opts.Limit > 0 {
		end := opts.Offset + opts.Limit
		if opts.Offset > len(out) {
			return nil, total, nil
		}
		if end > len(out) {
			end = len(out)
		}
		out = out[opts.Offset:end]
	}
	return out, total, nil
}

func makeGOBS(t *testing.T) *golix.Parsed {
	t.Helper()
	core, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	p, err := core.MakeBindingStatic(ghid.Address([]byte("author")), ghid.Address([]byte("target")))
	if err != nil {
		t.Fatalf("MakeBindingStatic: %v", err)
	}
	return p
}

func TestStoreThenRetrieveAndSummarize(t *testing.T) {
	repo := newFakeRecordRepository()
	lib := New(repo)
	p := makeGOBS(t)

	if err := lib.Store(context.Background(), p, p.Packed); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, err := lib.Retrieve(context.Background(), p.Ghid)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if string(got) != string(p.Packed) {
		t.Fatal("Retrieve returned different bytes than stored")
	}

	summary, err := lib.Summarize(context.Background(), p.Ghid)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Kind != golix.KindGOBS || summary.Target != p.Target {
		t.Fatal("Summarize returned an unexpected Parsed")
	}
}

func TestStoreIsIdempotent(t *testing.T) {
	repo := newFakeRecordRepository()
	lib := New(repo)
	p := makeGOBS(t)

	if err := lib.Store(context.Background(), p, p.Packed); err != nil {
		t.Fatalf("first Store: %v", err)
	}
	if err := lib.Store(context.Background(), p, p.Packed); err != nil {
		t.Fatalf("second Store (idempotent) should succeed: %v", err)
	}
}

func TestStoreConflictingContentFails(t *testing.T) {
	repo := newFakeRecordRepository()
	lib := New(repo)
	p := makeGOBS(t)

	if err := lib.Store(context.Background(), p, p.Packed); err != nil {
		t.Fatalf("Store: %v", err)
	}

	mutated := *p
	mutated.Packed = append([]byte(nil), p.Packed...)
	mutated.Packed[0] ^= 0xFF
	if err := lib.Store(context.Background(), &mutated, mutated.Packed); err == nil {
		t.Fatal("expected Store to reject mismatched content for an existing ghid")
	}
}

func TestAbandonRemovesRecordAndCache(t *testing.T) {
	repo := newFakeRecordRepository()
	lib := New(repo)
	p := makeGOBS(t)

	if err := lib.Store(context.Background(), p, p.Packed); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := lib.Abandon(context.Background(), p.Ghid); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if lib.Has(context.Background(), p.Ghid) {
		t.Fatal("expected Has to be false after Abandon")
	}
	if _, err := lib.Summarize(context.Background(), p.Ghid); err == nil {
		t.Fatal("expected Summarize to fail after Abandon")
	}

	// Abandoning an already-absent ghid is a no-op, not an error.
	if err := lib.Abandon(context.Background(), p.Ghid); err != nil {
		t.Fatalf("Abandon (already gone): %v", err)
	}
}

func TestRestorePopulatesCacheAndSkipsUnparseable(t *testing.T) {
	repo := newFakeRecordRepository()
	p := makeGOBS(t)
	if err := repo.Create(context.Background(), &store.Record{Ghid: p.Ghid.String(), Kind: byte(p.Kind), Packed: p.Packed}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(context.Background(), &store.Record{Ghid: ghid.Address([]byte("garbage")).String(), Kind: 0, Packed: []byte("not a valid primitive")}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	lib := New(repo)
	restored, err := lib.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(restored) != 1 || restored[0].Ghid != p.Ghid {
		t.Fatalf("expected exactly the one parseable record restored, got %d", len(restored))
	}

	summary, err := lib.Summarize(context.Background(), p.Ghid)
	if err != nil {
		t.Fatalf("Summarize after Restore: %v", err)
	}
	if summary.Ghid != p.Ghid {
		t.Fatal("restored cache entry has wrong ghid")
	}
}

func TestContainerGhidsReturnsOnlyGEOC(t *testing.T) {
	repo := newFakeRecordRepository()

	core, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	geoc, err := core.MakeContainer(ghid.Address([]byte("author")), golix.Secret{CipherID: golix.CipherAES256GCM}, []byte("payload"))
	if err != nil {
		t.Fatalf("MakeContainer: %v", err)
	}
	if err := repo.Create(context.Background(), &store.Record{Ghid: geoc.Ghid.String(), Kind: byte(geoc.Kind), Packed: geoc.Packed}); err != nil {
		t.Fatalf("Create(geoc): %v", err)
	}

	gobs := makeGOBS(t)
	if err := repo.Create(context.Background(), &store.Record{Ghid: gobs.Ghid.String(), Kind: byte(gobs.Kind), Packed: gobs.Packed}); err != nil {
		t.Fatalf("Create(gobs): %v", err)
	}

	lib := New(repo)
	ghids, err := lib.ContainerGhids(context.Background())
	if err != nil {
		t.Fatalf("ContainerGhids: %v", err)
	}
	if len(ghids) != 1 || ghids[0] != geoc.Ghid {
		t.Fatalf("expected exactly [%v], got %v", geoc.Ghid, ghids)
	}
}
