package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hypergolix/hypergolix/internal/bookie"
	"github.com/hypergolix/hypergolix/internal/doorman"
	"github.com/hypergolix/hypergolix/internal/enforcer"
	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/herrors"
	"github.com/hypergolix/hypergolix/internal/lawyer"
	"github.com/hypergolix/hypergolix/internal/postman"
	"github.com/hypergolix/hypergolix/internal/undertaker"
)

// fakeLibrarian is a minimal in-memory stand-in satisfying every narrow
// Librarian interface the pipeline stages need (doorman.AuthorResolver,
// lawyer.Librarian, undertaker.Librarian, persistence.Librarian).
type fakeLibrarian struct {
	mu     sync.Mutex
	byGhid map[ghid.Ghid]*golix.Parsed
}

func newFakeLibrarian() *fakeLibrarian {
	return &fakeLibrarian{byGhid: make(map[ghid.Ghid]*golix.Parsed)}
}

func (f *fakeLibrarian) Summarize(ctx context.Context, g ghid.Ghid) (*golix.Parsed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byGhid[g]
	if !ok {
		return nil, herrors.ErrNotFound
	}
	return p, nil
}

func (f *fakeLibrarian) Has(ctx context.Context, g ghid.Ghid) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.byGhid[g]
	return ok
}

func (f *fakeLibrarian) Store(ctx context.Context, lite *golix.Parsed, packed []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byGhid[lite.Ghid] = lite
	return nil
}

func (f *fakeLibrarian) Abandon(ctx context.Context, g ghid.Ghid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byGhid, g)
	return nil
}

func newTestCore(t *testing.T, lib *fakeLibrarian) (*Core, *postman.Postman, func()) {
	t.Helper()
	pm := postman.New()
	ctx, cancel := context.WithCancel(context.Background())
	go pm.Run(ctx)

	book := bookie.New()
	core := New(Config{
		Doorman:    doorman.New(lib),
		Enforcer:   enforcer.New(),
		Lawyer:     lawyer.New(lib, book),
		Bookie:     book,
		Librarian:  lib,
		Undertaker: undertaker.New(lib, book),
		Postman:    pm,
	})
	return core, pm, cancel
}

func TestIngestGIDCThenGOBSEndToEnd(t *testing.T) {
	lib := newFakeLibrarian()
	core, _, cancel := newTestCore(t, lib)
	defer cancel()

	authorCore, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	gidc := authorCore.MakeIdentityContainer()

	if _, err := core.Ingest(context.Background(), gidc.Packed, false); err != nil {
		t.Fatalf("Ingest(GIDC): %v", err)
	}

	target, err := authorCore.MakeBindingStatic(gidc.Ghid, ghid.Address([]byte("target")))
	if err != nil {
		t.Fatalf("MakeBindingStatic: %v", err)
	}
	if _, err := core.Ingest(context.Background(), target.Packed, false); err != nil {
		t.Fatalf("Ingest(GOBS): %v", err)
	}

	if !lib.Has(context.Background(), target.Ghid) {
		t.Fatal("expected GOBS to be stored")
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	lib := newFakeLibrarian()
	core, _, cancel := newTestCore(t, lib)
	defer cancel()

	authorCore, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	gidc := authorCore.MakeIdentityContainer()

	if _, err := core.Ingest(context.Background(), gidc.Packed, false); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	if _, err := core.Ingest(context.Background(), gidc.Packed, false); !errors.Is(err, herrors.ErrAlreadyPresent) {
		t.Fatalf("expected ErrAlreadyPresent on second Ingest, got %v", err)
	}
	if !IsAlreadyPresent(err2(core, gidc.Packed)) {
		t.Fatal("IsAlreadyPresent should recognize the sentinel")
	}
}

func err2(core *Core, packed []byte) error {
	_, err := core.Ingest(context.Background(), packed, false)
	return err
}

func TestIngestRejectsUnknownAuthor(t *testing.T) {
	lib := newFakeLibrarian()
	core, _, cancel := newTestCore(t, lib)
	defer cancel()

	authorCore, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	binding, err := authorCore.MakeBindingStatic(ghid.Address([]byte("nobody")), ghid.Address([]byte("target")))
	if err != nil {
		t.Fatalf("MakeBindingStatic: %v", err)
	}

	if _, err := core.Ingest(context.Background(), binding.Packed, false); !errors.Is(err, herrors.ErrUnknownParty) {
		t.Fatalf("expected ErrUnknownParty, got %v", err)
	}
}

func TestIngestGOBDNotifiesPostmanSubscriber(t *testing.T) {
	lib := newFakeLibrarian()
	core, pm, cancel := newTestCore(t, lib)
	defer cancel()

	authorCore, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	gidc := authorCore.MakeIdentityContainer()
	if _, err := core.Ingest(context.Background(), gidc.Packed, false); err != nil {
		t.Fatalf("Ingest(GIDC): %v", err)
	}

	dynamic, err := ghid.NewRandom()
	if err != nil {
		t.Fatalf("NewRandom: %v", err)
	}

	frame, err := authorCore.MakeBindingDynamic(gidc.Ghid, dynamic, ghid.Address([]byte("target")), nil)
	if err != nil {
		t.Fatalf("MakeBindingDynamic: %v", err)
	}

	received := make(chan postman.Event, 1)
	pm.Subscribe(dynamic, func(e postman.Event) { received <- e })
	// Give the subscription registration a moment to land on the event loop.
	time.Sleep(10 * time.Millisecond)

	if _, err := core.Ingest(context.Background(), frame.Packed, false); err != nil {
		t.Fatalf("Ingest(GOBD): %v", err)
	}

	select {
	case e := <-received:
		if e.Kind != postman.EventNewFrame {
			t.Fatalf("expected EventNewFrame, got %v", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for postman notification")
	}
}

func TestIngestTriagesSupersededFrame(t *testing.T) {
	lib := newFakeLibrarian()
	core, _, cancel := newTestCore(t, lib)
	defer cancel()

	authorCore, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	gidc := authorCore.MakeIdentityContainer()
	if _, err := core.Ingest(context.Background(), gidc.Packed, false); err != nil {
		t.Fatalf("Ingest(GIDC): %v", err)
	}

	dynamic, err := ghid.NewRandom()
	if err != nil {
		t.Fatalf("NewRandom: %v", err)
	}

	firstTarget := ghid.Address([]byte("target-1"))
	firstFrame, err := authorCore.MakeBindingDynamic(gidc.Ghid, dynamic, firstTarget, nil)
	if err != nil {
		t.Fatalf("MakeBindingDynamic (first): %v", err)
	}
	if _, err := core.Ingest(context.Background(), firstFrame.Packed, false); err != nil {
		t.Fatalf("Ingest(first frame): %v", err)
	}

	secondTarget := ghid.Address([]byte("target-2"))
	secondFrame, err := authorCore.MakeBindingDynamic(gidc.Ghid, dynamic, secondTarget, []ghid.Ghid{firstFrame.Ghid})
	if err != nil {
		t.Fatalf("MakeBindingDynamic (second): %v", err)
	}
	if _, err := core.Ingest(context.Background(), secondFrame.Packed, false); err != nil {
		t.Fatalf("Ingest(second frame): %v", err)
	}

	if lib.Has(context.Background(), firstFrame.Ghid) {
		t.Fatal("expected first frame to be evicted once superseded")
	}
}
