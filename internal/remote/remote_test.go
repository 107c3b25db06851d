package remote

import (
	"context"
	"net/http/httptest"
	"strings"
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
	"github.com/hypergolix/hypergolix/internal/persistence"
	"github.com/hypergolix/hypergolix/internal/postman"
	"github.com/hypergolix/hypergolix/internal/undertaker"
)

// fakeLibrarian mirrors persistence package's own test fake: a minimal
// in-memory stand-in satisfying every narrow Librarian interface the
// pipeline stages (and this package's Server) need.
type fakeLibrarian struct {
	mu     sync.Mutex
	byGhid map[ghid.Ghid]*golix.Parsed
	packed map[ghid.Ghid][]byte
}

func newFakeLibrarian() *fakeLibrarian {
	return &fakeLibrarian{
		byGhid: make(map[ghid.Ghid]*golix.Parsed),
		packed: make(map[ghid.Ghid][]byte),
	}
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

func (f *fakeLibrarian) Retrieve(ctx context.Context, g ghid.Ghid) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.packed[g]
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
	f.packed[lite.Ghid] = packed
	return nil
}

func (f *fakeLibrarian) Abandon(ctx context.Context, g ghid.Ghid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byGhid, g)
	delete(f.packed, g)
	return nil
}

// testHarness wires a real persistence.Core, Bookie and Postman behind a
// remote.Server, exactly the dependency shape cmd/hypergolixd assembles.
type testHarness struct {
	srv    *httptest.Server
	wsURL  string
	pm     *postman.Postman
	book   *bookie.Bookie
	lib    *fakeLibrarian
	secret string
}

func newTestHarness(t *testing.T, sharedSecret string) *testHarness {
	t.Helper()

	lib := newFakeLibrarian()
	book := bookie.New()
	pm := postman.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go pm.Run(ctx)

	core := persistence.New(persistence.Config{
		Doorman:    doorman.New(lib),
		Enforcer:   enforcer.New(),
		Lawyer:     lawyer.New(lib, book),
		Bookie:     book,
		Librarian:  lib,
		Undertaker: undertaker.New(lib, book),
		Postman:    pm,
	})

	remoteServer := NewServer(Config{
		Core:         core,
		Librarian:    lib,
		Bookie:       book,
		Postman:      pm,
		SharedSecret: sharedSecret,
	})

	httpSrv := httptest.NewServer(remoteServer)
	t.Cleanup(httpSrv.Close)

	return &testHarness{
		srv:    httpSrv,
		wsURL:  "ws" + strings.TrimPrefix(httpSrv.URL, "http"),
		pm:     pm,
		book:   book,
		lib:    lib,
		secret: sharedSecret,
	}
}

func (h *testHarness) dial(t *testing.T) *Client {
	t.Helper()
	client, err := Dial(context.Background(), h.wsURL, h.secret, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClientPushUpstreamIngestsOnServer(t *testing.T) {
	h := newTestHarness(t, "")
	client := h.dial(t)

	authorCore, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	gidc := authorCore.MakeIdentityContainer()

	if err := client.PushUpstream(context.Background(), gidc.Packed); err != nil {
		t.Fatalf("PushUpstream: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if h.lib.Has(context.Background(), gidc.Ghid) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for server to ingest pushed GIDC")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClientGetRoundTrips(t *testing.T) {
	h := newTestHarness(t, "")
	client := h.dial(t)

	authorCore, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	gidc := authorCore.MakeIdentityContainer()
	if err := client.PushUpstream(context.Background(), gidc.Packed); err != nil {
		t.Fatalf("PushUpstream: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !h.lib.Has(context.Background(), gidc.Ghid) {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for ingest before Get")
		}
		time.Sleep(10 * time.Millisecond)
	}

	packed, err := client.Get(context.Background(), gidc.Ghid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(packed) != string(gidc.Packed) {
		t.Fatal("round-tripped packed bytes do not match what was pushed")
	}
}

func TestClientGetUnknownGhidFails(t *testing.T) {
	h := newTestHarness(t, "")
	client := h.dial(t)

	if _, err := client.Get(context.Background(), ghid.Address([]byte("nowhere"))); err == nil {
		t.Fatal("expected Get for an unknown ghid to fail")
	}
}

func TestClientSubscribeReceivesNotification(t *testing.T) {
	h := newTestHarness(t, "")
	client := h.dial(t)

	authorCore, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	gidc := authorCore.MakeIdentityContainer()
	if err := client.PushUpstream(context.Background(), gidc.Packed); err != nil {
		t.Fatalf("PushUpstream: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !h.lib.Has(context.Background(), gidc.Ghid) {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for GIDC ingest")
		}
		time.Sleep(10 * time.Millisecond)
	}

	dynamic, err := ghid.NewRandom()
	if err != nil {
		t.Fatalf("NewRandom: %v", err)
	}

	received := make(chan ghid.Ghid, 1)
	if err := client.Subscribe(context.Background(), dynamic, func(notificationGhid ghid.Ghid) {
		received <- notificationGhid
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	frame, err := authorCore.MakeBindingDynamic(gidc.Ghid, dynamic, ghid.Address([]byte("target")), nil)
	if err != nil {
		t.Fatalf("MakeBindingDynamic: %v", err)
	}
	// Ingest directly against the harness's Postman/bookie stack as if
	// another peer had published it locally on the server.
	core := persistence.New(persistence.Config{
		Doorman:    doorman.New(h.lib),
		Enforcer:   enforcer.New(),
		Lawyer:     lawyer.New(h.lib, h.book),
		Bookie:     h.book,
		Librarian:  h.lib,
		Undertaker: undertaker.New(h.lib, h.book),
		Postman:    h.pm,
	})
	if _, err := core.Ingest(context.Background(), frame.Packed, false); err != nil {
		t.Fatalf("Ingest(GOBD): %v", err)
	}

	select {
	case notificationGhid := <-received:
		if notificationGhid != frame.Ghid {
			t.Fatalf("expected notification for %v, got %v", frame.Ghid, notificationGhid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pushed notification")
	}
}

func TestClientQueryBindings(t *testing.T) {
	h := newTestHarness(t, "")
	client := h.dial(t)

	authorCore, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	gidc := authorCore.MakeIdentityContainer()
	if err := client.PushUpstream(context.Background(), gidc.Packed); err != nil {
		t.Fatalf("PushUpstream: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !h.lib.Has(context.Background(), gidc.Ghid) {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for GIDC ingest")
		}
		time.Sleep(10 * time.Millisecond)
	}

	target := ghid.Address([]byte("bound-target"))
	binding, err := authorCore.MakeBindingStatic(gidc.Ghid, target)
	if err != nil {
		t.Fatalf("MakeBindingStatic: %v", err)
	}
	if err := client.PushUpstream(context.Background(), binding.Packed); err != nil {
		t.Fatalf("PushUpstream(binding): %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		bindings, err := client.QueryBindings(context.Background(), target)
		if err != nil {
			t.Fatalf("QueryBindings: %v", err)
		}
		if len(bindings) == 1 && bindings[0] == binding.Ghid {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected [%v], got %v", binding.Ghid, bindings)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDialRejectsWrongSharedSecret(t *testing.T) {
	h := newTestHarness(t, "correct-secret")

	if _, err := Dial(context.Background(), h.wsURL, "wrong-secret", nil); err == nil {
		t.Fatal("expected Dial with the wrong shared secret to fail")
	}

	client, err := Dial(context.Background(), h.wsURL, "correct-secret", nil)
	if err != nil {
		t.Fatalf("Dial with correct secret: %v", err)
	}
	client.Close()
}
