package lawyer

import (
	"context"
	"errors"
	"testing"

	"github.com/hypergolix/hypergolix/internal/bookie"
	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/herrors"
)

type fakeLibrarian struct {
	byGhid map[ghid.Ghid]*golix.Parsed
}

func newFakeLibrarian() *fakeLibrarian {
	return &fakeLibrarian{byGhid: make(map[ghid.Ghid]*golix.Parsed)}
}

func (f *fakeLibrarian) put(p *golix.Parsed) { f.byGhid[p.Ghid] = p }

func (f *fakeLibrarian) Summarize(ctx context.Context, g ghid.Ghid) (*golix.Parsed, error) {
	p, ok := f.byGhid[g]
	if !ok {
		return nil, herrors.ErrNotFound
	}
	return p, nil
}

func (f *fakeLibrarian) Has(ctx context.Context, g ghid.Ghid) bool {
	_, ok := f.byGhid[g]
	return ok
}

func g(s string) ghid.Ghid { return ghid.Address([]byte(s)) }

func TestCheckGEOCRequiresKnownAuthorGIDC(t *testing.T) {
	lib := newFakeLibrarian()
	l := New(lib, bookie.New())

	author := g("author")
	p := &golix.Parsed{Kind: golix.KindGEOC, Author: author}

	if err := l.Check(context.Background(), p); !errors.Is(err, herrors.ErrUnknownParty) {
		t.Fatalf("expected ErrUnknownParty, got %v", err)
	}

	lib.put(&golix.Parsed{Ghid: author, Kind: golix.KindGIDC})
	if err := l.Check(context.Background(), p); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestCheckGOBDRejectsReplay(t *testing.T) {
	lib := newFakeLibrarian()
	book := bookie.New()
	l := New(lib, book)

	author := g("author")
	lib.put(&golix.Parsed{Ghid: author, Kind: golix.KindGIDC})

	dynamic := g("dynamic")
	currentFrame := g("frame-current")
	book.Apply(&golix.Parsed{Ghid: currentFrame, Kind: golix.KindGOBD, Dynamic: dynamic, Target: g("target-1")})

	replay := &golix.Parsed{
		Kind:    golix.KindGOBD,
		Author:  author,
		Dynamic: dynamic,
		Target:  g("target-2"),
		History: []ghid.Ghid{g("stale-frame")},
	}
	if err := l.Check(context.Background(), replay); !errors.Is(err, herrors.ErrFrameReplay) {
		t.Fatalf("expected ErrFrameReplay, got %v", err)
	}

	valid := &golix.Parsed{
		Kind:    golix.KindGOBD,
		Author:  author,
		Dynamic: dynamic,
		Target:  g("target-2"),
		History: []ghid.Ghid{currentFrame},
	}
	if err := l.Check(context.Background(), valid); err != nil {
		t.Fatalf("Check(valid next frame): %v", err)
	}
}

func TestCheckGOBDRejectsDeboundDynamic(t *testing.T) {
	lib := newFakeLibrarian()
	book := bookie.New()
	l := New(lib, book)

	author := g("author")
	lib.put(&golix.Parsed{Ghid: author, Kind: golix.KindGIDC})

	dynamic := g("dynamic")
	currentFrame := g("frame-current")
	book.Apply(&golix.Parsed{Ghid: currentFrame, Kind: golix.KindGOBD, Dynamic: dynamic, Target: g("target-1")})
	book.Apply(&golix.Parsed{Ghid: g("gdxx"), Kind: golix.KindGDXX, Target: dynamic})

	next := &golix.Parsed{
		Kind:    golix.KindGOBD,
		Author:  author,
		Dynamic: dynamic,
		Target:  g("target-2"),
		History: []ghid.Ghid{currentFrame},
	}
	if err := l.Check(context.Background(), next); !errors.Is(err, herrors.ErrAlreadyDebound) {
		t.Fatalf("expected ErrAlreadyDebound, got %v", err)
	}
}

func TestCheckGDXXRequiresAuthorMatch(t *testing.T) {
	lib := newFakeLibrarian()
	l := New(lib, bookie.New())

	targetAuthor := g("target-author")
	target := &golix.Parsed{Ghid: g("target"), Kind: golix.KindGOBS, Author: targetAuthor}
	lib.put(target)

	mismatched := &golix.Parsed{Kind: golix.KindGDXX, Author: g("someone-else"), Target: target.Ghid}
	if err := l.Check(context.Background(), mismatched); !errors.Is(err, herrors.ErrInconsistentAuthor) {
		t.Fatalf("expected ErrInconsistentAuthor, got %v", err)
	}

	matched := &golix.Parsed{Kind: golix.KindGDXX, Author: targetAuthor, Target: target.Ghid}
	if err := l.Check(context.Background(), matched); err != nil {
		t.Fatalf("Check(matched): %v", err)
	}
}

func TestCheckGDXXOfGDXXRequiresOuterAuthorMatchesInner(t *testing.T) {
	lib := newFakeLibrarian()
	l := New(lib, bookie.New())

	innerAuthor := g("inner-author")
	inner := &golix.Parsed{Ghid: g("inner-gdxx"), Kind: golix.KindGDXX, Author: innerAuthor, Target: g("some-target")}
	lib.put(inner)

	// Outer author matches inner GDXX's author, not inner's target's author.
	outer := &golix.Parsed{Kind: golix.KindGDXX, Author: innerAuthor, Target: inner.Ghid}
	if err := l.Check(context.Background(), outer); err != nil {
		t.Fatalf("Check(outer matching inner author): %v", err)
	}

	badOuter := &golix.Parsed{Kind: golix.KindGDXX, Author: g("unrelated"), Target: inner.Ghid}
	if err := l.Check(context.Background(), badOuter); !errors.Is(err, herrors.ErrInconsistentAuthor) {
		t.Fatalf("expected ErrInconsistentAuthor, got %v", err)
	}
}

func TestCheckGARQRequiresRecipientGIDC(t *testing.T) {
	lib := newFakeLibrarian()
	l := New(lib, bookie.New())

	recipient := g("recipient")
	req := &golix.Parsed{Kind: golix.KindGARQ, Recipient: recipient}
	if err := l.Check(context.Background(), req); !errors.Is(err, herrors.ErrUnknownParty) {
		t.Fatalf("expected ErrUnknownParty, got %v", err)
	}

	lib.put(&golix.Parsed{Ghid: recipient, Kind: golix.KindGIDC})
	if err := l.Check(context.Background(), req); err != nil {
		t.Fatalf("Check: %v", err)
	}
}
