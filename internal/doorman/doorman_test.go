package doorman

import (
	"context"
	"errors"
	"testing"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/herrors"
)

type fakeResolver struct {
	byGhid map[ghid.Ghid]*golix.Parsed
}

func (f *fakeResolver) Summarize(ctx context.Context, g ghid.Ghid) (*golix.Parsed, error) {
	p, ok := f.byGhid[g]
	if !ok {
		return nil, herrors.ErrNotFound
	}
	return p, nil
}

func TestInspectGIDCSelfVerifies(t *testing.T) {
	core, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	gidc := core.MakeIdentityContainer()

	d := New(&fakeResolver{byGhid: map[ghid.Ghid]*golix.Parsed{}})
	got, err := d.Inspect(context.Background(), gidc.Packed)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if got.Ghid != gidc.Ghid {
		t.Fatal("Inspect returned a different ghid than the original GIDC")
	}
}

func TestInspectVerifiesAgainstAuthorGIDC(t *testing.T) {
	authorCore, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	gidc := authorCore.MakeIdentityContainer()

	binding, err := authorCore.MakeBindingStatic(gidc.Ghid, ghid.Address([]byte("target")))
	if err != nil {
		t.Fatalf("MakeBindingStatic: %v", err)
	}

	resolver := &fakeResolver{byGhid: map[ghid.Ghid]*golix.Parsed{gidc.Ghid: gidc}}
	d := New(resolver)

	got, err := d.Inspect(context.Background(), binding.Packed)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if got.Kind != golix.KindGOBS {
		t.Fatalf("expected GOBS, got %v", got.Kind)
	}
}

func TestInspectRejectsUnknownAuthor(t *testing.T) {
	authorCore, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	binding, err := authorCore.MakeBindingStatic(ghid.Address([]byte("author")), ghid.Address([]byte("target")))
	if err != nil {
		t.Fatalf("MakeBindingStatic: %v", err)
	}

	d := New(&fakeResolver{byGhid: map[ghid.Ghid]*golix.Parsed{}})
	if _, err := d.Inspect(context.Background(), binding.Packed); !errors.Is(err, herrors.ErrUnknownParty) {
		t.Fatalf("expected ErrUnknownParty, got %v", err)
	}
}

func TestInspectRejectsForgedSignature(t *testing.T) {
	authorCore, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	impostorCore, err := golix.NewGolixCore()
	if err != nil {
		t.Fatalf("NewGolixCore: %v", err)
	}
	authorGidc := authorCore.MakeIdentityContainer()

	forged, err := impostorCore.MakeBindingStatic(authorGidc.Ghid, ghid.Address([]byte("target")))
	if err != nil {
		t.Fatalf("MakeBindingStatic: %v", err)
	}

	resolver := &fakeResolver{byGhid: map[ghid.Ghid]*golix.Parsed{authorGidc.Ghid: authorGidc}}
	d := New(resolver)
	if _, err := d.Inspect(context.Background(), forged.Packed); !errors.Is(err, herrors.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
