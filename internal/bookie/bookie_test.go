package bookie

import (
	"testing"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
)

func g(s string) ghid.Ghid { return ghid.Address([]byte(s)) }

func TestApplyGOBSIndexesStaticBinding(t *testing.T) {
	b := New()
	target := g("target")
	gobs := &golix.Parsed{Ghid: g("gobs"), Kind: golix.KindGOBS, Target: target}

	b.Apply(gobs)

	binders := b.Binders(target)
	if len(binders) != 1 || binders[0] != gobs.Ghid {
		t.Fatalf("expected Binders(target) = [%v], got %v", gobs.Ghid, binders)
	}
	resolved, ok := b.StaticTarget(gobs.Ghid)
	if !ok || resolved != target {
		t.Fatalf("StaticTarget(gobs) = (%v, %v), want (%v, true)", resolved, ok, target)
	}
}

func TestApplyGOBDUpdatesCurrentFrameAndReturnsPrevious(t *testing.T) {
	b := New()
	dynamic := g("dynamic")
	targetA := g("target-a")
	targetB := g("target-b")

	frame1 := &golix.Parsed{Ghid: g("frame1"), Kind: golix.KindGOBD, Dynamic: dynamic, Target: targetA}
	prev := b.Apply(frame1)
	if !prev.IsNil() {
		t.Fatalf("expected nil previous frame for first frame, got %v", prev)
	}

	frame2 := &golix.Parsed{Ghid: g("frame2"), Kind: golix.KindGOBD, Dynamic: dynamic, Target: targetB}
	prev = b.Apply(frame2)
	if prev != frame1.Ghid {
		t.Fatalf("expected previous frame %v, got %v", frame1.Ghid, prev)
	}

	current, ok := b.CurrentFrame(dynamic)
	if !ok || current != frame2.Ghid {
		t.Fatalf("CurrentFrame = (%v, %v), want (%v, true)", current, ok, frame2.Ghid)
	}

	target, ok := b.DynamicCurrentTarget(dynamic)
	if !ok || target != targetB {
		t.Fatalf("DynamicCurrentTarget = (%v, %v), want (%v, true)", target, ok, targetB)
	}

	if !b.IsDynamicTarget(targetB) {
		t.Fatal("expected targetB to be a live dynamic target")
	}
	if b.IsDynamicTarget(targetA) {
		t.Fatal("expected targetA to no longer be the live dynamic target")
	}
}

func TestApplyGDXXMarksDebound(t *testing.T) {
	b := New()
	target := g("target")
	debind := &golix.Parsed{Ghid: g("gdxx"), Kind: golix.KindGDXX, Target: target}

	if b.IsDebound(target) {
		t.Fatal("expected target not debound before Apply")
	}
	b.Apply(debind)
	if !b.IsDebound(target) {
		t.Fatal("expected target debound after Apply")
	}
	debinders := b.Debinders(target)
	if len(debinders) != 1 || debinders[0] != debind.Ghid {
		t.Fatalf("unexpected Debinders: %v", debinders)
	}
}

func TestIsDynamicTargetIgnoresDeboundDynamics(t *testing.T) {
	b := New()
	dynamic := g("dynamic")
	target := g("target")

	b.Apply(&golix.Parsed{Ghid: g("frame1"), Kind: golix.KindGOBD, Dynamic: dynamic, Target: target})
	if !b.IsDynamicTarget(target) {
		t.Fatal("expected target to be live before debind")
	}

	b.Apply(&golix.Parsed{Ghid: g("gdxx"), Kind: golix.KindGDXX, Target: dynamic})
	if b.IsDynamicTarget(target) {
		t.Fatal("expected target no longer counted once its dynamic is debound")
	}
}

func TestRemoveClearsAllIndices(t *testing.T) {
	b := New()
	target := g("target")
	gobs := &golix.Parsed{Ghid: g("gobs"), Kind: golix.KindGOBS, Target: target}
	b.Apply(gobs)

	b.Remove(gobs.Ghid)

	if _, ok := b.StaticTarget(gobs.Ghid); ok {
		t.Fatal("expected StaticTarget entry removed")
	}
	binders := b.Binders(target)
	for _, binder := range binders {
		if binder == gobs.Ghid {
			t.Fatal("expected gobs ghid removed from Binders(target)")
		}
	}
}

func TestApplyGARQIndexesRequests(t *testing.T) {
	b := New()
	recipient := g("recipient")
	req := &golix.Parsed{Ghid: g("garq"), Kind: golix.KindGARQ, Recipient: recipient}

	b.Apply(req)

	reqs := b.Requests(recipient)
	if len(reqs) != 1 || reqs[0] != req.Ghid {
		t.Fatalf("unexpected Requests: %v", reqs)
	}
}
