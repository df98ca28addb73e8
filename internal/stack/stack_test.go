package stack

import (
	"testing"

	"kestrel/internal/object"
)

func newTestStack(t *testing.T) (*Stack, *object.CodeRegistry) {
	t.Helper()
	registry := object.NewCodeRegistry()
	return NewStack(registry, 256), registry
}

func registerCode(t *testing.T, registry *object.CodeRegistry, slots int, optimized bool) *object.Code {
	t.Helper()
	code := object.NewCode(slots, optimized)
	registry.Register(code)
	return code
}

func TestTopManagedFrameSkipsStubAndExitFrames(t *testing.T) {
	s, registry := newTestStack(t)
	code := registerCode(t, registry, 4, false)

	s.PushFrame(EntryFrame, 0, 1, 2)
	managed := s.PushManagedFrame(code, 1, []Word{object.Smi(5)}, nil)
	s.PushFrame(StubFrame, 0, managed.FP()+3, managed.FP()+4)
	s.PushFrame(ExitFrame, 0, managed.FP()+5, managed.FP()+6)

	top := TopManagedFrame(s)
	if top != managed {
		t.Fatalf("expected the managed frame, got kind %s", top.Kind())
	}
	if top.LookupCode() != code {
		t.Fatal("frame pc must resolve to its code")
	}
}

func TestTopManagedFramePanicsWithoutManagedCaller(t *testing.T) {
	s, _ := newTestStack(t)
	s.PushFrame(StubFrame, 0, 1, 2)
	defer func() {
		if recover() == nil {
			t.Fatal("expected fatal invariant violation")
		}
	}()
	TopManagedFrame(s)
}

func TestIteratorFromFP(t *testing.T) {
	s, registry := newTestStack(t)
	outer := registerCode(t, registry, 4, false)
	inner := registerCode(t, registry, 4, true)

	f1 := s.PushManagedFrame(outer, 0, nil, nil)
	f2 := s.PushManagedFrame(inner, 2, []Word{object.Smi(1)}, []Word{object.Smi(9)})

	it := NewManagedIteratorFromFP(s, f2.FP())
	if got := it.NextFrame(); got != f2 {
		t.Fatalf("iteration must start at the frame with the given fp")
	}
	if got := it.NextFrame(); got != f1 {
		t.Fatal("iteration must continue to the caller")
	}
	if it.NextFrame() != nil {
		t.Fatal("iteration must end")
	}
}

func TestManagedFrameLayout(t *testing.T) {
	s, registry := newTestStack(t)
	code := registerCode(t, registry, 8, false)
	code.AddDescriptor(object.PCDescriptor{PCOffset: 3, TokenPos: 99, Kind: object.DescIcCall})

	locals := []Word{object.Smi(10), object.Smi(20)}
	args := []Word{object.Smi(7)}
	f := s.PushManagedFrame(code, 3, locals, args)

	if f.FP()-f.SP() != len(locals) {
		t.Fatalf("fp-sp must equal the local count, got %d", f.FP()-f.SP())
	}
	if s.WordAt(f.SP()) != object.Smi(10) || s.WordAt(f.SP()+1) != object.Smi(20) {
		t.Error("locals must sit between sp and fp")
	}
	if s.WordAt(f.FP()) != Word(code) {
		t.Error("pc marker must sit at fp")
	}
	if s.WordAt(f.FP()+2) != object.Smi(7) {
		t.Error("arguments must sit above the caller return address")
	}
	if f.TokenPos() != 99 {
		t.Errorf("token position lookup through the frame, got %d", f.TokenPos())
	}
}

func TestRebuildFrameSwapsRecordInPlace(t *testing.T) {
	s, registry := newTestStack(t)
	outer := registerCode(t, registry, 4, false)
	inner := registerCode(t, registry, 4, true)

	s.PushManagedFrame(outer, 0, nil, nil)
	old := s.PushManagedFrame(inner, 1, []Word{object.Smi(1), object.Smi(2)}, nil)

	repl := s.RebuildFrame(old, outer.PCForSlot(2), old.FP(), old.FP(), 0)
	if s.TopFrame() != repl {
		t.Fatal("rebuilt frame must replace the old record")
	}
	if repl.SP() != repl.FP() {
		t.Fatal("rebuilt frame must carry the new extent")
	}
	if s.Depth() != 2 {
		t.Fatalf("depth must be unchanged, got %d", s.Depth())
	}
}

func TestExtentTracksTopFrame(t *testing.T) {
	s, registry := newTestStack(t)
	code := registerCode(t, registry, 4, false)

	before := s.Extent()
	f := s.PushManagedFrame(code, 0, []Word{object.Smi(1)}, []Word{object.Smi(2), object.Smi(3)})
	if s.Extent() != f.FP()+2+2 {
		t.Fatalf("extent must cover the arguments, got %d", s.Extent())
	}
	s.PopFrame()
	if s.Extent() != before {
		t.Fatal("extent must shrink after pop")
	}
}
