package object

import "testing"

func TestCanonicalizeInterns(t *testing.T) {
	store := NewObjectStore()
	intType := NewType(store.SmiClass, nil)

	a := store.Canonicalize(NewVector(intType))
	b := store.Canonicalize(NewVector(NewType(store.SmiClass, nil)))
	if a != b {
		t.Fatal("equal vectors must share identity after canonicalization")
	}
}

func TestCanonicalizeReducesLazyWrappersTransitively(t *testing.T) {
	store := NewObjectStore()
	intType := NewType(store.SmiClass, nil)

	inner := NewInstantiatedTypeArgs(NewVector(NewTypeParameter(0)), NewVector(intType))
	outer := NewInstantiatedTypeArgs(NewVector(NewTypeParameter(0)), inner)
	canonical := store.Canonicalize(outer)

	if canonical.Len() != 1 {
		t.Fatalf("expected length 1, got %d", canonical.Len())
	}
	if canonical.TypeAt(0).Class != store.SmiClass {
		t.Errorf("expected int, got %s", canonical.TypeAt(0).Name())
	}
	if direct := store.Canonicalize(NewVector(intType)); direct != canonical {
		t.Error("reduced wrapper must intern to the same vector")
	}
}

func TestCanonicalizeIdempotentOverInstantiate(t *testing.T) {
	store := NewObjectStore()
	u := NewVector(NewTypeParameter(0))
	i := store.Canonicalize(NewVector(NewType(store.DoubleClass, nil)))

	first := store.Canonicalize(Instantiate(u, i))
	second := store.Canonicalize(Instantiate(u, i))
	if first != second {
		t.Fatal("canonicalize(instantiate(u, i)) must be stable for equal inputs")
	}
}

func TestInstantiateIdentityShortcuts(t *testing.T) {
	store := NewObjectStore()
	instantiator := NewVector(NewType(store.SmiClass, nil))

	if got := Instantiate(NewVector(NewTypeParameter(0)), nil); got != nil {
		t.Errorf("nil instantiator must pass through, got %v", got)
	}
	identity := NewVector(NewTypeParameter(0))
	if got := Instantiate(identity, instantiator); got != TypeArguments(instantiator) {
		t.Error("identity vector of matching length must return the instantiator")
	}
	// Length mismatch keeps the lazy wrapper.
	long := NewVector(NewTypeParameter(0), NewTypeParameter(1))
	if !IsLazy(Instantiate(long, instantiator)) {
		t.Error("length mismatch must produce a lazy wrapper")
	}
}

func TestSubtypeChecks(t *testing.T) {
	store := NewObjectStore()
	animal := NewClass(NewSymbol("Animal"), 0, store.ObjectClass, 0)
	store.RegisterClass(animal)
	cat := NewClass(NewSymbol("Cat"), 0, animal, 0)
	store.RegisterClass(cat)

	tests := []struct {
		name string
		sub  *Type
		sup  *Type
		want bool
	}{
		{"same class", NewType(cat, nil), NewType(cat, nil), true},
		{"subclass", NewType(cat, nil), NewType(animal, nil), true},
		{"superclass", NewType(animal, nil), NewType(cat, nil), false},
		{"dynamic accepts", NewType(cat, nil), DynamicType(), true},
		{"list covariance",
			NewType(store.ArrayClass, NewVector(NewType(cat, nil))),
			NewType(store.ArrayClass, NewVector(NewType(animal, nil))), true},
		{"list contravariance rejected",
			NewType(store.ArrayClass, NewVector(NewType(animal, nil))),
			NewType(store.ArrayClass, NewVector(NewType(cat, nil))), false},
		{"raw target accepts",
			NewType(store.ArrayClass, NewVector(NewType(cat, nil))),
			NewType(store.ArrayClass, nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.IsSubtypeOf(tt.sup); got != tt.want {
				t.Errorf("%s is %s: got %v, want %v", tt.sub.Name(), tt.sup.Name(), got, tt.want)
			}
		})
	}
}

func TestBoundsCheck(t *testing.T) {
	store := NewObjectStore()
	num := NewClass(NewSymbol("num"), 0, store.ObjectClass, 0)
	store.RegisterClass(num)
	box := NewClass(NewSymbol("Box"), 0, store.ObjectClass, 1)
	box.Bounds = []*Type{NewType(num, nil)}
	store.RegisterClass(box)

	ok, _ := store.TypeArgsWithinBoundsOf(NewVector(NewType(num, nil)), box, nil)
	if !ok {
		t.Error("num is within bound num")
	}
	ok, msg := store.TypeArgsWithinBoundsOf(NewVector(NewType(store.StringClass, nil)), box, nil)
	if ok || msg == "" {
		t.Errorf("String outside bound num must fail with a message, got ok=%v msg=%q", ok, msg)
	}

	box.Bounds = []*Type{MalformedType("malformed bound on Box")}
	ok, msg = store.TypeArgsWithinBoundsOf(NewVector(NewType(num, nil)), box, nil)
	if ok || msg != "malformed bound on Box" {
		t.Errorf("malformed bound must fail with its message, got ok=%v msg=%q", ok, msg)
	}
}

func TestContextCloneObservationallyStable(t *testing.T) {
	parent := NewContext(1)
	ctx := NewContext(3)
	ctx.SetParent(parent)
	ctx.SetAt(0, Smi(1))
	ctx.SetAt(1, Smi(2))
	ctx.SetAt(2, Smi(3))

	first := ctx.Clone()
	second := first.Clone()
	if second.NumVariables() != first.NumVariables() || second.Parent() != first.Parent() {
		t.Fatal("clone of clone must preserve shape and parent")
	}
	for i := 0; i < first.NumVariables(); i++ {
		if first.At(i) != second.At(i) {
			t.Errorf("slot %d differs: %v vs %v", i, first.At(i), second.At(i))
		}
	}
}

func TestSubtypeTestCacheKeysByIdentity(t *testing.T) {
	store := NewObjectStore()
	ta := store.Canonicalize(NewVector(NewType(store.SmiClass, nil)))
	cache := NewSubtypeTestCache()
	cache.AddCheck(ArrayClassID, ta, nil, true)

	if result, hit := cache.Lookup(ArrayClassID, ta, nil); !hit || !result {
		t.Fatal("expected canonical vector to hit")
	}
	other := store.Canonicalize(NewVector(NewType(store.SmiClass, nil)))
	if _, hit := cache.Lookup(ArrayClassID, other, nil); !hit {
		t.Fatal("canonicalization must make equal vectors hit by identity")
	}
	if _, hit := cache.Lookup(SmiClassID, ta, nil); hit {
		t.Fatal("different cid must miss")
	}
}
