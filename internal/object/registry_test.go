package object

import "testing"

func TestRegistryLookupByContainment(t *testing.T) {
	r := NewCodeRegistry()
	a := NewCode(4, false)
	b := NewCode(2, true)
	r.Register(a)
	r.Register(b)

	if a.EntryPoint() == 0 || b.EntryPoint() == 0 {
		t.Fatal("registration must assign entry points")
	}
	if b.EntryPoint() != a.EntryPoint()+uintptr(4*InstrSlotSize) {
		t.Errorf("codes must be laid out back to back, got %#x after %#x", b.EntryPoint(), a.EntryPoint())
	}

	tests := []struct {
		pc   uintptr
		want *Code
	}{
		{a.EntryPoint(), a},
		{a.PCForSlot(3), a},
		{b.EntryPoint(), b},
		{b.PCForSlot(1), b},
		{b.EntryPoint() + uintptr(2*InstrSlotSize), nil},
		{a.EntryPoint() - 1, nil},
	}
	for _, tt := range tests {
		if got := r.LookupCode(tt.pc); got != tt.want {
			t.Errorf("LookupCode(%#x) = %v, want %v", tt.pc, got, tt.want)
		}
	}
}

func TestRegistryRejectsDoubleRegistration(t *testing.T) {
	r := NewCodeRegistry()
	c := NewCode(1, false)
	r.Register(c)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double registration")
		}
	}()
	r.Register(c)
}

func TestCodeTokenPositions(t *testing.T) {
	r := NewCodeRegistry()
	c := NewCode(8, false)
	r.Register(c)
	c.AddDescriptor(PCDescriptor{PCOffset: 2, TokenPos: 41, Kind: DescIcCall})
	c.AddDescriptor(PCDescriptor{PCOffset: 5, TokenPos: 77, Kind: DescReturn})

	if got := c.GetTokenPosOfPC(c.PCForSlot(2)); got != 41 {
		t.Errorf("expected 41, got %d", got)
	}
	if got := c.GetTokenPosOfPC(c.PCForSlot(3)); got != -1 {
		t.Errorf("expected -1 for undescribed pc, got %d", got)
	}
}

func TestFunctionCodeLifecycle(t *testing.T) {
	r := NewCodeRegistry()
	fn := NewFunction(NewSymbol("f"), RegularFunction, []Symbol{NewSymbol("x")}, 0)

	unopt := NewCode(4, false)
	r.Register(unopt)
	fn.AttachCode(unopt)
	if fn.UnoptimizedCode() != unopt || fn.CurrentCode() != unopt {
		t.Fatal("first unoptimized code must become both current and fallback")
	}

	opt := NewCode(4, true)
	r.Register(opt)
	fn.AttachCode(opt)
	if !fn.HasOptimizedCode() || fn.UnoptimizedCode() != unopt {
		t.Fatal("optimized code must not displace the fallback")
	}

	fn.SwitchToUnoptimizedCode()
	if fn.CurrentCode() != unopt {
		t.Fatal("switch must rebind the fallback")
	}
	if opt.Function() != fn {
		t.Fatal("code keeps its function back-reference")
	}
}

func TestArgumentCountValidation(t *testing.T) {
	this := NewSymbol("this")
	tests := []struct {
		name     string
		params   []Symbol
		optional int
		args     int
		named    int
		want     bool
	}{
		{"exact", []Symbol{this, NewSymbol("a")}, 0, 2, 0, true},
		{"too few", []Symbol{this, NewSymbol("a")}, 0, 1, 0, false},
		{"too many", []Symbol{this, NewSymbol("a")}, 0, 3, 0, false},
		{"optional omitted", []Symbol{this, NewSymbol("a"), NewSymbol("b")}, 1, 2, 0, true},
		{"optional passed", []Symbol{this, NewSymbol("a"), NewSymbol("b")}, 1, 3, 0, true},
		{"named within optional", []Symbol{this, NewSymbol("a"), NewSymbol("b")}, 1, 3, 1, true},
		{"too many named", []Symbol{this, NewSymbol("a")}, 0, 2, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := NewFunction(NewSymbol("m"), RegularFunction, tt.params, tt.optional)
			if got := fn.AreValidArgumentCounts(tt.args, tt.named); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetterNameMangling(t *testing.T) {
	name := NewSymbol("field")
	getter := GetterName(name)
	if !IsGetterName(getter) {
		t.Fatal("mangled name must be recognized")
	}
	if IsGetterName(name) {
		t.Fatal("plain name must not be recognized as getter")
	}
	if NameFromGetter(getter) != name {
		t.Fatal("round trip through mangling must restore the name")
	}
}
