package patcher

import "kestrel/internal/object"

// NoInstantiator is the sentinel an allocation site passes when the
// instantiated type arguments need no further instantiation.
const NoInstantiator = object.Smi(0)

// StubCode hands out the virtual entry addresses of the shared stubs. Call
// sites are born pointing at one of these; the runtime patches them to real
// targets.
type StubCode struct {
	// CallStaticFunctionEntry is the initial target of every static call
	// site; it traps into PatchStaticCall.
	CallStaticFunctionEntry uintptr
	// FixCallersTargetEntry traps into FixCallersTarget after a target's
	// code was replaced.
	FixCallersTargetEntry uintptr
	// MegamorphicLookupEntry is the generic-dispatch fallback.
	MegamorphicLookupEntry uintptr
	// LazyDeoptEntry is spliced over return addresses of frames scheduled
	// for lazy deoptimization.
	LazyDeoptEntry uintptr
}

func NewStubCode(registry *object.CodeRegistry) *StubCode {
	return &StubCode{
		CallStaticFunctionEntry: registry.ReserveStub(1),
		FixCallersTargetEntry:   registry.ReserveStub(1),
		MegamorphicLookupEntry:  registry.ReserveStub(1),
		LazyDeoptEntry:          registry.ReserveStub(1),
	}
}
