package runtime

import (
	"kestrel/internal/isolate"
	"kestrel/internal/object"
	"kestrel/internal/stack"
)

// topManagedFrame locates the managed caller of the current entry; failing
// to find one is a fatal invariant violation.
func topManagedFrame(iso *isolate.Isolate) *stack.Frame {
	return stack.TopManagedFrame(iso.Stack())
}

// lookupDynamicFunction walks the class hierarchy for an instance function.
// A null receiver class resolves against Object.
func lookupDynamicFunction(iso *isolate.Isolate, inCls *object.Class, name object.Symbol) *object.Function {
	cls := inCls
	if cls == nil {
		cls = iso.Store.ObjectClass
	}
	for ; cls != nil; cls = cls.Super {
		if fn := cls.LookupDynamicFunction(name); fn != nil {
			return fn
		}
	}
	return nil
}

// resolveDynamic finds the instance function a call site binds to: hierarchy
// walk plus an arity check. Only the number of named arguments is checked,
// not their names.
func resolveDynamic(iso *isolate.Isolate, receiver object.Value, name object.Symbol, numArguments, numNamedArguments int) *object.Function {
	fn := lookupDynamicFunction(iso, iso.Store.ClassOf(receiver), name)
	if fn == nil {
		return nil
	}
	if !fn.AreValidArgumentCounts(numArguments, numNamedArguments) {
		return nil
	}
	return fn
}

// similarParameterNames scans the hierarchy for a same-named function of any
// arity and reifies its parameter names, skipping the receiver; the
// NoSuchMethod payload carries this as a diagnostic.
func similarParameterNames(iso *isolate.Isolate, cls *object.Class, name object.Symbol) *object.Array {
	fn := lookupDynamicFunction(iso, cls, name)
	if fn == nil {
		return nil
	}
	total := fn.NumParameters()
	arr := object.NewArray(total - 1)
	for i := 1; i < total; i++ {
		arr.SetAt(i-1, fn.ParameterNameAt(i))
	}
	return arr
}
