package runtime

import (
	"fmt"

	"kestrel/internal/errors"
	"kestrel/internal/flags"
	"kestrel/internal/isolate"
	"kestrel/internal/object"
	"kestrel/internal/patcher"
)

func noteAllocation(iso *isolate.Isolate, words int) {
	if h, ok := iso.Heap().(*isolate.CountingHeap); ok {
		h.NoteAllocated(int64(words * 8))
	}
}

// asTypeArgs narrows an entry operand to a type-argument vector; null stays
// nil.
func asTypeArgs(v object.Value) object.TypeArguments {
	if v == nil {
		return nil
	}
	return v.(object.TypeArguments)
}

// Allocation of a fixed length array of given element type. Never called for
// a generic list type; a prior runtime call instantiates the element type if
// necessary.
// Arg0: array length.
// Arg1: array type arguments, i.e. vector of 1 type, the element type.
var EntryAllocateArray = DefineEntry("AllocateArray", 2, allocateArray)

func allocateArray(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	length := args.ArgAt(0).(object.Smi)
	if length < 0 {
		return errors.Throw(&object.Str{Value: fmt.Sprintf("RangeError: invalid array length %d", int64(length))})
	}
	array := object.NewArray(int(length))
	noteAllocation(iso, int(length)+1)
	elementType := asTypeArgs(args.ArgAt(1))
	if elementType != nil && (elementType.Len() != 1 || !elementType.IsInstantiated()) {
		panic("kestrel: array element type must be a single instantiated type")
	}
	array.SetTypeArguments(elementType) // may be null
	args.SetReturn(array)
	return nil
}

// instantiateForAllocation reduces the allocation-site type arguments
// against the instantiator operand, which may be the no-instantiator
// sentinel.
func instantiateForAllocation(ta object.TypeArguments, instantiatorArg object.Value) (object.TypeArguments, object.TypeArguments) {
	if smi, ok := instantiatorArg.(object.Smi); ok {
		if smi != patcher.NoInstantiator {
			panic("kestrel: unexpected instantiator sentinel")
		}
		return ta, nil
	}
	instantiator := asTypeArgs(instantiatorArg)
	return object.Instantiate(ta, instantiator), instantiator
}

// Allocate a new object.
// Arg0: class of the object that needs to be allocated.
// Arg1: type arguments of the object.
// Arg2: type arguments of the instantiator or the no-instantiator sentinel.
var EntryAllocateObject = DefineEntry("AllocateObject", 3, allocateObject)

func allocateObject(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	cls := args.ArgAt(0).(*object.Class)
	instance := object.NewInstance(cls)
	noteAllocation(iso, 2+cls.TypeParams)
	args.SetReturn(instance)
	if !cls.HasTypeArguments() {
		// No type arguments required for a non-parameterized type.
		if args.ArgAt(1) != nil {
			panic("kestrel: type arguments on a non-parametric allocation")
		}
		return nil
	}
	ta := asTypeArgs(args.ArgAt(1))
	if ta != nil && ta.Len() != cls.NumTypeArguments() {
		panic("kestrel: type-argument vector length mismatch")
	}
	attached, _ := instantiateForAllocation(ta, args.ArgAt(2))
	instance.SetTypeArguments(attached)
	return nil
}

// Allocate a new object of a generic type and check that the instantiated
// type arguments are within the declared bounds, or throw a dynamic type
// error reporting the caller's token position.
var EntryAllocateObjectWithBoundsCheck = DefineEntry("AllocateObjectWithBoundsCheck", 3, allocateObjectWithBoundsCheck)

func allocateObjectWithBoundsCheck(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	if !flags.Current.EnableTypeChecks {
		panic("kestrel: bounds-checked allocation without checked mode")
	}
	cls := args.ArgAt(0).(*object.Class)
	if !cls.HasTypeArguments() {
		panic("kestrel: bounds check on a non-parametric class")
	}
	instance := object.NewInstance(cls)
	noteAllocation(iso, 2+cls.TypeParams)
	args.SetReturn(instance)
	ta := asTypeArgs(args.ArgAt(1))
	if ta != nil && ta.Len() != cls.NumTypeArguments() {
		panic("kestrel: type-argument vector length mismatch")
	}
	attached, boundsInstantiator := instantiateForAllocation(ta, args.ArgAt(2))
	if attached != nil {
		canonical := iso.Store.Canonicalize(attached)
		ok, malformed := iso.Store.TypeArgsWithinBoundsOf(canonical, cls, boundsInstantiator)
		if !ok {
			location := callerFrameLocation(iso)
			return errors.CreateAndThrowTypeError(location, "", "", "", malformed)
		}
		attached = canonical
	}
	instance.SetTypeArguments(attached)
	return nil
}

// Instantiate type arguments.
// Arg0: uninstantiated type arguments.
// Arg1: instantiator type arguments.
var EntryInstantiateTypeArguments = DefineEntry("InstantiateTypeArguments", 2, instantiateTypeArguments)

func instantiateTypeArguments(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	ta := asTypeArgs(args.ArgAt(0))
	instantiator := asTypeArgs(args.ArgAt(1))
	if ta == nil || ta.IsInstantiated() {
		panic("kestrel: instantiate entry needs uninstantiated type arguments")
	}
	result := object.Instantiate(ta, instantiator)
	if result != nil && !result.IsInstantiated() {
		panic("kestrel: instantiation produced an uninstantiated vector")
	}
	args.SetReturn(result)
	return nil
}

// Allocate a new closure. The closure's type argument vector is its
// signature's identity vector, so the instantiator is passed as the type
// arguments. The current context was saved on the isolate when entering the
// runtime.
// Arg0: local function.
// Arg1: type arguments of the closure.
var EntryAllocateClosure = DefineEntry("AllocateClosure", 2, allocateClosure)

func allocateClosure(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	fn := args.ArgAt(0).(*object.Function)
	if !fn.IsClosureFunction() || fn.IsImplicitInstanceClosureFunction() {
		panic("kestrel: allocate-closure on a non-closure function")
	}
	ta := asTypeArgs(args.ArgAt(1))
	if ta != nil && !ta.IsInstantiated() {
		panic("kestrel: closure type arguments must be instantiated")
	}
	context := iso.TopContext()
	if context == nil {
		panic("kestrel: no saved context for closure allocation")
	}
	closure := object.NewClosure(fn, context)
	closure.SetTypeArguments(ta)
	noteAllocation(iso, 3)
	args.SetReturn(closure)
	return nil
}

// Allocate a new implicit static closure over the empty context.
// Arg0: local function.
var EntryAllocateImplicitStaticClosure = DefineEntry("AllocateImplicitStaticClosure", 1, allocateImplicitStaticClosure)

func allocateImplicitStaticClosure(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	fn := args.ArgAt(0).(*object.Function)
	if !fn.IsImplicitStaticClosureFunction() {
		panic("kestrel: implicit static closure over a wrong-kind function")
	}
	closure := object.NewClosure(fn, iso.Store.EmptyContext)
	noteAllocation(iso, 3)
	args.SetReturn(closure)
	return nil
}

// Allocate a new implicit instance closure: a one-slot context holding the
// receiver.
// Arg0: local function.
// Arg1: receiver object.
// Arg2: type arguments of the closure.
var EntryAllocateImplicitInstanceClosure = DefineEntry("AllocateImplicitInstanceClosure", 3, allocateImplicitInstanceClosure)

func allocateImplicitInstanceClosure(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	fn := args.ArgAt(0).(*object.Function)
	if !fn.IsImplicitInstanceClosureFunction() {
		panic("kestrel: implicit instance closure over a wrong-kind function")
	}
	receiver := args.ArgAt(1)
	ta := asTypeArgs(args.ArgAt(2))
	if ta != nil && !ta.IsInstantiated() {
		panic("kestrel: closure type arguments must be instantiated")
	}
	context := object.NewContext(1)
	context.SetAt(0, receiver)
	closure := object.NewClosure(fn, context)
	closure.SetTypeArguments(ta)
	noteAllocation(iso, 4)
	args.SetReturn(closure)
	return nil
}

// Allocate a new context large enough to hold the given number of
// variables.
// Arg0: number of variables.
var EntryAllocateContext = DefineEntry("AllocateContext", 1, allocateContext)

func allocateContext(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	numVariables := args.ArgAt(0).(object.Smi)
	ctx := object.NewContext(int(numVariables))
	noteAllocation(iso, int(numVariables)+2)
	args.SetReturn(ctx)
	return nil
}

// Make a copy of the given context, including the values of the captured
// variables.
// Arg0: the context to be cloned.
var EntryCloneContext = DefineEntry("CloneContext", 1, cloneContext)

func cloneContext(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	ctx := args.ArgAt(0).(*object.Context)
	cloned := ctx.Clone()
	noteAllocation(iso, ctx.NumVariables()+2)
	args.SetReturn(cloned)
	return nil
}
