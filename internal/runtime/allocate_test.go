package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kestrel/internal/errors"
	"kestrel/internal/object"
	"kestrel/internal/patcher"
)

func TestAllocateArray(t *testing.T) {
	env := newTestEnv(t)
	store := env.iso.Store
	elementType := object.NewVector(object.NewType(store.SmiClass, nil))

	got, err := env.rt.Call(EntryAllocateArray, env.iso, object.Smi(3), elementType)
	require.NoError(t, err)
	arr := got.(*object.Array)
	require.Equal(t, 3, arr.Length())
	require.Equal(t, object.TypeArguments(elementType), arr.TypeArgs())

	// Raw arrays carry no type arguments.
	got, err = env.rt.Call(EntryAllocateArray, env.iso, object.Smi(0), nil)
	require.NoError(t, err)
	require.Nil(t, got.(*object.Array).TypeArgs())
}

func TestAllocateArrayNegativeLengthThrows(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.rt.Call(EntryAllocateArray, env.iso, object.Smi(-1), nil)
	require.Error(t, err)
	require.Equal(t, errors.ThrownException, errors.Kind(err))
}

func TestAllocateObjectNonParametric(t *testing.T) {
	env := newTestEnv(t)
	cls := object.NewClass(object.NewSymbol("Plain"), 0, env.iso.Store.ObjectClass, 0)
	env.iso.Store.RegisterClass(cls)

	got, err := env.rt.Call(EntryAllocateObject, env.iso, cls, nil, patcher.NoInstantiator)
	require.NoError(t, err)
	inst := got.(*object.Instance)
	require.Equal(t, cls, inst.Class())
	require.Nil(t, inst.TypeArgs())
}

func TestAllocateObjectWithInstantiator(t *testing.T) {
	env := newTestEnv(t)
	store := env.iso.Store
	box := object.NewClass(object.NewSymbol("Box"), 0, store.ObjectClass, 1)
	store.RegisterClass(box)

	// The identity vector of matching length borrows the instantiator.
	uninst := object.NewVector(object.NewTypeParameter(0))
	instantiator := store.Canonicalize(object.NewVector(object.NewType(store.SmiClass, nil)))

	got, err := env.rt.Call(EntryAllocateObject, env.iso, box, uninst, instantiator)
	require.NoError(t, err)
	inst := got.(*object.Instance)
	require.Equal(t, object.TypeArguments(instantiator), inst.TypeArgs())
}

func TestAllocateObjectWithBoundsCheck(t *testing.T) {
	env := newTestEnv(t)
	store := env.iso.Store
	env.pushPlainFrame(31)
	defer env.iso.Stack().PopFrame()

	num := object.NewClass(object.NewSymbol("num"), 0, store.ObjectClass, 0)
	store.RegisterClass(num)
	box := object.NewClass(object.NewSymbol("Box"), 0, store.ObjectClass, 1)
	box.Bounds = []*object.Type{object.NewType(num, nil)}
	store.RegisterClass(box)

	okTA := object.NewVector(object.NewType(num, nil))
	got, err := env.rt.Call(EntryAllocateObjectWithBoundsCheck, env.iso, box, okTA, patcher.NoInstantiator)
	require.NoError(t, err)
	require.NotNil(t, got)

	badTA := object.NewVector(object.NewType(store.StringClass, nil))
	_, err = env.rt.Call(EntryAllocateObjectWithBoundsCheck, env.iso, box, badTA, patcher.NoInstantiator)
	require.Error(t, err)
	re := err.(*errors.RuntimeError)
	require.Equal(t, errors.DynamicTypeError, re.Kind)
	require.Equal(t, 31, re.TokenPos, "the error reports the caller's token position")
	require.NotEmpty(t, re.MalformedError)
}

func TestInstantiateTypeArgumentsEntry(t *testing.T) {
	env := newTestEnv(t)
	store := env.iso.Store
	uninst := object.NewVector(object.NewTypeParameter(0), object.NewTypeParameter(1))
	instantiator := object.NewVector(
		object.NewType(store.SmiClass, nil), object.NewType(store.BoolClass, nil))

	got, err := env.rt.Call(EntryInstantiateTypeArguments, env.iso, uninst, instantiator)
	require.NoError(t, err)
	ta := got.(object.TypeArguments)
	require.True(t, ta.IsInstantiated())
	require.Equal(t, store.SmiClass, ta.TypeAt(0).Class)
	require.Equal(t, store.BoolClass, ta.TypeAt(1).Class)
}

func TestAllocateClosureCapturesTopContext(t *testing.T) {
	env := newTestEnv(t)
	topCtx := object.NewContext(2)
	env.iso.SetTopContext(topCtx)
	fn := object.NewFunction(object.NewSymbol("inner"), object.ClosureFunction,
		[]object.Symbol{object.NewSymbol("this")}, 0)

	got, err := env.rt.Call(EntryAllocateClosure, env.iso, fn, nil)
	require.NoError(t, err)
	closure := got.(*object.Closure)
	require.Equal(t, topCtx, closure.Context())
}

func TestAllocateImplicitClosures(t *testing.T) {
	env := newTestEnv(t)
	store := env.iso.Store

	static := object.NewFunction(object.NewSymbol("top"), object.ImplicitStaticClosureFunction, nil, 0)
	got, err := env.rt.Call(EntryAllocateImplicitStaticClosure, env.iso, static)
	require.NoError(t, err)
	require.Equal(t, store.EmptyContext, got.(*object.Closure).Context())

	method := object.NewFunction(object.NewSymbol("m"), object.ImplicitInstanceClosureFunction,
		[]object.Symbol{object.NewSymbol("this")}, 0)
	receiver := object.NewInstance(store.ObjectClass)
	got, err = env.rt.Call(EntryAllocateImplicitInstanceClosure, env.iso, method, receiver, nil)
	require.NoError(t, err)
	closure := got.(*object.Closure)
	require.Equal(t, 1, closure.Context().NumVariables())
	require.Equal(t, object.Value(receiver), closure.Context().At(0))
}

func TestAllocateAndCloneContext(t *testing.T) {
	env := newTestEnv(t)

	got, err := env.rt.Call(EntryAllocateContext, env.iso, object.Smi(4))
	require.NoError(t, err)
	ctx := got.(*object.Context)
	require.Equal(t, 4, ctx.NumVariables())

	parent := object.NewContext(1)
	ctx.SetParent(parent)
	ctx.SetAt(0, object.Smi(11))
	ctx.SetAt(3, &object.Str{Value: "deep"})

	got, err = env.rt.Call(EntryCloneContext, env.iso, ctx)
	require.NoError(t, err)
	clone := got.(*object.Context)
	require.NotSame(t, ctx, clone)
	require.Equal(t, parent, clone.Parent())
	require.Equal(t, object.Value(object.Smi(11)), clone.At(0))
	require.Equal(t, object.Value(&object.Str{Value: "deep"}), ctx.At(3))
	require.Same(t, ctx.At(3), clone.At(3), "slot values are shared, not deep-copied")
}
