package runtime

import (
	"kestrel/internal/errors"
	"kestrel/internal/flags"
	"kestrel/internal/isolate"
	"kestrel/internal/object"
)

// NewArgumentsDescriptor builds the descriptor array an instance call
// carries: total count, positional count, then (name, position) pairs for
// the named arguments.
func NewArgumentsDescriptor(totalCount, positionalCount int, names []object.Symbol) *object.Array {
	arr := object.NewArray(2 + 2*len(names))
	arr.SetAt(0, object.Smi(totalCount))
	arr.SetAt(1, object.Smi(positionalCount))
	for i, name := range names {
		arr.SetAt(2*i+2, name)
		arr.SetAt(2*i+3, object.Smi(positionalCount+i))
	}
	return arr
}

// resolveCompileInstanceCallTarget resolves the target of the instance call
// at the caller's PC and compiles it if necessary. Returns nil code when
// resolution fails; the megamorphic paths take over from there.
func (rt *Runtime) resolveCompileInstanceCallTarget(iso *isolate.Isolate, receiver object.Value) (*object.Code, error) {
	frame := topManagedFrame(iso)
	name, numArguments, numNamedArguments, _ := rt.Patcher.GetInstanceCallAt(frame.PC())
	fn := resolveDynamic(iso, receiver, name, numArguments, numNamedArguments)
	if fn == nil {
		return nil, nil
	}
	if err := rt.compileIfNeeded(iso, fn); err != nil {
		return nil, err
	}
	return fn.CurrentCode(), nil
}

// Resolves an instance function and compiles it if necessary.
// Arg0: receiver object.
// Returns the Code object, or null when the method is not found or not
// compileable. Called by the megamorphic stub when the instance call does
// not need to be patched.
var EntryResolveCompileInstanceFunction = DefineEntry("ResolveCompileInstanceFunction", 1, resolveCompileInstanceFunction)

func resolveCompileInstanceFunction(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	code, err := rt.resolveCompileInstanceCallTarget(iso, args.ArgAt(0))
	if err != nil {
		return err
	}
	if code != nil {
		args.SetReturn(code)
	}
	return nil
}

// inlineCacheMissHandler updates the IC data array of the call site with
// the classes of the tested arguments and the resolved target.
func (rt *Runtime) inlineCacheMissHandler(iso *isolate.Isolate, callArgs []object.Value) (*object.Function, error) {
	receiver := callArgs[0]
	targetCode, err := rt.resolveCompileInstanceCallTarget(iso, receiver)
	if err != nil {
		return nil, err
	}
	if targetCode == nil {
		// Let the megamorphic stub handle the special cases: noSuchMethod
		// and closure calls.
		if flags.Current.TraceIC {
			log.Info("inline cache miss: null code for receiver %s", object.ToString(receiver))
		}
		return nil, nil
	}
	targetFunction := targetCode.Function()
	frame := topManagedFrame(iso)
	icData := rt.Patcher.GetInstanceCallICDataAt(frame.PC())
	if icData.NumArgsTested != len(callArgs) {
		panic("kestrel: ic data tests a different argument count")
	}
	if len(callArgs) == 1 {
		icData.AddReceiverCheck(iso.Store.ClassIDOf(receiver), targetFunction)
	} else {
		classIDs := make([]object.ClassID, len(callArgs))
		for i, arg := range callArgs {
			classIDs[i] = iso.Store.ClassIDOf(arg)
		}
		icData.AddCheck(classIDs, targetFunction)
	}
	if flags.Current.TraceICMissInOptimized {
		if caller := frame.LookupCode(); caller != nil && caller.IsOptimized() {
			log.Info("IC miss in optimized code; call %s -> %s",
				caller.Function().QualifiedName(), targetFunction.QualifiedName())
		}
	}
	if flags.Current.TraceIC {
		log.Info("inline cache miss: %d args at %#x adding id:%d -> <%s>",
			len(callArgs), frame.PC(), iso.Store.ClassIDOf(receiver),
			targetFunction.QualifiedName())
	}
	return targetFunction, nil
}

// Handles inline cache misses by updating the IC data array of the call
// site.
// Arg0: receiver object.
// Returns the target function with compiled code, or null.
var EntryInlineCacheMissHandlerOneArg = DefineEntry("InlineCacheMissHandlerOneArg", 1, icMissOneArg)

func icMissOneArg(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	fn, err := rt.inlineCacheMissHandler(iso, []object.Value{args.ArgAt(0)})
	if err != nil {
		return err
	}
	if fn != nil {
		args.SetReturn(fn)
	}
	return nil
}

// Arg0: receiver; Arg1: argument after receiver.
var EntryInlineCacheMissHandlerTwoArgs = DefineEntry("InlineCacheMissHandlerTwoArgs", 2, icMissTwoArgs)

func icMissTwoArgs(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	fn, err := rt.inlineCacheMissHandler(iso, []object.Value{args.ArgAt(0), args.ArgAt(1)})
	if err != nil {
		return err
	}
	if fn != nil {
		args.SetReturn(fn)
	}
	return nil
}

// Arg0: receiver; Arg1, Arg2: arguments after receiver.
var EntryInlineCacheMissHandlerThreeArgs = DefineEntry("InlineCacheMissHandlerThreeArgs", 3, icMissThreeArgs)

func icMissThreeArgs(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	fn, err := rt.inlineCacheMissHandler(iso, []object.Value{args.ArgAt(0), args.ArgAt(1), args.ArgAt(2)})
	if err != nil {
		return err
	}
	if fn != nil {
		args.SetReturn(fn)
	}
	return nil
}

// Updates IC data for two arguments; the equality operation uses this when
// control flow bypassed the regular inline cache on null arguments.
// Arg0: receiver. Arg1: argument after receiver. Arg2: target name.
// Arg3: IC data.
var EntryUpdateICDataTwoArgs = DefineEntry("UpdateICDataTwoArgs", 4, updateICDataTwoArgs)

func updateICDataTwoArgs(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	receiver := args.ArgAt(0)
	arg1 := args.ArgAt(1)
	targetName := args.ArgAt(2).(object.Symbol)
	icData := args.ArgAt(3).(*object.ICData)
	const numArguments = 2
	const numNamedArguments = 0
	targetFunction := resolveDynamic(iso, receiver, targetName, numArguments, numNamedArguments)
	if targetFunction == nil {
		panic("kestrel: equality target did not resolve")
	}
	if icData.NumArgsTested != numArguments {
		panic("kestrel: ic data tests a different argument count")
	}
	icData.AddCheck([]object.ClassID{
		iso.Store.ClassIDOf(receiver),
		iso.Store.ClassIDOf(arg1),
	}, targetFunction)
	return nil
}

// Resolve an implicit closure by checking whether an instance function of
// the getter's base name exists, and closing over the receiver if so.
// Arg0: receiver object.
// Arg1: IC data.
// Returns the closure, or null when there is no such instance function.
// Called by the megamorphic stub just before the noSuchMethod fallback.
var EntryResolveImplicitClosureFunction = DefineEntry("ResolveImplicitClosureFunction", 2, resolveImplicitClosureFunction)

func resolveImplicitClosureFunction(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	receiver := args.ArgAt(0)
	icData := args.ArgAt(1).(*object.ICData)
	originalFunctionName := icData.TargetName
	if !object.IsGetterName(originalFunctionName) {
		// Not a getter, so this cannot be an implicit closure of an
		// instance function.
		return nil
	}
	funcName := object.NameFromGetter(originalFunctionName)
	fn := lookupDynamicFunction(iso, iso.Store.ClassOf(receiver), funcName)
	if fn == nil {
		return nil
	}
	implicitClosureFunction := fn.ImplicitClosureFunction()
	context := object.NewContext(1)
	context.SetAt(0, receiver)
	closure := object.NewClosure(implicitClosureFunction, context)
	receiverClass := iso.Store.ClassOf(receiver)
	if receiverClass != nil && receiverClass.HasTypeArguments() {
		closure.SetTypeArguments(iso.Store.TypeArgsOf(receiver))
	}
	args.SetReturn(closure)
	return nil
}

// Resolve an implicit closure by invoking the getter and checking whether
// its result is a closure.
// Arg0: receiver object.
// Arg1: IC data.
// Returns the closure, or null when no getter exists. A getter that throws
// is treated as no-such-method. A non-closure getter result throws
// NoSuchMethodError immediately.
var EntryResolveImplicitClosureThroughGetter = DefineEntry("ResolveImplicitClosureThroughGetter", 2, resolveImplicitClosureThroughGetter)

func resolveImplicitClosureThroughGetter(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	receiver := args.ArgAt(0)
	icData := args.ArgAt(1).(*object.ICData)
	originalFunctionName := icData.TargetName
	const numArguments = 1
	const numNamedArguments = 0
	getterName := object.GetterName(originalFunctionName)
	fn := resolveDynamic(iso, receiver, getterName, numArguments, numNamedArguments)
	if fn == nil {
		// No getter function found, so this cannot be an implicit closure.
		return nil
	}
	result, err := rt.InvokeDynamic(iso, receiver, fn, nil)
	if err != nil {
		if errors.IsUnhandledException(err) {
			// A throwing getter is treated as no such method.
			return nil
		}
		return errors.PropagateError(err)
	}
	if _, isSmi := result.(object.Smi); !isSmi {
		cls := iso.Store.ClassOf(result)
		if cls != nil && cls.SignatureFunction != nil {
			args.SetReturn(result)
			return nil
		}
	}
	// The getter result is not a closure. Throw NoSuchMethodError without
	// attempting to resolve a 'call' method first.
	return throwNoSuchMethodWithCallHint(iso, result, nil)
}

// throwNoSuchMethodWithCallHint raises NoSuchMethodError for 'call' on a
// non-closure value, attaching the parameter names of the value's 'call'
// method when one exists; its arity is not compared.
func throwNoSuchMethodWithCallHint(iso *isolate.Isolate, instance object.Value, callArgs *object.Array) error {
	hint := similarParameterNames(iso, iso.Store.ClassOf(instance), object.SymCall)
	return errors.ThrowNoSuchMethod(instance, object.SymCall, callArgs, hint)
}

// Invoke an implicit closure function. The closure itself is passed as the
// hidden first argument, since NoSuchMethodError construction may need it
// when the wrong number of arguments is passed.
// Arg0: closure object.
// Arg1: arguments descriptor.
// Arg2: arguments array.
var EntryInvokeImplicitClosureFunction = DefineEntry("InvokeImplicitClosureFunction", 3, invokeImplicitClosureFunction)

func invokeImplicitClosureFunction(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	closure := args.ArgAt(0).(*object.Closure)
	funcArguments, _ := args.ArgAt(2).(*object.Array)
	fn := closure.Function()
	if err := rt.compileIfNeeded(iso, fn); err != nil {
		return err
	}
	invokeArguments := make([]object.Value, 0, 1+argLen(funcArguments))
	invokeArguments = append(invokeArguments, closure)
	for i := 0; i < argLen(funcArguments); i++ {
		invokeArguments = append(invokeArguments, funcArguments.At(i))
	}
	result, err := fn.CurrentCode().Invoke(invokeArguments)
	if err := checkResultError(err); err != nil {
		return err
	}
	args.SetReturn(result)
	return nil
}

func argLen(arr *object.Array) int {
	if arr == nil {
		return 0
	}
	return arr.Length()
}

// Invoke the receiver's noSuchMethod with a reified description of the
// failed call.
// Arg0: receiver.
// Arg1: IC data.
// Arg2: original arguments descriptor array.
// Arg3: original arguments array.
var EntryInvokeNoSuchMethodFunction = DefineEntry("InvokeNoSuchMethodFunction", 4, invokeNoSuchMethodFunction)

func invokeNoSuchMethodFunction(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	receiver := args.ArgAt(0)
	icData := args.ArgAt(1).(*object.ICData)
	originalFunctionName := icData.TargetName
	if args.ArgAt(2) == nil {
		panic("kestrel: noSuchMethod invocation without arguments descriptor")
	}
	origArguments, _ := args.ArgAt(3).(*object.Array)

	// Allocate the invocation mirror through the core library. Named
	// arguments are treated as positional.
	allocFn := iso.Store.InvocationMirrorClass.LookupStaticFunction(object.SymAllocateInvocationMirror)
	if allocFn == nil {
		panic("kestrel: core library lost _allocateInvocationMirror")
	}
	mirror, err := rt.InvokeStatic(iso, allocFn, []object.Value{originalFunctionName, origArguments})
	if err != nil {
		return errors.PropagateError(err)
	}

	const numArguments = 2
	const numNamedArguments = 0
	fn := resolveDynamic(iso, receiver, object.SymNoSuchMethod, numArguments, numNamedArguments)
	if fn == nil {
		// No user-defined noSuchMethod; raise the error carrying the failed
		// call and the parameter names of any same-named method.
		hint := similarParameterNames(iso, iso.Store.ClassOf(receiver), originalFunctionName)
		return errors.ThrowNoSuchMethod(receiver, originalFunctionName, origArguments, hint)
	}
	result, err := rt.InvokeDynamic(iso, receiver, fn, []object.Value{mirror})
	if err := checkResultError(err); err != nil {
		return err
	}
	args.SetReturn(result)
	return nil
}

// A non-closure object was invoked as a closure; raise NoSuchMethodError
// for 'call'.
// Arg0: non-closure object.
// Arg1: arguments array.
var EntryReportObjectNotClosure = DefineEntry("ReportObjectNotClosure", 2, reportObjectNotClosure)

func reportObjectNotClosure(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	instance := args.ArgAt(0)
	funcArguments, _ := args.ArgAt(1).(*object.Array)
	return throwNoSuchMethodWithCallHint(iso, instance, funcArguments)
}

// A closure object was invoked with incompatible arguments.
var EntryClosureArgumentMismatch = DefineEntry("ClosureArgumentMismatch", 0, closureArgumentMismatch)

func closureArgumentMismatch(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	// Incorrect payload, OK for now.
	var instance object.Value
	var funcArguments *object.Array
	return errors.ThrowNoSuchMethod(instance, object.SymCall, funcArguments, nil)
}

// Arg0: IC data. Arg1: function.
var EntryTraceICCall = DefineEntry("TraceICCall", 2, traceICCall)

func traceICCall(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	icData := args.ArgAt(0).(*object.ICData)
	fn := args.ArgAt(1).(*object.Function)
	frame := topManagedFrame(iso)
	closureMark := ""
	if icData.IsClosureCall {
		closureMark = "closure "
	}
	log.Info("IC call @%#x: cnt:%d nchecks:%d %s%s",
		frame.PC(), fn.UsageCounter(), icData.NumberOfChecks(), closureMark,
		fn.QualifiedName())
	return nil
}

// MegamorphicDispatch is the generic fallback the megamorphic stub runs
// once IC growth has been abandoned: full resolution, then the implicit
// closure paths, then noSuchMethod.
func (rt *Runtime) MegamorphicDispatch(iso *isolate.Isolate, receiver object.Value, icData *object.ICData, argDesc, callArgs *object.Array) (object.Value, error) {
	code, err := rt.resolveCompileInstanceCallTarget(iso, receiver)
	if err != nil {
		return nil, err
	}
	if code != nil {
		invokeArgs := make([]object.Value, 0, 1+argLen(callArgs))
		invokeArgs = append(invokeArgs, receiver)
		for i := 0; i < argLen(callArgs); i++ {
			invokeArgs = append(invokeArgs, callArgs.At(i))
		}
		return code.Invoke(invokeArgs)
	}
	closure, err := rt.Call(EntryResolveImplicitClosureFunction, iso, receiver, icData)
	if err != nil {
		return nil, err
	}
	if closure == nil {
		closure, err = rt.Call(EntryResolveImplicitClosureThroughGetter, iso, receiver, icData)
		if err != nil {
			return nil, err
		}
	}
	if closure != nil {
		return rt.Call(EntryInvokeImplicitClosureFunction, iso, closure, argDesc, callArgs)
	}
	return rt.Call(EntryInvokeNoSuchMethodFunction, iso, receiver, icData, argDesc, callArgs)
}
