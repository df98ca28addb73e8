package runtime

import (
	"strings"

	"kestrel/internal/errors"
	"kestrel/internal/flags"
	"kestrel/internal/isolate"
	"kestrel/internal/object"
	"kestrel/internal/stack"
)

// Arg0: function.
var EntryTraceFunctionEntry = DefineEntry("TraceFunctionEntry", 1, traceFunctionEntry)

func traceFunctionEntry(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	fn := args.ArgAt(0).(*object.Function)
	log.Info("> entering '%s'", fn.QualifiedName())
	return nil
}

// Arg0: function.
var EntryTraceFunctionExit = DefineEntry("TraceFunctionExit", 1, traceFunctionExit)

func traceFunctionExit(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	fn := args.ArgAt(0).(*object.Function)
	log.Info("< exiting '%s'", fn.QualifiedName())
	return nil
}

// Patches a static call with the target's entry point, compiling the target
// first when needed. The call site currently points at the static-call
// stub; patching twice to the same target is a bug.
var EntryPatchStaticCall = DefineEntry("PatchStaticCall", 0, patchStaticCall)

func patchStaticCall(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	callerFrame := topManagedFrame(iso)
	callerCode := callerFrame.LookupCode()
	if callerCode == nil {
		panic("kestrel: static-call patch without caller code")
	}
	targetFunction := callerCode.GetStaticCallTargetFunctionAt(callerFrame.PC())
	if targetFunction == nil {
		panic("kestrel: call site has no static target function")
	}
	if err := rt.compileIfNeeded(iso, targetFunction); err != nil {
		return err
	}
	targetCode := targetFunction.CurrentCode()
	if targetCode.EntryPoint() == rt.Patcher.GetStaticCallTargetAt(callerFrame.PC()) {
		panic("kestrel: repeated static-call patch to the same target")
	}
	rt.Patcher.PatchStaticCallAt(callerFrame.PC(), targetCode.EntryPoint())
	callerCode.SetStaticCallTargetCodeAt(callerFrame.PC(), targetCode)
	if flags.Current.TracePatching {
		log.Info("PatchStaticCall: patching from %#x to '%s' %#x",
			callerFrame.PC(), targetFunction.QualifiedName(), targetCode.EntryPoint())
	}
	args.SetReturn(targetCode)
	return nil
}

// Re-patches a static call whose previously bound target Code was replaced,
// e.g. by optimization or deoptimization. The caller must be a static call
// in a managed frame.
var EntryFixCallersTarget = DefineEntry("FixCallersTarget", 0, fixCallersTarget)

func fixCallersTarget(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	it := stack.NewIterator(iso.Stack())
	frame := it.NextFrame()
	for frame != nil && (frame.IsStubFrame() || frame.IsExitFrame()) {
		frame = it.NextFrame()
	}
	if frame == nil {
		panic("kestrel: fix-callers-target without a caller frame")
	}
	if frame.IsEntryFrame() {
		// A function's current code is always unpatched, so an entry frame
		// always calls unpatched code.
		panic("kestrel: fix-callers-target reached an entry frame")
	}
	if !frame.IsManagedFrame() {
		panic("kestrel: fix-callers-target on a non-managed frame")
	}
	callerCode := frame.LookupCode()
	targetFunction := callerCode.GetStaticCallTargetFunctionAt(frame.PC())
	targetCode := targetFunction.CurrentCode()
	rt.Patcher.PatchStaticCallAt(frame.PC(), targetCode.EntryPoint())
	callerCode.SetStaticCallTargetCodeAt(frame.PC(), targetCode)
	if flags.Current.TracePatching {
		log.Info("FixCallersTarget: patching from %#x to '%s' %#x",
			frame.PC(), targetFunction.QualifiedName(), targetCode.EntryPoint())
	}
	args.SetReturn(targetCode)
	return nil
}

func printCaller(iso *isolate.Isolate, msg string) {
	it := stack.NewManagedIterator(iso.Stack())
	topFrame := it.NextFrame()
	if topFrame == nil {
		return
	}
	if fn := topFrame.LookupFunction(); fn != nil {
		log.Info("failed: '%s' %s @ %#x", msg, fn.QualifiedName(), topFrame.PC())
	}
	callerFrame := it.NextFrame()
	if callerFrame == nil {
		return
	}
	code := callerFrame.LookupCode()
	if code == nil {
		return
	}
	mode := "unoptimized"
	if code.IsOptimized() {
		mode = "optimized"
	}
	log.Info("  -> caller: %s (%s)", code.Function().QualifiedName(), mode)
}

const lowInvocationCount = -100000000

// Optimizes a hot function, unless the debugger is active, the function has
// deoptimized too often, the name filter excludes it, or it is not
// optimizable. On success the usage counter is rewound so reoptimization
// only triggers after another reoptimization-threshold ticks.
// Arg0: function.
var EntryOptimizeInvokedFunction = DefineEntry("OptimizeInvokedFunction", 1, optimizeInvokedFunction)

func optimizeInvokedFunction(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	fn := args.ArgAt(0).(*object.Function)
	if iso.Debugger().IsActive() {
		// Breakpoints cannot be set in optimized code.
		fn.SetUsageCounter(0)
		return nil
	}
	if fn.DeoptimizationCounter() >= flags.Current.DeoptimizationCounterThreshold {
		if flags.Current.TraceFailedOptimizationAttempts {
			printCaller(iso, "too many deoptimizations")
		}
		fn.SetUsageCounter(lowInvocationCount)
		return nil
	}
	if flags.Current.OptimizationFilter != "" &&
		!strings.Contains(fn.QualifiedName(), flags.Current.OptimizationFilter) {
		fn.SetUsageCounter(lowInvocationCount)
		return nil
	}
	if !fn.IsOptimizable {
		if flags.Current.TraceFailedOptimizationAttempts {
			printCaller(iso, "not optimizable")
		}
		fn.SetUsageCounter(lowInvocationCount)
		return nil
	}
	if rt.Compiler == nil {
		return errors.NewCompilationError("no optimizing compiler")
	}
	if err := rt.Compiler.CompileOptimizedFunction(iso, fn); err != nil {
		return errors.PropagateError(err)
	}
	if !fn.HasOptimizedCode() {
		panic("kestrel: optimizing compile produced no optimized code")
	}
	fn.SetUsageCounter(fn.UsageCounter() - flags.Current.ReoptimizationCounterThreshold)
	return nil
}

// Called from the debug stub when code reaches a breakpoint at a static
// call: signal the debugger, then make sure the target is compiled so the
// stub can jump straight to its entry.
var EntryBreakpointStaticHandler = DefineEntry("BreakpointStaticHandler", 0, breakpointStaticHandler)

func breakpointStaticHandler(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	iso.Debugger().SignalBpReached()
	callerFrame := topManagedFrame(iso)
	code := callerFrame.LookupCode()
	fn := code.GetStaticCallTargetFunctionAt(callerFrame.PC())
	if fn == nil {
		panic("kestrel: breakpoint site has no static target")
	}
	if err := rt.compileIfNeeded(iso, fn); err != nil {
		return err
	}
	args.SetReturn(fn.CurrentCode())
	return nil
}

// Called from the debug stub at a return breakpoint.
var EntryBreakpointReturnHandler = DefineEntry("BreakpointReturnHandler", 0, breakpointReturnHandler)

func breakpointReturnHandler(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	iso.Debugger().SignalBpReached()
	return nil
}

// Called from the debug stub at a dynamic-call breakpoint.
var EntryBreakpointDynamicHandler = DefineEntry("BreakpointDynamicHandler", 0, breakpointDynamicHandler)

func breakpointDynamicHandler(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	iso.Debugger().SignalBpReached()
	return nil
}
