package runtime

import (
	"testing"

	"kestrel/internal/flags"
	"kestrel/internal/isolate"
	"kestrel/internal/object"
)

// testCompiler builds minimal code artifacts; per-function behavior comes
// from the thunks table.
type testCompiler struct {
	thunks    map[*object.Function]object.InvokeThunk
	compiled  []*object.Function
	optimized []*object.Function
	failWith  error
}

func newTestCompiler() *testCompiler {
	return &testCompiler{thunks: make(map[*object.Function]object.InvokeThunk)}
}

func (c *testCompiler) CompileFunction(iso *isolate.Isolate, fn *object.Function) error {
	if c.failWith != nil {
		return c.failWith
	}
	code := object.NewCode(8, false)
	iso.Store.Registry.Register(code)
	if thunk, ok := c.thunks[fn]; ok {
		code.SetInvoke(thunk)
	}
	fn.AttachCode(code)
	c.compiled = append(c.compiled, fn)
	return nil
}

func (c *testCompiler) CompileOptimizedFunction(iso *isolate.Isolate, fn *object.Function) error {
	if c.failWith != nil {
		return c.failWith
	}
	if !fn.HasCode() {
		if err := c.CompileFunction(iso, fn); err != nil {
			return err
		}
	}
	code := object.NewCode(8, true)
	iso.Store.Registry.Register(code)
	if thunk, ok := c.thunks[fn]; ok {
		code.SetInvoke(thunk)
	}
	fn.AttachCode(code)
	c.optimized = append(c.optimized, fn)
	return nil
}

type testEnv struct {
	iso      *isolate.Isolate
	rt       *Runtime
	compiler *testCompiler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	saved := flags.Current
	t.Cleanup(func() { flags.Current = saved })
	iso := isolate.New()
	compiler := newTestCompiler()
	return &testEnv{iso: iso, rt: New(iso, compiler), compiler: compiler}
}

// defineMethod installs an instance method on cls; paramNames excludes the
// receiver.
func (env *testEnv) defineMethod(cls *object.Class, name string, paramNames ...string) *object.Function {
	params := make([]object.Symbol, 0, len(paramNames)+1)
	params = append(params, object.NewSymbol("this"))
	for _, p := range paramNames {
		params = append(params, object.NewSymbol(p))
	}
	fn := object.NewFunction(object.NewSymbol(name), object.RegularFunction, params, 0)
	cls.AddDynamicFunction(fn)
	return fn
}

// pushInstanceCallSite lays out a caller frame whose PC sits on an
// instance-call slot with fresh IC data, the way compiled code enters an IC
// miss handler.
func (env *testEnv) pushInstanceCallSite(name string, argCount, namedCount, numArgsTested int) (*object.Code, *object.ICData) {
	caller := object.NewCode(8, false)
	env.iso.Store.Registry.Register(caller)
	ic := object.NewICData(object.NewSymbol(name), numArgsTested)
	site := caller.CallSiteAt(caller.PCForSlot(2))
	site.Kind = object.SlotInstanceCall
	site.Name = object.NewSymbol(name)
	site.ArgCount = argCount
	site.NamedArgCount = namedCount
	site.ICData = ic
	env.iso.Stack().PushManagedFrame(caller, 2, nil, nil)
	return caller, ic
}

// pushStaticCallSite lays out a caller frame on a static-call slot bound to
// the static-call stub, with the target recorded in the caller's table.
func (env *testEnv) pushStaticCallSite(target *object.Function) (*object.Code, uintptr) {
	caller := object.NewCode(8, false)
	env.iso.Store.Registry.Register(caller)
	pc := caller.PCForSlot(2)
	site := caller.CallSiteAt(pc)
	site.Kind = object.SlotStaticCall
	site.Target = env.rt.Stubs.CallStaticFunctionEntry
	caller.SetStaticCallTargetFunctionAt(pc, target)
	env.iso.Stack().PushManagedFrame(caller, 2, nil, nil)
	return caller, pc
}

// activeDebugger flips the debugger-active answer for one test.
type activeDebugger struct {
	isolate.NullDebugger
	signals int
}

func (d *activeDebugger) IsActive() bool   { return true }
func (d *activeDebugger) SignalBpReached() { d.signals++ }
