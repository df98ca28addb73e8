// Package runtime implements the entries compiled code calls when it cannot
// handle a situation inline: allocation, type checks, call dispatch with
// inline caches, tiered-compilation control and the interrupt poll.
package runtime

import (
	"fmt"

	"github.com/xelabs/go-mysqlstack/xlog"

	"kestrel/internal/errors"
	"kestrel/internal/flags"
	"kestrel/internal/isolate"
	"kestrel/internal/object"
	"kestrel/internal/patcher"
)

var log = xlog.NewStdLog(xlog.Level(xlog.INFO))

// Arguments is the runtime-arguments structure of the entry ABI. Entries
// read operands with ArgAt and publish the result with SetReturn; the stub
// installs the result when the entry returns.
type Arguments struct {
	args []object.Value
	ret  object.Value
}

func (a *Arguments) ArgCount() int             { return len(a.args) }
func (a *Arguments) ArgAt(i int) object.Value  { return a.args[i] }
func (a *Arguments) SetReturn(v object.Value)  { a.ret = v }
func (a *Arguments) Return() object.Value      { return a.ret }

// EntryFunc is the body of one full runtime entry. Full entries may
// allocate, trigger GC and throw; failures come back as errors and unwind
// through PropagateError.
type EntryFunc func(rt *Runtime, iso *isolate.Isolate, args *Arguments) error

// Entry is a runtime-entry descriptor; the declared argument count is
// asserted against every call site.
type Entry struct {
	Name          string
	ArgumentCount int
	fn            EntryFunc
}

func DefineEntry(name string, argumentCount int, fn EntryFunc) *Entry {
	return &Entry{Name: name, ArgumentCount: argumentCount, fn: fn}
}

// Compiler is the frontend the runtime drives for first-use and optimizing
// compilation.
type Compiler interface {
	CompileFunction(iso *isolate.Isolate, fn *object.Function) error
	CompileOptimizedFunction(iso *isolate.Isolate, fn *object.Function) error
}

// Runtime bundles the per-isolate collaborators the entries need.
type Runtime struct {
	Patcher  patcher.CodePatcher
	Stubs    *patcher.StubCode
	Compiler Compiler
}

func New(iso *isolate.Isolate, compiler Compiler) *Runtime {
	return &Runtime{
		Patcher:  patcher.NewSlotPatcher(iso.Store.Registry),
		Stubs:    patcher.NewStubCode(iso.Store.Registry),
		Compiler: compiler,
	}
}

// Call invokes a runtime entry with the declared number of arguments and
// returns the value the entry set.
func (rt *Runtime) Call(e *Entry, iso *isolate.Isolate, argv ...object.Value) (object.Value, error) {
	if len(argv) != e.ArgumentCount {
		panic(fmt.Sprintf("kestrel: entry %s declared %d arguments, called with %d",
			e.Name, e.ArgumentCount, len(argv)))
	}
	if flags.Current.TraceRuntimeCalls {
		log.Info("runtime call %s(%d args)", e.Name, len(argv))
	}
	args := &Arguments{args: argv}
	if err := e.fn(rt, iso, args); err != nil {
		return nil, errors.PropagateError(err)
	}
	return args.ret, nil
}

// compileIfNeeded drives the frontend for functions without code.
func (rt *Runtime) compileIfNeeded(iso *isolate.Isolate, fn *object.Function) error {
	if fn.HasCode() {
		return nil
	}
	if rt.Compiler == nil {
		return errors.NewCompilationError(fmt.Sprintf("no compiler for '%s'", fn.QualifiedName()))
	}
	if err := rt.Compiler.CompileFunction(iso, fn); err != nil {
		return errors.PropagateError(err)
	}
	return nil
}

// callerFrameLocation returns the token position of the managed caller, or
// -1 when the caller PC has no descriptor.
func callerFrameLocation(iso *isolate.Isolate) int {
	frame := topManagedFrame(iso)
	return frame.TokenPos()
}
