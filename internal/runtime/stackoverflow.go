package runtime

import (
	"kestrel/internal/deopt"
	"kestrel/internal/errors"
	"kestrel/internal/flags"
	"kestrel/internal/isolate"
)

// The stack-overflow entry doubles as the interrupt poll point. A genuine
// overflow takes priority over any pending interrupt and throws the
// preallocated exception without allocating.
var EntryStackOverflow = DefineEntry("StackOverflow", 0, stackOverflow)

func stackOverflow(rt *Runtime, iso *isolate.Isolate, args *Arguments) error {
	if iso.Stack().Extent() > iso.SavedStackLimit() {
		return errors.Throw(iso.Store.StackOverflow)
	}

	interruptBits := iso.GetAndClearInterrupts()
	if interruptBits&isolate.StoreBufferInterrupt != 0 {
		iso.Heap().Collect(isolate.GCNew)
	}
	if interruptBits&isolate.MessageInterrupt != 0 {
		iso.MessageHandler().HandleOOBMessages()
	}
	if interruptBits&isolate.ApiInterrupt != 0 {
		iso.Debugger().SignalIsolateInterrupted()
		if callback := iso.InterruptCallback(); callback != nil {
			if !callback() {
				// Unwinding the stack on a refused interrupt is not
				// implemented; report it rather than continue silently.
				return errors.NewInvariantError("unimplemented: stack unwind after api interrupt")
			}
		}
	}
	return nil
}

// DeoptimizeAlotIfNeeded runs the deoptimize_alot hook on every
// native-to-managed return.
func (rt *Runtime) DeoptimizeAlotIfNeeded(iso *isolate.Isolate) {
	if flags.Current.DeoptimizeAlot {
		deopt.DeoptimizeAll(iso, rt.DeoptEnv())
	}
}

// DeoptEnv exposes the patching collaborators to the deoptimizer.
func (rt *Runtime) DeoptEnv() deopt.Env {
	return deopt.Env{Patcher: rt.Patcher, Stubs: rt.Stubs}
}
