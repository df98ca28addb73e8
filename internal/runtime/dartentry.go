package runtime

import (
	"kestrel/internal/errors"
	"kestrel/internal/isolate"
	"kestrel/internal/object"
)

// InvokeStatic compiles the function on first use and runs its code.
func (rt *Runtime) InvokeStatic(iso *isolate.Isolate, fn *object.Function, args []object.Value) (object.Value, error) {
	if err := rt.compileIfNeeded(iso, fn); err != nil {
		return nil, err
	}
	return fn.CurrentCode().Invoke(args)
}

// InvokeDynamic runs an instance function with the receiver as hidden first
// argument.
func (rt *Runtime) InvokeDynamic(iso *isolate.Isolate, receiver object.Value, fn *object.Function, args []object.Value) (object.Value, error) {
	if err := rt.compileIfNeeded(iso, fn); err != nil {
		return nil, err
	}
	invokeArgs := make([]object.Value, 0, len(args)+1)
	invokeArgs = append(invokeArgs, receiver)
	invokeArgs = append(invokeArgs, args...)
	return fn.CurrentCode().Invoke(invokeArgs)
}

// checkResultError rethrows an unhandled exception a nested invoke
// produced.
func checkResultError(err error) error {
	if err != nil {
		return errors.PropagateError(err)
	}
	return nil
}
