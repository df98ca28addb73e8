package isolate

import "github.com/jtolds/gls"

var mgr = gls.NewContextManager()

const currentKey = "kestrel.isolate"

// Enter binds iso as the goroutine's current isolate for the duration of fn.
// Entries receive the isolate explicitly; Enter serves the stubs and the
// REPL, which only know "the current isolate".
func Enter(iso *Isolate, fn func()) {
	mgr.SetValues(gls.Values{currentKey: iso}, fn)
}

// Go spawns a goroutine that inherits the current isolate binding.
func Go(fn func()) {
	gls.Go(fn)
}

// Current returns the goroutine's isolate, or nil outside Enter.
func Current() *Isolate {
	v, ok := mgr.GetValue(currentKey)
	if !ok {
		return nil
	}
	return v.(*Isolate)
}
