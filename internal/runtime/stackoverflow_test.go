package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kestrel/internal/errors"
	"kestrel/internal/isolate"
	"kestrel/internal/object"
)

// A genuine overflow throws the preallocated exception and takes priority
// over pending interrupts: messages are not drained.
func TestStackOverflowTakesPriorityOverInterrupts(t *testing.T) {
	env := newTestEnv(t)
	handler := &isolate.QueueMessageHandler{}
	env.iso.SetMessageHandler(handler)
	env.pushPlainFrame(0)
	defer env.iso.Stack().PopFrame()

	env.iso.SetSavedStackLimit(0)
	env.iso.ScheduleInterrupt(isolate.MessageInterrupt)

	_, err := env.rt.Call(EntryStackOverflow, env.iso)
	require.Error(t, err)
	re := err.(*errors.RuntimeError)
	require.Equal(t, errors.ThrownException, re.Kind)
	require.Equal(t, object.Value(env.iso.Store.StackOverflow), re.Exception,
		"the preallocated exception is thrown without allocating")
	require.Equal(t, 0, handler.Drains, "messages are not drained on overflow")
}

func TestInterruptPollServicesBitsInPriorityOrder(t *testing.T) {
	env := newTestEnv(t)
	heap := &isolate.CountingHeap{}
	env.iso.SetHeap(heap)
	handler := &isolate.QueueMessageHandler{}
	env.iso.SetMessageHandler(handler)

	env.iso.ScheduleInterrupt(isolate.StoreBufferInterrupt | isolate.MessageInterrupt)
	_, err := env.rt.Call(EntryStackOverflow, env.iso)
	require.NoError(t, err)
	require.Equal(t, 1, heap.Collections[isolate.GCNew], "store-buffer overflow requests a minor GC")
	require.Equal(t, 1, handler.Drains)
	require.Zero(t, env.iso.GetAndClearInterrupts(), "bits are consumed")
}

func TestApiInterruptCallback(t *testing.T) {
	env := newTestEnv(t)

	// Callback returning true continues execution.
	env.iso.SetInterruptCallback(func() bool { return true })
	env.iso.ScheduleInterrupt(isolate.ApiInterrupt)
	_, err := env.rt.Call(EntryStackOverflow, env.iso)
	require.NoError(t, err)

	// Callback returning false requests an unwind, which is reported as
	// unimplemented rather than silently ignored.
	env.iso.SetInterruptCallback(func() bool { return false })
	env.iso.ScheduleInterrupt(isolate.ApiInterrupt)
	_, err = env.rt.Call(EntryStackOverflow, env.iso)
	require.Error(t, err)
	require.Equal(t, errors.InvariantError, errors.Kind(err))
}
