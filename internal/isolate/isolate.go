// Package isolate holds the per-execution-thread state every runtime entry
// receives: the object store, the simulated stack, interrupt bits and the
// deoptimizer's scratch buffers. One isolate is one cooperative thread; GC
// and debugger work happen only at safepoints inside runtime entries.
package isolate

import (
	"github.com/google/uuid"

	"kestrel/internal/object"
	"kestrel/internal/stack"
)

// Interrupt bits, in the priority order the stack-overflow entry services
// them.
const (
	StoreBufferInterrupt uintptr = 1 << iota
	MessageInterrupt
	ApiInterrupt
)

// GCKind selects which heap generation a collection covers.
type GCKind int

const (
	GCNew GCKind = iota
	GCOld
)

// Heap is the collector interface the runtime calls into.
type Heap interface {
	Collect(kind GCKind)
	AllocatedBytes() int64
}

// CountingHeap is the in-memory heap handle: Go owns the real memory, this
// tracks allocation volume and collection requests.
type CountingHeap struct {
	allocated   int64
	Collections [2]int
}

func (h *CountingHeap) Collect(kind GCKind)   { h.Collections[kind]++ }
func (h *CountingHeap) AllocatedBytes() int64 { return h.allocated }
func (h *CountingHeap) NoteAllocated(n int64) { h.allocated += n }

// Debugger is the debugger handle; the tiered compiler refuses to optimize
// while it is active.
type Debugger interface {
	IsActive() bool
	SignalBpReached()
	SignalIsolateInterrupted()
}

// NullDebugger is the inactive default.
type NullDebugger struct{}

func (NullDebugger) IsActive() bool            { return false }
func (NullDebugger) SignalBpReached()          {}
func (NullDebugger) SignalIsolateInterrupted() {}

// MessageHandler drains out-of-band messages at interrupt polls.
type MessageHandler interface {
	HandleOOBMessages()
}

// QueueMessageHandler counts drains; tests and the REPL inspect it.
type QueueMessageHandler struct {
	Drains int
}

func (m *QueueMessageHandler) HandleOOBMessages() { m.Drains++ }

// DeferredDouble is a pending boxed double produced during frame filling,
// materialized once GC is allowed again.
type DeferredDouble struct {
	Value float64
	Slot  *stack.Word
}

// DeferredInt64 is the int variant.
type DeferredInt64 struct {
	Value int64
	Slot  *stack.Word
}

// InterruptCallback is the embedder's API-interrupt hook; returning false
// requests an unwind.
type InterruptCallback func() bool

// Isolate is one managed execution thread and everything it owns.
type Isolate struct {
	ID uuid.UUID

	Store *object.ObjectStore

	stack *stack.Stack
	heap  Heap

	debugger       Debugger
	messageHandler MessageHandler

	topContext *object.Context

	interruptBits     uintptr
	savedStackLimit   int
	interruptCallback InterruptCallback

	// Deopt scratch buffers; live only between the copy-frame and
	// fill-frame phases.
	deoptCPURegisters []int64
	deoptFPURegisters []float64
	deoptFrameCopy    []stack.Word

	deferredDoubles []DeferredDouble
	deferredInt64s  []DeferredInt64
}

const defaultStackWords = 4096

func New() *Isolate {
	store := object.NewObjectStore()
	iso := &Isolate{
		ID:              uuid.New(),
		Store:           store,
		stack:           stack.NewStack(store.Registry, defaultStackWords),
		heap:            &CountingHeap{},
		debugger:        NullDebugger{},
		messageHandler:  &QueueMessageHandler{},
		savedStackLimit: defaultStackWords,
	}
	iso.topContext = store.EmptyContext
	return iso
}

func (iso *Isolate) Stack() *stack.Stack { return iso.stack }
func (iso *Isolate) Heap() Heap          { return iso.heap }
func (iso *Isolate) SetHeap(h Heap)      { iso.heap = h }

func (iso *Isolate) Debugger() Debugger        { return iso.debugger }
func (iso *Isolate) SetDebugger(d Debugger)    { iso.debugger = d }
func (iso *Isolate) MessageHandler() MessageHandler { return iso.messageHandler }
func (iso *Isolate) SetMessageHandler(m MessageHandler) { iso.messageHandler = m }

// TopContext is the context saved when generated code entered the runtime;
// closure allocation captures it.
func (iso *Isolate) TopContext() *object.Context       { return iso.topContext }
func (iso *Isolate) SetTopContext(c *object.Context)   { iso.topContext = c }

// ScheduleInterrupt sets interrupt bits; the stack-overflow entry polls
// them.
func (iso *Isolate) ScheduleInterrupt(bits uintptr) { iso.interruptBits |= bits }

// GetAndClearInterrupts atomically (single mutator) takes the pending bits.
func (iso *Isolate) GetAndClearInterrupts() uintptr {
	bits := iso.interruptBits
	iso.interruptBits = 0
	return bits
}

func (iso *Isolate) SavedStackLimit() int         { return iso.savedStackLimit }
func (iso *Isolate) SetSavedStackLimit(limit int) { iso.savedStackLimit = limit }

func (iso *Isolate) SetInterruptCallback(cb InterruptCallback) { iso.interruptCallback = cb }
func (iso *Isolate) InterruptCallback() InterruptCallback      { return iso.interruptCallback }

// Deopt scratch buffer plumbing. The deopt leaf entries own the protocol;
// the isolate only stores.

func (iso *Isolate) SetDeoptCPURegistersCopy(regs []int64)   { iso.deoptCPURegisters = regs }
func (iso *Isolate) DeoptCPURegistersCopy() []int64          { return iso.deoptCPURegisters }
func (iso *Isolate) SetDeoptFPURegistersCopy(regs []float64) { iso.deoptFPURegisters = regs }
func (iso *Isolate) DeoptFPURegistersCopy() []float64        { return iso.deoptFPURegisters }
func (iso *Isolate) SetDeoptFrameCopy(words []stack.Word)    { iso.deoptFrameCopy = words }
func (iso *Isolate) DeoptFrameCopy() []stack.Word            { return iso.deoptFrameCopy }

func (iso *Isolate) DeferDouble(d DeferredDouble) { iso.deferredDoubles = append(iso.deferredDoubles, d) }
func (iso *Isolate) DeferInt64(d DeferredInt64)   { iso.deferredInt64s = append(iso.deferredInt64s, d) }

// DetachDeferredDoubles hands the queue to the materialization phase.
func (iso *Isolate) DetachDeferredDoubles() []DeferredDouble {
	q := iso.deferredDoubles
	iso.deferredDoubles = nil
	return q
}

func (iso *Isolate) DetachDeferredInt64s() []DeferredInt64 {
	q := iso.deferredInt64s
	iso.deferredInt64s = nil
	return q
}
