package deopt

import (
	"fmt"

	"github.com/xelabs/go-mysqlstack/xlog"

	"kestrel/internal/flags"
	"kestrel/internal/isolate"
	"kestrel/internal/object"
	"kestrel/internal/patcher"
	"kestrel/internal/stack"
)

var log = xlog.NewStdLog(xlog.Level(xlog.INFO))

// Machine constants of the simulated register file.
const (
	NumberOfCPURegisters = 16
	NumberOfFPURegisters = 16
	WordSize             = 8
)

// SavedRegisters is the register save area the deopt stub builds below the
// frame being deoptimized. LastFP is the frame pointer reached by stepping
// past the save area.
type SavedRegisters struct {
	CPU    [NumberOfCPURegisters]int64
	FPU    [NumberOfFPURegisters]float64
	LastFP int
}

// Env carries the patching collaborators lazy deoptimization needs.
type Env struct {
	Patcher patcher.CodePatcher
	Stubs   *patcher.StubCode
}

// numIncomingArgs is 0 when the function has optional parameters; those are
// materialized inside the frame at entry and the deopt info describes them.
func numIncomingArgs(fn *object.Function) int {
	if fn.HasOptionalParameters() {
		return 0
	}
	return fn.NumFixedParameters()
}

// DeoptimizeCopyFrame is phase 1, a leaf entry: no managed allocation may
// happen here. It snapshots the saved registers and the optimized frame
// into isolate-owned scratch buffers and returns the byte size of the
// unoptimized frame the stub must make room for.
func DeoptimizeCopyFrame(iso *isolate.Isolate, saved *SavedRegisters) int {
	cpuCopy := make([]int64, NumberOfCPURegisters)
	copy(cpuCopy, saved.CPU[:])
	iso.SetDeoptCPURegistersCopy(cpuCopy)
	fpuCopy := make([]float64, NumberOfFPURegisters)
	copy(fpuCopy, saved.FPU[:])
	iso.SetDeoptFPURegistersCopy(fpuCopy)

	it := stack.NewManagedIteratorFromFP(iso.Stack(), saved.LastFP)
	callerFrame := it.NextFrame()
	if callerFrame == nil {
		panic("kestrel: deopt copy-frame entry has no caller frame")
	}
	optimizedCode := callerFrame.LookupCode()
	if optimizedCode == nil || !optimizedCode.IsOptimized() {
		panic("kestrel: deopt of a frame without optimized code")
	}

	info, reason := GetDeoptInfoAtPC(optimizedCode, callerFrame.PC())
	if info == nil {
		panic(fmt.Sprintf("kestrel: no deopt info at pc %#x", callerFrame.PC()))
	}

	fn := optimizedCode.Function()
	numArgs := numIncomingArgs(fn)
	// Snapshot the deoptimized function's return address, the slots between
	// SP and FP, the PC marker, the caller return address and the incoming
	// fixed arguments.
	copySize := 1 + (callerFrame.FP() - callerFrame.SP()) + 1 + 1 + numArgs
	frameCopy := make([]stack.Word, copySize)
	base := callerFrame.SP() - 1
	for i := 0; i < copySize; i++ {
		frameCopy[i] = callerFrame.WordAt(base + i)
	}
	iso.SetDeoptFrameCopy(frameCopy)

	if flags.Current.TraceDeoptimization {
		log.Info("deoptimizing (reason %d '%s') at pc %#x '%s' (count %d)",
			int(reason), reason, callerFrame.PC(), fn.QualifiedName(),
			fn.DeoptimizationCounter())
	}

	unoptimizedStackSize := info.TranslationLength() - numArgs - 2
	return unoptimizedStackSize * WordSize
}

// deoptContext is the phase-2 working state.
type deoptContext struct {
	iso       *isolate.Isolate
	frame     *stack.Frame
	optCode   *object.Code
	unoptCode *object.Code
	frameCopy []stack.Word
	cpu       []int64
	fpu       []float64
	numArgs   int
	newSP     int
	newFP     int
	callerFP  int
}

// wordIndex maps a translation slot to its stack word index; the caller-FP
// slot lives only in the frame linkage and returns -1.
func (ctx *deoptContext) wordIndex(i, translationLen int) int {
	k := translationLen - ctx.numArgs - 2
	switch {
	case i == 0:
		return ctx.newSP - 1
	case i < k-1:
		return ctx.newSP + (i - 1)
	case i == k-1:
		return ctx.newFP
	case i == k:
		return -1 // caller FP
	case i == k+1:
		return ctx.newFP + 1
	default:
		return ctx.newFP + 2 + (i - k - 2)
	}
}

func (ctx *deoptContext) execute(in Instr, i, translationLen int) {
	idx := ctx.wordIndex(i, translationLen)
	var w stack.Word
	switch in.Kind {
	case KindStackSlot:
		w = ctx.frameCopy[in.Arg]
	case KindRegister:
		w = object.Smi(ctx.cpu[in.Arg])
	case KindFpuRegister:
		// No managed allocation in this phase; box later.
		if idx < 0 {
			panic("kestrel: fpu register targets the caller-fp slot")
		}
		ctx.iso.Stack().SetWordAt(idx, nil)
		ctx.iso.DeferDouble(isolate.DeferredDouble{
			Value: ctx.fpu[in.Arg],
			Slot:  ctx.iso.Stack().WordSlot(idx),
		})
		return
	case KindInt64Register:
		v := ctx.cpu[in.Arg]
		if smiFits(v) {
			w = object.Smi(v)
		} else {
			if idx < 0 {
				panic("kestrel: int64 register targets the caller-fp slot")
			}
			ctx.iso.Stack().SetWordAt(idx, nil)
			ctx.iso.DeferInt64(isolate.DeferredInt64{
				Value: v,
				Slot:  ctx.iso.Stack().WordSlot(idx),
			})
			return
		}
	case KindConstant:
		w = ctx.optCode.ObjectAt(in.Arg)
	case KindRetAddress:
		w = ctx.unoptCode.PCForSlot(in.Arg)
	case KindPcMarker:
		w = ctx.unoptCode
	case KindCallerFP:
		ctx.callerFP = ctx.oldCallerFP()
		return
	case KindCallerPC:
		// The caller return address follows the return address, the fp-sp
		// locals and the PC marker in the copy taken from SP-1.
		w = ctx.frameCopy[ctx.frame.FP()-ctx.frame.SP()+2]
	default:
		panic(fmt.Sprintf("kestrel: unknown deopt instruction kind %d", in.Kind))
	}
	if idx < 0 {
		// Caller-FP slot written by a copy instruction.
		fp, ok := w.(uintptr)
		if ok {
			ctx.callerFP = int(fp)
		}
		return
	}
	ctx.iso.Stack().SetWordAt(idx, w)
}

func (ctx *deoptContext) oldCallerFP() int {
	below := ctx.iso.Stack().FrameBelow(ctx.frame)
	if below == nil {
		return 0
	}
	return below.FP()
}

// 63-bit tagged small integers.
func smiFits(v int64) bool {
	return v >= -(1<<62) && v < (1<<62)
}

// DeoptimizeFillFrame is phase 2, a leaf entry. The stub has resized the
// stack; this executes the deopt instructions in reverse index order,
// rewriting the frame in place, then frees the scratch buffers and returns
// the reconstructed caller FP.
func DeoptimizeFillFrame(iso *isolate.Isolate, lastFP int) int {
	it := stack.NewManagedIteratorFromFP(iso.Stack(), lastFP)
	callerFrame := it.NextFrame()
	if callerFrame == nil {
		panic("kestrel: deopt fill-frame entry has no caller frame")
	}
	optimizedCode := callerFrame.LookupCode()
	if optimizedCode == nil || !optimizedCode.IsOptimized() {
		panic("kestrel: fill-frame on a frame without optimized code")
	}
	fn := optimizedCode.Function()
	unoptimizedCode := fn.UnoptimizedCode()
	if unoptimizedCode == nil || unoptimizedCode.IsOptimized() {
		panic("kestrel: fill-frame without unoptimized fallback code")
	}

	info, _ := GetDeoptInfoAtPC(optimizedCode, callerFrame.PC())
	if info == nil {
		panic(fmt.Sprintf("kestrel: no deopt info at pc %#x", callerFrame.PC()))
	}

	translationLen := info.TranslationLength()
	numArgs := numIncomingArgs(fn)
	k := translationLen - numArgs - 2

	ctx := &deoptContext{
		iso:       iso,
		frame:     callerFrame,
		optCode:   optimizedCode,
		unoptCode: unoptimizedCode,
		frameCopy: iso.DeoptFrameCopy(),
		cpu:       iso.DeoptCPURegistersCopy(),
		fpu:       iso.DeoptFPURegistersCopy(),
		numArgs:   numArgs,
		newFP:     callerFrame.FP(),
		newSP:     callerFrame.FP() - (k - 2),
	}
	if ctx.newSP < 1 {
		panic("kestrel: unoptimized frame underflows the stack")
	}
	iso.Stack().EnsureCapacity(ctx.newFP + 2 + numArgs + 1)

	for i := translationLen - 1; i >= 0; i-- {
		ctx.execute(info.Instrs[i], i, translationLen)
	}

	if flags.Current.TraceDeoptimizationVerbose {
		for i := 0; i < translationLen; i++ {
			idx := ctx.wordIndex(i, translationLen)
			var w stack.Word
			if idx >= 0 {
				w = iso.Stack().WordAt(idx)
			} else {
				w = uintptr(ctx.callerFP)
			}
			log.Info("*%d. [%d] %s [%s]", i, idx, object.ToString(w), info.Instrs[i])
		}
	}

	resume, ok := iso.Stack().WordAt(ctx.newSP - 1).(uintptr)
	if !ok || resume == 0 {
		panic("kestrel: deopt info produced no resume address")
	}
	iso.Stack().RebuildFrame(callerFrame, resume, ctx.newSP, ctx.newFP, numArgs)
	fn.IncrementDeoptimizationCounter()

	iso.SetDeoptFrameCopy(nil)
	iso.SetDeoptCPURegistersCopy(nil)
	iso.SetDeoptFPURegistersCopy(nil)

	return ctx.callerFP
}

// DeoptimizeMaterializeDoubles is phase 3, the first point where GC may run
// again: it drains both deferred-box queues, heap-allocating the boxed
// values into their recorded slots.
func DeoptimizeMaterializeDoubles(iso *isolate.Isolate) {
	for _, d := range iso.DetachDeferredDoubles() {
		*d.Slot = &object.Double{Value: d.Value}
		if flags.Current.TraceDeoptimizationVerbose {
			log.Info("materializing double: %g", d.Value)
		}
	}
	for _, d := range iso.DetachDeferredInt64s() {
		if smiFits(d.Value) {
			panic("kestrel: deferred int64 fits a Smi")
		}
		*d.Slot = &object.Int64{Value: d.Value}
		if flags.Current.TraceDeoptimizationVerbose {
			log.Info("materializing int64: %d", d.Value)
		}
	}
	if flags.Current.TraceDeoptimization {
		frame := stack.TopManagedFrame(iso.Stack())
		code := frame.LookupCode()
		if code != nil && code.Function() != nil {
			log.Info("  function: %s, token %d", code.Function().QualifiedName(),
				frame.TokenPos())
		}
	}
}

// DeoptimizeAt schedules lazy deoptimization of one optimized frame: the
// owning function falls back to unoptimized code, the return path is
// patched to the lazy-deopt stub, and the code is marked dead so GC may
// release its embedded objects.
func DeoptimizeAt(iso *isolate.Isolate, env Env, optimizedCode *object.Code, pc uintptr) {
	info, _ := GetDeoptInfoAtPC(optimizedCode, pc)
	if info == nil {
		panic(fmt.Sprintf("kestrel: lazy deopt at pc %#x without deopt info", pc))
	}
	fn := optimizedCode.Function()
	if fn.UnoptimizedCode() == nil {
		panic("kestrel: lazy deopt without unoptimized fallback")
	}
	// The switch to unoptimized code may have already occurred.
	if fn.HasOptimizedCode() {
		fn.SwitchToUnoptimizedCode()
	}
	env.Patcher.InsertCallAt(pc, env.Stubs.LazyDeoptEntry)
	optimizedCode.SetIsAlive(false)
}

// DeoptimizeAll marks every optimized frame on the stack for lazy
// deoptimization.
func DeoptimizeAll(iso *isolate.Isolate, env Env) {
	it := stack.NewManagedIterator(iso.Stack())
	for frame := it.NextFrame(); frame != nil; frame = it.NextFrame() {
		code := frame.LookupCode()
		if code != nil && code.IsOptimized() && code.IsAlive() {
			DeoptimizeAt(iso, env, code, frame.PC())
		}
	}
}

// DeoptimizeIfOwner marks optimized frames whose function's owning class is
// in classes.
func DeoptimizeIfOwner(iso *isolate.Isolate, env Env, classes []object.ClassID) {
	it := stack.NewManagedIterator(iso.Stack())
	for frame := it.NextFrame(); frame != nil; frame = it.NextFrame() {
		code := frame.LookupCode()
		if code == nil || !code.IsOptimized() || !code.IsAlive() {
			continue
		}
		owner := code.Function().Owner
		if owner == nil {
			continue
		}
		for _, cid := range classes {
			if owner.ID == cid {
				DeoptimizeAt(iso, env, code, frame.PC())
				break
			}
		}
	}
}
