// Command kestrel starts one isolate with a small demo program and offers
// an inspection REPL over its runtime state: inline caches, code objects,
// flags, interrupts and deoptimization.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dc0d/onexit"
	"github.com/docker/go-units"

	"kestrel/internal/deopt"
	"kestrel/internal/flags"
	"kestrel/internal/isolate"
	"kestrel/internal/object"
	"kestrel/internal/runtime"
)

const prompt = "\033[32mkestrel>\033[0m "

func main() {
	settingsFile := flag.String("settings", "", "JSON settings file overlaying the flag defaults")
	watchSettings := flag.Bool("watch", false, "reload the settings file when it changes")
	flags.Register(flag.CommandLine)
	flag.Parse()

	if *settingsFile != "" {
		if err := flags.LoadFile(*settingsFile); err != nil {
			fmt.Fprintf(os.Stderr, "settings: %v\n", err)
			os.Exit(1)
		}
		if *watchSettings {
			stop, err := flags.Watch(*settingsFile, func(err error) {
				if err != nil {
					fmt.Fprintf(os.Stderr, "settings reload: %v\n", err)
				} else {
					fmt.Println("settings reloaded")
				}
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "settings watch: %v\n", err)
				os.Exit(1)
			}
			onexit.Register(stop)
		}
	}

	iso := isolate.New()
	rt := runtime.New(iso, &demoCompiler{})
	world := buildDemoWorld(iso)

	isolate.Enter(iso, func() {
		repl(iso, rt, world)
	})
}

func repl(iso *isolate.Isolate, rt *runtime.Runtime, world *demoWorld) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       ".kestrel-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	fmt.Printf("isolate %s ready; type 'help'\n", iso.ID)
	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			return
		} else if err != nil {
			panic(err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "help":
			fmt.Print(helpText)
		case "exit", "quit":
			return
		case "flags":
			raw, _ := json.MarshalIndent(flags.Current, "", "  ")
			fmt.Println(string(raw))
		case "isolate":
			fmt.Printf("id:     %s\n", iso.ID)
			fmt.Printf("stack:  %d frames, extent %d words\n", iso.Stack().Depth(), iso.Stack().Extent())
			fmt.Printf("heap:   %s allocated\n", units.BytesSize(float64(iso.Heap().AllocatedBytes())))
		case "codes":
			iso.Store.Registry.Each(func(c *object.Code) bool {
				fmt.Printf("%#x  %-24s %s  alive=%v\n", c.EntryPoint(), c.Name(),
					units.BytesSize(float64(c.Size()*object.InstrSlotSize)), c.IsAlive())
				return true
			})
		case "warmup":
			world.runICWarmup(iso, rt)
		case "ic":
			world.printIC()
		case "deopt":
			world.runDeoptDemo(iso, rt)
		case "interrupt":
			if len(fields) < 2 {
				fmt.Println("usage: interrupt <gc|msg|api>")
				continue
			}
			runInterrupt(iso, rt, fields[1])
		case "overflow":
			saved := iso.SavedStackLimit()
			iso.SetSavedStackLimit(iso.Stack().Extent() - 1)
			_, err := rt.Call(runtime.EntryStackOverflow, iso)
			iso.SetSavedStackLimit(saved)
			fmt.Printf("-> %v\n", err)
		default:
			fmt.Printf("unknown command %q; type 'help'\n", fields[0])
		}
	}
}

const helpText = `commands:
  flags             show the current flag values
  isolate           show isolate id, stack and heap stats
  codes             list registered code objects
  warmup            run the inline-cache warm-up demo
  ic                show the demo call site's inline cache
  deopt             run the deoptimization round-trip demo
  interrupt <kind>  schedule gc|msg|api interrupt and poll it
  overflow          force a stack overflow through the runtime entry
  exit
`

func runInterrupt(iso *isolate.Isolate, rt *runtime.Runtime, kind string) {
	switch kind {
	case "gc":
		iso.ScheduleInterrupt(isolate.StoreBufferInterrupt)
	case "msg":
		iso.ScheduleInterrupt(isolate.MessageInterrupt)
	case "api":
		iso.ScheduleInterrupt(isolate.ApiInterrupt)
	default:
		fmt.Println("usage: interrupt <gc|msg|api>")
		return
	}
	if _, err := rt.Call(runtime.EntryStackOverflow, iso); err != nil {
		fmt.Printf("-> %v\n", err)
		return
	}
	fmt.Println("-> interrupt serviced")
}

// demoCompiler attaches trivial code artifacts so the tiered-compilation
// paths have something to compile.
type demoCompiler struct{}

func (demoCompiler) CompileFunction(iso *isolate.Isolate, fn *object.Function) error {
	code := object.NewCode(4, false)
	iso.Store.Registry.Register(code)
	code.SetInvoke(func(args []object.Value) (object.Value, error) {
		return args[len(args)-1], nil
	})
	fn.AttachCode(code)
	return nil
}

func (demoCompiler) CompileOptimizedFunction(iso *isolate.Isolate, fn *object.Function) error {
	code := object.NewCode(4, true)
	iso.Store.Registry.Register(code)
	fn.AttachCode(code)
	return nil
}

// demoWorld is the small program the REPL pokes at: a caller with one
// instance-call site dispatching 'shift' over int and double receivers.
type demoWorld struct {
	callerCode *object.Code
	callSite   uintptr
	icData     *object.ICData
	target     *object.Function
}

func buildDemoWorld(iso *isolate.Isolate) *demoWorld {
	store := iso.Store
	shiftName := object.NewSymbol("shift")
	shift := object.NewFunction(shiftName, object.RegularFunction,
		[]object.Symbol{object.NewSymbol("this")}, 0)
	store.ObjectClass.AddDynamicFunction(shift)

	caller := object.NewCode(4, false)
	store.Registry.Register(caller)
	ic := object.NewICData(shiftName, 1)
	site := caller.CallSiteAt(caller.PCForSlot(1))
	site.Kind = object.SlotInstanceCall
	site.Name = shiftName
	site.ArgCount = 1
	site.ICData = ic

	return &demoWorld{
		callerCode: caller,
		callSite:   caller.PCForSlot(1),
		icData:     ic,
		target:     shift,
	}
}

func (w *demoWorld) runICWarmup(iso *isolate.Isolate, rt *runtime.Runtime) {
	iso.Stack().PushManagedFrame(w.callerCode, 1, nil, nil)
	defer iso.Stack().PopFrame()
	for _, receiver := range []object.Value{object.Smi(1), object.Smi(1), &object.Double{Value: 1.5}} {
		cid := iso.Store.ClassIDOf(receiver)
		if w.icData.Lookup([]object.ClassID{cid}) != nil {
			fmt.Printf("  %-8s -> inline cache hit\n", object.ToString(receiver))
			continue
		}
		fn, err := rt.Call(runtime.EntryInlineCacheMissHandlerOneArg, iso, receiver)
		if err != nil {
			fmt.Printf("  %v\n", err)
			return
		}
		fmt.Printf("  %-8s -> miss, resolved %s\n", object.ToString(receiver),
			object.ToString(fn))
	}
	w.printIC()
}

func (w *demoWorld) printIC() {
	fmt.Printf("ic '%s', %d args tested, %d checks:\n",
		w.icData.TargetName, w.icData.NumArgsTested, w.icData.NumberOfChecks())
	for i := 0; i < w.icData.NumberOfChecks(); i++ {
		chk := w.icData.GetCheck(i)
		fmt.Printf("  %v -> %s\n", chk.ClassIDs, chk.Target.QualifiedName())
	}
}

func (w *demoWorld) runDeoptDemo(iso *isolate.Isolate, rt *runtime.Runtime) {
	fname := object.NewSymbol("hot")
	fn := object.NewFunction(fname, object.RegularFunction,
		[]object.Symbol{object.NewSymbol("a"), object.NewSymbol("b")}, 0)

	unopt := object.NewCode(8, false)
	iso.Store.Registry.Register(unopt)
	fn.AttachCode(unopt)

	opt := object.NewCode(8, true)
	iso.Store.Registry.Register(opt)
	info := &deopt.Info{Instrs: []deopt.Instr{
		{Kind: deopt.KindRetAddress, Arg: 2},
		{Kind: deopt.KindFpuRegister, Arg: 0},
		{Kind: deopt.KindPcMarker},
		{Kind: deopt.KindCallerFP},
		{Kind: deopt.KindCallerPC},
		{Kind: deopt.KindStackSlot, Arg: 4},
		{Kind: deopt.KindStackSlot, Arg: 5},
	}}
	opt.AddDeoptEntry(deopt.NewTableEntry(3, info, deopt.ReasonBinaryDoubleOp))
	fn.AttachCode(opt)

	iso.Stack().PushManagedFrame(unopt, 0, nil, nil)
	frame := iso.Stack().PushManagedFrame(opt, 3, []object.Value{object.Smi(7)},
		[]object.Value{object.Smi(10), object.Smi(20)})

	saved := &deopt.SavedRegisters{LastFP: frame.FP()}
	saved.FPU[0] = 2.75
	size := deopt.DeoptimizeCopyFrame(iso, saved)
	fmt.Printf("phase 1: unoptimized frame needs %s\n", units.BytesSize(float64(size)))
	callerFP := deopt.DeoptimizeFillFrame(iso, frame.FP())
	fmt.Printf("phase 2: caller fp %d\n", callerFP)
	deopt.DeoptimizeMaterializeDoubles(iso)
	top := iso.Stack().TopFrame()
	fmt.Printf("phase 3: resumed at %#x in %s, local = %s\n",
		top.PC(), top.LookupCode().Name(), object.ToString(top.WordAt(top.SP())))
	iso.Stack().PopFrame()
	iso.Stack().PopFrame()
}
