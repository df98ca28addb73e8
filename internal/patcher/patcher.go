// Package patcher reads and writes call-site metadata in the simulated
// instruction stream. All patching runs on the isolate's single mutator
// thread and writes one aligned instruction slot at a time, so concurrent
// executors of the patched code observe either the old or the new target.
package patcher

import (
	"fmt"

	"github.com/xelabs/go-mysqlstack/xlog"

	"kestrel/internal/flags"
	"kestrel/internal/object"
)

var log = xlog.NewStdLog(xlog.Level(xlog.INFO))

// CodePatcher is the instruction-stream interface the runtime entries use.
type CodePatcher interface {
	GetStaticCallTargetAt(pc uintptr) uintptr
	PatchStaticCallAt(pc uintptr, newTarget uintptr)
	GetInstanceCallAt(pc uintptr) (name object.Symbol, argCount, namedArgCount int, target uintptr)
	GetInstanceCallICDataAt(pc uintptr) *object.ICData
	SetInstanceCallICDataAt(pc uintptr, ic *object.ICData)
	InsertCallAt(pc uintptr, target uintptr)
}

// SlotPatcher patches instruction slots resolved through the code registry.
type SlotPatcher struct {
	registry *object.CodeRegistry
}

func NewSlotPatcher(registry *object.CodeRegistry) *SlotPatcher {
	return &SlotPatcher{registry: registry}
}

func (p *SlotPatcher) siteAt(pc uintptr) *object.CallSite {
	code := p.registry.LookupCode(pc)
	if code == nil {
		panic(fmt.Sprintf("kestrel: patch target pc %#x is not inside any code", pc))
	}
	return code.CallSiteAt(pc)
}

func (p *SlotPatcher) GetStaticCallTargetAt(pc uintptr) uintptr {
	site := p.siteAt(pc)
	if site.Kind != object.SlotStaticCall {
		panic(fmt.Sprintf("kestrel: pc %#x is not a static call site", pc))
	}
	return site.Target
}

// PatchStaticCallAt redirects a static call site. Re-patching to the
// identical target is a caller bug.
func (p *SlotPatcher) PatchStaticCallAt(pc uintptr, newTarget uintptr) {
	site := p.siteAt(pc)
	if site.Kind != object.SlotStaticCall {
		panic(fmt.Sprintf("kestrel: pc %#x is not a static call site", pc))
	}
	if site.Target == newTarget {
		panic(fmt.Sprintf("kestrel: repeated patch of pc %#x to %#x", pc, newTarget))
	}
	if flags.Current.TracePatching {
		log.Info("patch static call at %#x: %#x -> %#x", pc, site.Target, newTarget)
	}
	site.Target = newTarget
}

func (p *SlotPatcher) GetInstanceCallAt(pc uintptr) (object.Symbol, int, int, uintptr) {
	site := p.siteAt(pc)
	if site.Kind != object.SlotInstanceCall {
		panic(fmt.Sprintf("kestrel: pc %#x is not an instance call site", pc))
	}
	return site.Name, site.ArgCount, site.NamedArgCount, site.Target
}

func (p *SlotPatcher) GetInstanceCallICDataAt(pc uintptr) *object.ICData {
	site := p.siteAt(pc)
	if site.Kind != object.SlotInstanceCall {
		panic(fmt.Sprintf("kestrel: pc %#x is not an instance call site", pc))
	}
	return site.ICData
}

func (p *SlotPatcher) SetInstanceCallICDataAt(pc uintptr, ic *object.ICData) {
	site := p.siteAt(pc)
	if site.Kind != object.SlotInstanceCall {
		panic(fmt.Sprintf("kestrel: pc %#x is not an instance call site", pc))
	}
	if flags.Current.TracePatching {
		log.Info("set ic data at %#x: '%s'", pc, ic.TargetName)
	}
	site.ICData = ic
}

// InsertCallAt splices a call into a previously non-call slot; lazy
// deoptimization uses this to hijack the return path of an optimized frame.
// Re-inserting over an existing call to the same target is tolerated, a
// frame may be marked for lazy deopt more than once.
func (p *SlotPatcher) InsertCallAt(pc uintptr, target uintptr) {
	site := p.siteAt(pc)
	if flags.Current.TracePatching {
		log.Info("insert call at %#x -> %#x", pc, target)
	}
	site.Kind = object.SlotStaticCall
	site.Target = target
}
