package object

import "fmt"

// The simulated instruction stream gives every instruction slot one word of
// virtual address space.
const InstrSlotSize = 8

// PCDescriptorKind classifies what a PC within compiled code stands for.
type PCDescriptorKind int

const (
	DescOther PCDescriptorKind = iota
	DescIcCall
	DescPatchCode
	DescReturn
	DescDeoptBefore
	DescDeoptAfter
)

// PCDescriptor maps a PC offset to its source token position.
type PCDescriptor struct {
	PCOffset int
	TokenPos int
	Kind     PCDescriptorKind
}

// CallSiteKind tags the content of one instruction slot.
type CallSiteKind int

const (
	SlotPlain CallSiteKind = iota
	SlotStaticCall
	SlotInstanceCall
)

// CallSite is one patchable instruction slot. Static-call slots carry the
// currently bound target entry address; instance-call slots carry the
// call-site metadata the IC machinery reads and writes.
type CallSite struct {
	Kind          CallSiteKind
	Target        uintptr
	Name          Symbol
	ArgCount      int
	NamedArgCount int
	ICData        *ICData
}

// DeoptTableEntry ties a PC offset in optimized code to its deoptimization
// descriptor. Info is the encoded (compressed) instruction stream; Reason is
// a deopt-reason ordinal interpreted by the deoptimizer.
type DeoptTableEntry struct {
	PCOffset int
	Info     []byte
	Reason   int
}

// InvokeThunk executes a code artifact's behavior. The first argument is the
// receiver for dynamic functions (the closure itself for closure functions).
type InvokeThunk func(args []Value) (Value, error)

// Code is one compiled artifact. A Function owns its current Code; older
// Code stays alive while stack frames still reference it.
type Code struct {
	entryPoint uintptr
	function   *Function

	isOptimized bool
	isAlive     bool

	slots         []CallSite
	pcDescriptors []PCDescriptor

	staticCallTargetFunction map[uintptr]*Function
	staticCallTargetCode     map[uintptr]*Code

	deoptTable  []DeoptTableEntry
	objectTable []Value

	invoke InvokeThunk
}

// NewCode builds a code object with numSlots instruction slots. The entry
// point is assigned when the code is registered with a CodeRegistry.
func NewCode(numSlots int, optimized bool) *Code {
	return &Code{
		isOptimized:              optimized,
		isAlive:                  true,
		slots:                    make([]CallSite, numSlots),
		staticCallTargetFunction: make(map[uintptr]*Function),
		staticCallTargetCode:     make(map[uintptr]*Code),
	}
}

func (c *Code) EntryPoint() uintptr { return c.entryPoint }
func (c *Code) Size() int           { return len(c.slots) }
func (c *Code) Function() *Function { return c.function }
func (c *Code) IsOptimized() bool   { return c.isOptimized }
func (c *Code) IsAlive() bool       { return c.isAlive }
func (c *Code) SetIsAlive(alive bool) { c.isAlive = alive }

func (c *Code) Name() string {
	if c.function == nil {
		return "<stub>"
	}
	if c.isOptimized {
		return c.function.QualifiedName() + "*"
	}
	return c.function.QualifiedName()
}

// ContainsPC reports whether pc falls inside this code's address range.
func (c *Code) ContainsPC(pc uintptr) bool {
	return pc >= c.entryPoint && pc < c.entryPoint+uintptr(len(c.slots)*InstrSlotSize)
}

// PCForSlot returns the virtual address of an instruction slot.
func (c *Code) PCForSlot(slot int) uintptr {
	return c.entryPoint + uintptr(slot*InstrSlotSize)
}

// SlotForPC converts a virtual address back to a slot index.
func (c *Code) SlotForPC(pc uintptr) int {
	if !c.ContainsPC(pc) {
		panic(fmt.Sprintf("kestrel: pc %#x outside code %s", pc, c.Name()))
	}
	return int(pc-c.entryPoint) / InstrSlotSize
}

// CallSiteAt gives the patcher mutable access to one instruction slot.
func (c *Code) CallSiteAt(pc uintptr) *CallSite {
	return &c.slots[c.SlotForPC(pc)]
}

func (c *Code) AddDescriptor(d PCDescriptor) { c.pcDescriptors = append(c.pcDescriptors, d) }

// GetTokenPosOfPC scans the PC descriptors for an exact match, returning -1
// when the PC has no descriptor.
func (c *Code) GetTokenPosOfPC(pc uintptr) int {
	for _, d := range c.pcDescriptors {
		if c.entryPoint+uintptr(d.PCOffset*InstrSlotSize) == pc {
			return d.TokenPos
		}
	}
	return -1
}

// GetStaticCallTargetFunctionAt returns the Function recorded for a static
// call site.
func (c *Code) GetStaticCallTargetFunctionAt(pc uintptr) *Function {
	return c.staticCallTargetFunction[pc]
}

// SetStaticCallTargetFunctionAt records which Function a static call site
// calls; filled in at compile time.
func (c *Code) SetStaticCallTargetFunctionAt(pc uintptr, f *Function) {
	c.staticCallTargetFunction[pc] = f
}

// SetStaticCallTargetCodeAt records the Code a patched call site now points
// at, keeping the artifact reachable.
func (c *Code) SetStaticCallTargetCodeAt(pc uintptr, code *Code) {
	c.staticCallTargetCode[pc] = code
}

func (c *Code) GetStaticCallTargetCodeAt(pc uintptr) *Code {
	return c.staticCallTargetCode[pc]
}

// AddDeoptEntry appends one deopt-table row; optimized code only.
func (c *Code) AddDeoptEntry(e DeoptTableEntry) {
	if !c.isOptimized {
		panic("kestrel: deopt table on unoptimized code")
	}
	c.deoptTable = append(c.deoptTable, e)
}

// DeoptTable returns the (pc offset, info, reason) rows; the deoptimizer
// scans them linearly.
func (c *Code) DeoptTable() []DeoptTableEntry { return c.deoptTable }

// AddObject appends a constant to the object pool and returns its index.
func (c *Code) AddObject(v Value) int {
	c.objectTable = append(c.objectTable, v)
	return len(c.objectTable) - 1
}

func (c *Code) ObjectAt(i int) Value { return c.objectTable[i] }
func (c *Code) ObjectTableLen() int  { return len(c.objectTable) }

// SetInvoke installs the artifact's executable behavior.
func (c *Code) SetInvoke(thunk InvokeThunk) { c.invoke = thunk }

// Invoke runs the artifact. Codes without behavior (pure metadata in tests)
// return null.
func (c *Code) Invoke(args []Value) (Value, error) {
	if c.invoke == nil {
		return nil, nil
	}
	return c.invoke(args)
}
