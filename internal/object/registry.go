package object

import (
	"sync"

	"github.com/google/btree"
)

// CodeRegistry hands out virtual entry addresses and resolves a PC back to
// the Code containing it. Codes are ordered by entry point in a btree so
// lookup descends to the nearest code at or below the PC.
type CodeRegistry struct {
	mu   sync.Mutex
	next uintptr
	tree *btree.BTreeG[*Code]
}

const codeBase = 0x100000

func NewCodeRegistry() *CodeRegistry {
	return &CodeRegistry{
		next: codeBase,
		tree: btree.NewG(8, func(a, b *Code) bool { return a.entryPoint < b.entryPoint }),
	}
}

// Register assigns the code its entry address and makes it findable by PC.
func (r *CodeRegistry) Register(c *Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.entryPoint != 0 {
		panic("kestrel: code registered twice")
	}
	size := len(c.slots)
	if size == 0 {
		size = 1
	}
	c.entryPoint = r.next
	r.next += uintptr(size * InstrSlotSize)
	r.tree.ReplaceOrInsert(c)
}

// ReserveStub allocates an address range with no backing Code, used for
// stub identities.
func (r *CodeRegistry) ReserveStub(slots int) uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr := r.next
	r.next += uintptr(slots * InstrSlotSize)
	return addr
}

// LookupCode finds the Code whose address range contains pc, or nil.
func (r *CodeRegistry) LookupCode(pc uintptr) *Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *Code
	pivot := &Code{entryPoint: pc}
	r.tree.DescendLessOrEqual(pivot, func(c *Code) bool {
		if c.ContainsPC(pc) {
			found = c
		}
		return false
	})
	return found
}

// Len reports how many code objects are registered.
func (r *CodeRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Len()
}

// Each visits every registered code in address order.
func (r *CodeRegistry) Each(fn func(*Code) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tree.Ascend(fn)
}
