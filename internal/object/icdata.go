package object

import (
	"fmt"
	"strings"
)

// Past this many checks the linear scan gets a hash index on the side.
// Insertion order stays authoritative for dispatch profiles either way.
const icLinearScanCap = 8

// ICCheck is one resolved (argument classes -> target) tuple.
type ICCheck struct {
	ClassIDs []ClassID
	Target   *Function
}

// ICData is the per-instance-call-site inline cache. Checks are kept in
// insertion order; no two checks share a class-id vector.
type ICData struct {
	TargetName    Symbol
	NumArgsTested int
	IsClosureCall bool

	checks []ICCheck
	index  map[string]int
}

func NewICData(targetName Symbol, numArgsTested int) *ICData {
	if numArgsTested < 1 || numArgsTested > 3 {
		panic(fmt.Sprintf("kestrel: ICData tests %d args", numArgsTested))
	}
	return &ICData{TargetName: targetName, NumArgsTested: numArgsTested}
}

func cidKey(cids []ClassID) string {
	var sb strings.Builder
	for i, cid := range cids {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d", cid)
	}
	return sb.String()
}

func (ic *ICData) NumberOfChecks() int { return len(ic.checks) }

func (ic *ICData) GetCheck(i int) ICCheck { return ic.checks[i] }

// AddReceiverCheck appends a single-argument check.
func (ic *ICData) AddReceiverCheck(cid ClassID, target *Function) {
	if ic.NumArgsTested != 1 {
		panic("kestrel: receiver check on multi-arg ICData")
	}
	ic.AddCheck([]ClassID{cid}, target)
}

// AddCheck appends a check. Duplicated class-id vectors are a caller bug.
func (ic *ICData) AddCheck(cids []ClassID, target *Function) {
	if len(cids) != ic.NumArgsTested {
		panic(fmt.Sprintf("kestrel: ICData expects %d tested args, got %d", ic.NumArgsTested, len(cids)))
	}
	if _, dup := ic.lookupIndex(cids); dup {
		panic(fmt.Sprintf("kestrel: duplicate IC check for [%s] at '%s'", cidKey(cids), ic.TargetName))
	}
	ic.checks = append(ic.checks, ICCheck{ClassIDs: append([]ClassID(nil), cids...), Target: target})
	if len(ic.checks) > icLinearScanCap {
		if ic.index == nil {
			ic.index = make(map[string]int, len(ic.checks))
			for i, chk := range ic.checks {
				ic.index[cidKey(chk.ClassIDs)] = i
			}
		} else {
			ic.index[cidKey(cids)] = len(ic.checks) - 1
		}
	}
}

func (ic *ICData) lookupIndex(cids []ClassID) (int, bool) {
	if ic.index != nil {
		i, ok := ic.index[cidKey(cids)]
		return i, ok
	}
	for i, chk := range ic.checks {
		if cidsEqual(chk.ClassIDs, cids) {
			return i, true
		}
	}
	return 0, false
}

// Lookup finds the target for a class-id vector, or nil.
func (ic *ICData) Lookup(cids []ClassID) *Function {
	if i, ok := ic.lookupIndex(cids); ok {
		return ic.checks[i].Target
	}
	return nil
}

func cidsEqual(a, b []ClassID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
