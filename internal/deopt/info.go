// Package deopt transfers an executing optimized frame back to the
// equivalent unoptimized frame when a speculative assumption fails.
package deopt

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"

	"kestrel/internal/object"
)

// Reason records which speculative guard class forced the deoptimization.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonInstanceGetter
	ReasonPolymorphicInstanceCallTestFail
	ReasonIntegerToDouble
	ReasonBinarySmiOp
	ReasonBinaryMintOp
	ReasonBinaryDoubleOp
	ReasonEquality
	ReasonRelationalOp
	ReasonCheckClass
	ReasonCheckSmi
	ReasonCheckArrayBound
	ReasonAtCall
	numReasons
)

var reasonNames = [...]string{
	"Unknown",
	"InstanceGetter",
	"PolymorphicInstanceCallTestFail",
	"IntegerToDouble",
	"BinarySmiOp",
	"BinaryMintOp",
	"BinaryDoubleOp",
	"Equality",
	"RelationalOp",
	"CheckClass",
	"CheckSmi",
	"CheckArrayBound",
	"AtCall",
}

func (r Reason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return fmt.Sprintf("Reason(%d)", int(r))
	}
	return reasonNames[r]
}

// InstrKind selects the source a deopt instruction reads its word from.
type InstrKind int

const (
	// KindStackSlot copies a word from the optimized frame copy.
	KindStackSlot InstrKind = iota
	// KindRegister reads a tagged small integer out of a CPU register copy.
	KindRegister
	// KindFpuRegister reads an unboxed double; boxing is deferred.
	KindFpuRegister
	// KindInt64Register reads an unboxed 64-bit integer; boxing is deferred
	// unless the value fits a Smi.
	KindInt64Register
	// KindConstant reads the optimized code's object table.
	KindConstant
	// KindRetAddress produces the resume address in unoptimized code.
	KindRetAddress
	// KindPcMarker produces the unoptimized code's frame marker.
	KindPcMarker
	// KindCallerFP reproduces the caller frame pointer.
	KindCallerFP
	// KindCallerPC reproduces the caller return address.
	KindCallerPC
)

// Instr writes one target slot of the unoptimized frame.
type Instr struct {
	Kind InstrKind
	Arg  int
}

func (in Instr) String() string {
	switch in.Kind {
	case KindStackSlot:
		return fmt.Sprintf("stack[%d]", in.Arg)
	case KindRegister:
		return fmt.Sprintf("reg[%d]", in.Arg)
	case KindFpuRegister:
		return fmt.Sprintf("fpureg[%d]", in.Arg)
	case KindInt64Register:
		return fmt.Sprintf("int64reg[%d]", in.Arg)
	case KindConstant:
		return fmt.Sprintf("const[%d]", in.Arg)
	case KindRetAddress:
		return fmt.Sprintf("retaddr[slot %d]", in.Arg)
	case KindPcMarker:
		return "pcmarker"
	case KindCallerFP:
		return "callerfp"
	case KindCallerPC:
		return "callerpc"
	}
	return "?"
}

// Info is the decoded instruction list reconstructing one unoptimized
// frame; index i writes target slot i.
type Info struct {
	Instrs []Instr
}

// TranslationLength is the number of target slots.
func (info *Info) TranslationLength() int { return len(info.Instrs) }

const (
	infoRawFlag        = 0
	infoCompressedFlag = 1
)

// EncodeInfo serializes and block-compresses an instruction list for
// storage in a Code's deopt table. Streams that do not compress are stored
// raw behind a flag byte.
func EncodeInfo(info *Info) []byte {
	raw := make([]byte, 0, len(info.Instrs)*8+4)
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(info.Instrs)))
	raw = append(raw, buf[:4]...)
	for _, in := range info.Instrs {
		binary.LittleEndian.PutUint32(buf[:4], uint32(in.Kind))
		raw = append(raw, buf[:4]...)
		binary.LittleEndian.PutUint32(buf[:4], uint32(int32(in.Arg)))
		raw = append(raw, buf[:4]...)
	}
	dst := make([]byte, lz4.CompressBlockBound(len(raw)))
	n, err := lz4.CompressBlock(raw, dst, nil)
	if err != nil || n == 0 || n >= len(raw) {
		out := make([]byte, 0, len(raw)+5)
		out = append(out, infoRawFlag)
		binary.LittleEndian.PutUint32(buf[:4], uint32(len(raw)))
		out = append(out, buf[:4]...)
		return append(out, raw...)
	}
	out := make([]byte, 0, n+5)
	out = append(out, infoCompressedFlag)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(raw)))
	out = append(out, buf[:4]...)
	return append(out, dst[:n]...)
}

// DecodeInfo reverses EncodeInfo.
func DecodeInfo(data []byte) (*Info, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("deopt info truncated: %d bytes", len(data))
	}
	flagByte := data[0]
	rawLen := int(binary.LittleEndian.Uint32(data[1:5]))
	payload := data[5:]
	var raw []byte
	switch flagByte {
	case infoRawFlag:
		raw = payload
	case infoCompressedFlag:
		raw = make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, fmt.Errorf("deopt info decompress: %w", err)
		}
		raw = raw[:n]
	default:
		return nil, fmt.Errorf("deopt info: unknown flag %d", flagByte)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("deopt info truncated after decompress")
	}
	count := int(binary.LittleEndian.Uint32(raw[:4]))
	if len(raw) < 4+count*8 {
		return nil, fmt.Errorf("deopt info: %d instrs but %d bytes", count, len(raw))
	}
	info := &Info{Instrs: make([]Instr, count)}
	off := 4
	for i := 0; i < count; i++ {
		kind := InstrKind(binary.LittleEndian.Uint32(raw[off : off+4]))
		arg := int(int32(binary.LittleEndian.Uint32(raw[off+4 : off+8])))
		info.Instrs[i] = Instr{Kind: kind, Arg: arg}
		off += 8
	}
	return info, nil
}

// NewTableEntry packs an instruction list into one deopt-table row.
func NewTableEntry(pcOffset int, info *Info, reason Reason) object.DeoptTableEntry {
	return object.DeoptTableEntry{PCOffset: pcOffset, Info: EncodeInfo(info), Reason: int(reason)}
}

// GetDeoptInfoAtPC scans the optimized code's deopt table linearly for the
// entry matching pc. Missing entries yield (nil, ReasonUnknown).
func GetDeoptInfoAtPC(code *object.Code, pc uintptr) (*Info, Reason) {
	if !code.IsOptimized() {
		panic("kestrel: deopt info requested for unoptimized code")
	}
	for _, e := range code.DeoptTable() {
		if code.EntryPoint()+uintptr(e.PCOffset*object.InstrSlotSize) == pc {
			info, err := DecodeInfo(e.Info)
			if err != nil {
				panic(fmt.Sprintf("kestrel: corrupt deopt info at %#x: %v", pc, err))
			}
			return info, Reason(e.Reason)
		}
	}
	return nil, ReasonUnknown
}
