package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction. Instructions are an
// opcode byte followed by fixed operands; registers are one byte, pool and
// cache indices two bytes, integers and jump offsets four bytes. Jump
// offsets are relative to the start of the jump instruction.
type Opcode byte

// Loads and moves
const (
	OpNop           Opcode = 0x00
	OpMov           Opcode = 0x01 // dst, src
	OpLoadUndefined Opcode = 0x02 // dst
	OpLoadNull      Opcode = 0x03 // dst
	OpLoadTrue      Opcode = 0x04 // dst
	OpLoadFalse     Opcode = 0x05 // dst
	OpLoadInt       Opcode = 0x06 // dst, i32
	OpLoadDouble    Opcode = 0x07 // dst, f64
	OpLoadString    Opcode = 0x08 // dst, string
	OpLoadThis      Opcode = 0x09 // dst
)

// Arithmetic and bitwise: dst, lhs, rhs
const (
	OpAdd    Opcode = 0x10
	OpSub    Opcode = 0x11
	OpMul    Opcode = 0x12
	OpDiv    Opcode = 0x13
	OpMod    Opcode = 0x14
	OpBitAnd Opcode = 0x15
	OpBitOr  Opcode = 0x16
	OpBitXor Opcode = 0x17
	OpShl    Opcode = 0x18
	OpShr    Opcode = 0x19
	OpUShr   Opcode = 0x1A
)

// Comparison: dst, lhs, rhs
const (
	OpEq       Opcode = 0x20
	OpNe       Opcode = 0x21
	OpStrictEq Opcode = 0x22
	OpStrictNe Opcode = 0x23
	OpLt       Opcode = 0x24
	OpLe       Opcode = 0x25
	OpGt       Opcode = 0x26
	OpGe       Opcode = 0x27
)

// Unary: dst, src
const (
	OpNot      Opcode = 0x30
	OpNegate   Opcode = 0x31
	OpBitNot   Opcode = 0x32
	OpTypeOf   Opcode = 0x33
	OpInc      Opcode = 0x34
	OpDec      Opcode = 0x35
	OpToNumber Opcode = 0x36
)

// Control flow
const (
	OpJmp          Opcode = 0x40 // offset
	OpJmpTrue      Opcode = 0x41 // cond, offset
	OpJmpFalse     Opcode = 0x42 // cond, offset
	OpJmpUndefined Opcode = 0x43 // value, offset
)

// Globals
const (
	OpGetGlobal     Opcode = 0x50 // dst, name, cache
	OpPutGlobal     Opcode = 0x51 // src, name, cache
	OpDeclareGlobal Opcode = 0x52 // name
)

// Objects and properties
const (
	OpNewObject             Opcode = 0x60 // dst
	OpNewObjectWithProto    Opcode = 0x61 // dst, proto
	OpNewArray              Opcode = 0x62 // dst, first, count
	OpNewObjectFromTemplate Opcode = 0x63 // dst, template, first
	OpPutOwnByIndex         Opcode = 0x64 // obj, value, i32 index
	OpGetById               Opcode = 0x65 // dst, obj, name, cache
	OpPutById               Opcode = 0x66 // obj, value, name, cache
	OpDelById               Opcode = 0x67 // dst, obj, name
	OpGetByVal              Opcode = 0x68 // dst, obj, key
	OpPutByVal              Opcode = 0x69 // obj, key, value
	OpDelByVal              Opcode = 0x6A // dst, obj, key
	OpPutOwnGetterSetter    Opcode = 0x6B // obj, name, getter, setter
	OpIn                    Opcode = 0x6C // dst, key, obj
	OpInstanceOf            Opcode = 0x6D // dst, obj, ctor
	OpGetPropertyNames      Opcode = 0x6E // dst, obj
)

// Environments and closures
const (
	OpCreateEnvironment      Opcode = 0x70 // dst, size
	OpCreateInnerEnvironment Opcode = 0x71 // dst, parent, size
	OpGetClosureEnvironment  Opcode = 0x72 // dst
	OpGetParentEnvironment   Opcode = 0x73 // dst, env
	OpLoadFromEnvironment    Opcode = 0x74 // dst, env, slot
	OpStoreToEnvironment     Opcode = 0x75 // env, slot, value
	OpCreateClosure          Opcode = 0x76 // dst, env, function
)

// Calls
const (
	OpCall      Opcode = 0x80 // dst, callee, this, first, argc
	OpConstruct Opcode = 0x81 // dst, callee, first, argc
	OpRet       Opcode = 0x82 // value
)

// Exceptions, generators and iteration
const (
	OpThrow           Opcode = 0x90 // value
	OpCatch           Opcode = 0x91 // dst
	OpYield           Opcode = 0x92 // value
	OpResumeGenerator Opcode = 0x93 // dst, isReturn
	OpIteratorBegin   Opcode = 0x94 // dst, iterable
	OpIteratorNext    Opcode = 0x95 // dst, iterator, done
	OpIteratorClose   Opcode = 0x96 // iterator
	OpDebugger        Opcode = 0x97
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind describes the encoding and meaning of one operand.
type OperandKind uint8

const (
	OperandReg      OperandKind = iota + 1 // u8 register
	OperandCount                           // u8 count
	OperandString                          // u16 string pool index
	OperandFunction                        // u16 function index
	OperandTemplate                        // u16 object template index
	OperandCache                           // u16 property cache index
	OperandSlot                            // u16 environment slot or size
	OperandInt                             // i32
	OperandJump                            // i32 offset from the instruction start
	OperandDouble                          // f64
)

// Width returns the encoded size of the operand in bytes.
func (k OperandKind) Width() int {
	switch k {
	case OperandReg, OperandCount:
		return 1
	case OperandString, OperandFunction, OperandTemplate, OperandCache, OperandSlot:
		return 2
	case OperandInt, OperandJump:
		return 4
	case OperandDouble:
		return 8
	}
	return 0
}

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string
	Operands []OperandKind
}

// Size returns the encoded size of the instruction.
func (info OpcodeInfo) Size() int {
	n := 1
	for _, k := range info.Operands {
		n += k.Width()
	}
	return n
}

var (
	opsNone   = []OperandKind{}
	opsR      = []OperandKind{OperandReg}
	opsRR     = []OperandKind{OperandReg, OperandReg}
	opsRRR    = []OperandKind{OperandReg, OperandReg, OperandReg}
	opsJump   = []OperandKind{OperandJump}
	opsRJump  = []OperandKind{OperandReg, OperandJump}
	opsRSC    = []OperandKind{OperandReg, OperandString, OperandCache}
	opsRRSC   = []OperandKind{OperandReg, OperandReg, OperandString, OperandCache}
	opsRRSlot = []OperandKind{OperandReg, OperandReg, OperandSlot}
)

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:           {"Nop", opsNone},
	OpMov:           {"Mov", opsRR},
	OpLoadUndefined: {"LoadUndefined", opsR},
	OpLoadNull:      {"LoadNull", opsR},
	OpLoadTrue:      {"LoadTrue", opsR},
	OpLoadFalse:     {"LoadFalse", opsR},
	OpLoadInt:       {"LoadInt", []OperandKind{OperandReg, OperandInt}},
	OpLoadDouble:    {"LoadDouble", []OperandKind{OperandReg, OperandDouble}},
	OpLoadString:    {"LoadString", []OperandKind{OperandReg, OperandString}},
	OpLoadThis:      {"LoadThis", opsR},

	OpAdd:    {"Add", opsRRR},
	OpSub:    {"Sub", opsRRR},
	OpMul:    {"Mul", opsRRR},
	OpDiv:    {"Div", opsRRR},
	OpMod:    {"Mod", opsRRR},
	OpBitAnd: {"BitAnd", opsRRR},
	OpBitOr:  {"BitOr", opsRRR},
	OpBitXor: {"BitXor", opsRRR},
	OpShl:    {"Shl", opsRRR},
	OpShr:    {"Shr", opsRRR},
	OpUShr:   {"UShr", opsRRR},

	OpEq:       {"Eq", opsRRR},
	OpNe:       {"Ne", opsRRR},
	OpStrictEq: {"StrictEq", opsRRR},
	OpStrictNe: {"StrictNe", opsRRR},
	OpLt:       {"Lt", opsRRR},
	OpLe:       {"Le", opsRRR},
	OpGt:       {"Gt", opsRRR},
	OpGe:       {"Ge", opsRRR},

	OpNot:      {"Not", opsRR},
	OpNegate:   {"Negate", opsRR},
	OpBitNot:   {"BitNot", opsRR},
	OpTypeOf:   {"TypeOf", opsRR},
	OpInc:      {"Inc", opsRR},
	OpDec:      {"Dec", opsRR},
	OpToNumber: {"ToNumber", opsRR},

	OpJmp:          {"Jmp", opsJump},
	OpJmpTrue:      {"JmpTrue", opsRJump},
	OpJmpFalse:     {"JmpFalse", opsRJump},
	OpJmpUndefined: {"JmpUndefined", opsRJump},

	OpGetGlobal:     {"GetGlobal", opsRSC},
	OpPutGlobal:     {"PutGlobal", opsRSC},
	OpDeclareGlobal: {"DeclareGlobal", []OperandKind{OperandString}},

	OpNewObject:             {"NewObject", opsR},
	OpNewObjectWithProto:    {"NewObjectWithProto", opsRR},
	OpNewArray:              {"NewArray", []OperandKind{OperandReg, OperandReg, OperandCount}},
	OpNewObjectFromTemplate: {"NewObjectFromTemplate", []OperandKind{OperandReg, OperandTemplate, OperandReg}},
	OpPutOwnByIndex:         {"PutOwnByIndex", []OperandKind{OperandReg, OperandReg, OperandInt}},
	OpGetById:               {"GetById", opsRRSC},
	OpPutById:               {"PutById", opsRRSC},
	OpDelById:               {"DelById", []OperandKind{OperandReg, OperandReg, OperandString}},
	OpGetByVal:              {"GetByVal", opsRRR},
	OpPutByVal:              {"PutByVal", opsRRR},
	OpDelByVal:              {"DelByVal", opsRRR},
	OpPutOwnGetterSetter:    {"PutOwnGetterSetter", []OperandKind{OperandReg, OperandString, OperandReg, OperandReg}},
	OpIn:                    {"In", opsRRR},
	OpInstanceOf:            {"InstanceOf", opsRRR},
	OpGetPropertyNames:      {"GetPropertyNames", opsRR},

	OpCreateEnvironment:      {"CreateEnvironment", []OperandKind{OperandReg, OperandSlot}},
	OpCreateInnerEnvironment: {"CreateInnerEnvironment", opsRRSlot},
	OpGetClosureEnvironment:  {"GetClosureEnvironment", opsR},
	OpGetParentEnvironment:   {"GetParentEnvironment", opsRR},
	OpLoadFromEnvironment:    {"LoadFromEnvironment", opsRRSlot},
	OpStoreToEnvironment:     {"StoreToEnvironment", []OperandKind{OperandReg, OperandSlot, OperandReg}},
	OpCreateClosure:          {"CreateClosure", []OperandKind{OperandReg, OperandReg, OperandFunction}},

	OpCall:      {"Call", []OperandKind{OperandReg, OperandReg, OperandReg, OperandReg, OperandCount}},
	OpConstruct: {"Construct", []OperandKind{OperandReg, OperandReg, OperandReg, OperandCount}},
	OpRet:       {"Ret", opsR},

	OpThrow:           {"Throw", opsR},
	OpCatch:           {"Catch", opsR},
	OpYield:           {"Yield", opsR},
	OpResumeGenerator: {"ResumeGenerator", opsRR},
	OpIteratorBegin:   {"IteratorBegin", opsRR},
	OpIteratorNext:    {"IteratorNext", opsRRR},
	OpIteratorClose:   {"IteratorClose", opsR},
	OpDebugger:        {"Debugger", opsNone},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("Unknown_%02X", byte(op))}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// instrSize is indexed by opcode for the dispatch loop.
var instrSize [256]int

func init() {
	for op, info := range opcodeTable {
		instrSize[op] = info.Size()
	}
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder assembles a function body. Operands are checked against
// the opcode table as they are emitted.
type BytecodeBuilder struct {
	bytes    []byte
	handlers []pendingHandler
	caches   int
}

type pendingHandler struct {
	start, end, target *Label
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// NewCache reserves a property cache index.
func (b *BytecodeBuilder) NewCache() int {
	b.caches++
	return b.caches - 1
}

// CacheCount returns the number of cache indices reserved.
func (b *BytecodeBuilder) CacheCount() int {
	return b.caches
}

// Emit appends op with its operands. Jump operands must be emitted with
// EmitJump and double operands with EmitDouble.
func (b *BytecodeBuilder) Emit(op Opcode, operands ...int) {
	info, ok := opcodeTable[op]
	if !ok {
		panic(fmt.Sprintf("emit: unknown opcode 0x%02x", byte(op)))
	}
	if len(operands) != len(info.Operands) {
		panic(fmt.Sprintf("emit %s: want %d operands, got %d", info.Name, len(info.Operands), len(operands)))
	}
	b.bytes = append(b.bytes, byte(op))
	for i, k := range info.Operands {
		b.put(info.Name, k, operands[i])
	}
}

func (b *BytecodeBuilder) put(name string, k OperandKind, v int) {
	switch k.Width() {
	case 1:
		if v < 0 || v > math.MaxUint8 {
			panic(fmt.Sprintf("emit %s: operand %d out of range", name, v))
		}
		b.bytes = append(b.bytes, byte(v))
	case 2:
		if v < 0 || v > math.MaxUint16 {
			panic(fmt.Sprintf("emit %s: operand %d out of range", name, v))
		}
		b.bytes = binary.LittleEndian.AppendUint16(b.bytes, uint16(v))
	case 4:
		if v < math.MinInt32 || v > math.MaxInt32 {
			panic(fmt.Sprintf("emit %s: operand %d out of range", name, v))
		}
		b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(int32(v)))
	default:
		panic(fmt.Sprintf("emit %s: operand kind %d needs a dedicated emitter", name, k))
	}
}

// EmitDouble appends LoadDouble dst, f.
func (b *BytecodeBuilder) EmitDouble(dst int, f float64) {
	b.bytes = append(b.bytes, byte(OpLoadDouble))
	b.put("LoadDouble", OperandReg, dst)
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, math.Float64bits(f))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label is a position in the bytecode, possibly not yet known.
type Label struct {
	resolved bool
	position int
	refs     []labelRef
}

type labelRef struct {
	instr   int // start of the jump instruction
	operand int // position of the offset operand
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{}
}

// Position returns the resolved position. It panics if the label is not
// yet marked.
func (l *Label) Position() int {
	if !l.resolved {
		panic("label not resolved")
	}
	return l.position
}

// Mark resolves a label to the current position.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	// Patch all forward references
	for _, ref := range label.refs {
		binary.LittleEndian.PutUint32(b.bytes[ref.operand:], uint32(int32(label.position-ref.instr)))
	}
	label.refs = nil
}

// EmitJump emits a jump to label. For conditional jumps regs holds the
// tested register.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label, regs ...int) {
	info := opcodeTable[op]
	if len(info.Operands) == 0 || info.Operands[len(info.Operands)-1] != OperandJump {
		panic(fmt.Sprintf("emit: %s is not a jump", op))
	}
	if len(regs) != len(info.Operands)-1 {
		panic(fmt.Sprintf("emit %s: want %d registers, got %d", info.Name, len(info.Operands)-1, len(regs)))
	}
	instr := len(b.bytes)
	b.bytes = append(b.bytes, byte(op))
	for _, r := range regs {
		b.put(info.Name, OperandReg, r)
	}
	if label.resolved {
		b.put(info.Name, OperandJump, label.position-instr)
		return
	}
	label.refs = append(label.refs, labelRef{instr: instr, operand: len(b.bytes)})
	b.bytes = append(b.bytes, 0, 0, 0, 0) // placeholder
}

// AddHandler registers an exception handler covering [start, end) and
// jumping to target. Handlers must be added innermost first.
func (b *BytecodeBuilder) AddHandler(start, end, target *Label) {
	b.handlers = append(b.handlers, pendingHandler{start, end, target})
}

// Handlers returns the handler table. Every label must be marked.
func (b *BytecodeBuilder) Handlers() []HandlerEntry {
	out := make([]HandlerEntry, len(b.handlers))
	for i, h := range b.handlers {
		out[i] = HandlerEntry{Start: h.start.Position(), End: h.end.Position(), Target: h.target.Position()}
	}
	return out
}

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// BytecodeReader decodes instructions for verification and disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc, pos: 0}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// Instruction is one decoded instruction. Double operands are in Double,
// every other operand in Operands.
type Instruction struct {
	Offset   int
	Op       Opcode
	Operands []int
	Double   float64
}

// Next decodes the instruction at the current position.
func (r *BytecodeReader) Next() (Instruction, error) {
	in := Instruction{Offset: r.pos, Op: Opcode(r.bytes[r.pos])}
	info, ok := opcodeTable[in.Op]
	if !ok {
		return in, fmt.Errorf("offset %d: unknown opcode 0x%02x", r.pos, byte(in.Op))
	}
	if r.pos+info.Size() > len(r.bytes) {
		return in, fmt.Errorf("offset %d: %s truncated", r.pos, info.Name)
	}
	p := r.pos + 1
	in.Operands = make([]int, 0, len(info.Operands))
	for _, k := range info.Operands {
		switch k.Width() {
		case 1:
			in.Operands = append(in.Operands, int(r.bytes[p]))
		case 2:
			in.Operands = append(in.Operands, int(binary.LittleEndian.Uint16(r.bytes[p:])))
		case 4:
			in.Operands = append(in.Operands, int(int32(binary.LittleEndian.Uint32(r.bytes[p:]))))
		case 8:
			in.Double = math.Float64frombits(binary.LittleEndian.Uint64(r.bytes[p:]))
			in.Operands = append(in.Operands, 0)
		}
		p += k.Width()
	}
	r.pos = p
	return in, nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

func (in Instruction) String() string {
	info := in.Op.Info()
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d  %s", in.Offset, info.Name)
	for i, k := range info.Operands {
		if i < len(in.Operands) {
			sb.WriteString(" ")
			switch k {
			case OperandReg:
				fmt.Fprintf(&sb, "r%d", in.Operands[i])
			case OperandString:
				fmt.Fprintf(&sb, "s%d", in.Operands[i])
			case OperandFunction:
				fmt.Fprintf(&sb, "f%d", in.Operands[i])
			case OperandTemplate:
				fmt.Fprintf(&sb, "t%d", in.Operands[i])
			case OperandCache:
				fmt.Fprintf(&sb, "ic%d", in.Operands[i])
			case OperandJump:
				fmt.Fprintf(&sb, "%+d (-> %04d)", in.Operands[i], in.Offset+in.Operands[i])
			case OperandDouble:
				fmt.Fprintf(&sb, "%g", in.Double)
			default:
				fmt.Fprintf(&sb, "%d", in.Operands[i])
			}
		}
	}
	return sb.String()
}

// Disassemble returns a full disassembly of bytecode, one instruction per
// line. Decoding stops at the first malformed instruction.
func Disassemble(bc []byte) string {
	r := NewBytecodeReader(bc)
	var lines []string
	for r.HasMore() {
		in, err := r.Next()
		if err != nil {
			lines = append(lines, fmt.Sprintf("%04d  <%v>", in.Offset, err))
			break
		}
		lines = append(lines, in.String())
	}
	return strings.Join(lines, "\n")
}
