package wasmir

// Opcode is a Wasm instruction opcode. Only the subset the pipeline needs to
// emit or recognize is named; the binary decoder rejects any opcode it does
// not know.
type Opcode byte

const (
	OpUnreachable Opcode = 0x00
	OpNop         Opcode = 0x01
	OpBlock       Opcode = 0x02
	OpLoop        Opcode = 0x03
	OpIf          Opcode = 0x04
	OpElse        Opcode = 0x05
	OpEnd         Opcode = 0x0b
	OpBr          Opcode = 0x0c
	OpBrIf        Opcode = 0x0d
	OpBrTable     Opcode = 0x0e
	OpReturn      Opcode = 0x0f
	OpCall        Opcode = 0x10
	OpCallIndirect Opcode = 0x11
	OpReturnCall        Opcode = 0x12
	OpReturnCallIndirect Opcode = 0x13
	OpDrop        Opcode = 0x1a
	OpLocalGet    Opcode = 0x20
	OpLocalSet    Opcode = 0x21
	OpLocalTee    Opcode = 0x22
	OpGlobalGet   Opcode = 0x23
	OpGlobalSet   Opcode = 0x24
	OpI32Load     Opcode = 0x28
	OpI32Store    Opcode = 0x36
	OpI32Store8   Opcode = 0x3a
	OpMemorySize  Opcode = 0x3f
	OpMemoryGrow  Opcode = 0x40
	OpI32Const    Opcode = 0x41
	OpI64Const    Opcode = 0x42
	OpF32Const    Opcode = 0x43
	OpF64Const    Opcode = 0x44
	OpI32Add      Opcode = 0x6a

	// 0xfc-prefixed multi-byte "misc" opcodes (bulk memory / memory.copy /
	// data.drop) and 0xfe-prefixed atomic opcodes are represented by their
	// full (prefix, sub) pair in Instr.Misc / Instr.Atomic rather than a
	// single byte, mirroring how the binary format itself needs a second
	// LEB128-encoded sub-opcode.
	MiscMemoryCopy Opcode = 0x0a
	MiscMemoryFill Opcode = 0x0b
	MiscDataDrop   Opcode = 0x09
	MiscMemoryInit Opcode = 0x08

	AtomicWait32 Opcode = 0x01
	AtomicWait64 Opcode = 0x02
	AtomicNotify Opcode = 0x00
)

// Instr is a single instruction in an InstrSeq. Most fields are zero for most
// opcodes; the comment on each documents which opcodes populate it.
type Instr struct {
	Op Opcode

	// Raw holds instruction bytes written out verbatim: when Raw is non-nil,
	// Op is ignored on encode. The binary decoder never sets it.
	Raw []byte

	// FuncID: OpCall, OpReturnCall.
	FuncID FuncID
	// TypeID, TableID: OpCallIndirect, OpReturnCallIndirect.
	TypeID  TypeID
	TableID TableID
	// LocalIdx: OpLocalGet/Set/Tee.
	LocalIdx uint32
	// GlobalID: OpGlobalGet, OpGlobalSet.
	GlobalID GlobalID
	// MemID: load/store/MemorySize/MemoryGrow/memory.copy family — the
	// memory operand a multi-memory module instruction addresses.
	MemID MemID
	// MemID2 is the second memory operand of memory.copy (destination when
	// MemID is the source).
	MemID2 MemID
	// Offset, Align: load/store instructions' memarg.
	Offset uint32
	Align  uint32
	// ConstI32/I64/F32/F64: the respective const instructions.
	ConstI32 int32
	ConstI64 int64
	ConstF32 float32
	ConstF64 float64
	// Targets: OpBlock/OpLoop/OpIf carry exactly one child SeqID (OpIf may
	// carry a second, the else branch, in ElseTarget); OpBr/OpBrIf carry their
	// relative branch depth in Targets[0]; OpBrTable carries the table's
	// depths in Targets plus the default depth in Default.
	Targets     []SeqID
	ElseTarget  SeqID
	Default     SeqID
	HasElse     bool
	// BlockType: result type of a structured block, funcref.I32 sentinel
	// 0x40 ("empty") reused as "none".
	BlockType ValueType
	HasBlockType bool
	// Misc/MiscSub: 0xfc-prefixed bulk-memory instructions (memory.copy,
	// data.drop, memory.init). DataSegID: the operand of data.drop/memory.init.
	Misc      bool
	MiscSub   Opcode
	DataSegID DataSegID
	// Atomic/AtomicSub: 0xfe-prefixed atomic instructions (atomic.wait/notify).
	Atomic    bool
	AtomicSub Opcode
}

// InstrSeq is one basic sequence of instructions: the entry block of a
// function body, or the body of a block/loop/if/else arm. Control-flow
// instructions elsewhere in the module reference a sequence by its SeqID
// rather than embedding it, so that passes can graft/replace a sequence
// without walking every referrer.
type InstrSeq struct {
	ID      SeqID
	Instrs  []Instr
}

// Body is a function's instruction tree: an entry sequence plus every
// sequence transitively reachable from it through control-flow targets, kept
// in one flat map so passes can look up a target by id in O(1) without
// recursively walking the tree.
type Body struct {
	EntrySeq SeqID
	Seqs     map[SeqID]*InstrSeq
	nextSeq  SeqID
}

func NewBody() *Body {
	entry := SeqID(0)
	b := &Body{
		EntrySeq: entry,
		Seqs:     map[SeqID]*InstrSeq{entry: {ID: entry}},
		nextSeq:  1,
	}
	return b
}

// NewSeq allocates a fresh, empty sequence inside this body and returns its id.
func (b *Body) NewSeq() SeqID {
	id := b.nextSeq
	b.nextSeq++
	b.Seqs[id] = &InstrSeq{ID: id}
	return id
}

func (b *Body) Entry() *InstrSeq { return b.Seqs[b.EntrySeq] }

func (b *Body) Seq(id SeqID) *InstrSeq { return b.Seqs[id] }

// IsReturnLike reports whether op is a control instruction that terminates a
// sequence by returning from the function (used by passes/debugbracket to
// find every exit point to bracket).
func IsReturnLike(op Opcode) bool {
	switch op {
	case OpReturn, OpReturnCall, OpReturnCallIndirect:
		return true
	default:
		return false
	}
}

// IsCall reports whether op invokes another function directly.
func IsCall(op Opcode) bool {
	return op == OpCall || op == OpReturnCall
}
