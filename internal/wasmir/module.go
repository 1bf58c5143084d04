package wasmir

// ImportDesc discriminates what kind of entity an Import introduces.
type ImportDesc byte

const (
	ImportFunc   ImportDesc = 0x00
	ImportTable  ImportDesc = 0x01
	ImportMemory ImportDesc = 0x02
	ImportGlobal ImportDesc = 0x03
)

// Import is one entry of the import section, addressed externally by
// (Module, Name) per spec §3 "External name".
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc

	// TypeID is valid when Desc == ImportFunc.
	TypeID TypeID
	// Memory/Global/Table carry the declared limits/type when Desc matches.
	Memory *Memory
	Global *GlobalType
	Table  *Table
}

// ExportDesc mirrors ImportDesc for the export section.
type ExportDesc byte

const (
	ExportFunc   ExportDesc = 0x00
	ExportTable  ExportDesc = 0x01
	ExportMemory ExportDesc = 0x02
	ExportGlobal ExportDesc = 0x03
)

// Export is one entry of the export section; names are unique module-wide
// (spec §3, §8 property 3).
type Export struct {
	Name string
	Desc ExportDesc
	// Index is interpreted per Desc: a FuncID, MemID, GlobalID or TableID
	// stored as a plain uint32 so Export doesn't need four near-identical
	// struct shapes.
	Index uint32
}

type Table struct {
	ElemType ValueType
	Min      uint32
	Max      uint32
	HasMax   bool
}

type Memory struct {
	Min, Max uint32
	HasMax   bool
	Shared   bool
}

type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// ConstExpr is a constant initializer: either a literal or a reference to an
// imported global (the only two shapes the Wasm MVP constant-expression
// grammar allows, plus ref.null/ref.func which callers that need them can add
// via Opcode/FuncID).
type ConstExpr struct {
	Op       Opcode // OpI32Const, OpI64Const, OpF32Const, OpF64Const or OpGlobalGet
	I32      int32
	I64      int64
	F32      float32
	F64      float64
	GlobalID GlobalID
}

// IsSimpleConst reports whether the initializer is a plain numeric constant,
// as opposed to a global.get reference to an imported global — the
// distinction spec §4.4's reset pass needs ("errors logged and skipped if the
// initializer is not a simple constant").
func (c ConstExpr) IsSimpleConst() bool {
	switch c.Op {
	case OpI32Const, OpI64Const, OpF32Const, OpF64Const:
		return true
	default:
		return false
	}
}

type Global struct {
	Type GlobalType
	Init ConstExpr
}

type DataSegment struct {
	// MemID is the target memory for an active segment (passive segments,
	// used post-bulk-memory, have Active == false and are out of scope for
	// the reset pass's "contiguous data-segment ranges in the target's
	// memory" handling, which only concerns active segments).
	MemID  MemID
	Active bool
	Offset ConstExpr
	Bytes  []byte
}

type ElementSegment struct {
	TableID TableID
	Active  bool
	Offset  ConstExpr
	FuncIDs []FuncID
}

type CustomSection struct {
	Name string
	Data []byte
}

type ProducersField struct {
	Name  string
	Value string
}

type ProducersSection struct {
	Language   []ProducersField
	ProcessedBy []ProducersField
	SDK        []ProducersField
}

// Function is a single local (non-imported) function: its signature plus its
// instruction-sequence tree. Imported functions never appear here; they are
// Import entries with Desc == ImportFunc, and their FuncID is assigned below
// the lowest local Function's FuncID exactly as wazero's engine numbers
// imported-then-local function addresses.
type Function struct {
	ID      FuncID
	TypeID  TypeID
	Locals  []ValueType // additional locals beyond the signature's params
	Body    *Body
	Name    string // from the "name" custom section, if present; may be empty
}

// Module is the complete in-memory IR of one Wasm binary.
type Module struct {
	Types   []FunctionType
	Imports []Import

	// Functions holds only local functions, in definition order; ImportedFuncCount
	// is the number of Imports with Desc == ImportFunc, i.e. the offset applied
	// to translate a local Function's definition index into its FuncID.
	Functions         []Function
	ImportedFuncCount uint32

	Tables  []Table
	Memories []Memory
	ImportedMemCount uint32

	Globals []Global
	ImportedGlobalCount uint32

	Exports []Export

	StartFunc    FuncID
	HasStartFunc bool

	Elements     []ElementSegment
	DataSegments []DataSegment

	Customs   []CustomSection
	Producers *ProducersSection

	// DWARFSections holds raw custom sections beginning with ".debug_" when
	// the pipeline was run with --dwarf; preserved verbatim through every
	// stage that doesn't explicitly strip them.
	DWARFSections []CustomSection
}

// New returns an empty module ready to be populated by the binary loader.
func New() *Module {
	return &Module{HasStartFunc: false}
}

// LocalIndex converts a FuncID into an index into m.Functions, or (0, false)
// if id addresses an imported function or lies past the last local function.
func (m *Module) LocalIndex(id FuncID) (int, bool) {
	if uint32(id) < m.ImportedFuncCount {
		return 0, false
	}
	idx := int(uint32(id) - m.ImportedFuncCount)
	if idx >= len(m.Functions) {
		return 0, false
	}
	return idx, true
}

// FuncByID returns the local Function for id, or nil if id addresses an
// import (or is out of range).
func (m *Module) FuncByID(id FuncID) *Function {
	idx, ok := m.LocalIndex(id)
	if !ok {
		return nil
	}
	return &m.Functions[idx]
}

// IsImportedFunc reports whether id addresses an imported function.
func (m *Module) IsImportedFunc(id FuncID) bool {
	return uint32(id) < m.ImportedFuncCount
}

// TotalFuncCount is the size of the module's combined (imported + local)
// function address space.
func (m *Module) TotalFuncCount() uint32 {
	return m.ImportedFuncCount + uint32(len(m.Functions))
}

// NextFuncID returns the id that would be assigned to a function appended now.
func (m *Module) NextFuncID() FuncID {
	return FuncID(m.TotalFuncCount())
}

// TypeOf returns the signature of the function addressed by id, whether
// imported or local.
func (m *Module) TypeOf(id FuncID) *FunctionType {
	if m.IsImportedFunc(id) {
		imp := m.importFuncAt(id)
		if imp == nil {
			return nil
		}
		return &m.Types[imp.TypeID]
	}
	fn := m.FuncByID(id)
	if fn == nil {
		return nil
	}
	return &m.Types[fn.TypeID]
}

func (m *Module) importFuncAt(id FuncID) *Import {
	var n uint32
	for i := range m.Imports {
		if m.Imports[i].Desc != ImportFunc {
			continue
		}
		if FuncID(n) == id {
			return &m.Imports[i]
		}
		n++
	}
	return nil
}
