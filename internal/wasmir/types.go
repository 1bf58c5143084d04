// Package wasmir is the in-memory intermediate representation of a single
// WebAssembly module: the core data model the pipeline's passes read and
// rewrite. It intentionally mirrors the shape of a decoded Wasm binary
// rather than any source-language AST — every entity is reachable by a
// stable, module-scoped id that is assigned on load and does not survive a
// save/reload round trip (ids are re-derived every stage from symbolic
// anchor names; see internal/names).
package wasmir

// ValueType is a Wasm value type as it appears in a binary module.
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
	ValueTypeV128 ValueType = 0x7b
	ValueTypeFuncref ValueType = 0x70
	ValueTypeExternref ValueType = 0x6f
)

func (v ValueType) String() string {
	switch v {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	default:
		return "unknown"
	}
}

// FunctionType is a Wasm function signature.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

func (t *FunctionType) Equal(o *FunctionType) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.Params) != len(o.Params) || len(t.Results) != len(o.Results) {
		return false
	}
	for i, p := range t.Params {
		if o.Params[i] != p {
			return false
		}
	}
	for i, r := range t.Results {
		if o.Results[i] != r {
			return false
		}
	}
	return true
}

// FuncID addresses a function (imported or local) within a single Module's
// lifetime. It is a module-global index: imported functions occupy the
// lowest ids, in import order, followed by local functions in definition
// order — the same convention wazero's engine uses for its function address
// space (see internal/engine/interpreter moduleEngine.importedFunctionCount).
type FuncID uint32

// MemID, GlobalID, TableID, ImportID, ExportID, SeqID, DataSegID, ElemID are
// the remaining stable-within-a-stage identifiers the IR hands out.
type (
	MemID     uint32
	GlobalID  uint32
	TableID   uint32
	ImportID  uint32
	ExportID  uint32
	SeqID     uint32
	DataSegID uint32
	ElemID    uint32
	TypeID    uint32
)

const (
	InvalidFuncID   FuncID   = 1<<32 - 1
	InvalidMemID    MemID    = 1<<32 - 1
	InvalidGlobalID GlobalID = 1<<32 - 1
)
