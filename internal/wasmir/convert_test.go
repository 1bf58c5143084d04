package wasmir

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModule_ConvertMemoryLocalToImport_RemapsEveryReference(t *testing.T) {
	m := New()
	m.Imports = append(m.Imports, Import{Module: "env", Name: "other", Desc: ImportMemory, Memory: &Memory{Min: 1}})
	m.ImportedMemCount = 1

	m.AddMemory(2, 0, false) // local id 1
	target := m.AddMemory(3, 4, true) // local id 2, the one we convert

	m.DataSegments = append(m.DataSegments, DataSegment{Active: true, MemID: target, Offset: ConstExpr{Op: OpI32Const, I32: 0}, Bytes: []byte("x")})
	m.Exports = append(m.Exports, Export{Name: "memory", Desc: ExportMemory, Index: uint32(target)})

	fn := m.AddFunction(FunctionType{})
	fn.Body.Entry().Instrs = []Instr{
		{Op: OpI32Const, I32: 0},
		{Op: OpMemoryGrow, MemID: target},
		{Op: OpI32Const, I32: 0},
		{Op: OpI32Load, MemID: 1},
	}

	err := m.ConvertMemoryLocalToImport(target, "env", "memory")
	require.NoError(t, err)

	require.True(t, m.MemoryIsImported(MemID(1)))
	require.Len(t, m.Memories, 1)
	require.Equal(t, uint32(2), m.ImportedMemCount)

	// The converted memory takes id 1 (the new end of the import space);
	// the memory that used to be local id 1 shifts up to local id 2.
	require.Equal(t, MemID(1), m.DataSegments[0].MemID)
	require.Equal(t, uint32(1), m.Exports[0].Index)
	require.Equal(t, MemID(1), fn.Body.Entry().Instrs[1].MemID)
	require.Equal(t, MemID(2), fn.Body.Entry().Instrs[3].MemID)
}

func TestModule_ConvertMemoryLocalToImport_AlreadyImportedErrors(t *testing.T) {
	m := New()
	m.Imports = append(m.Imports, Import{Module: "env", Name: "memory", Desc: ImportMemory, Memory: &Memory{Min: 1}})
	m.ImportedMemCount = 1

	err := m.ConvertMemoryLocalToImport(MemID(0), "env", "memory")
	require.Error(t, err)
}
