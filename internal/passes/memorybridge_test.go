package passes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

func TestMemoryBridge_PostCombine_WiresBothDirections(t *testing.T) {
	m := wasmir.New()
	targetMem := m.AddMemory(1, 0, false)
	vfsMem := m.AddMemory(1, 0, false)

	sig := wasmir.FunctionType{Params: []wasmir.ValueType{wasmir.ValueTypeI32, wasmir.ValueTypeI32, wasmir.ValueTypeI32}}
	typeID := m.AddType(sig)

	m.Imports = append(m.Imports,
		wasmir.Import{Module: "env", Name: names.MemoryCopyFromExport("app"), Desc: wasmir.ImportFunc, TypeID: typeID},
		wasmir.Import{Module: "env", Name: names.MemoryCopyToExport("app"), Desc: wasmir.ImportFunc, TypeID: typeID},
	)
	m.ImportedFuncCount = 2
	m.AddExport(wasmir.Export{Name: names.MemoryCopyFromExport("app"), Desc: wasmir.ExportFunc, Index: 0})
	m.AddExport(wasmir.Export{Name: names.MemoryCopyToExport("app"), Desc: wasmir.ExportFunc, Index: 1})

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, false, false, false)
	ctx.VFSMemID = vfsMem
	ctx.Target("app").UsedMemID = targetMem

	require.NoError(t, MemoryBridge{}.PostCombine(m, ctx))

	require.False(t, m.IsImportedFunc(0))
	require.False(t, m.IsImportedFunc(1))
	require.Nil(t, m.FindExport(names.MemoryCopyFromExport("app")))
	require.Nil(t, m.FindExport(names.MemoryCopyToExport("app")))

	fromFn := m.FuncByID(0)
	copyInstr := fromFn.Body.Entry().Instrs[3]
	require.True(t, copyInstr.Misc)
	require.Equal(t, wasmir.MiscMemoryCopy, copyInstr.MiscSub)
	require.Equal(t, targetMem, copyInstr.MemID)
	require.Equal(t, vfsMem, copyInstr.MemID2)

	toFn := m.FuncByID(1)
	copyInstr2 := toFn.Body.Entry().Instrs[3]
	require.Equal(t, vfsMem, copyInstr2.MemID)
	require.Equal(t, targetMem, copyInstr2.MemID2)
}

func TestMemoryBridge_PostCombine_MissingStubIsANoop(t *testing.T) {
	m := wasmir.New()
	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, false, false, false)
	require.NoError(t, MemoryBridge{}.PostCombine(m, ctx))
}
