package passes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasip1vfs/linker/internal/abi"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

func TestPatchComponent_MultiMemory_StampsInPostCombineNotPostLowerMemory(t *testing.T) {
	m := wasmir.New()
	m.AddMemory(1, 0, false)

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, false, false, false)
	ctx.VFSMemID = 0
	ctx.HasVFSMemID = true
	ctx.Target("app").UsedMemID = 0

	require.NoError(t, PatchComponent{}.PostCombine(m, ctx))
	require.NotNil(t, m.FindExport(names.PatchVFSMemoryAnchor))
	require.NotNil(t, m.FindExport(names.PatchMemoryAnchorExport("app")))

	require.NoError(t, PatchComponent{}.PostLowerMemory(m, ctx))
	// Re-running post-lower-memory for multi-memory layout must not stamp
	// again (it's a no-op there); the anchors already present are untouched.
	require.NotNil(t, m.FindExport(names.PatchVFSMemoryAnchor))
}

func TestPatchComponent_SingleMemory_StampsInPostLowerMemoryNotPostCombine(t *testing.T) {
	m := wasmir.New()
	m.AddMemory(1, 0, false)

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutSingle, false, false, false)
	ctx.VFSMemID = 0
	ctx.HasVFSMemID = true

	require.NoError(t, PatchComponent{}.PostCombine(m, ctx))
	require.Nil(t, m.FindExport(names.PatchVFSMemoryAnchor))

	require.NoError(t, PatchComponent{}.PostLowerMemory(m, ctx))
	require.NotNil(t, m.FindExport(names.PatchVFSMemoryAnchor))
	require.Nil(t, m.FindExport(names.PatchMemoryAnchorExport("app")))
}

func TestPatchComponent_PostComponents_RestoresCanonicalMemoryExportName(t *testing.T) {
	m := wasmir.New()
	mid := m.AddMemory(1, 0, false)
	m.AddExport(wasmir.Export{Name: names.PatchVFSMemoryAnchor, Desc: wasmir.ExportMemory, Index: uint32(mid)})
	m.AddExport(wasmir.Export{Name: "some_tool_renamed_memory", Desc: wasmir.ExportMemory, Index: uint32(mid)})

	ctx := pipectx.New(nil, pipectx.LayoutSingle, false, false, false)
	require.NoError(t, PatchComponent{}.PostComponents(m, ctx))

	require.Nil(t, m.FindExport(names.PatchVFSMemoryAnchor))
	require.Nil(t, m.FindExport("some_tool_renamed_memory"))
	e := m.FindExport("memory")
	require.NotNil(t, e)
	require.Equal(t, uint32(mid), e.Index)
}

func TestPatchComponent_PostComponents_RestoresSharedFlag(t *testing.T) {
	m := wasmir.New()
	mid := m.AddMemory(1, 4, true)
	m.AddExport(wasmir.Export{Name: names.PatchMemoryAnchorExport("app"), Desc: wasmir.ExportMemory, Index: uint32(mid)})

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, true, false, false)
	ctx.Target("app").WasShared = true

	require.NoError(t, PatchComponent{}.PostComponents(m, ctx))

	mem := m.MemoryByID(mid)
	require.True(t, mem.Shared)
	require.Nil(t, m.FindExport(names.PatchMemoryAnchorExport("app")))
}

func TestPatchComponent_PostComponents_RestoresImportedMemory(t *testing.T) {
	m := wasmir.New()
	mid := m.AddMemory(1, 4, true)
	m.AddExport(wasmir.Export{Name: names.PatchMemoryAnchorExport("app"), Desc: wasmir.ExportMemory, Index: uint32(mid)})

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, true, false, false)
	tm := ctx.Target("app")
	tm.WasImported = true
	tm.OriginalName = "memory"

	require.NoError(t, PatchComponent{}.PostComponents(m, ctx))

	require.True(t, m.MemoryIsImported(wasmir.MemID(0)))
}

func TestPatchComponent_PostComponents_ReconnectsSurvivingABIImport(t *testing.T) {
	m := wasmir.New()
	typeID := m.AddType(wasmir.FunctionType{})
	exportName := names.ABIExport("app", "fd_close")

	m.Imports = append(m.Imports, wasmir.Import{Module: names.ImportModule, Name: exportName, Desc: wasmir.ImportFunc, TypeID: typeID})
	m.ImportedFuncCount = 1

	real := m.AddFunction(wasmir.FunctionType{})
	m.AddExport(wasmir.Export{Name: exportName, Desc: wasmir.ExportFunc, Index: uint32(real.ID)})

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutSingle, false, false, false)
	require.NoError(t, PatchComponent{}.PostComponents(m, ctx))

	require.False(t, m.IsImportedFunc(0))
	require.Nil(t, m.FindExport(exportName))
}

func TestPatchComponent_PostComponents_NoSurvivingABIImportsIsANoop(t *testing.T) {
	m := wasmir.New()
	ctx := pipectx.New([]string{"app"}, pipectx.LayoutSingle, false, false, false)
	require.NoError(t, PatchComponent{}.PostComponents(m, ctx))
	_ = abi.Functions // sanity: the iteration source exists and is non-empty elsewhere
}
