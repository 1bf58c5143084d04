package passes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

func TestMemoryIDVisitor_PreVFS_FallsBackToSoleMemory(t *testing.T) {
	m := wasmir.New()
	m.AddMemory(1, 0, false)

	ctx := pipectx.New(nil, pipectx.LayoutMulti, false, false, false)
	require.NoError(t, MemoryIDVisitor{}.PreVFS(m, ctx))

	require.True(t, ctx.HasVFSMemID)
	require.Equal(t, wasmir.MemID(0), ctx.VFSMemID)
}

func TestMemoryIDVisitor_PreVFS_UsesExplicitMarker(t *testing.T) {
	m := wasmir.New()
	m.AddMemory(1, 0, false)
	second := m.AddMemory(2, 0, false)
	m.AddExport(wasmir.Export{Name: names.SelfABIExport("used_memory"), Desc: wasmir.ExportMemory, Index: uint32(second)})

	ctx := pipectx.New(nil, pipectx.LayoutMulti, false, false, false)
	require.NoError(t, MemoryIDVisitor{}.PreVFS(m, ctx))

	require.Equal(t, second, ctx.VFSMemID)
}

func TestMemoryIDVisitor_PreVFS_RemovesFlagVFSMemoryExport(t *testing.T) {
	m := wasmir.New()
	m.AddMemory(1, 0, false)
	fn := m.AddFunction(wasmir.FunctionType{})
	m.AddExport(wasmir.Export{Name: names.FlagVFSMemoryExport, Desc: wasmir.ExportFunc, Index: uint32(fn.ID)})

	ctx := pipectx.New(nil, pipectx.LayoutMulti, false, false, false)
	require.NoError(t, MemoryIDVisitor{}.PreVFS(m, ctx))

	require.Nil(t, m.FindExport(names.FlagVFSMemoryExport))
}

func TestMemoryIDVisitor_PreVFS_AmbiguousWithoutMarkerErrors(t *testing.T) {
	m := wasmir.New()
	m.AddMemory(1, 0, false)
	m.AddMemory(2, 0, false)

	ctx := pipectx.New(nil, pipectx.LayoutMulti, false, false, false)
	require.Error(t, MemoryIDVisitor{}.PreVFS(m, ctx))
}

// TestMemoryIDVisitor_AnchorRoundTrip verifies spec §8 property 2: a target's
// used-memory id survives stamping in pre-target, a simulated merge that
// renumbers ids, and recovery in post-combine via the anchor export.
func TestMemoryIDVisitor_AnchorRoundTrip(t *testing.T) {
	m := wasmir.New()
	m.AddMemory(1, 0, false)
	used := m.AddMemory(2, 0, false)

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, false, false, false)
	ctx.WasmMemoryHints = map[string]uint32{"app": uint32(used)}
	require.NoError(t, MemoryIDVisitor{}.PreTarget(m, ctx, "app"))
	require.Equal(t, used, ctx.Target("app").UsedMemID)

	anchorName := "__wasip1_vfs_memory_anchor_app_used"
	require.NotNil(t, m.FindExport(anchorName))

	// Simulate a merge renumbering every memory id up by one (e.g. a VFS
	// memory got prepended ahead of this target's memories).
	for i := range m.DataSegments {
		m.DataSegments[i].MemID++
	}
	for i, e := range m.Exports {
		if e.Desc == wasmir.ExportMemory {
			m.Exports[i].Index++
		}
	}

	ctx2 := pipectx.New([]string{"app"}, pipectx.LayoutMulti, false, false, false)
	require.NoError(t, MemoryIDVisitor{}.PostCombine(m, ctx2))
	require.Equal(t, used+1, ctx2.Target("app").UsedMemID)
	require.Nil(t, m.FindExport(anchorName))
}

func TestMemoryIDVisitor_PreTarget_HintOutOfRangeErrors(t *testing.T) {
	m := wasmir.New()
	m.AddMemory(1, 0, false)

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, false, false, false)
	ctx.WasmMemoryHints = map[string]uint32{"app": 5}
	require.Error(t, MemoryIDVisitor{}.PreTarget(m, ctx, "app"))
}

func TestMemoryIDVisitor_PostLowerMemory_RecordsSingleMemory(t *testing.T) {
	m := wasmir.New()
	m.AddMemory(1, 0, false)

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, false, false, false)
	ctx.Target("app").UsedMemID = 7

	require.NoError(t, MemoryIDVisitor{}.PostLowerMemory(m, ctx))
	require.Equal(t, wasmir.MemID(0), ctx.VFSMemID)
	require.Equal(t, wasmir.MemID(0), ctx.Target("app").UsedMemID)
}
