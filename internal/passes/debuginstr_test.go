package passes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

func addDebugHookStubs(m *wasmir.Module) (pre, post, wait, loop *wasmir.Function) {
	pre = m.AddFunction(wasmir.FunctionType{})
	post = m.AddFunction(wasmir.FunctionType{})
	wait = m.AddFunction(wasmir.FunctionType{})
	loop = m.AddFunction(wasmir.FunctionType{})
	m.AddExport(wasmir.Export{Name: names.DebugCallMemoryGrowPre, Desc: wasmir.ExportFunc, Index: uint32(pre.ID)})
	m.AddExport(wasmir.Export{Name: names.DebugCallMemoryGrow, Desc: wasmir.ExportFunc, Index: uint32(post.ID)})
	m.AddExport(wasmir.Export{Name: names.DebugAtomicWait, Desc: wasmir.ExportFunc, Index: uint32(wait.ID)})
	m.AddExport(wasmir.Export{Name: names.DebugLoop, Desc: wasmir.ExportFunc, Index: uint32(loop.ID)})
	return
}

func TestDebugInstr_PreVFS_SkippedWhenVerboseDisabled(t *testing.T) {
	m := wasmir.New()
	fn := m.AddFunction(wasmir.FunctionType{})
	fn.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpMemoryGrow}}

	ctx := pipectx.New(nil, pipectx.LayoutMulti, false, false, false)
	require.NoError(t, DebugInstr{}.PreVFS(m, ctx))
	require.Len(t, fn.Body.Entry().Instrs, 1)
}

func TestDebugInstr_WrapsMemoryGrowWithPreAndPostHooks(t *testing.T) {
	m := wasmir.New()
	pre, post, _, _ := addDebugHookStubs(m)

	fn := m.AddFunction(wasmir.FunctionType{})
	fn.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpMemoryGrow}}

	ctx := pipectx.New(nil, pipectx.LayoutMulti, false, true, false)
	require.NoError(t, DebugInstr{}.PreVFS(m, ctx))

	instrs := fn.Body.Entry().Instrs
	require.Len(t, instrs, 5)
	require.Equal(t, wasmir.OpI32Const, instrs[0].Op)
	require.Equal(t, wasmir.OpCall, instrs[1].Op)
	require.Equal(t, pre.ID, instrs[1].FuncID)
	require.Equal(t, wasmir.OpMemoryGrow, instrs[2].Op)
	require.Equal(t, wasmir.OpI32Const, instrs[3].Op)
	require.Equal(t, wasmir.OpCall, instrs[4].Op)
	require.Equal(t, post.ID, instrs[4].FuncID)
	// Same tag value bridges the pre/post pair.
	require.Equal(t, instrs[0].ConstI32, instrs[3].ConstI32)
}

func TestDebugInstr_PrefixesAtomicWaitWithLogCall(t *testing.T) {
	m := wasmir.New()
	_, _, wait, _ := addDebugHookStubs(m)

	fn := m.AddFunction(wasmir.FunctionType{})
	waitInstr := wasmir.Instr{Op: wasmir.OpNop, Atomic: true, AtomicSub: wasmir.AtomicWait32}
	fn.Body.Entry().Instrs = []wasmir.Instr{waitInstr}

	ctx := pipectx.New(nil, pipectx.LayoutMulti, false, true, false)
	require.NoError(t, DebugInstr{}.PreTarget(m, ctx, "app"))

	instrs := fn.Body.Entry().Instrs
	require.Len(t, instrs, 11)

	// addr/expected/timeout are captured into fresh locals...
	require.Equal(t, wasmir.OpLocalSet, instrs[0].Op)
	require.Equal(t, wasmir.OpLocalSet, instrs[1].Op)
	require.Equal(t, wasmir.OpLocalSet, instrs[2].Op)
	addrLocal, expectedLocal, timeoutLocal := instrs[2].LocalIdx, instrs[1].LocalIdx, instrs[0].LocalIdx
	require.Len(t, fn.Locals, 3)

	// ...replayed once to the log call...
	require.Equal(t, wasmir.OpLocalGet, instrs[3].Op)
	require.Equal(t, addrLocal, instrs[3].LocalIdx)
	require.Equal(t, wasmir.OpLocalGet, instrs[4].Op)
	require.Equal(t, expectedLocal, instrs[4].LocalIdx)
	require.Equal(t, wasmir.OpLocalGet, instrs[5].Op)
	require.Equal(t, timeoutLocal, instrs[5].LocalIdx)
	require.Equal(t, wasmir.OpCall, instrs[6].Op)
	require.Equal(t, wait.ID, instrs[6].FuncID)

	// ...and replayed again for the real atomic.wait.
	require.Equal(t, wasmir.OpLocalGet, instrs[7].Op)
	require.Equal(t, addrLocal, instrs[7].LocalIdx)
	require.Equal(t, wasmir.OpLocalGet, instrs[8].Op)
	require.Equal(t, expectedLocal, instrs[8].LocalIdx)
	require.Equal(t, wasmir.OpLocalGet, instrs[9].Op)
	require.Equal(t, timeoutLocal, instrs[9].LocalIdx)
	require.True(t, instrs[10].Atomic)
}

func TestDebugInstr_AtomicWait64UsesI64ExpectedLocal(t *testing.T) {
	m := wasmir.New()
	addDebugHookStubs(m)

	fn := m.AddFunction(wasmir.FunctionType{})
	fn.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpNop, Atomic: true, AtomicSub: wasmir.AtomicWait64}}

	ctx := pipectx.New(nil, pipectx.LayoutMulti, false, true, false)
	require.NoError(t, DebugInstr{}.PreTarget(m, ctx, "app"))

	require.Equal(t, []wasmir.ValueType{wasmir.ValueTypeI32, wasmir.ValueTypeI64, wasmir.ValueTypeI64}, fn.Locals)
}

func TestDebugInstr_PrefixesLoopWithTaggedCall(t *testing.T) {
	m := wasmir.New()
	_, _, _, loop := addDebugHookStubs(m)

	fn := m.AddFunction(wasmir.FunctionType{})
	bodySeq := fn.Body.NewSeq()
	fn.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpLoop, Targets: []wasmir.SeqID{bodySeq}}}

	ctx := pipectx.New(nil, pipectx.LayoutMulti, false, true, false)
	require.NoError(t, DebugInstr{}.PreVFS(m, ctx))

	instrs := fn.Body.Entry().Instrs
	require.Len(t, instrs, 3)
	require.Equal(t, wasmir.OpI32Const, instrs[0].Op)
	require.Equal(t, wasmir.OpCall, instrs[1].Op)
	require.Equal(t, loop.ID, instrs[1].FuncID)
	require.Equal(t, wasmir.OpLoop, instrs[2].Op)
}

func TestDebugInstr_MissingHookExportErrors(t *testing.T) {
	m := wasmir.New()
	fn := m.AddFunction(wasmir.FunctionType{})
	fn.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpMemoryGrow}}

	ctx := pipectx.New(nil, pipectx.LayoutMulti, false, true, false)
	require.Error(t, DebugInstr{}.PreVFS(m, ctx))
}
