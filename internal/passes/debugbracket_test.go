package passes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

func newDebugHooks(m *wasmir.Module) (start, end *wasmir.Function) {
	start = m.AddFunction(wasmir.FunctionType{})
	end = m.AddFunction(wasmir.FunctionType{})
	m.AddExport(wasmir.Export{Name: names.DebugCallFunctionStart, Desc: wasmir.ExportFunc, Index: uint32(start.ID)})
	m.AddExport(wasmir.Export{Name: names.DebugCallFunctionEnd, Desc: wasmir.ExportFunc, Index: uint32(end.ID)})
	return start, end
}

func TestDebugBracket_PostAllOptimize_SkippedWhenDebugDisabled(t *testing.T) {
	m := wasmir.New()
	newDebugHooks(m)
	fn := m.AddFunction(wasmir.FunctionType{})
	fn.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpReturn}}

	ctx := pipectx.New(nil, pipectx.LayoutMulti, false, false, false)
	changed, err := DebugBracket{}.PostAllOptimize(m, ctx)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, []wasmir.Instr{{Op: wasmir.OpReturn}}, fn.Body.Entry().Instrs)
}

func TestDebugBracket_PostAllOptimize_WrapsReturnAndFallthrough(t *testing.T) {
	m := wasmir.New()
	start, end := newDebugHooks(m)

	withReturn := m.AddFunction(wasmir.FunctionType{})
	withReturn.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpReturn}}

	fallthroughFn := m.AddFunction(wasmir.FunctionType{})
	fallthroughFn.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpNop}}

	ctx := pipectx.New(nil, pipectx.LayoutMulti, false, true, false)
	changed, err := DebugBracket{}.PostAllOptimize(m, ctx)
	require.NoError(t, err)
	require.True(t, changed)

	wi := withReturn.Body.Entry().Instrs
	require.Equal(t, wasmir.OpCall, wi[1].Op)
	require.Equal(t, start.ID, wi[1].FuncID)
	require.Equal(t, wasmir.OpCall, wi[len(wi)-2].Op)
	require.Equal(t, end.ID, wi[len(wi)-2].FuncID)
	require.Equal(t, wasmir.OpReturn, wi[len(wi)-1].Op)

	ft := fallthroughFn.Body.Entry().Instrs
	require.Equal(t, wasmir.OpCall, ft[1].Op)
	require.Equal(t, start.ID, ft[1].FuncID)
	require.Equal(t, wasmir.OpCall, ft[len(ft)-1].Op)
	require.Equal(t, end.ID, ft[len(ft)-1].FuncID)
}

func TestDebugBracket_PostAllOptimize_ExcludesHooksAndStartSubtree(t *testing.T) {
	m := wasmir.New()
	start, end := newDebugHooks(m)
	start.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpNop}}
	end.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpNop}}

	startup := m.AddFunction(wasmir.FunctionType{})
	startup.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpNop}}
	m.StartFunc = startup.ID
	m.HasStartFunc = true

	ctx := pipectx.New(nil, pipectx.LayoutMulti, false, true, false)
	_, err := DebugBracket{}.PostAllOptimize(m, ctx)
	require.NoError(t, err)

	require.Equal(t, []wasmir.Instr{{Op: wasmir.OpNop}}, start.Body.Entry().Instrs)
	require.Equal(t, []wasmir.Instr{{Op: wasmir.OpNop}}, end.Body.Entry().Instrs)
	require.Equal(t, []wasmir.Instr{{Op: wasmir.OpNop}}, startup.Body.Entry().Instrs)
}

func TestDebugBracket_PostAllOptimize_IsIdempotentAcrossSweeps(t *testing.T) {
	m := wasmir.New()
	newDebugHooks(m)
	fn := m.AddFunction(wasmir.FunctionType{})
	fn.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpReturn}}

	ctx := pipectx.New(nil, pipectx.LayoutMulti, false, true, false)
	changed1, err := DebugBracket{}.PostAllOptimize(m, ctx)
	require.NoError(t, err)
	require.True(t, changed1)

	changed2, err := DebugBracket{}.PostAllOptimize(m, ctx)
	require.NoError(t, err)
	require.False(t, changed2)
}
