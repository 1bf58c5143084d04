package passes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

func TestStartFuncIDVisitor_PostCombine_RecordsStartFuncAndRemovesAnchor(t *testing.T) {
	m := wasmir.New()
	startFn := m.AddFunction(wasmir.FunctionType{})
	m.AddExport(wasmir.Export{Name: names.StartExport("app"), Desc: wasmir.ExportFunc, Index: uint32(startFn.ID)})
	m.AddExport(wasmir.Export{Name: names.StartAnchorExport("app"), Desc: wasmir.ExportFunc, Index: uint32(startFn.ID)})

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, false, false, false)
	require.NoError(t, StartFuncIDVisitor{}.PostCombine(m, ctx))

	tm := ctx.Target("app")
	require.True(t, tm.HasStartFunc)
	require.Equal(t, startFn.ID, tm.StartFunc)

	require.Nil(t, m.FindExport(names.StartAnchorExport("app")))
	require.NotNil(t, m.FindExport(names.StartExport("app")))
}

func TestStartFuncIDVisitor_PostCombine_MissingStartExportErrors(t *testing.T) {
	m := wasmir.New()
	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, false, false, false)
	require.Error(t, StartFuncIDVisitor{}.PostCombine(m, ctx))
}

func TestStartFuncIDVisitor_PostCombine_MultipleTargetsEachRecorded(t *testing.T) {
	m := wasmir.New()
	appFn := m.AddFunction(wasmir.FunctionType{})
	otherFn := m.AddFunction(wasmir.FunctionType{})
	m.AddExport(wasmir.Export{Name: names.StartExport("app"), Desc: wasmir.ExportFunc, Index: uint32(appFn.ID)})
	m.AddExport(wasmir.Export{Name: names.StartExport("other"), Desc: wasmir.ExportFunc, Index: uint32(otherFn.ID)})

	ctx := pipectx.New([]string{"app", "other"}, pipectx.LayoutMulti, false, false, false)
	require.NoError(t, StartFuncIDVisitor{}.PostCombine(m, ctx))

	require.Equal(t, appFn.ID, ctx.Target("app").StartFunc)
	require.Equal(t, otherFn.ID, ctx.Target("other").StartFunc)
}
