package passes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasip1vfs/linker/internal/abi"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

func TestABIConnect_PreTarget_RenamesToPerTargetExportName(t *testing.T) {
	m := wasmir.New()
	typeID := m.AddType(wasmir.FunctionType{})
	m.Imports = append(m.Imports, wasmir.Import{Module: abi.ImportModule, Name: "fd_close", Desc: wasmir.ImportFunc, TypeID: typeID})
	m.ImportedFuncCount = 1

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, false, false, false)
	require.NoError(t, ABIConnect{}.PreTarget(m, ctx, "app"))

	require.Equal(t, names.ABIExport("app", "fd_close"), m.Imports[0].Name)
}

func TestABIConnect_PostCombine_RemovesOrphanWhenVFSHasNoRealImport(t *testing.T) {
	m := wasmir.New()
	exportName := names.ABIExport("app", "fd_close")
	fn := m.AddFunction(wasmir.FunctionType{})
	m.AddExport(wasmir.Export{Name: exportName, Desc: wasmir.ExportFunc, Index: uint32(fn.ID)})

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, false, false, false)
	require.NoError(t, ABIConnect{}.PostCombine(m, ctx))

	require.Nil(t, m.FindExport(exportName))
}

func TestABIConnect_PostCombine_ConnectsWhenVFSImportsIt(t *testing.T) {
	m := wasmir.New()
	typeID := m.AddType(wasmir.FunctionType{})
	m.Imports = append(m.Imports, wasmir.Import{Module: names.ImportModule, Name: names.ABIExport("app", "fd_close"), Desc: wasmir.ImportFunc, TypeID: typeID})
	m.ImportedFuncCount = 1
	m.Imports = append(m.Imports, wasmir.Import{Module: abi.ImportModule, Name: "fd_close", Desc: wasmir.ImportFunc, TypeID: typeID})
	m.ImportedFuncCount = 2

	exportName := names.ABIExport("app", "fd_close")
	m.AddExport(wasmir.Export{Name: exportName, Desc: wasmir.ExportFunc, Index: 1})

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, false, false, false)
	require.NoError(t, ABIConnect{}.PostCombine(m, ctx))

	// The former import is gone: the real fd_close import shifts down to
	// func 0, and the converted thunk (now func 1, the last function) calls
	// through to it.
	require.Nil(t, m.FindImport(names.ImportModule, exportName))
	require.True(t, m.IsImportedFunc(0))
	require.False(t, m.IsImportedFunc(1))
	thunk := m.FuncByID(1).Body.Entry().Instrs
	require.Equal(t, wasmir.OpCall, thunk[len(thunk)-1].Op)
	require.Equal(t, wasmir.FuncID(0), thunk[len(thunk)-1].FuncID)
	require.Nil(t, m.FindExport(exportName))
}
