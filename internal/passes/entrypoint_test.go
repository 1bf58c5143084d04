package passes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

type testLogger struct{ warnings []string }

func (l *testLogger) Warn(args ...interface{}) {
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			l.warnings = append(l.warnings, s)
		}
	}
}

func TestReconcileMainVoid_StandardShapeIsUntouched(t *testing.T) {
	m := wasmir.New()
	mainVoid := m.AddFunction(wasmir.FunctionType{Results: []wasmir.ValueType{wasmir.ValueTypeI32}})

	start := m.AddFunction(wasmir.FunctionType{})
	start.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpCall, FuncID: mainVoid.ID}}
	m.AddExport(wasmir.Export{Name: names.StartExport("app"), Desc: wasmir.ExportFunc, Index: uint32(start.ID)})

	log := &testLogger{}
	require.NoError(t, reconcileMainVoid(m, "app", mainVoid.ID, log))

	require.Empty(t, log.warnings)
	require.Equal(t, wasmir.OpCall, start.Body.Entry().Instrs[0].Op)
	require.Equal(t, mainVoid.ID, start.Body.Entry().Instrs[0].FuncID)
}

func TestReconcileMainVoid_InlinedOutsideStart_StubsTheCallSite(t *testing.T) {
	m := wasmir.New()
	mainVoid := m.AddFunction(wasmir.FunctionType{Results: []wasmir.ValueType{wasmir.ValueTypeI32}})

	start := m.AddFunction(wasmir.FunctionType{})
	m.AddExport(wasmir.Export{Name: names.StartExport("app"), Desc: wasmir.ExportFunc, Index: uint32(start.ID)})

	other := m.AddFunction(wasmir.FunctionType{})
	other.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpCall, FuncID: mainVoid.ID}}

	log := &testLogger{}
	require.NoError(t, reconcileMainVoid(m, "app", mainVoid.ID, log))

	require.Len(t, log.warnings, 1)
	require.Equal(t, wasmir.OpI32Const, other.Body.Entry().Instrs[0].Op)
}

func TestReconcileMainVoid_CalledMoreThanOnce_StubsEveryCallSite(t *testing.T) {
	m := wasmir.New()
	mainVoid := m.AddFunction(wasmir.FunctionType{Results: []wasmir.ValueType{wasmir.ValueTypeI32}})

	start := m.AddFunction(wasmir.FunctionType{})
	start.Body.Entry().Instrs = []wasmir.Instr{
		{Op: wasmir.OpCall, FuncID: mainVoid.ID},
		{Op: wasmir.OpCall, FuncID: mainVoid.ID},
	}
	m.AddExport(wasmir.Export{Name: names.StartExport("app"), Desc: wasmir.ExportFunc, Index: uint32(start.ID)})

	log := &testLogger{}
	require.NoError(t, reconcileMainVoid(m, "app", mainVoid.ID, log))

	require.Len(t, log.warnings, 1)
	for _, in := range start.Body.Entry().Instrs {
		require.NotEqual(t, wasmir.OpCall, in.Op)
	}
}

func TestReconcileMainVoid_NeverCalledDirectly_StubsTheFunctionBody(t *testing.T) {
	m := wasmir.New()
	mainVoid := m.AddFunction(wasmir.FunctionType{Results: []wasmir.ValueType{wasmir.ValueTypeI32}})

	start := m.AddFunction(wasmir.FunctionType{})
	m.AddExport(wasmir.Export{Name: names.StartExport("app"), Desc: wasmir.ExportFunc, Index: uint32(start.ID)})

	log := &testLogger{}
	require.NoError(t, reconcileMainVoid(m, "app", mainVoid.ID, log))

	require.Len(t, log.warnings, 1)
	require.Equal(t, wasmir.OpI32Const, mainVoid.Body.Entry().Instrs[0].Op)
}

func TestConnectRenamedEntry_ThunksTheImportThroughToTheExport(t *testing.T) {
	m := wasmir.New()
	typeID := m.AddType(wasmir.FunctionType{})
	exportName := names.StartExport("app")

	m.Imports = append(m.Imports, wasmir.Import{Module: names.ImportModule, Name: exportName, Desc: wasmir.ImportFunc, TypeID: typeID})
	m.ImportedFuncCount = 1

	real := m.AddFunction(wasmir.FunctionType{})
	m.AddExport(wasmir.Export{Name: exportName, Desc: wasmir.ExportFunc, Index: uint32(real.ID)})

	require.NoError(t, connectRenamedEntry(m, exportName))

	require.False(t, m.IsImportedFunc(0))
}

func TestConnectRenamedEntry_NoMatchingImportIsANoop(t *testing.T) {
	m := wasmir.New()
	exportName := names.StartExport("app")
	real := m.AddFunction(wasmir.FunctionType{})
	m.AddExport(wasmir.Export{Name: exportName, Desc: wasmir.ExportFunc, Index: uint32(real.ID)})

	require.NoError(t, connectRenamedEntry(m, exportName))
}
