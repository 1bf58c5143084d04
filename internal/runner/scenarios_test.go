// scenarios_test.go captures spec §8's E1-E6 scenario descriptions as
// fixture-module-level checks rather than full end-to-end component
// execution (running an actual compiled component needs a wasm runtime this
// package doesn't embed). E1, E2, E4 need an executing guest to observe I/O
// and thread interleaving and aren't practical to assert at this level; E6
// is exercised directly against LibraryPresenceChecker in
// internal/passes/checker_test.go. E3 and E5 are pass-level structural
// properties this package can assert without executing anything.
package runner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/passes"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// TestScenarioE3_ResetGenRestoresCounterToItsInitializer builds a minimal
// resettable target with a mutable global counter, runs ResetGen the way the
// pipeline would after GlobalIDVisitor and StartFuncIDVisitor have already
// populated ctx, and asserts the synthesized reset function's first act is
// setting the counter back to its compile-time initial value — the
// structural guarantee behind "a subsequent run observes the counter back
// at zero" (spec scenario E3).
func TestScenarioE3_ResetGenRestoresCounterToItsInitializer(t *testing.T) {
	m := wasmir.New()
	mem := m.AddMemory(1, 0, false)

	m.Globals = append(m.Globals, wasmir.Global{
		Type: wasmir.GlobalType{ValType: wasmir.ValueTypeI32, Mutable: true},
		Init: wasmir.ConstExpr{Op: wasmir.OpI32Const, I32: 0},
	})
	counterGID := wasmir.GlobalID(0)

	startFn := m.AddFunction(wasmir.FunctionType{})
	startFn.Body.Entry().Instrs = []wasmir.Instr{
		{Op: wasmir.OpGlobalGet, GlobalID: counterGID},
		{Op: wasmir.OpI32Const, ConstI32: 1},
		{Op: wasmir.OpGlobalSet, GlobalID: counterGID},
	}

	typeID := m.AddType(wasmir.FunctionType{})
	resetImportName := names.ResetImport("app")
	m.Imports = append(m.Imports, wasmir.Import{Module: "env", Name: resetImportName, Desc: wasmir.ImportFunc, TypeID: typeID})
	m.ImportedFuncCount = 1
	m.AddExport(wasmir.Export{Name: resetImportName, Desc: wasmir.ExportFunc, Index: 0})

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, false, false, false)
	tm := ctx.Target("app")
	tm.UsedMemID = mem
	tm.MutableGlobals = []wasmir.GlobalID{counterGID}
	tm.StartFunc = startFn.ID
	tm.HasStartFunc = true

	require.NoError(t, passes.ResetGen{}.PostCombine(m, ctx))

	// The converted import is appended after the existing local function, so
	// the reset function is found through its export rather than at id 0.
	require.False(t, m.IsImportedFunc(0))
	resetFid, err := m.ExportedFunc(resetImportName)
	require.NoError(t, err)
	resetFn := m.FuncByID(resetFid)
	require.NotNil(t, resetFn)

	instrs := resetFn.Body.Entry().Instrs
	require.GreaterOrEqual(t, len(instrs), 2)
	require.Equal(t, wasmir.OpI32Const, instrs[0].Op)
	require.Equal(t, int32(0), instrs[0].ConstI32)
	require.Equal(t, wasmir.OpGlobalSet, instrs[1].Op)
	require.Equal(t, counterGID, instrs[1].GlobalID)
}

// TestScenarioE5_InlinedMainVoidBecomesAZeroStub builds a target whose
// __main_void is called once, but from outside _start rather than inside it
// (the "inlined" deviation), and asserts reconcileMainVoid replaces that
// call site with a zero constant rather than leaving a dangling direct call
// — the structural guarantee behind "produced component still yields exit
// code 0" (spec scenario E5): __main_void's i32 result convention means a
// zero-pushing stub is indistinguishable from a successful exit status to
// whatever reads it.
func TestScenarioE5_InlinedMainVoidBecomesAZeroStub(t *testing.T) {
	m := wasmir.New()
	mainVoid := m.AddFunction(wasmir.FunctionType{Results: []wasmir.ValueType{wasmir.ValueTypeI32}})

	start := m.AddFunction(wasmir.FunctionType{})
	m.AddExport(wasmir.Export{Name: names.StartExport("app"), Desc: wasmir.ExportFunc, Index: uint32(start.ID)})

	inlinedSite := m.AddFunction(wasmir.FunctionType{Results: []wasmir.ValueType{wasmir.ValueTypeI32}})
	inlinedSite.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpCall, FuncID: mainVoid.ID}}
	start.Body.Entry().Instrs = []wasmir.Instr{{Op: wasmir.OpCall, FuncID: inlinedSite.ID}}

	m.AddExport(wasmir.Export{Name: names.MainVoidExport("app"), Desc: wasmir.ExportFunc, Index: uint32(mainVoid.ID)})

	ctx := pipectx.New([]string{"app"}, pipectx.LayoutMulti, false, false, false)
	require.NoError(t, passes.Entrypoint{}.PostCombine(m, ctx))

	// The only call to __main_void was outside _start (inside inlinedSite,
	// which _start calls transitively but never calls mainVoid directly);
	// that call site is replaced with a zero constant, and __main_void's
	// export-level wiring still resolves without error.
	require.Equal(t, wasmir.OpI32Const, inlinedSite.Body.Entry().Instrs[0].Op)
	require.Equal(t, int32(0), inlinedSite.Body.Entry().Instrs[0].ConstI32)
}
