package passes

import (
	"github.com/wasip1vfs/linker/internal/diag"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// Entrypoint wires each target's renamed _start/__main_void exports (spec
// §4.5). PreTarget renames the raw "_start"/"__main_void" exports to their
// prefixed forms so they survive the merge as distinct per-target symbols.
// PostCombine connects the virtual layer's matching imports to those renamed
// exports, handles the three __main_void call-count deviations, then removes
// the wrapped _start export so only the component-level interface remains.
type Entrypoint struct{ Base }

func (Entrypoint) Name() string { return "entrypoint" }

func (Entrypoint) PreTarget(m *wasmir.Module, ctx *pipectx.Context, target string) error {
	renameExport(m, "_start", names.StartExport(target))
	renameExport(m, "__main_void", names.MainVoidExport(target))
	return nil
}

func renameExport(m *wasmir.Module, from, to string) {
	e := m.FindExport(from)
	if e == nil {
		return
	}
	e.Name = to
}

func (Entrypoint) PostCombine(m *wasmir.Module, ctx *pipectx.Context) error {
	log := diag.NewLogger(ctx.DebugVerbose).For("post-combine", "")
	for _, target := range ctx.Targets {
		if err := connectRenamedEntry(m, names.StartExport(target)); err != nil {
			return diag.NewStructural("post-combine", target, err)
		}

		mainVoidFid, err := m.ExportedFunc(names.MainVoidExport(target))
		if err != nil {
			m.RemoveExport(names.StartExport(target))
			continue // target never declared __main_void
		}
		if err := reconcileMainVoid(m, target, mainVoidFid, log.WithField("target", target)); err != nil {
			return diag.NewStructural("post-combine", target, err)
		}
		if err := connectRenamedEntry(m, names.MainVoidExport(target)); err != nil {
			return diag.NewStructural("post-combine", target, err)
		}

		m.RemoveExport(names.StartExport(target))
	}
	return nil
}

// connectRenamedEntry finds the virtual layer's import of exportName (placed
// to reach into the target) and converts that import into a local thunk that
// forwards its parameters to the renamed export's function. The export itself
// is left in place; callers remove it.
func connectRenamedEntry(m *wasmir.Module, exportName string) error {
	fid, err := m.ExportedFunc(exportName)
	if err != nil {
		return nil
	}
	impFid := findImportByName(m, names.ImportModule, exportName)
	if impFid == wasmir.InvalidFuncID {
		return nil
	}
	sig := m.TypeOf(impFid)
	if sig == nil {
		return nil
	}
	return thunkBody(m, impFid, *sig, func(body *wasmir.Body) {
		// Converting the import renumbers every function id above it, so the
		// export's function is looked up again here.
		target, err := m.ExportedFunc(exportName)
		if err != nil {
			target = fid
		}
		entry := body.Entry()
		for i := range sig.Params {
			entry.Instrs = append(entry.Instrs, wasmir.Instr{Op: wasmir.OpLocalGet, LocalIdx: uint32(i)})
		}
		entry.Instrs = append(entry.Instrs, wasmir.Instr{Op: wasmir.OpCall, FuncID: target})
	})
}

func findImportByName(m *wasmir.Module, module, name string) wasmir.FuncID {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Desc != wasmir.ImportFunc {
			continue
		}
		if imp.Module == module && imp.Name == name {
			return wasmir.FuncID(n)
		}
		n++
	}
	return wasmir.InvalidFuncID
}

type logEntry interface {
	Warn(args ...interface{})
}

// reconcileMainVoid implements spec §4.5's three observed deviations from
// "called exactly once inside _start and nowhere else."
func reconcileMainVoid(m *wasmir.Module, target string, mainVoidFid wasmir.FuncID, log logEntry) error {
	startFid, err := m.ExportedFunc(names.StartExport(target))
	if err != nil {
		return nil
	}
	startFn := m.FuncByID(startFid)
	if startFn == nil {
		return nil
	}

	inStart := startFn.Body.CountCalls(mainVoidFid)
	totalCalls := 0
	for i := range m.Functions {
		if m.Functions[i].Body == nil {
			continue
		}
		totalCalls += m.Functions[i].Body.CountCalls(mainVoidFid)
	}
	elsewhere := totalCalls - inStart

	switch {
	case inStart == 1 && elsewhere == 0:
		// standard shape, nothing to do.
	case inStart == 0 && elsewhere == 1:
		log.Warn("__main_void called once outside _start (likely inlined); replacing that call site with a zero constant")
		replaceCallsWithZeroStub(m, mainVoidFid)
	case totalCalls > 1:
		log.Warn("__main_void called more than once; replacing every call site with a zero constant")
		replaceCallsWithZeroStub(m, mainVoidFid)
	case totalCalls == 0:
		log.Warn("__main_void never called directly (possible indirect call); rewiring its export to a zero-constant stub")
		stubFunction(m, mainVoidFid)
	}
	return nil
}

// replaceCallsWithZeroStub rewrites every direct call to target into a
// push-zero-constants sequence matching target's result arity, for the i32
// sentinel return convention __main_void uses.
func replaceCallsWithZeroStub(m *wasmir.Module, target wasmir.FuncID) {
	sig := m.TypeOf(target)
	for i := range m.Functions {
		body := m.Functions[i].Body
		if body == nil {
			continue
		}
		body.WalkSeqs(func(seq *wasmir.InstrSeq) {
			out := seq.Instrs[:0]
			for _, in := range seq.Instrs {
				if wasmir.IsCall(in.Op) && in.FuncID == target {
					out = append(out, zeroResults(sig)...)
					continue
				}
				out = append(out, in)
			}
			seq.Instrs = out
		})
	}
}

// stubFunction replaces a local function's body with one that pushes zero
// constants for each declared result, used when a function is only ever
// reached indirectly and no direct call site exists to patch.
func stubFunction(m *wasmir.Module, fid wasmir.FuncID) {
	fn := m.FuncByID(fid)
	if fn == nil {
		return
	}
	sig := m.TypeOf(fid)
	fn.Body = wasmir.NewBody()
	fn.Body.Entry().Instrs = zeroResults(sig)
}

func zeroResults(sig *wasmir.FunctionType) []wasmir.Instr {
	if sig == nil {
		return nil
	}
	out := make([]wasmir.Instr, 0, len(sig.Results))
	for _, vt := range sig.Results {
		switch vt {
		case wasmir.ValueTypeI64:
			out = append(out, wasmir.Instr{Op: wasmir.OpI64Const})
		case wasmir.ValueTypeF32:
			out = append(out, wasmir.Instr{Op: wasmir.OpF32Const})
		case wasmir.ValueTypeF64:
			out = append(out, wasmir.Instr{Op: wasmir.OpF64Const})
		default:
			out = append(out, wasmir.Instr{Op: wasmir.OpI32Const})
		}
	}
	return out
}
