package passes

import (
	"github.com/wasip1vfs/linker/internal/abi"
	"github.com/wasip1vfs/linker/internal/diag"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// Threads implements root/self thread-spawn routing (spec §4.7). A
// synthesized real_thread_spawn function branches on the library-provided
// IsRootSpawn predicate between the real component-model thread-spawn
// capability and the virtual layer's own internal scheduler; every call to
// the standard ABI thread-spawn import is rewritten to go through it. Targets
// exporting wasi_thread_start get that export renamed per target and
// re-exported through the component boundary.
type Threads struct{ Base }

func (Threads) Name() string { return "threads" }

func (Threads) PreTarget(m *wasmir.Module, ctx *pipectx.Context, target string) error {
	if !ctx.Threads {
		return nil
	}
	renameExport(m, "wasi_thread_start", names.WasiThreadStartExport(target))
	return nil
}

func (Threads) PostCombine(m *wasmir.Module, ctx *pipectx.Context) error {
	if !ctx.Threads {
		return nil
	}

	realSpawnFid := findImportByName(m, abi.ComponentThreadsModule, abi.ThreadSpawnName)
	if realSpawnFid == wasmir.InvalidFuncID {
		return diag.NewStructural("post-combine", "", errMissingImport(abi.ComponentThreadsModule, abi.ThreadSpawnName))
	}
	isRootFid, err := m.ExportedFunc(names.IsRootSpawn)
	if err != nil {
		return diag.NewStructural("post-combine", "", err)
	}
	selfSpawnFid := findImportByName(m, names.ImportModule, "self_spawn")
	if selfSpawnFid == wasmir.InvalidFuncID {
		return diag.NewStructural("post-combine", "", errMissingImport(names.ImportModule, "self_spawn"))
	}

	sig := m.TypeOf(realSpawnFid)
	if sig == nil {
		return diag.NewStructural("post-combine", "", errMissingImport(abi.ComponentThreadsModule, abi.ThreadSpawnName))
	}

	realThreadSpawn := m.AddFunction(*sig)
	buildRealThreadSpawn(realThreadSpawn.Body, *sig, isRootFid, realSpawnFid, selfSpawnFid)

	abiSpawnFid := findImportByName(m, abi.ImportModule, abi.ThreadSpawnName)
	if abiSpawnFid != wasmir.InvalidFuncID {
		for i := range m.Functions {
			if m.Functions[i].Body == nil {
				continue
			}
			m.Functions[i].Body.RewriteCalls(abiSpawnFid, realThreadSpawn.ID)
		}
	}

	for _, target := range ctx.Targets {
		spawnFid, err := m.ExportedFunc(names.WasiThreadStartExport(target))
		if err != nil {
			continue
		}
		m.AddExport(wasmir.Export{Name: "wasi_thread_start_" + target, Desc: wasmir.ExportFunc, Index: uint32(spawnFid)})
	}
	return nil
}

// buildRealThreadSpawn synthesizes: if (is_root_spawn()) { return
// real_spawn(args) } else { return self_spawn(args) }, forwarding every
// parameter verbatim to whichever branch is taken.
func buildRealThreadSpawn(body *wasmir.Body, sig wasmir.FunctionType, isRootFid, realFid, selfFid wasmir.FuncID) {
	entry := body.Entry()

	thenID := body.NewSeq()
	then := body.Seq(thenID)
	for i := range sig.Params {
		then.Instrs = append(then.Instrs, wasmir.Instr{Op: wasmir.OpLocalGet, LocalIdx: uint32(i)})
	}
	then.Instrs = append(then.Instrs, wasmir.Instr{Op: wasmir.OpReturnCall, FuncID: realFid})

	elseID := body.NewSeq()
	els := body.Seq(elseID)
	for i := range sig.Params {
		els.Instrs = append(els.Instrs, wasmir.Instr{Op: wasmir.OpLocalGet, LocalIdx: uint32(i)})
	}
	els.Instrs = append(els.Instrs, wasmir.Instr{Op: wasmir.OpReturnCall, FuncID: selfFid})

	entry.Instrs = append(entry.Instrs,
		wasmir.Instr{Op: wasmir.OpCall, FuncID: isRootFid},
		wasmir.Instr{Op: wasmir.OpIf, Targets: []wasmir.SeqID{thenID}, HasElse: true, ElseTarget: elseID},
	)
}

func errMissingImport(module, name string) error {
	return &missingImportError{module: module, name: name}
}

type missingImportError struct{ module, name string }

func (e *missingImportError) Error() string {
	return "missing expected import " + e.module + "." + e.name
}
