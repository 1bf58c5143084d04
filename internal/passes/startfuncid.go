package passes

import (
	"github.com/wasip1vfs/linker/internal/diag"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// StartFuncIDVisitor finds each target's renamed __start export in
// post-combine, records the function id keyed by target name, then deletes
// its companion _anchor export (spec §4.2). The __start export itself is left
// for the entrypoint pass, which removes it later in the same stage.
type StartFuncIDVisitor struct{ Base }

func (StartFuncIDVisitor) Name() string { return "start-func-id-visitor" }

func (StartFuncIDVisitor) PostCombine(m *wasmir.Module, ctx *pipectx.Context) error {
	for _, target := range ctx.Targets {
		exportName := names.StartExport(target)
		fid, err := m.ExportedFunc(exportName)
		if err != nil {
			return diag.NewStructural("post-combine", target, err)
		}
		tm := ctx.Target(target)
		tm.StartFunc = fid
		tm.HasStartFunc = true
		// Deletion happens here (structural bookkeeping), but the actual
		// rewiring of this export into the virtual layer's matching import
		// is the entrypoint pass's job (spec §4.5) — it runs later in the
		// same stage and still needs StartExport present, so this visitor
		// only removes the *anchor*, leaving the real export for
		// entrypoint.go to consume and remove.
		m.RemoveExport(names.StartAnchorExport(target))
	}
	return nil
}
