package passes

import (
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// MemoryBridge replaces the virtual layer's memory_copy_from/_to stub
// imports, once merged, with concrete bodies that issue a single
// memory.copy instruction between the matching (target, VFS) memory pair,
// direction chosen by the stub name (spec §4.3).
type MemoryBridge struct{ Base }

func (MemoryBridge) Name() string { return "memory-bridge" }

func (MemoryBridge) PostCombine(m *wasmir.Module, ctx *pipectx.Context) error {
	for _, target := range ctx.Targets {
		tm := ctx.Target(target)
		if err := connectCopyStub(m, names.MemoryCopyFromExport(target), tm.UsedMemID, ctx.VFSMemID); err != nil {
			return err
		}
		if err := connectCopyStub(m, names.MemoryCopyToExport(target), ctx.VFSMemID, tm.UsedMemID); err != nil {
			return err
		}
	}
	return nil
}

// connectCopyStub rewrites the function behind export exportName (expected
// to be an imported-function stub with signature (dst_off, src_off, len) ->
// ()) into a local function body issuing memory.copy(dst, src, from, to).
// It is a no-op when the export is absent, matching the idempotent-wiring
// posture applied everywhere in this package (spec §8 property 1) — a target
// that never declared the bridge stub simply has nothing to wire.
func connectCopyStub(m *wasmir.Module, exportName string, from, to wasmir.MemID) error {
	fid, err := m.ExportedFunc(exportName)
	if err != nil {
		return nil
	}
	sig := m.TypeOf(fid)
	if sig == nil {
		return nil
	}
	err = thunkBody(m, fid, *sig, func(body *wasmir.Body) {
		entry := body.Entry()
		entry.Instrs = []wasmir.Instr{
			// params: (dst_offset i32, src_offset i32, len i32)
			{Op: wasmir.OpLocalGet, LocalIdx: 0},
			{Op: wasmir.OpLocalGet, LocalIdx: 1},
			{Op: wasmir.OpLocalGet, LocalIdx: 2},
			{Misc: true, MiscSub: wasmir.MiscMemoryCopy, MemID2: to, MemID: from},
		}
	})
	if err != nil {
		return err
	}
	m.RemoveExport(exportName)
	return nil
}
