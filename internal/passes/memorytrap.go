package passes

import (
	"github.com/wasip1vfs/linker/internal/diag"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// MemoryTrap implements the single-memory-layout pointer-translation
// optimization (spec §4.3 second half): before multi-memory lowering runs, the
// per-target memory_trap stub is given a body whose only job is to carry a
// store instruction the lowering optimizer will rebase; afterwards the
// rewritten offset is read back out and baked into memory_director, which
// then translates any target-local pointer into the consolidated address
// space for the cost of one addition.
type MemoryTrap struct{ Base }

func (MemoryTrap) Name() string { return "memory-trap" }

// PostCombine stamps memory_trap's body: i32.store8 of a zero byte at offset
// zero of the target's (still distinct) memory, returning zero. The offset
// starts at zero here only so the optimizer has something to rebase in
// PostLowerMemory — its value at this point carries no meaning.
func (MemoryTrap) PostCombine(m *wasmir.Module, ctx *pipectx.Context) error {
	if !ctx.SingleMemory() {
		return nil
	}
	for _, target := range ctx.Targets {
		exportName := names.MemoryTrapExport(target)
		fid, err := m.ExportedFunc(exportName)
		if err != nil {
			continue
		}
		sig := m.TypeOf(fid)
		if sig == nil {
			continue
		}
		tm := ctx.Target(target)
		err = thunkBody(m, fid, *sig, func(body *wasmir.Body) {
			entry := body.Entry()
			entry.Instrs = []wasmir.Instr{
				{Op: wasmir.OpI32Const, ConstI32: 0},
				{Op: wasmir.OpI32Const, ConstI32: 0},
				{Op: wasmir.OpI32Store8, MemID: tm.UsedMemID, Offset: 0, Align: 0},
				{Op: wasmir.OpI32Const, ConstI32: 0},
			}
		})
		if err != nil {
			return diag.NewStructural("post-combine", target, err)
		}
	}
	return nil
}

// PostLowerMemory extracts the base offset the lowering optimizer rebased
// memory_trap's store instruction to, strips the three instructions that
// carried it, and bakes the offset into memory_director. It also records the
// consolidated memory's page limits in ctx.MemorySizeRecord.
func (MemoryTrap) PostLowerMemory(m *wasmir.Module, ctx *pipectx.Context) error {
	if !ctx.SingleMemory() {
		return nil
	}
	if mem := m.MemoryByID(0); mem != nil {
		ctx.MemorySizeRecord = &pipectx.MemorySizeRecord{InitialPages: mem.Min, MaxPages: mem.Max, HasMax: mem.HasMax}
	}
	for _, target := range ctx.Targets {
		trapFid, err := m.ExportedFunc(names.MemoryTrapExport(target))
		if err != nil {
			continue
		}
		fn := m.FuncByID(trapFid)
		if fn == nil || fn.Body == nil {
			continue
		}

		entry := fn.Body.Entry()
		idx := -1
		var offset uint32
		for i, in := range entry.Instrs {
			if in.Op == wasmir.OpI32Store8 || in.Op == wasmir.OpI32Store {
				idx = i
				offset = in.Offset
				break
			}
		}
		if idx < 0 {
			return diag.NewStructural("post-lower-memory", target, errNoStoreInTrap(target))
		}

		tm := ctx.Target(target)
		tm.BaseOffset = int32(offset)
		tm.HasBaseOffset = true

		// Remove the (constant, store, constant) triple that carried the
		// offset; idx-1 is the stored-value constant, idx the store, idx+1
		// the constant returned. The address constant in front of them stays
		// and becomes the function's zero i32 return value.
		lo, hi := idx-1, idx+1
		if lo < 0 {
			lo = idx
		}
		if hi >= len(entry.Instrs) {
			hi = len(entry.Instrs) - 1
		}
		entry.Instrs = append(entry.Instrs[:lo], entry.Instrs[hi+1:]...)
		m.RemoveExport(names.MemoryTrapExport(target))

		if err := wireDirector(m, names.MemoryDirectorExport(target), tm.BaseOffset); err != nil {
			return diag.NewStructural("post-lower-memory", target, err)
		}
	}
	return nil
}

func wireDirector(m *wasmir.Module, exportName string, baseOffset int32) error {
	fid, err := m.ExportedFunc(exportName)
	if err != nil {
		return nil
	}
	sig := m.TypeOf(fid)
	if sig == nil {
		return nil
	}
	if err := thunkBody(m, fid, *sig, func(body *wasmir.Body) {
		entry := body.Entry()
		entry.Instrs = []wasmir.Instr{
			{Op: wasmir.OpLocalGet, LocalIdx: 0},
			{Op: wasmir.OpI32Const, ConstI32: baseOffset},
			{Op: wasmir.OpI32Add},
		}
	}); err != nil {
		return err
	}
	m.RemoveExport(exportName)
	return nil
}

func errNoStoreInTrap(target string) error {
	return &noStoreInTrapError{target: target}
}

type noStoreInTrapError struct{ target string }

func (e *noStoreInTrapError) Error() string {
	return "memory_trap for target " + e.target + " has no store instruction after lowering"
}
