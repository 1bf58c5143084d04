package passes

import (
	"sort"

	"github.com/wasip1vfs/linker/internal/diag"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// wasmPageSize is the Wasm linear memory page size in bytes.
const wasmPageSize = 65536

// ResetGen synthesizes, per resettable target, a reset function that
// reproduces the target's initial state: mutable globals are set back to
// their compile-time initializer, data-segment ranges are zeroed then
// refilled from a private save area populated at first startup, and the
// target's original start-section function (if any) runs last (spec §4.4).
//
// It must run after GlobalIDVisitor and StartFuncIDVisitor have populated
// ctx.Target(target).MutableGlobals/StartFunc in the same post-combine stage.
type ResetGen struct{ Base }

func (ResetGen) Name() string { return "reset-gen" }

func (ResetGen) PostCombine(m *wasmir.Module, ctx *pipectx.Context) error {
	log := diag.NewLogger(ctx.DebugVerbose).For("post-combine", "")
	for _, target := range ctx.Targets {
		importName := names.ResetImport(target)
		fid, err := m.ExportedFunc(importName)
		if err != nil {
			continue // target did not opt into resettability
		}
		sig := m.TypeOf(fid)
		if sig == nil {
			continue
		}
		tm := ctx.Target(target)

		// Converting the import renumbers every function id above it, so it
		// happens before any function id below is taken.
		resetFn, err := m.ConvertImportFuncToLocal(fid)
		if err != nil {
			return diag.NewStructural("post-combine", target, err)
		}

		segs := activeSegments(m, tm.UsedMemID)
		saveMemID, segSaveOffsets, _ := allocateSaveArea(m, segs)
		buildResetBody(resetFn.Body, m, tm, segs, segSaveOffsets, saveMemID)

		initFn := m.AddFunction(wasmir.FunctionType{})
		buildSaveInitializer(initFn.Body, segs, segSaveOffsets, tm.UsedMemID, saveMemID)

		startFid := initFn.ID
		if ctx.Threads {
			onceFid, err := m.ExportedFunc(names.ResetOnThreadOnce)
			if err == nil {
				onceGate := m.AddFunction(wasmir.FunctionType{})
				buildOnceGatedCall(onceGate.Body, onceFid, initFn.ID)
				startFid = onceGate.ID
			} else {
				log.WithField("target", target).Warn("reset pass: threads enabled but no run-once hook found; save-area initializer will re-run on thread spawn")
			}
		}

		startWrap := m.AddFunction(wasmir.FunctionType{})
		buildStartWrapper(startWrap.Body, startFid)
		wireStartPrelude(m, startWrap.ID)

		stripDataDrops(m)
	}
	return nil
}

func activeSegments(m *wasmir.Module, mem wasmir.MemID) []*wasmir.DataSegment {
	var out []*wasmir.DataSegment
	for i := range m.DataSegments {
		seg := &m.DataSegments[i]
		if seg.Active && seg.MemID == mem && seg.Offset.IsSimpleConst() {
			out = append(out, seg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset.I32 < out[j].Offset.I32 })
	return out
}

// allocateSaveArea creates the private save-area memory sized to
// ceil(total-saved-bytes / 64 KiB) pages and returns, per segment, its byte
// offset inside that memory.
func allocateSaveArea(m *wasmir.Module, segs []*wasmir.DataSegment) (wasmir.MemID, map[*wasmir.DataSegment]uint32, uint32) {
	offsets := make(map[*wasmir.DataSegment]uint32, len(segs))
	var total uint32
	for _, seg := range segs {
		offsets[seg] = total
		total += uint32(len(seg.Bytes))
	}
	pages := (total + wasmPageSize - 1) / wasmPageSize
	if pages == 0 {
		pages = 1
	}
	id := m.AddMemory(pages, pages, true)
	return id, offsets, total
}

// buildSaveInitializer copies every saved segment's current (first-startup)
// bytes from the target's memory into the save area.
func buildSaveInitializer(body *wasmir.Body, segs []*wasmir.DataSegment, offs map[*wasmir.DataSegment]uint32, targetMem, saveMem wasmir.MemID) {
	entry := body.Entry()
	for _, seg := range segs {
		entry.Instrs = append(entry.Instrs,
			wasmir.Instr{Op: wasmir.OpI32Const, ConstI32: int32(offs[seg])},
			wasmir.Instr{Op: wasmir.OpI32Const, ConstI32: seg.Offset.I32},
			wasmir.Instr{Op: wasmir.OpI32Const, ConstI32: int32(len(seg.Bytes))},
			wasmir.Instr{Misc: true, MiscSub: wasmir.MiscMemoryCopy, MemID2: saveMem, MemID: targetMem},
		)
	}
}

func buildOnceGatedCall(body *wasmir.Body, onceFid, initFid wasmir.FuncID) {
	entry := body.Entry()
	then := body.NewSeq()
	body.Seq(then).Instrs = append(body.Seq(then).Instrs, wasmir.Instr{Op: wasmir.OpCall, FuncID: initFid})
	entry.Instrs = append(entry.Instrs,
		wasmir.Instr{Op: wasmir.OpCall, FuncID: onceFid},
		wasmir.Instr{Op: wasmir.OpIf, Targets: []wasmir.SeqID{then}},
	)
}

// buildResetBody fills reset's body: restore mutable globals, zero the gaps
// around the target's data segments, copy segment bytes back from the save
// area, then invoke the target's original start function if any.
func buildResetBody(body *wasmir.Body, m *wasmir.Module, tm *pipectx.TargetMemory, segs []*wasmir.DataSegment, offs map[*wasmir.DataSegment]uint32, saveMem wasmir.MemID) {
	entry := body.Entry()

	for _, gid := range tm.MutableGlobals {
		g := m.GlobalByID(gid)
		if g == nil || !g.Init.IsSimpleConst() {
			continue
		}
		entry.Instrs = append(entry.Instrs,
			constForInit(g.Init),
			wasmir.Instr{Op: wasmir.OpGlobalSet, GlobalID: gid},
		)
	}

	mem := m.MemoryByID(tm.UsedMemID)
	var memBytes int32
	if mem != nil {
		memBytes = int32(mem.Min * wasmPageSize)
	}

	cursor := int32(0)
	for _, seg := range segs {
		if gap := seg.Offset.I32 - cursor; gap > 0 {
			entry.Instrs = append(entry.Instrs, zeroFill(tm.UsedMemID, cursor, gap)...)
		}
		cursor = seg.Offset.I32 + int32(len(seg.Bytes))
	}
	if gap := memBytes - cursor; gap > 0 {
		entry.Instrs = append(entry.Instrs, zeroFill(tm.UsedMemID, cursor, gap)...)
	}

	for _, seg := range segs {
		entry.Instrs = append(entry.Instrs,
			wasmir.Instr{Op: wasmir.OpI32Const, ConstI32: seg.Offset.I32},
			wasmir.Instr{Op: wasmir.OpI32Const, ConstI32: int32(offs[seg])},
			wasmir.Instr{Op: wasmir.OpI32Const, ConstI32: int32(len(seg.Bytes))},
			wasmir.Instr{Misc: true, MiscSub: wasmir.MiscMemoryCopy, MemID2: tm.UsedMemID, MemID: saveMem},
		)
	}

	if tm.HasStartFunc {
		entry.Instrs = append(entry.Instrs, wasmir.Instr{Op: wasmir.OpCall, FuncID: tm.StartFunc})
	}
}

func zeroFill(mem wasmir.MemID, offset, length int32) []wasmir.Instr {
	return []wasmir.Instr{
		{Op: wasmir.OpI32Const, ConstI32: offset},
		{Op: wasmir.OpI32Const, ConstI32: 0},
		{Op: wasmir.OpI32Const, ConstI32: length},
		{Misc: true, MiscSub: wasmir.MiscMemoryFill, MemID: mem},
	}
}

func constForInit(c wasmir.ConstExpr) wasmir.Instr {
	switch c.Op {
	case wasmir.OpI64Const:
		return wasmir.Instr{Op: wasmir.OpI64Const, ConstI64: c.I64}
	case wasmir.OpF32Const:
		return wasmir.Instr{Op: wasmir.OpF32Const, ConstF32: c.F32}
	case wasmir.OpF64Const:
		return wasmir.Instr{Op: wasmir.OpF64Const, ConstF64: c.F64}
	default:
		return wasmir.Instr{Op: wasmir.OpI32Const, ConstI32: c.I32}
	}
}

// buildStartWrapper calls the save-area initializer (possibly once-gated)
// then the prior synthesized start function, matching spec §4.4's "the
// synthesised start-section calls this initializer then the prior start
// section."
func buildStartWrapper(body *wasmir.Body, initOrGateFid wasmir.FuncID) {
	entry := body.Entry()
	entry.Instrs = append(entry.Instrs, wasmir.Instr{Op: wasmir.OpCall, FuncID: initOrGateFid})
}

// wireStartPrelude threads newFuncStart in front of the module's existing
// start function (if any), becoming the new start function otherwise.
func wireStartPrelude(m *wasmir.Module, newFuncStart wasmir.FuncID) {
	fn := m.FuncByID(newFuncStart)
	if fn != nil && m.HasStartFunc {
		fn.Body.Entry().Instrs = append(fn.Body.Entry().Instrs, wasmir.Instr{Op: wasmir.OpCall, FuncID: m.StartFunc})
	}
	m.StartFunc = newFuncStart
	m.HasStartFunc = true
}

// stripDataDrops removes every data.drop instruction from every local
// function so data segments remain re-appliable across resets (spec §4.4).
func stripDataDrops(m *wasmir.Module) {
	for i := range m.Functions {
		if m.Functions[i].Body == nil {
			continue
		}
		m.Functions[i].Body.WalkSeqs(func(seq *wasmir.InstrSeq) {
			out := seq.Instrs[:0]
			for _, in := range seq.Instrs {
				if in.Misc && in.MiscSub == wasmir.MiscDataDrop {
					continue
				}
				out = append(out, in)
			}
			seq.Instrs = out
		})
	}
}
