package passes

import (
	"github.com/wasip1vfs/linker/internal/diag"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// DebugBracket wraps every instrumentable function body with
// debug_call_function_start(id)/debug_call_function_end(id) calls when
// verbose debug is enabled (spec §4.9). Function ids are only stable once the
// external optimizer has made its final post-link pass over the module, so
// this must run as the very last post_all_optimize pass — after DebugInstr
// and after any optimizer invocation the runner performs in that stage.
type DebugBracket struct{ Base }

func (DebugBracket) Name() string { return "debug-bracket" }

func (DebugBracket) PostAllOptimize(m *wasmir.Module, ctx *pipectx.Context) (bool, error) {
	if !ctx.DebugVerbose {
		return false, nil
	}

	startFid, err := m.ExportedFunc(names.DebugCallFunctionStart)
	if err != nil {
		return false, diag.NewStructural("post-all-optimize", "", err)
	}
	endFid, err := m.ExportedFunc(names.DebugCallFunctionEnd)
	if err != nil {
		return false, diag.NewStructural("post-all-optimize", "", err)
	}

	// The hooks themselves, and anything they transitively call, must never
	// be bracketed — that would recurse into the instrumentation forever.
	// Likewise the start-section subtree runs before any instrumentation
	// could possibly be meaningful to trace.
	excluded := m.ReachableFuncs(startFid, endFid)
	if m.HasStartFunc {
		for id := range m.ReachableFuncs(m.StartFunc) {
			excluded[id] = true
		}
	}

	changed := false
	for i := range m.Functions {
		fn := &m.Functions[i]
		if fn.Body == nil || excluded[fn.ID] || alreadyBracketed(fn.Body, startFid) {
			continue
		}
		bracketFunction(fn, startFid, endFid)
		changed = true
	}
	return changed, nil
}

// alreadyBracketed reports whether fn's entry sequence already begins with a
// call to startFid, making this pass idempotent across repeated
// post_all_optimize sweeps (spec §4.1's fixed-point loop may re-run every
// pass in a sweep even when only one of them reported a change).
func alreadyBracketed(body *wasmir.Body, startFid wasmir.FuncID) bool {
	entry := body.Entry()
	if len(entry.Instrs) < 2 {
		return false
	}
	return entry.Instrs[0].Op == wasmir.OpI32Const &&
		entry.Instrs[1].Op == wasmir.OpCall && entry.Instrs[1].FuncID == startFid
}

// bracketFunction prepends a debug_call_function_start(id) call to the
// entry sequence and inserts a debug_call_function_end(id) call immediately
// before every return/return_call/return_call_indirect in the body,
// including implicit fallthrough at the end of the entry sequence.
func bracketFunction(fn *wasmir.Function, startFid, endFid wasmir.FuncID) {
	id := int32(fn.ID)

	fn.Body.WalkSeqs(func(seq *wasmir.InstrSeq) {
		out := make([]wasmir.Instr, 0, len(seq.Instrs)+2)
		for _, in := range seq.Instrs {
			if wasmir.IsReturnLike(in.Op) {
				out = append(out,
					wasmir.Instr{Op: wasmir.OpI32Const, ConstI32: id},
					wasmir.Instr{Op: wasmir.OpCall, FuncID: endFid},
				)
			}
			out = append(out, in)
		}
		seq.Instrs = out
	})

	entry := fn.Body.Entry()
	if !endsInReturnLike(entry) {
		entry.Instrs = append(entry.Instrs,
			wasmir.Instr{Op: wasmir.OpI32Const, ConstI32: id},
			wasmir.Instr{Op: wasmir.OpCall, FuncID: endFid},
		)
	}

	entry.Instrs = append([]wasmir.Instr{
		{Op: wasmir.OpI32Const, ConstI32: id},
		{Op: wasmir.OpCall, FuncID: startFid},
	}, entry.Instrs...)
}

func endsInReturnLike(seq *wasmir.InstrSeq) bool {
	if len(seq.Instrs) == 0 {
		return false
	}
	last := seq.Instrs[len(seq.Instrs)-1]
	return wasmir.IsReturnLike(last.Op)
}
