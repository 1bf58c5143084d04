package passes

import (
	"github.com/wasip1vfs/linker/internal/diag"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// DebugInstr layers in the non-function-boundary debug instrumentation when
// verbose debug is enabled (spec §4.9): memory.grow pre/post hooks,
// atomic.wait argument logging, and per-loop tagging. It runs in pre-vfs and
// pre-target, so this instrumentation is in place before DebugBracket adds
// its function-boundary calls in post_all_optimize.
type DebugInstr struct{ Base }

func (DebugInstr) Name() string { return "debug-instr" }

func (d DebugInstr) PreVFS(m *wasmir.Module, ctx *pipectx.Context) error {
	if !ctx.DebugVerbose {
		return nil
	}
	return d.instrument(m)
}

func (d DebugInstr) PreTarget(m *wasmir.Module, ctx *pipectx.Context, target string) error {
	if !ctx.DebugVerbose {
		return nil
	}
	return d.instrument(m)
}

// addLocal appends a fresh local of typ to fn and returns its index in the
// combined params-then-locals local address space; paramCount is the
// function's own signature's parameter count, since locals are addressed
// after every parameter.
func addLocal(fn *wasmir.Function, paramCount int, typ wasmir.ValueType) uint32 {
	idx := uint32(paramCount + len(fn.Locals))
	fn.Locals = append(fn.Locals, typ)
	return idx
}

func (DebugInstr) instrument(m *wasmir.Module) error {
	preFid, err := m.ExportedFunc(names.DebugCallMemoryGrowPre)
	if err != nil {
		return diag.NewStructural("pre-vfs", "", err)
	}
	postFid, err := m.ExportedFunc(names.DebugCallMemoryGrow)
	if err != nil {
		return diag.NewStructural("pre-vfs", "", err)
	}
	waitFid, err := m.ExportedFunc(names.DebugAtomicWait)
	if err != nil {
		return diag.NewStructural("pre-vfs", "", err)
	}
	loopFid, err := m.ExportedFunc(names.DebugLoop)
	if err != nil {
		return diag.NewStructural("pre-vfs", "", err)
	}

	tag := 0
	loopID := 0
	for i := range m.Functions {
		fn := &m.Functions[i]
		body := fn.Body
		if body == nil {
			continue
		}
		paramCount := 0
		if sig := m.TypeOf(fn.ID); sig != nil {
			paramCount = len(sig.Params)
		}
		body.WalkSeqs(func(seq *wasmir.InstrSeq) {
			out := make([]wasmir.Instr, 0, len(seq.Instrs))
			for _, in := range seq.Instrs {
				switch {
				case in.Op == wasmir.OpMemoryGrow:
					t := tag
					tag++
					out = append(out,
						wasmir.Instr{Op: wasmir.OpI32Const, ConstI32: int32(t)},
						wasmir.Instr{Op: wasmir.OpCall, FuncID: preFid},
						in,
						wasmir.Instr{Op: wasmir.OpI32Const, ConstI32: int32(t)},
						wasmir.Instr{Op: wasmir.OpCall, FuncID: postFid},
					)
				case in.Atomic && (in.AtomicSub == wasmir.AtomicWait32 || in.AtomicSub == wasmir.AtomicWait64):
					// addr/expected/timeout are already on the stack below
					// this instruction; stash each in a fresh local so they
					// can be pushed once to log and once more for the real
					// wait, the same capture-then-replay idiom OpMemoryGrow's
					// pre/post hooks use for the tag value above.
					expectedType := wasmir.ValueTypeI32
					if in.AtomicSub == wasmir.AtomicWait64 {
						expectedType = wasmir.ValueTypeI64
					}
					addrLocal := addLocal(fn, paramCount, wasmir.ValueTypeI32)
					expectedLocal := addLocal(fn, paramCount, expectedType)
					timeoutLocal := addLocal(fn, paramCount, wasmir.ValueTypeI64)
					out = append(out,
						wasmir.Instr{Op: wasmir.OpLocalSet, LocalIdx: timeoutLocal},
						wasmir.Instr{Op: wasmir.OpLocalSet, LocalIdx: expectedLocal},
						wasmir.Instr{Op: wasmir.OpLocalSet, LocalIdx: addrLocal},
						wasmir.Instr{Op: wasmir.OpLocalGet, LocalIdx: addrLocal},
						wasmir.Instr{Op: wasmir.OpLocalGet, LocalIdx: expectedLocal},
						wasmir.Instr{Op: wasmir.OpLocalGet, LocalIdx: timeoutLocal},
						wasmir.Instr{Op: wasmir.OpCall, FuncID: waitFid},
						wasmir.Instr{Op: wasmir.OpLocalGet, LocalIdx: addrLocal},
						wasmir.Instr{Op: wasmir.OpLocalGet, LocalIdx: expectedLocal},
						wasmir.Instr{Op: wasmir.OpLocalGet, LocalIdx: timeoutLocal},
						in,
					)
				case in.Op == wasmir.OpLoop:
					id := loopID
					loopID++
					out = append(out,
						wasmir.Instr{Op: wasmir.OpI32Const, ConstI32: int32(id)},
						wasmir.Instr{Op: wasmir.OpCall, FuncID: loopFid},
						in,
					)
				default:
					out = append(out, in)
				}
			}
			seq.Instrs = out
		})
	}
	return nil
}
