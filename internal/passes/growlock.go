package passes

import (
	"github.com/wasip1vfs/linker/internal/diag"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// GrowLock serializes shared-memory growth around the consolidated memory's
// bump-pointer global, which the Wasm spec forbids from being a mutable
// shared global without the unimplemented shared-everything-threads proposal
// (spec §4.8).
//
// Stage 1 (PreLowerMemory-equivalent, run from PostCombine since that's
// where every memory.grow instruction is still visible pre-lowering): every
// memory actually grown gets its own locker function cloned from a
// library-provided template, and every memory.grow on that memory is
// rewritten to call it instead.
//
// Stage 2 (PostLowerMemory): the sole remaining mutable global — the former
// shared bump-pointer — is replaced with calls to the library's thread-safe
// setter/getter/no-wait-getter and a once-init, then deleted.
type GrowLock struct{ Base }

func (GrowLock) Name() string { return "grow-lock" }

func (GrowLock) PostCombine(m *wasmir.Module, ctx *pipectx.Context) error {
	grown := growMemoriesUsed(m)
	if len(grown) == 0 {
		return nil
	}

	templateFid, err := findLockerTemplate(m)
	if err != nil {
		return diag.NewStructural("post-combine", "", err)
	}

	lockers := make(map[wasmir.MemID]wasmir.FuncID, len(grown))
	for mem := range grown {
		cloneRoot := m.CloneSubgraph(templateFid, nil)
		if err := rewriteSentinelGrow(m, cloneRoot, mem); err != nil {
			return diag.NewStructural("post-combine", "", err)
		}
		lockers[mem] = cloneRoot
		m.AddExport(wasmir.Export{Name: names.MemoryGrowLockerExport(uint32(mem)), Desc: wasmir.ExportFunc, Index: uint32(cloneRoot)})
	}

	// The lockers' own memory.grow instructions are the real grows and stay.
	inLocker := map[wasmir.FuncID]bool{}
	for _, root := range lockers {
		for id := range m.ReachableFuncs(root) {
			inLocker[id] = true
		}
	}
	for i := range m.Functions {
		body := m.Functions[i].Body
		if body == nil || inLocker[m.Functions[i].ID] {
			continue
		}
		body.WalkInstrs(func(_ *wasmir.InstrSeq, _ int, in *wasmir.Instr) {
			if in.Op != wasmir.OpMemoryGrow {
				return
			}
			if locker, ok := lockers[in.MemID]; ok {
				in.Op = wasmir.OpCall
				in.FuncID = locker
			}
		})
	}
	return nil
}

// growMemoriesUsed collects every memory id used as the operand of a
// memory.grow instruction anywhere in the module.
func growMemoriesUsed(m *wasmir.Module) map[wasmir.MemID]bool {
	out := map[wasmir.MemID]bool{}
	for i := range m.Functions {
		body := m.Functions[i].Body
		if body == nil {
			continue
		}
		body.WalkInstrs(func(_ *wasmir.InstrSeq, _ int, in *wasmir.Instr) {
			if in.Op == wasmir.OpMemoryGrow {
				out[in.MemID] = true
			}
		})
	}
	return out
}

// findLockerTemplate locates the library-provided locker template function,
// exported under a fixed self-namespaced name so the grow-lock pass can clone
// it once per grown memory.
func findLockerTemplate(m *wasmir.Module) (wasmir.FuncID, error) {
	return m.ExportedFunc(names.SelfABIExport("memory_grow_locker_template"))
}

// rewriteSentinelGrow finds the single memory.grow instruction inside the
// cloned locker's call subgraph (a sentinel placeholder the template carries)
// and rewrites it to target mem specifically.
func rewriteSentinelGrow(m *wasmir.Module, root wasmir.FuncID, mem wasmir.MemID) error {
	for id := range m.ReachableFuncs(root) {
		fn := m.FuncByID(id)
		if fn == nil || fn.Body == nil {
			continue
		}
		found := false
		fn.Body.WalkInstrs(func(_ *wasmir.InstrSeq, _ int, in *wasmir.Instr) {
			if in.Op == wasmir.OpMemoryGrow {
				in.MemID = mem
				found = true
			}
		})
		if found {
			return nil
		}
	}
	return errNoSentinelGrow
}

var errNoSentinelGrow = grDiagErr("grow-lock template has no memory.grow sentinel to rewrite")

type grDiagErr string

func (e grDiagErr) Error() string { return string(e) }

// PostLowerMemory replaces the sole remaining mutable global (the former
// shared bump-pointer) with calls into the library's thread-safe
// setter/getter/no-wait-getter/once-init, then deletes the global.
func (GrowLock) PostLowerMemory(m *wasmir.Module, ctx *pipectx.Context) error {
	gid, ok := findSoleMutableGlobal(m)
	if !ok {
		return nil
	}
	g := m.GlobalByID(gid)
	if g == nil || !g.Init.IsSimpleConst() {
		return nil
	}

	setFid, err1 := m.ExportedFunc(names.GrowGlobalAltSet)
	getFid, err2 := m.ExportedFunc(names.GrowGlobalAltGet)
	noWaitFid, err3 := m.ExportedFunc(names.GrowGlobalAltGetNoWait)
	initFid, err4 := m.ExportedFunc(names.GrowGlobalAltInitOnce)
	for _, e := range []error{err1, err2, err3, err4} {
		if e != nil {
			return diag.NewStructural("post-lower-memory", "", e)
		}
	}

	// Grow-lockers already hold the lock while inside their critical section,
	// so global.get inside one of them must use the no-wait getter to avoid a
	// re-entrant wait on the same lock (spec §4.8).
	lockerBodies := map[*wasmir.Body]bool{}
	for _, exp := range m.FindExportsWithPrefix(names.ExportPrefix + "memory_grow_locker_") {
		if exp.Desc != wasmir.ExportFunc {
			continue
		}
		for id := range m.ReachableFuncs(wasmir.FuncID(exp.Index)) {
			if fn := m.FuncByID(id); fn != nil && fn.Body != nil {
				lockerBodies[fn.Body] = true
			}
		}
	}

	for i := range m.Functions {
		body := m.Functions[i].Body
		if body == nil {
			continue
		}
		getterFid := getFid
		if lockerBodies[body] {
			getterFid = noWaitFid
		}
		body.WalkSeqs(func(seq *wasmir.InstrSeq) {
			out := seq.Instrs[:0]
			for _, in := range seq.Instrs {
				switch {
				case in.Op == wasmir.OpGlobalSet && in.GlobalID == gid:
					out = append(out, wasmir.Instr{Op: wasmir.OpCall, FuncID: setFid})
				case in.Op == wasmir.OpGlobalGet && in.GlobalID == gid:
					out = append(out, wasmir.Instr{Op: wasmir.OpCall, FuncID: getterFid})
				default:
					out = append(out, in)
				}
			}
			seq.Instrs = out
		})
	}

	startWrap := m.AddFunction(wasmir.FunctionType{})
	startWrap.Body.Entry().Instrs = append(startWrap.Body.Entry().Instrs,
		constForInit(g.Init),
		wasmir.Instr{Op: wasmir.OpCall, FuncID: initFid},
	)
	wireStartPrelude(m, startWrap.ID)

	m.DeleteGlobal(gid)
	return nil
}

func findSoleMutableGlobal(m *wasmir.Module) (wasmir.GlobalID, bool) {
	var found wasmir.GlobalID
	count := 0
	for i, g := range m.Globals {
		if !g.Type.Mutable {
			continue
		}
		found = wasmir.GlobalID(m.ImportedGlobalCount) + wasmir.GlobalID(i)
		count++
	}
	return found, count == 1
}
