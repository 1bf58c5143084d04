package wasmir

// AddType interns t, returning its TypeID. Equal signatures are deduplicated
// so repeated cloning (e.g. the locker template, §4.8) doesn't bloat the type
// section.
func (m *Module) AddType(t FunctionType) TypeID {
	for i := range m.Types {
		if m.Types[i].Equal(&t) {
			return TypeID(i)
		}
	}
	m.Types = append(m.Types, t)
	return TypeID(len(m.Types) - 1)
}

// AddFunction appends a new local function with the given signature and
// empty body, returning a pointer to it (its FuncID is in the ID field). The
// pointer is into m.Functions and is invalidated by the next append.
func (m *Module) AddFunction(sig FunctionType) *Function {
	id := m.NextFuncID()
	fn := Function{ID: id, TypeID: m.AddType(sig), Body: NewBody()}
	m.Functions = append(m.Functions, fn)
	return &m.Functions[len(m.Functions)-1]
}

// AddExport appends export e. It does not check whether e.Name is already
// taken; callers that want "replace if present" call RemoveExport first.
func (m *Module) AddExport(e Export) {
	m.Exports = append(m.Exports, e)
}

// DeleteFunction removes the local function id from the module and drops
// every direct call site targeting it, in every remaining local function
// body, replacing the call with Unreachable (callers that need a different
// replacement, e.g. the main-void zero-stub rewrite, should use
// Body.RewriteCalls / direct instruction surgery instead and must not also
// call DeleteFunction).
//
// DeleteFunction renumbers every FuncID greater than id down by one and
// rewrites every call site and export/element/start reference across the
// whole module accordingly — the "pass that deletes an entity is responsible
// for retargetting every reference in the same stage" invariant from spec §3,
// made mechanical for the common case of plain deletion.
func (m *Module) DeleteFunction(id FuncID) {
	idx, ok := m.LocalIndex(id)
	if !ok {
		return
	}
	m.Functions = append(m.Functions[:idx], m.Functions[idx+1:]...)

	remap := func(f FuncID) FuncID {
		if f > id {
			return f - 1
		}
		return f
	}
	for i := range m.Functions {
		m.Functions[i].ID = remap(m.Functions[i].ID)
		if m.Functions[i].Body != nil {
			m.Functions[i].Body.WalkInstrs(func(_ *InstrSeq, _ int, in *Instr) {
				if IsCall(in.Op) {
					if in.FuncID == id {
						*in = Instr{Op: OpUnreachable}
						return
					}
					in.FuncID = remap(in.FuncID)
				}
			})
		}
	}
	for i := range m.Exports {
		if m.Exports[i].Desc == ExportFunc {
			m.Exports[i].Index = uint32(remap(FuncID(m.Exports[i].Index)))
		}
	}
	for i := range m.Elements {
		for j := range m.Elements[i].FuncIDs {
			m.Elements[i].FuncIDs[j] = remap(m.Elements[i].FuncIDs[j])
		}
	}
	if m.HasStartFunc {
		m.StartFunc = remap(m.StartFunc)
	}
}

// DeleteGlobal removes the locally-declared global id and renumbers every
// GlobalID greater than it down by one across every global initializer,
// export, and global.get/global.set instruction in the module (spec §3's
// "pass that deletes an entity retargets every reference" invariant, applied
// to globals the way DeleteFunction applies it to functions). Callers must
// have already removed/rewritten any global.get/global.set on id itself
// (e.g. the growth-lock pass turns them into calls before deleting).
func (m *Module) DeleteGlobal(id GlobalID) {
	if m.GlobalIsImported(id) {
		return
	}
	idx := int(uint32(id) - m.ImportedGlobalCount)
	if idx < 0 || idx >= len(m.Globals) {
		return
	}
	m.Globals = append(m.Globals[:idx], m.Globals[idx+1:]...)

	remap := func(g GlobalID) GlobalID {
		if g > id {
			return g - 1
		}
		return g
	}
	for i := range m.Globals {
		if m.Globals[i].Init.Op == OpGlobalGet {
			m.Globals[i].Init.GlobalID = remap(m.Globals[i].Init.GlobalID)
		}
	}
	for i := range m.DataSegments {
		if m.DataSegments[i].Offset.Op == OpGlobalGet {
			m.DataSegments[i].Offset.GlobalID = remap(m.DataSegments[i].Offset.GlobalID)
		}
	}
	for i := range m.Elements {
		if m.Elements[i].Offset.Op == OpGlobalGet {
			m.Elements[i].Offset.GlobalID = remap(m.Elements[i].Offset.GlobalID)
		}
	}
	for i := range m.Exports {
		if m.Exports[i].Desc == ExportGlobal {
			m.Exports[i].Index = uint32(remap(GlobalID(m.Exports[i].Index)))
		}
	}
	for i := range m.Functions {
		if m.Functions[i].Body == nil {
			continue
		}
		m.Functions[i].Body.WalkInstrs(func(_ *InstrSeq, _ int, in *Instr) {
			if in.Op == OpGlobalGet || in.Op == OpGlobalSet {
				in.GlobalID = remap(in.GlobalID)
			}
		})
	}
}

// AddMemory appends a new local memory and returns its MemID. Used by the
// reset pass (§4.4) to allocate the private save area and by the growth-lock
// pass's bookkeeping.
func (m *Module) AddMemory(min, max uint32, hasMax bool) MemID {
	id := MemID(m.ImportedMemCount + uint32(len(m.Memories)))
	m.Memories = append(m.Memories, Memory{Min: min, Max: max, HasMax: hasMax})
	return id
}

// CloneSubgraph copies root and every function transitively reachable from it
// via direct calls, excluding ids in preserve (whose call sites are rewired
// to the *original* id rather than cloned — they are shared library helpers
// the clone should keep calling through to, not duplicate). It returns the
// FuncID of the cloned root. This is the one "clone a function with its
// callee subgraph" operation spec §9 calls out, used by the growth-locker
// template instantiation (§4.8).
func (m *Module) CloneSubgraph(root FuncID, preserve map[FuncID]bool) FuncID {
	reachable := m.ReachableFuncs(root)
	old2new := map[FuncID]FuncID{}

	// Allocate fresh ids and copies for every reachable, non-preserved
	// function before rewriting any call sites, so that mutually-recursive
	// helpers resolve to each other's *new* ids rather than partially old,
	// partially new.
	var toClone []FuncID
	for id := range reachable {
		if preserve[id] {
			continue
		}
		toClone = append(toClone, id)
	}
	sortFuncIDs(toClone)
	for _, id := range toClone {
		src := m.FuncByID(id)
		if src == nil {
			continue // imported function: never cloned, always shared.
			// (an imported function can't recurse into local clones anyway)
		}
		clone := m.AddFunction(m.Types[src.TypeID])
		clone.Locals = append([]ValueType(nil), src.Locals...)
		clone.Name = src.Name
		old2new[id] = clone.ID
	}

	for _, id := range toClone {
		src := m.FuncByID(id) // note: id is pre-clone, still resolves to the original
		newID := old2new[id]
		dst := m.FuncByID(newID)
		dst.Body = cloneBody(src.Body, old2new)
	}

	newRoot, ok := old2new[root]
	if !ok {
		return root // root itself was in preserve: nothing to clone.
	}
	return newRoot
}

func sortFuncIDs(ids []FuncID) {
	for i := 1; i < len(ids); i++ {
		v := ids[i]
		j := i - 1
		for j >= 0 && ids[j] > v {
			ids[j+1] = ids[j]
			j--
		}
		ids[j+1] = v
	}
}

func cloneBody(src *Body, old2new map[FuncID]FuncID) *Body {
	dst := &Body{EntrySeq: src.EntrySeq, Seqs: make(map[SeqID]*InstrSeq, len(src.Seqs)), nextSeq: src.nextSeq}
	for id, seq := range src.Seqs {
		instrs := make([]Instr, len(seq.Instrs))
		copy(instrs, seq.Instrs)
		for i := range instrs {
			if IsCall(instrs[i].Op) {
				if n, ok := old2new[instrs[i].FuncID]; ok {
					instrs[i].FuncID = n
				}
			}
		}
		dst.Seqs[id] = &InstrSeq{ID: id, Instrs: instrs}
	}
	return dst
}
