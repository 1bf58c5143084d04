package wasmir

import "fmt"

// ConvertImportFuncToLocal turns the imported function addressed by
// importFid into a defined (local) function, preserving every existing
// reference to it (call sites, exports, element segments, the start
// section). This is the core operation behind "replace the imported
// function's body with a thunk that forwards its arguments" (spec §4.6) and
// the memory-bridge/memory-trap stub replacements (spec §4.3): Wasm requires
// every imported function to have a lower index than every defined function,
// so an import can't simply keep its numeric id once it grows a body —
// instead a fresh local function is appended, every reference to the old
// import id is retargeted to it, and the now-unreferenced import is deleted
// (which renumbers every function id above the deleted slot down by one,
// module-wide).
//
// The returned *Function has an empty body for the caller to fill in.
func (m *Module) ConvertImportFuncToLocal(importFid FuncID) (*Function, error) {
	if !m.IsImportedFunc(importFid) {
		return nil, fmt.Errorf("wasmir: function %d is not an import", importFid)
	}
	impIdx, ok := m.importIndexOf(importFid)
	if !ok {
		return nil, fmt.Errorf("wasmir: function %d: no matching import entry", importFid)
	}

	newFid := m.NextFuncID()
	clone := Function{ID: newFid, TypeID: m.Imports[impIdx].TypeID, Body: NewBody()}
	m.Functions = append(m.Functions, clone)

	m.retargetFuncIDEverywhere(importFid, newFid)

	m.Imports = append(m.Imports[:impIdx], m.Imports[impIdx+1:]...)
	m.ImportedFuncCount--

	remap := func(f FuncID) FuncID {
		if f > importFid {
			return f - 1
		}
		return f
	}
	m.remapAllFuncIDs(remap)

	finalID := remap(newFid)
	return m.FuncByID(finalID), nil
}

// FuseImportFunc retargets every call site, export, element entry and the
// start-section reference pointing at the imported function old onto new
// (an already-existing function, imported or local), then deletes old's
// import entry — renumbering every function id above it down by one. This is
// the "fuse one import into an existing one" operation the non-recursive ABI
// import reconciliation needs (spec §4.6): two different import names ending
// up addressing the same real capability collapse to a single id.
func (m *Module) FuseImportFunc(old, new FuncID) error {
	if !m.IsImportedFunc(old) {
		return fmt.Errorf("wasmir: function %d is not an import", old)
	}
	idx, ok := m.importIndexOf(old)
	if !ok {
		return fmt.Errorf("wasmir: function %d: no matching import entry", old)
	}

	m.retargetFuncIDEverywhere(old, new)

	m.Imports = append(m.Imports[:idx], m.Imports[idx+1:]...)
	m.ImportedFuncCount--

	remap := func(f FuncID) FuncID {
		if f > old {
			return f - 1
		}
		return f
	}
	m.remapAllFuncIDs(remap)
	return nil
}

// ConvertMemoryLocalToImport turns the local memory addressed by localID
// into an imported one under (module, name), preserving every reference to
// it (data-segment targets, exports, every load/store/memory-family
// instruction operand). This is the mirror image of
// ConvertImportFuncToLocal, needed by the patch-component pass (spec §4.10)
// to restore a target's memory to imported status after the
// component-translation tool has stripped it (observed to leave "every
// remaining memory... non-shared and non-imported").
func (m *Module) ConvertMemoryLocalToImport(localID MemID, module, name string) error {
	if m.MemoryIsImported(localID) {
		return fmt.Errorf("wasmir: memory %d is already an import", localID)
	}
	idx := int(uint32(localID) - m.ImportedMemCount)
	if idx < 0 || idx >= len(m.Memories) {
		return fmt.Errorf("wasmir: memory %d: no matching local entry", localID)
	}

	mem := m.Memories[idx]
	m.Memories = append(m.Memories[:idx], m.Memories[idx+1:]...)

	oldImportedCount := m.ImportedMemCount
	m.Imports = append(m.Imports, Import{Module: module, Name: name, Desc: ImportMemory, Memory: &mem})
	m.ImportedMemCount++

	remap := func(id MemID) MemID {
		switch {
		case id == localID:
			return MemID(oldImportedCount)
		case uint32(id) >= oldImportedCount && id < localID:
			return id + 1
		default:
			return id
		}
	}

	for i := range m.DataSegments {
		if m.DataSegments[i].Active {
			m.DataSegments[i].MemID = remap(m.DataSegments[i].MemID)
		}
	}
	for i := range m.Exports {
		if m.Exports[i].Desc == ExportMemory {
			m.Exports[i].Index = uint32(remap(MemID(m.Exports[i].Index)))
		}
	}
	for i := range m.Functions {
		if m.Functions[i].Body == nil {
			continue
		}
		m.Functions[i].Body.WalkInstrs(func(_ *InstrSeq, _ int, in *Instr) {
			switch in.Op {
			case OpMemorySize, OpMemoryGrow, OpI32Load, OpI32Store, OpI32Store8:
				in.MemID = remap(in.MemID)
			}
			if in.Misc {
				in.MemID = remap(in.MemID)
				in.MemID2 = remap(in.MemID2)
			}
		})
	}
	return nil
}

func (m *Module) importIndexOf(fid FuncID) (int, bool) {
	var n uint32
	for i := range m.Imports {
		if m.Imports[i].Desc != ImportFunc {
			continue
		}
		if FuncID(n) == fid {
			return i, true
		}
		n++
	}
	return 0, false
}

// retargetFuncIDEverywhere rewrites every call site, export, element entry
// and start-section reference pointing at old to point at new, across every
// local function body in the module.
func (m *Module) retargetFuncIDEverywhere(old, new FuncID) {
	for i := range m.Functions {
		if m.Functions[i].Body == nil {
			continue
		}
		m.Functions[i].Body.RewriteCalls(old, new)
	}
	for i := range m.Exports {
		if m.Exports[i].Desc == ExportFunc && FuncID(m.Exports[i].Index) == old {
			m.Exports[i].Index = uint32(new)
		}
	}
	for i := range m.Elements {
		for j := range m.Elements[i].FuncIDs {
			if m.Elements[i].FuncIDs[j] == old {
				m.Elements[i].FuncIDs[j] = new
			}
		}
	}
	if m.HasStartFunc && m.StartFunc == old {
		m.StartFunc = new
	}
}

// remapAllFuncIDs applies remap to every FuncID the module stores anywhere:
// local function identities, call sites, exports, elements and the start
// function.
func (m *Module) remapAllFuncIDs(remap func(FuncID) FuncID) {
	for i := range m.Functions {
		m.Functions[i].ID = remap(m.Functions[i].ID)
		if m.Functions[i].Body == nil {
			continue
		}
		m.Functions[i].Body.WalkInstrs(func(_ *InstrSeq, _ int, in *Instr) {
			if IsCall(in.Op) {
				in.FuncID = remap(in.FuncID)
			}
		})
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
