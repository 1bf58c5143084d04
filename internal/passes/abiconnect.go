package passes

import (
	"github.com/wasip1vfs/linker/internal/abi"
	"github.com/wasip1vfs/linker/internal/diag"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// ABIConnect wires the standard OS-abstraction ABI surface between targets
// and the virtual layer (spec §4.6). In pre-target, a target's own imports of
// the standard ABI module are renamed so they survive the merge as distinct
// per-target symbols; the non-recursive internal-invocation variant is fused
// or renamed into the regular ABI import in pre-vfs. In post-combine, every
// known ABI function is connected to the virtual layer's real import of it
// when one exists, or its now-orphan per-target export is deleted otherwise.
type ABIConnect struct{ Base }

func (ABIConnect) Name() string { return "abi-connect" }

func (ABIConnect) PreTarget(m *wasmir.Module, ctx *pipectx.Context, target string) error {
	for _, name := range abi.Functions {
		fid := findImportByName(m, abi.ImportModule, name)
		if fid == wasmir.InvalidFuncID {
			continue
		}
		idx, ok := importIndexPublic(m, fid)
		if !ok {
			continue
		}
		m.Imports[idx].Name = names.ABIExport(target, name)
	}
	return nil
}

// PreVFS fuses the non-recursive ABI import prefix into the regular ABI
// import of the same name when one already exists, or simply renames it in
// otherwise (spec §4.6 "A second, lower-level ABI-import name prefix...").
func (ABIConnect) PreVFS(m *wasmir.Module, ctx *pipectx.Context) error {
	log := diag.NewLogger(ctx.DebugVerbose).For("pre-vfs", "")
	// Snapshot names first: fusing mutates m.Imports in place (and renumbers
	// ids), so iterating m.Imports directly while fusing would skip entries.
	type candidate struct {
		name string
		fid  wasmir.FuncID
	}
	var candidates []candidate
	for _, name := range abi.Functions {
		fid := findImportByName(m, names.NonRecursiveABIModule, name)
		if fid != wasmir.InvalidFuncID {
			candidates = append(candidates, candidate{name: name, fid: fid})
		}
	}

	for _, c := range candidates {
		fid := findImportByName(m, names.NonRecursiveABIModule, c.name)
		if fid == wasmir.InvalidFuncID {
			continue // already fused away by an earlier iteration's renumbering
		}
		if existing := findImportByName(m, abi.ImportModule, c.name); existing != wasmir.InvalidFuncID {
			if err := m.FuseImportFunc(fid, existing); err != nil {
				return diag.NewStructural("pre-vfs", "", err)
			}
			log.Debugf("fused non-recursive ABI import %q into the regular ABI import", c.name)
			continue
		}
		idx, ok := importIndexPublic(m, fid)
		if !ok {
			continue
		}
		m.Imports[idx].Module = abi.ImportModule
	}
	return nil
}

func (ABIConnect) PostCombine(m *wasmir.Module, ctx *pipectx.Context) error {
	for _, name := range abi.Functions {
		vfsReal := findImportByName(m, abi.ImportModule, name) != wasmir.InvalidFuncID
		for _, target := range ctx.Targets {
			exportName := names.ABIExport(target, name)
			if !vfsReal {
				m.RemoveExport(exportName)
				continue
			}
			if err := connectRenamedEntry(m, exportName); err != nil {
				return diag.NewStructural("post-combine", target, err)
			}
			m.RemoveExport(exportName)
		}
	}
	return nil
}

// importIndexPublic maps an imported function's FuncID to its index in
// m.Imports (counting only function imports), since ABIConnect needs to
// mutate an Import entry's Name/Module fields in place.
func importIndexPublic(m *wasmir.Module, fid wasmir.FuncID) (int, bool) {
	var n uint32
	for i := range m.Imports {
		if m.Imports[i].Desc != wasmir.ImportFunc {
			continue
		}
		if wasmir.FuncID(n) == fid {
			return i, true
		}
		n++
	}
	return 0, false
}
