package passes

import (
	"github.com/wasip1vfs/linker/internal/diag"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// GlobalIDVisitor enumerates every mutable, locally-initialized global
// belonging to a module and anchors each one so the reset pass (spec §4.4)
// can find them again after the merge (spec §4.2 "Global-id visitor").
type GlobalIDVisitor struct{ Base }

func (GlobalIDVisitor) Name() string { return "global-id-visitor" }

func (v GlobalIDVisitor) PreVFS(m *wasmir.Module, ctx *pipectx.Context) error {
	ctx.VFSMutableGlobals = v.anchorMutableGlobals(m, names.Self)
	return nil
}

func (v GlobalIDVisitor) PreTarget(m *wasmir.Module, ctx *pipectx.Context, target string) error {
	ctx.Target(target).MutableGlobals = v.anchorMutableGlobals(m, target)
	return nil
}

// anchorMutableGlobals walks the module's locally-declared globals (imported
// globals are never "locally-initialized" and are excluded, matching spec
// §4.2's "mutable, locally-initialized globals") and writes one anchor
// export per mutable global found.
func (GlobalIDVisitor) anchorMutableGlobals(m *wasmir.Module, owner string) []wasmir.GlobalID {
	var out []wasmir.GlobalID
	n := 0
	for i, g := range m.Globals {
		if !g.Type.Mutable {
			continue
		}
		id := wasmir.GlobalID(m.ImportedGlobalCount) + wasmir.GlobalID(i)
		anchorName := names.GlobalAnchorExport(owner, n)
		m.RemoveExport(anchorName)
		m.AddExport(wasmir.Export{Name: anchorName, Desc: wasmir.ExportGlobal, Index: uint32(id)})
		out = append(out, id)
		n++
	}
	return out
}

// PostCombine reads the anchors back to recover the global-id sets for the
// virtual layer and every target (spec §4.2).
func (GlobalIDVisitor) PostCombine(m *wasmir.Module, ctx *pipectx.Context) error {
	readBack := func(owner string) ([]wasmir.GlobalID, error) {
		var out []wasmir.GlobalID
		for n := 0; ; n++ {
			anchorName := names.GlobalAnchorExport(owner, n)
			e := m.FindExport(anchorName)
			if e == nil {
				break
			}
			out = append(out, wasmir.GlobalID(e.Index))
			m.RemoveExport(anchorName)
		}
		return out, nil
	}

	vfsGlobals, err := readBack(names.Self)
	if err != nil {
		return diag.NewStructural("post-combine", "", err)
	}
	ctx.VFSMutableGlobals = vfsGlobals

	for _, target := range ctx.Targets {
		gs, err := readBack(target)
		if err != nil {
			return diag.NewStructural("post-combine", target, err)
		}
		ctx.Target(target).MutableGlobals = gs
	}
	return nil
}
