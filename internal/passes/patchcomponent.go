package passes

import (
	"github.com/sirupsen/logrus"

	"github.com/wasip1vfs/linker/internal/abi"
	"github.com/wasip1vfs/linker/internal/diag"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// sharedMemoryImportModule is the host import-module name Rust's
// wasm32-wasip1-threads target imports a shared linear memory under
// ("env"/"memory" — the wasm-bindgen-threads convention observed in
// original_source for thread-capable targets).
const sharedMemoryImportModule = "env"

// PatchComponent consults the anchor metadata the id-discovery passes
// recorded and repairs what the component-translation tool does to memories
// and ABI imports (spec §4.10). The translation tool re-lowers multi-memory
// and strips every remaining memory's shared/imported status, so this pass
// stamps its own long-lived anchors before translation (PostCombine for
// multi-memory layout, PostLowerMemory for single-memory layout — whichever
// runs last before the component-translation stage) and reads them back in
// PostComponents.
type PatchComponent struct{ Base }

func (PatchComponent) Name() string { return "patch-component" }

func (PatchComponent) PostCombine(m *wasmir.Module, ctx *pipectx.Context) error {
	if ctx.SingleMemory() {
		return nil // the single consolidated memory is anchored after lowering instead.
	}
	return stampPatchAnchors(m, ctx)
}

func (PatchComponent) PostLowerMemory(m *wasmir.Module, ctx *pipectx.Context) error {
	if !ctx.SingleMemory() {
		return nil // already anchored in post-combine.
	}
	return stampPatchAnchors(m, ctx)
}

func stampPatchAnchors(m *wasmir.Module, ctx *pipectx.Context) error {
	if !ctx.HasVFSMemID {
		return nil
	}
	m.RemoveExport(names.PatchVFSMemoryAnchor)
	m.AddExport(wasmir.Export{Name: names.PatchVFSMemoryAnchor, Desc: wasmir.ExportMemory, Index: uint32(ctx.VFSMemID)})

	if ctx.SingleMemory() {
		return nil // only one memory remains; no per-target anchors needed.
	}
	for _, target := range ctx.Targets {
		tm := ctx.Target(target)
		anchorName := names.PatchMemoryAnchorExport(target)
		m.RemoveExport(anchorName)
		m.AddExport(wasmir.Export{Name: anchorName, Desc: wasmir.ExportMemory, Index: uint32(tm.UsedMemID)})
	}
	return nil
}

func (PatchComponent) PostComponents(m *wasmir.Module, ctx *pipectx.Context) error {
	log := diag.NewLogger(ctx.DebugVerbose).For("post-components", "")

	if vfsMid, err := m.ExportedMemory(names.PatchVFSMemoryAnchor); err == nil {
		restoreCanonicalMemoryExport(m, vfsMid)
		m.RemoveExport(names.PatchVFSMemoryAnchor)
	}

	if !ctx.SingleMemory() {
		for _, target := range ctx.Targets {
			anchorName := names.PatchMemoryAnchorExport(target)
			mid, err := m.ExportedMemory(anchorName)
			m.RemoveExport(anchorName)
			if err != nil {
				continue // target never anchored (e.g. it declared no memory of its own).
			}
			if err := restoreMemoryFlags(m, ctx, target, mid); err != nil {
				return diag.NewStructural("post-components", target, err)
			}
		}
	}

	reconnectSurvivingABIImports(m, ctx, log)
	return nil
}

// restoreCanonicalMemoryExport renames whatever export name the
// component-translation tool gave the VFS memory back to the canonical
// "memory" (spec §4.10's final bullet), removing the tool's name first if
// it differs.
func restoreCanonicalMemoryExport(m *wasmir.Module, mid wasmir.MemID) {
	for i := range m.Exports {
		if m.Exports[i].Name == names.PatchVFSMemoryAnchor {
			continue
		}
		if m.Exports[i].Desc == wasmir.ExportMemory && wasmir.MemID(m.Exports[i].Index) == mid {
			m.Exports[i].Name = "memory"
			return
		}
	}
	m.AddExport(wasmir.Export{Name: "memory", Desc: wasmir.ExportMemory, Index: uint32(mid)})
}

// restoreMemoryFlags re-marks target's recovered memory as shared and/or
// imported according to what the memory-id visitor recorded before the
// merge, since the component-translation tool leaves every surviving memory
// non-shared and non-imported (spec §3 "In threads mode after post-combine:
// every remaining memory is non-shared and non-imported").
func restoreMemoryFlags(m *wasmir.Module, ctx *pipectx.Context, target string, mid wasmir.MemID) error {
	tm := ctx.Target(target)

	if tm.WasShared {
		if mem := m.MemoryByID(mid); mem != nil {
			mem.Shared = true
		}
	}

	if tm.WasImported && !m.MemoryIsImported(mid) {
		name := tm.OriginalName
		if name == "" {
			name = "memory"
		}
		if err := m.ConvertMemoryLocalToImport(mid, sharedMemoryImportModule, name); err != nil {
			return err
		}
	}
	return nil
}

// reconnectSurvivingABIImports re-wires any ABI import the translation tool
// left dangling to its in-module counterpart, the same connection idiom
// abiconnect.go's PostCombine uses — best-effort, matching spec §9's note
// that post-translation patching is inherently best-effort since the tool's
// exact output shape isn't controlled by this pipeline.
func reconnectSurvivingABIImports(m *wasmir.Module, ctx *pipectx.Context, log *logrus.Entry) {
	for _, name := range abi.Functions {
		for _, target := range ctx.Targets {
			exportName := names.ABIExport(target, name)
			if m.FindExport(exportName) == nil {
				continue
			}
			if err := connectRenamedEntry(m, exportName); err != nil {
				log.WithField("target", target).Warnf("patch-component: failed to reconnect surviving ABI import %q: %v", name, err)
				continue
			}
			m.RemoveExport(exportName)
		}
	}
}
