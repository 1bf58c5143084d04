package passes

import (
	"fmt"

	"github.com/wasip1vfs/linker/internal/diag"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// MemoryIDVisitor discovers which memory of the virtual layer and of each
// target is "the one used" (spec §4.2 "Memory-id visitor") and anchors it so
// the id survives the merge and optimizer passes in between.
type MemoryIDVisitor struct{ Base }

func (MemoryIDVisitor) Name() string { return "memory-id-visitor" }

// PreVFS reads the export recording the virtual layer's used memory id and
// surfaces it to ctx.
func (MemoryIDVisitor) PreVFS(m *wasmir.Module, ctx *pipectx.Context) error {
	mid, err := m.ExportedMemory(names.SelfABIExport("used_memory"))
	if err != nil {
		// Fall back to "the only memory" when the library doesn't export an
		// explicit marker — true for every virtual layer with exactly one
		// memory, which is the overwhelmingly common case.
		if m.ImportedMemCount+uint32(len(m.Memories)) != 1 {
			return diag.NewStructural("pre-vfs", "", fmt.Errorf("virtual layer declares no used-memory marker and has %d memories (expected exactly 1)", m.ImportedMemCount+uint32(len(m.Memories))))
		}
		mid = 0
	}
	ctx.VFSMemID = mid
	ctx.HasVFSMemID = true

	// The presence checker already confirmed this export exists (spec §3);
	// pre-vfs is the stage that removes it, so it never leaks into the
	// shipped component.
	m.RemoveExport(names.FlagVFSMemoryExport)
	return nil
}

// PreTarget heuristically determines which memory of this target is "used":
// the --wasm-memory-hint override if given, else the sole memory if there is
// exactly one, else memory 0 as the Rust-toolchain-convention default (spec
// §9 open question: "the pipeline assumes Rust-produced toolchain
// signatures"). It stamps an anchor export tying a synthetic name to that
// memory id so post-combine can recover it after the merge renumbers ids.
func (MemoryIDVisitor) PreTarget(m *wasmir.Module, ctx *pipectx.Context, target string) error {
	total := m.ImportedMemCount + uint32(len(m.Memories))
	var used wasmir.MemID
	if hint, ok := ctx.WasmMemoryHints[target]; ok {
		if hint >= total {
			return diag.NewStructural("pre-target", target, fmt.Errorf("--wasm-memory-hint %d out of range (module has %d memories)", hint, total))
		}
		used = wasmir.MemID(hint)
	} else {
		used = 0
	}

	mem := m.MemoryByID(used)
	if mem == nil {
		return diag.NewStructural("pre-target", target, fmt.Errorf("no memory at index %d", used))
	}

	tm := ctx.Target(target)
	tm.UsedMemID = used
	tm.WasImported = m.MemoryIsImported(used)
	tm.WasShared = mem.Shared
	tm.OriginalName = memoryImportName(m, used)

	anchorName := fmt.Sprintf("%smemory_anchor_%s_used", names.ExportPrefix, target)
	m.RemoveExport(anchorName)
	m.AddExport(wasmir.Export{Name: anchorName, Desc: wasmir.ExportMemory, Index: uint32(used)})
	return nil
}

func memoryImportName(m *wasmir.Module, id wasmir.MemID) string {
	if !m.MemoryIsImported(id) {
		return ""
	}
	var i uint32
	for _, imp := range m.Imports {
		if imp.Desc != wasmir.ImportMemory {
			continue
		}
		if wasmir.MemID(i) == id {
			return imp.Name
		}
		i++
	}
	return ""
}

// PostCombine re-derives both the virtual layer's and every target's used
// memory id from the anchors stamped in pre-vfs/pre-target, which is the
// only way to find them again after the merge and any optimizer pass
// in-between have renumbered memory indices (spec §4.2, §8 property 2
// "Anchor round-trip").
func (MemoryIDVisitor) PostCombine(m *wasmir.Module, ctx *pipectx.Context) error {
	for _, target := range ctx.Targets {
		anchorName := fmt.Sprintf("%smemory_anchor_%s_used", names.ExportPrefix, target)
		mid, err := m.ExportedMemory(anchorName)
		if err != nil {
			return diag.NewStructural("post-combine", target, fmt.Errorf("memory anchor %q did not survive merge: %w", anchorName, err))
		}
		ctx.Target(target).UsedMemID = mid
		m.RemoveExport(anchorName)
	}
	return nil
}

// PostLowerMemory records that, after multi-memory lowering, the only memory
// remaining is the VFS memory (spec §4.2 "the only memory that remains is
// the VFS memory").
func (MemoryIDVisitor) PostLowerMemory(m *wasmir.Module, ctx *pipectx.Context) error {
	if len(m.Memories)+int(m.ImportedMemCount) != 1 {
		return diag.NewStructural("post-lower-memory", "", fmt.Errorf("expected exactly one memory after lowering, found %d", len(m.Memories)+int(m.ImportedMemCount)))
	}
	ctx.VFSMemID = 0
	for _, target := range ctx.Targets {
		ctx.Target(target).UsedMemID = 0
	}
	return nil
}
