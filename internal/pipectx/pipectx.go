// Package pipectx holds the pipeline's shared context struct (spec §3
// "Pipeline context", §9 "replaced by an explicit pipeline context struct,
// not a module-level singleton"). Every pass hook receives a *Context
// alongside the module it's rewriting; passes may read any field and are
// expected to populate the stage-scoped ones they're responsible for
// discovering (see internal/passes/memoryid.go, globalid.go, startfuncid.go).
package pipectx

import "github.com/wasip1vfs/linker/internal/wasmir"

// MemoryLayout selects single- vs multi-memory output (spec §3, §6 flag -t).
type MemoryLayout int

const (
	LayoutMulti MemoryLayout = iota
	LayoutSingle
)

// TargetMemory is the per-target memory-id/global-id bookkeeping the ID
// discovery passes populate and later stages consume (spec §4.2).
type TargetMemory struct {
	// UsedMemID is the memory the target actually uses for its ABI traffic
	// (heuristically determined in pre-target, optionally guided by
	// --wasm-memory-hint; re-derived from an anchor after merge).
	UsedMemID   wasmir.MemID
	WasImported bool
	WasShared   bool
	OriginalName string

	// MutableGlobals is every mutable, locally-initialized global belonging
	// to this target, discovered in pre-vfs/pre-target (spec §4.2 "Global-id
	// visitor").
	MutableGlobals []wasmir.GlobalID

	// StartFunc is the target's original start-section function, if any,
	// recorded by the start-func-id visitor in post-combine (spec §4.2).
	StartFunc   wasmir.FuncID
	HasStartFunc bool

	// BaseOffset is the base address of this target's memory inside the
	// consolidated single memory, extracted by the memory-trap pass after
	// multi-memory lowering (spec §4.3). Valid only in/after
	// post_lower_memory, single-memory layout.
	BaseOffset int32
	HasBaseOffset bool
}

// Context is the pipeline's shared, mutable state across every stage and
// pass (spec §3 "Pipeline context"). It is constructed once per run and
// threaded through the runner; nothing here is a package-level singleton.
type Context struct {
	// Targets is the set of target logical names, insertion order preserved
	// (order matters: it is the order the module-merger namespaces modules
	// in, and the order the synthesized start-section calls per-target reset
	// initializers in — spec §3 "at most one start-section function, which
	// calls: (1) per-target reset-initializer copying").
	Targets []string

	Layout  MemoryLayout
	Threads bool
	DebugVerbose bool
	Dwarf   bool

	// VFSMemID is the virtual layer's own used memory id; valid from
	// pre-vfs onward (until post-lower-memory collapses everything to one
	// memory, at which point it is simply "the" memory).
	VFSMemID    wasmir.MemID
	HasVFSMemID bool

	// VFSMutableGlobals mirrors TargetMemory.MutableGlobals for the virtual
	// layer itself.
	VFSMutableGlobals []wasmir.GlobalID

	// PerTarget holds the above per logical target name.
	PerTarget map[string]*TargetMemory

	// MemorySizeRecord is the one typed context slot spec §9 calls out as
	// the alternative to a type-lookup facility: the final TypeScript
	// generator retrieves the consolidated memory's page count from here,
	// written by the memory-trap pass once it knows the post-lowering
	// layout.
	MemorySizeRecord *MemorySizeRecord

	// WasmMemoryHints is the --wasm-memory-hint override, target name to
	// memory index, consulted by the memory-id visitor in pre-target.
	WasmMemoryHints map[string]uint32
}

// MemorySizeRecord is written once (by the memory-trap / memory-lowering
// bookkeeping) and read once (by the tsgen stage) — see Context.MemorySizeRecord.
type MemorySizeRecord struct {
	InitialPages uint32
	MaxPages     uint32
	HasMax       bool
}

// New builds a Context for the given target set and layout; PerTarget is
// pre-populated with an empty *TargetMemory per target so passes can always
// index it without a nil check.
func New(targets []string, layout MemoryLayout, threads, debugVerbose, dwarf bool) *Context {
	ctx := &Context{
		Targets:      targets,
		Layout:       layout,
		Threads:      threads,
		DebugVerbose: debugVerbose,
		Dwarf:        dwarf,
		PerTarget:    make(map[string]*TargetMemory, len(targets)),
		WasmMemoryHints: map[string]uint32{},
	}
	for _, t := range targets {
		ctx.PerTarget[t] = &TargetMemory{}
	}
	return ctx
}

// Target returns the per-target bookkeeping for name, creating it if absent
// (defensive: every pass should only ever see names from ctx.Targets, but a
// pass iterating post-combine exports discovers targets by name rather than
// by a pre-validated list in a couple of places).
func (c *Context) Target(name string) *TargetMemory {
	t, ok := c.PerTarget[name]
	if !ok {
		t = &TargetMemory{}
		c.PerTarget[name] = t
	}
	return t
}

// SingleMemory reports whether the pipeline is configured for single-memory
// output (spec §2 stage 5 "only when configured for single-memory output").
func (c *Context) SingleMemory() bool { return c.Layout == LayoutSingle }
