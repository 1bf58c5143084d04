// Package names centralizes every synthetic import/export string convention
// the pipeline relies on (spec §3 "External name", §6 "Import/export name
// conventions", bit-exact). Keeping every format string in one package is
// what makes spec §8 property 2 (anchor round-trip) mechanically checkable:
// a pass that writes an anchor and a later-stage pass that reads it back both
// go through the same formatter/parser pair.
package names

import (
	"fmt"
	"strconv"
	"strings"
)

// Self is the sentinel <target> value meaning "the virtual layer itself"
// (spec §3: "either a target module's logical name, the literal __self for
// the virtual layer, or vfs for virtual-layer-level metadata").
const Self = "__self"

// VFS is the sentinel <target> value for virtual-layer-level metadata.
const VFS = "vfs"

// ImportModule is the module name every synthesized import lives under.
const ImportModule = "wasip1-vfs"

// ImportModuleSingleMemory and ImportModuleDebug are the two import-module
// variants spec §6 names.
const (
	ImportModuleSingleMemory = "wasip1-vfs_single_memory"
	ImportModuleDebug        = "wasip1-vfs_debug"
)

// ExportPrefix is the prefix every synthesized export carries.
const ExportPrefix = "__wasip1_vfs_"

// NonRecursiveABIModule is the lower-level ABI import-module prefix the
// virtual layer uses internally to invoke the real ABI without recursing
// into its own interception code (spec §4.6).
const NonRecursiveABIModule = "non_recursive_wasi_snapshot_preview1"

// ABIExport returns the per-target export name for a standard ABI function,
// e.g. ABIExport("app", "fd_write") -> "__wasip1_vfs_app_fd_write".
func ABIExport(target, abiName string) string {
	return ExportPrefix + target + "_" + abiName
}

// StartExport, MainVoidExport are the renamed-entry-point export names
// (spec §4.5, §6: "<target>__start", "<target>___main_void" — note the
// doubled underscore before "start" and tripled before "main_void", which
// come from concatenating the already-underscore-prefixed original symbol
// name onto the target prefix).
func StartExport(target string) string    { return ExportPrefix + target + "__start" }
func MainVoidExport(target string) string { return ExportPrefix + target + "___main_void" }

// StartAnchorExport is the per-target anchor proving a resettable/_start
// entry point survived the merge (spec §3 invariant on __start_anchor).
func StartAnchorExport(target string) string { return StartExport(target) + "_anchor" }

// MemoryCopyFromExport, MemoryCopyToExport are the stub-import/export names
// for cross-memory byte transport (spec §4.3).
func MemoryCopyFromExport(target string) string { return ExportPrefix + target + "_memory_copy_from" }
func MemoryCopyToExport(target string) string   { return ExportPrefix + target + "_memory_copy_to" }

// MemoryTrapExport, MemoryDirectorExport are the two-phase pointer-translation
// stub names (spec §4.3).
func MemoryTrapExport(target string) string     { return ExportPrefix + target + "_memory_trap" }
func MemoryDirectorExport(target string) string { return ExportPrefix + target + "_memory_director" }

// ResetImport is the reset-capability import a target opts into (spec §4.4).
func ResetImport(target string) string { return ExportPrefix + target + "_reset" }

// WasiThreadStartExport, WasiThreadSpawnExport are the per-target thread
// entry-point/spawn export names (spec §4.7).
func WasiThreadStartExport(target string) string { return ExportPrefix + target + "_wasi_thread_start" }
func WasiThreadSpawnExport(target string) string { return ExportPrefix + target + "_wasi_thread_spawn" }

// SelfABIExport is the virtual layer's own ABI export namespace
// ("___self_*", spec §6).
func SelfABIExport(what string) string { return ExportPrefix + Self + "_" + what }

// MemoryAnchorExport, GlobalAnchorExport are the numbered anchor export
// formats (spec §3 "Anchor", §6).
func MemoryAnchorExport(n int) string { return fmt.Sprintf("%smemory_anchor_%d", ExportPrefix, n) }
func GlobalAnchorExport(target string, n int) string {
	return fmt.Sprintf("%sglobal_anchor_%s_%d", ExportPrefix, target, n)
}

// FlagVFSMemoryExport is the library-presence flag export (spec §3 invariant,
// §6).
const FlagVFSMemoryExport = ExportPrefix + "flag_vfs_memory"

// FlagLayoutExport returns the library-declared memory-layout flag export
// name for the given layout ("single" or "multi"), spec §6.
func FlagLayoutExport(layout string) string { return ExportPrefix + "flag_vfs_" + layout + "_memory" }

// MemoryGrowLockerExport is the per-memory locker function export name
// (spec §4.8, §6).
func MemoryGrowLockerExport(memID uint32) string {
	return fmt.Sprintf("%smemory_grow_locker_%d", ExportPrefix, memID)
}

// Shared-global helper export names the library provides (spec §4.8, §6).
const (
	GrowGlobalAltSet        = ExportPrefix + "memory_grow_global_alt_set"
	GrowGlobalAltGet        = ExportPrefix + "memory_grow_global_alt_get"
	GrowGlobalAltGetNoWait  = ExportPrefix + "memory_grow_global_alt_get_no_wait"
	GrowGlobalAltInitOnce   = ExportPrefix + "memory_grow_global_alt_init_once"
	GrowGlobalAltPos        = ExportPrefix + "memory_grow_global_alt_pos"
)

// ResetOnThreadOnce is the at-most-once-across-threads hook the virtual layer
// exposes for gating the reset-area initializer (spec §4.4, §5).
const ResetOnThreadOnce = ExportPrefix + "reset_on_thread_once"

// IsRootSpawn is the boolean-returning branch function the library provides
// for distinguishing a root thread spawn from an internally-scheduled one
// (spec §4.7).
const IsRootSpawn = ExportPrefix + "is_root_spawn"

// Debug instrumentation hook names (spec §4.9).
const (
	DebugCallMemoryGrowPre = ExportPrefix + "debug_call_memory_grow_pre"
	DebugCallMemoryGrow    = ExportPrefix + "debug_call_memory_grow"
	DebugCallFunctionStart = ExportPrefix + "debug_call_function_start"
	DebugCallFunctionEnd   = ExportPrefix + "debug_call_function_end"
	DebugLoop              = ExportPrefix + "debug_loop"
	DebugAtomicWait        = ExportPrefix + "debug_atomic_wait"
)

// PatchMemoryAnchorExport, PatchVFSMemoryAnchor are the patch-component
// pass's own long-lived memory anchors (spec §4.10): stamped before the
// component-translation tool runs and read back in post_components, after
// the shorter-lived memory-id-visitor anchors of the same name shape have
// already been consumed earlier in the pipeline.
func PatchMemoryAnchorExport(target string) string { return ExportPrefix + "patch_memory_anchor_" + target }

const PatchVFSMemoryAnchor = ExportPrefix + "patch_memory_anchor_vfs"

// HasPrefix reports whether name begins with the synthesized-export prefix.
func HasPrefix(name string) bool { return strings.HasPrefix(name, ExportPrefix) }

// ParseMemoryAnchor parses a memory anchor export name written by
// MemoryAnchorExport, returning its index.
func ParseMemoryAnchor(name string) (int, bool) {
	const p = ExportPrefix + "memory_anchor_"
	if !strings.HasPrefix(name, p) {
		return 0, false
	}
	n, err := strconv.Atoi(name[len(p):])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseGlobalAnchor parses a global anchor export name written by
// GlobalAnchorExport, returning the target and index.
func ParseGlobalAnchor(name string) (target string, idx int, ok bool) {
	const p = ExportPrefix + "global_anchor_"
	if !strings.HasPrefix(name, p) {
		return "", 0, false
	}
	rest := name[len(p):]
	i := strings.LastIndex(rest, "_")
	if i < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(rest[i+1:])
	if err != nil {
		return "", 0, false
	}
	return rest[:i], n, true
}

// ClosestName returns the entry of candidates with the smallest Levenshtein
// edit distance to want, used by precondition-failure diagnostics to suggest
// "did you mean" corrections (spec §7).
func ClosestName(want string, candidates []string) (best string, distance int) {
	distance = -1
	for _, c := range candidates {
		d := levenshtein(want, c)
		if distance == -1 || d < distance {
			distance = d
			best = c
		}
	}
	return best, distance
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	la, lb := len(a), len(b)
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[lb]
}
