package toolchain

import "context"

// Merger shells to a wasm-merge-shaped CLI, concatenating the virtual-layer
// module and every renamed target module into one multi-memory module (spec
// §2 stage 3 "merge").
type Merger struct {
	// Path is the merger binary; defaults to "wasm-merge" on the PATH.
	Path string
}

func DefaultMerger() *Merger { return &Merger{Path: "wasm-merge"} }

// NamedModule pairs a compiled module's path with the namespace the merger
// should give it — the virtual layer merges under "__self", each target
// under its own logical name (spec §3 "External name").
type NamedModule struct {
	Path      string
	Namespace string
}

// Merge runs the external merger over vfs plus every target, writing the
// combined module to outPath.
func (mg *Merger) Merge(ctx context.Context, vfs NamedModule, targets []NamedModule, outPath string) error {
	bin := mg.Path
	if bin == "" {
		bin = "wasm-merge"
	}
	args := []string{vfs.Path, vfs.Namespace}
	for _, t := range targets {
		args = append(args, t.Path, t.Namespace)
	}
	args = append(args, "-o", outPath, "--enable-multimemory", "--enable-threads")
	return runTool(ctx, bin, args)
}
