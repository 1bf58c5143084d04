// Package runner drives the eight-stage pipeline spec §2 describes,
// threading a single pipectx.Context through every pass and shelling out to
// internal/toolchain between stages that need an external tool
// (optimization, merging, component translation).
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wasip1vfs/linker/internal/diag"
	"github.com/wasip1vfs/linker/internal/passes"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/toolchain"
	"github.com/wasip1vfs/linker/internal/tsgen"
	"github.com/wasip1vfs/linker/internal/wasmbin"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// Target is one resolved, compiled guest module the pipeline merges in.
type Target struct {
	Name string
	Path string
}

// Config is everything cmd/wasip1vfs collects from flags and positional
// arguments before invoking Run (spec §6).
type Config struct {
	VFSPath string
	Targets []Target
	OutDir  string

	Layout       pipectx.MemoryLayout
	Threads      bool
	Dwarf        bool
	NoTranspile  bool
	DebugVerbose bool

	WasmMemoryHints map[string]uint32

	Optimizer  *toolchain.Optimizer
	Merger     *toolchain.Merger
	Components *toolchain.ComponentTranslator
}

// Result is what a successful Run produces, for the CLI layer to report.
type Result struct {
	CorePath      string
	ComponentPath string
	TranspileDir  string
}

// Runner owns the ordered pass list and drives every stage over a single
// in-memory wasmir.Module, persisting it to OutDir between stages that hand
// off to an external tool (spec §5 "Temporary files created by each stage
// are deleted before the next stage writes").
type Runner struct {
	Passes   []passes.Pass
	Checkers []passes.Checker
}

// New returns a Runner wired with the pipeline's full default pass list.
func New() *Runner {
	return &Runner{Passes: Default(), Checkers: Checkers()}
}

func (r *Runner) Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := os.RemoveAll(cfg.OutDir); err != nil {
		return nil, fmt.Errorf("clearing out-dir: %w", err)
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating out-dir: %w", err)
	}

	targetNames := make([]string, len(cfg.Targets))
	for i, t := range cfg.Targets {
		targetNames[i] = t.Name
	}
	pctx := pipectx.New(targetNames, cfg.Layout, cfg.Threads, cfg.DebugVerbose, cfg.Dwarf)
	if cfg.WasmMemoryHints != nil {
		pctx.WasmMemoryHints = cfg.WasmMemoryHints
	}

	opt := cfg.Optimizer
	if opt == nil {
		opt = toolchain.DefaultOptimizer()
	}
	merger := cfg.Merger
	if merger == nil {
		merger = toolchain.DefaultMerger()
	}
	comp := cfg.Components
	if comp == nil {
		comp = toolchain.DefaultComponentTranslator()
	}

	vfsModule, err := wasmbin.Load(cfg.VFSPath, cfg.Dwarf)
	if err != nil {
		return nil, fmt.Errorf("loading virtual layer module %s: %w", cfg.VFSPath, err)
	}

	for _, checker := range r.Checkers {
		if err := checker.Check(vfsModule, pctx); err != nil {
			return nil, err
		}
	}

	// Stage: pre_vfs.
	for _, p := range r.Passes {
		if err := p.PreVFS(vfsModule, pctx); err != nil {
			return nil, diag.Wrapf(err, "pre-vfs: pass %s", p.Name())
		}
	}

	// Stage: pre_target, once per target module.
	targetModules := make(map[string]*wasmir.Module, len(cfg.Targets))
	for _, t := range cfg.Targets {
		tm, err := wasmbin.Load(t.Path, cfg.Dwarf)
		if err != nil {
			return nil, fmt.Errorf("loading target module %s (%s): %w", t.Name, t.Path, err)
		}
		for _, p := range r.Passes {
			if err := p.PreTarget(tm, pctx, t.Name); err != nil {
				return nil, diag.Wrapf(err, "pre-target %s: pass %s", t.Name, p.Name())
			}
		}
		targetModules[t.Name] = tm
	}

	// Stage: merge. Persist every pre-stage module and shell to the merger.
	vfsStagePath := filepath.Join(cfg.OutDir, "stage-vfs.wasm")
	if err := wasmbin.Save(vfsModule, vfsStagePath); err != nil {
		return nil, fmt.Errorf("writing pre-merge virtual layer module: %w", err)
	}
	mergeTargets := make([]toolchain.NamedModule, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		p := filepath.Join(cfg.OutDir, "stage-target-"+t.Name+".wasm")
		if err := wasmbin.Save(targetModules[t.Name], p); err != nil {
			return nil, fmt.Errorf("writing pre-merge target module %s: %w", t.Name, err)
		}
		mergeTargets = append(mergeTargets, toolchain.NamedModule{Path: p, Namespace: t.Name})
	}
	mergedPath := filepath.Join(cfg.OutDir, "merged.wasm")
	if err := merger.Merge(ctx, toolchain.NamedModule{Path: vfsStagePath, Namespace: "__self"}, mergeTargets, mergedPath); err != nil {
		return nil, err
	}
	_ = os.Remove(vfsStagePath)
	for _, t := range mergeTargets {
		_ = os.Remove(t.Path)
	}

	m, err := wasmbin.Load(mergedPath, cfg.Dwarf)
	if err != nil {
		return nil, fmt.Errorf("loading merged module: %w", err)
	}

	// Stage: post_combine.
	for _, p := range r.Passes {
		if err := p.PostCombine(m, pctx); err != nil {
			return nil, diag.Wrapf(err, "post-combine: pass %s", p.Name())
		}
	}

	// Optimizer runs between post_combine and post_lower_memory (spec §2
	// stage 4/5), then again, with multi-memory-lowering args, only when the
	// pipeline is configured for single-memory output. Absent --dwarf (the
	// default), every optimizer invocation also strips debug info so it
	// never survives into the shipped output (spec §6).
	var debugArgs []string
	if !cfg.Dwarf {
		debugArgs = toolchain.StripDebugArgs()
	}

	combinedPath := filepath.Join(cfg.OutDir, "combined.wasm")
	if err := wasmbin.Save(m, combinedPath); err != nil {
		return nil, fmt.Errorf("writing post-combine module: %w", err)
	}
	optimizedPath := filepath.Join(cfg.OutDir, "optimized.wasm")
	if err := opt.Run(ctx, combinedPath, optimizedPath, debugArgs...); err != nil {
		return nil, err
	}
	_ = os.Remove(combinedPath)

	if pctx.SingleMemory() {
		loweredPath := filepath.Join(cfg.OutDir, "lowered.wasm")
		loweringArgs := append(append([]string{}, toolchain.LowerMultiMemoryArgs()...), debugArgs...)
		if err := opt.Run(ctx, optimizedPath, loweredPath, loweringArgs...); err != nil {
			return nil, err
		}
		_ = os.Remove(optimizedPath)
		optimizedPath = loweredPath
	}

	m, err = wasmbin.Load(optimizedPath, cfg.Dwarf)
	if err != nil {
		return nil, fmt.Errorf("loading optimized module: %w", err)
	}
	_ = os.Remove(optimizedPath)

	// Stage: post_lower_memory.
	for _, p := range r.Passes {
		if err := p.PostLowerMemory(m, pctx); err != nil {
			return nil, diag.Wrapf(err, "post-lower-memory: pass %s", p.Name())
		}
	}

	// Stage: component_translation. The external tool runs on the
	// post-lower-memory module; renumbering it does is why patch-component
	// stamps long-lived anchors beforehand and repairs them in post_components.
	prePath := filepath.Join(cfg.OutDir, "pre-component.wasm")
	if err := wasmbin.Save(m, prePath); err != nil {
		return nil, fmt.Errorf("writing pre-component module: %w", err)
	}
	componentPath := filepath.Join(cfg.OutDir, "module.component.wasm")
	if err := comp.Translate(ctx, prePath, componentPath); err != nil {
		return nil, err
	}

	corePath := filepath.Join(cfg.OutDir, "module.core.wasm")
	if err := copyFile(prePath, corePath); err != nil {
		return nil, fmt.Errorf("staging core module: %w", err)
	}
	_ = os.Remove(prePath)

	m, err = wasmbin.Load(corePath, cfg.Dwarf)
	if err != nil {
		return nil, fmt.Errorf("reloading core module after component translation: %w", err)
	}

	// Stage: post_components.
	for _, p := range r.Passes {
		if err := p.PostComponents(m, pctx); err != nil {
			return nil, diag.Wrapf(err, "post-components: pass %s", p.Name())
		}
	}

	// Stage: post_all_optimize, a fixed-point sweep (spec §4.1, §8 property
	// 8): re-optimize and re-run the remaining passes in the sweep whenever
	// one reports it changed the module, until a full sweep changes nothing.
	for {
		sweepChanged := false
		for _, p := range r.Passes {
			changed, err := p.PostAllOptimize(m, pctx)
			if err != nil {
				return nil, diag.Wrapf(err, "post-all-optimize: pass %s", p.Name())
			}
			if changed {
				sweepChanged = true
				if err := reoptimize(ctx, cfg.OutDir, opt, &m, debugArgs, cfg.Dwarf); err != nil {
					return nil, err
				}
			}
		}
		if !sweepChanged {
			break
		}
	}

	finalCorePath := filepath.Join(cfg.OutDir, "output.core.wasm")
	if err := wasmbin.Save(m, finalCorePath); err != nil {
		return nil, fmt.Errorf("writing final core module: %w", err)
	}
	finalComponentPath := filepath.Join(cfg.OutDir, "output.component.wasm")
	if err := comp.Translate(ctx, finalCorePath, finalComponentPath); err != nil {
		return nil, err
	}
	_ = os.Remove(componentPath)
	_ = os.Remove(corePath)

	result := &Result{CorePath: finalCorePath, ComponentPath: finalComponentPath}

	if !cfg.NoTranspile {
		transpileDir := filepath.Join(cfg.OutDir, "transpiled")
		if err := comp.Transpile(ctx, finalComponentPath, transpileDir); err != nil {
			return nil, err
		}
		result.TranspileDir = transpileDir

		wasmName := baseNameNoExt(cfg.VFSPath)
		if cfg.Threads {
			if err := tsgen.GenerateThreads(transpileDir, wasmName, pctx.MemorySizeRecord); err != nil {
				return nil, fmt.Errorf("generating threads harness: %w", err)
			}
		} else {
			if err := tsgen.GenerateNonThreads(transpileDir, wasmName); err != nil {
				return nil, fmt.Errorf("generating test_run.ts: %w", err)
			}
		}
	}

	return result, nil
}

func baseNameNoExt(p string) string {
	base := filepath.Base(p)
	return base[:len(base)-len(filepath.Ext(base))]
}

// reoptimize persists m, re-runs the optimizer over it, and reloads the
// result into *m in place — used by the post_all_optimize fixed-point loop.
// debugArgs/dwarf carry the same --dwarf-derived strip-debug posture as the
// main optimizer runs above, so a repeated sweep can't reintroduce debug
// info the pipeline already decided to drop.
func reoptimize(ctx context.Context, outDir string, opt *toolchain.Optimizer, m **wasmir.Module, debugArgs []string, dwarf bool) error {
	in := filepath.Join(outDir, "reopt-in.wasm")
	out := filepath.Join(outDir, "reopt-out.wasm")
	if err := wasmbin.Save(*m, in); err != nil {
		return fmt.Errorf("writing module for re-optimization: %w", err)
	}
	if err := opt.Run(ctx, in, out, debugArgs...); err != nil {
		return err
	}
	reloaded, err := wasmbin.Load(out, dwarf)
	if err != nil {
		return fmt.Errorf("reloading re-optimized module: %w", err)
	}
	*m = reloaded
	_ = os.Remove(in)
	_ = os.Remove(out)
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
