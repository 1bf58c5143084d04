package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/runner"
	"github.com/wasip1vfs/linker/internal/toolchain"
	"github.com/wasip1vfs/linker/internal/wasmbin"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// flags mirrors spec §6's CLI surface, plus the debug switch for verbose
// debug instrumentation.
type flags struct {
	outDir      string
	pkg         string
	layout      string
	threads     string
	dwarf       bool
	noTranspile bool
	memoryHints []string
	debug       bool
}

func newRootCmd(stdOut, stdErr *os.File) *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "wasip1vfs <target> [target...]",
		Short: "Link a wasip1-vfs virtual layer against one or more guest modules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), stdOut, stdErr, f, args)
		},
	}
	cmd.SetOut(stdOut)
	cmd.SetErr(stdErr)

	fs := cmd.Flags()
	fs.StringVar(&f.outDir, "out-dir", "./dist", "output directory; cleaned before the run")
	fs.StringVarP(&f.pkg, "package", "p", "", "select the virtual-layer package when inferring from a workspace")
	fs.StringVarP(&f.layout, "layout", "t", "", "target memory layout: single|multi (default: inferred from the library)")
	fs.StringVar(&f.threads, "threads", "", "true|false (default: inferred from the library)")
	fs.BoolVar(&f.dwarf, "dwarf", false, "preserve debug info")
	fs.BoolVar(&f.noTranspile, "no-transpile", false, "stop before JS transpile; emit only the .component.wasm")
	fs.StringSliceVar(&f.memoryHints, "wasm-memory-hint", nil, "per-target override of which memory index to consider \"used\" (n or target=n)")
	fs.BoolVar(&f.debug, "debug", false, "instrument the output with verbose debug hooks")
	_ = fs.MarkHidden("debug")

	return cmd
}

func runPipeline(ctx context.Context, stdOut, stdErr *os.File, f *flags, specs []string) error {
	threadsOverride, hasThreadsOverride, err := parseThreadsFlag(f.threads)
	if err != nil {
		return err
	}

	// The virtual-layer package is resolved through the same spec forms as
	// a target (spec §6 "-p <package> select the virtual-layer package
	// when inferring from a workspace"); absent -p, fall back to the
	// workspace's own Cargo.toml, same as a bare target name would.
	vfsSpec := f.pkg
	if vfsSpec == "" {
		vfsSpec = "Cargo.toml"
	}
	vfsResolved, err := toolchain.ResolveTargets(ctx, []string{vfsSpec}, hasThreadsOverride && threadsOverride)
	if err != nil {
		return fmt.Errorf("resolving virtual-layer package %q: %w", vfsSpec, err)
	}
	vfsPath := vfsResolved[0].Path

	vfsModule, err := wasmbin.Load(vfsPath, f.dwarf)
	if err != nil {
		return fmt.Errorf("loading virtual layer module %s: %w", vfsPath, err)
	}

	layout, err := resolveLayout(f.layout, vfsModule)
	if err != nil {
		return err
	}
	threads := threadsOverride
	if !hasThreadsOverride {
		threads = vfsModule.FindExport(names.ResetOnThreadOnce) != nil
	}

	resolved, err := toolchain.ResolveTargets(ctx, specs, threads)
	if err != nil {
		return err
	}

	targets := make([]runner.Target, len(resolved))
	for i, rt := range resolved {
		targets[i] = runner.Target{Name: rt.Name, Path: rt.Path}
	}

	hints, err := parseMemoryHints(f.memoryHints, targets)
	if err != nil {
		return err
	}

	cfg := runner.Config{
		VFSPath:         vfsPath,
		Targets:         targets,
		OutDir:          f.outDir,
		Layout:          layout,
		Threads:         threads,
		Dwarf:           f.dwarf,
		NoTranspile:     f.noTranspile,
		DebugVerbose:    f.debug,
		WasmMemoryHints: hints,
	}

	result, err := runner.New().Run(ctx, cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdOut, "component: %s\n", result.ComponentPath)
	if result.TranspileDir != "" {
		fmt.Fprintf(stdOut, "transpiled bindings: %s\n", result.TranspileDir)
	}
	return nil
}

func resolveLayout(v string, vfsModule *wasmir.Module) (pipectx.MemoryLayout, error) {
	switch v {
	case "single":
		return pipectx.LayoutSingle, nil
	case "multi":
		return pipectx.LayoutMulti, nil
	case "":
		if vfsModule.FindExport(names.FlagLayoutExport("single")) != nil {
			return pipectx.LayoutSingle, nil
		}
		return pipectx.LayoutMulti, nil
	default:
		return 0, fmt.Errorf("-t: %q is not single|multi", v)
	}
}

func parseThreadsFlag(v string) (value bool, has bool, err error) {
	if v == "" {
		return false, false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false, fmt.Errorf("--threads: %q is not true|false", v)
	}
	return b, true, nil
}

func parseMemoryHints(raw []string, targets []runner.Target) (map[string]uint32, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	hints := make(map[string]uint32, len(raw))
	for i, entry := range raw {
		if strings.Contains(entry, "=") {
			parts := strings.SplitN(entry, "=", 2)
			n, err := strconv.ParseUint(parts[1], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("--wasm-memory-hint %q: %w", entry, err)
			}
			hints[parts[0]] = uint32(n)
			continue
		}
		n, err := strconv.ParseUint(entry, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("--wasm-memory-hint %q: %w", entry, err)
		}
		if i >= len(targets) {
			return nil, fmt.Errorf("--wasm-memory-hint has more entries than targets")
		}
		hints[targets[i].Name] = uint32(n)
	}
	return hints, nil
}
