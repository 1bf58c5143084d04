// Package toolchain wraps the external collaborators the pipeline shells out
// to: the size-reducing optimizer, the module merger, the component
// translator/transpiler, and the cargo-based package build driver (spec
// §4.11). None of these are implemented in-process — they're invoked as
// subprocesses the same way wazero's own CLI treats the guest program it
// runs, via context.Context-aware os/exec.
package toolchain

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/wasip1vfs/linker/internal/diag"
)

// Optimizer shells to a wasm-opt-shaped CLI between pipeline stages.
type Optimizer struct {
	// Path is the optimizer binary; defaults to "wasm-opt" on the PATH.
	Path string
}

// DefaultOptimizer returns an Optimizer resolving its binary from PATH.
func DefaultOptimizer() *Optimizer { return &Optimizer{Path: "wasm-opt"} }

// Run invokes the optimizer on inPath, writing the optimized module to
// outPath. extraArgs carries any stage-specific flags (e.g. the
// multi-memory-lowering pass name when the pipeline wants single-memory
// output).
func (o *Optimizer) Run(ctx context.Context, inPath, outPath string, extraArgs ...string) error {
	bin := o.Path
	if bin == "" {
		bin = "wasm-opt"
	}
	args := append([]string{inPath, "-o", outPath}, extraArgs...)
	return runTool(ctx, bin, args)
}

// LowerMultiMemoryArgs is the flag set that asks wasm-opt to fold every
// memory into one (spec §2 stage 5 "after the optimizer lowers multi-memory
// to one memory").
func LowerMultiMemoryArgs() []string {
	return []string{"--multi-memory-lowering", "--enable-multimemory"}
}

// StripDebugArgs is the flag set that drops DWARF and name-section debug
// info, used whenever the pipeline is not running with --dwarf (spec §6,
// default false).
func StripDebugArgs() []string {
	return []string{"--strip-debug", "--strip-dwarf"}
}

// runTool is the common subprocess-invocation path every toolchain
// collaborator uses: capture stderr, wrap a non-zero exit in an
// ExternalToolError carrying the tool name, args and stderr verbatim (spec
// §7 "External tool failure").
func runTool(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &diag.ExternalToolError{Tool: bin, Args: args, Stderr: stderr.String(), Cause: err}
	}
	return nil
}
