package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasip1vfs/linker/internal/diag"
)

// writeStubScript writes a shell script masquerading as an external tool:
// it records the arguments it was invoked with to argsFile, then exits 0,
// or exits 1 after writing failMsg to stderr if failMsg is non-empty.
func writeStubScript(t *testing.T, argsFile, failMsg string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub scripts are POSIX shell only")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "stub-tool")
	body := "#!/bin/sh\nprintf '%s\\n' \"$*\" > " + argsFile + "\n"
	if failMsg != "" {
		body += "echo '" + failMsg + "' >&2\nexit 1\n"
	}
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	return script
}

func TestRunTool_WrapsNonZeroExitInExternalToolError(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	bin := writeStubScript(t, argsFile, "boom")

	err := runTool(context.Background(), bin, []string{"a", "b"})
	require.Error(t, err)

	var toolErr *diag.ExternalToolError
	require.ErrorAs(t, err, &toolErr)
	require.Equal(t, bin, toolErr.Tool)
	require.Contains(t, toolErr.Stderr, "boom")
}

func TestRunTool_SucceedsOnZeroExit(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	bin := writeStubScript(t, argsFile, "")

	require.NoError(t, runTool(context.Background(), bin, []string{"x"}))

	got, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Equal(t, "x\n", string(got))
}

func TestOptimizer_Run_PassesInOutAndExtraArgs(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	bin := writeStubScript(t, argsFile, "")
	opt := &Optimizer{Path: bin}

	require.NoError(t, opt.Run(context.Background(), "in.wasm", "out.wasm", LowerMultiMemoryArgs()...))

	got, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Equal(t, "in.wasm -o out.wasm --multi-memory-lowering --enable-multimemory\n", string(got))
}

func TestOptimizer_Run_DefaultsPathWhenEmpty(t *testing.T) {
	opt := &Optimizer{}
	err := opt.Run(context.Background(), "in.wasm", "out.wasm")
	require.Error(t, err) // "wasm-opt" almost certainly isn't on a test machine's PATH
	var toolErr *diag.ExternalToolError
	require.ErrorAs(t, err, &toolErr)
	require.Equal(t, "wasm-opt", toolErr.Tool)
}

func TestMerger_Merge_OrdersVFSFirstThenEachTarget(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	bin := writeStubScript(t, argsFile, "")
	mg := &Merger{Path: bin}

	vfs := NamedModule{Path: "vfs.wasm", Namespace: "__self"}
	targets := []NamedModule{
		{Path: "app.wasm", Namespace: "app"},
		{Path: "extra.wasm", Namespace: "extra"},
	}
	require.NoError(t, mg.Merge(context.Background(), vfs, targets, "out.wasm"))

	got, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Equal(t,
		"vfs.wasm __self app.wasm app extra.wasm extra -o out.wasm --enable-multimemory --enable-threads\n",
		string(got))
}

func TestComponentTranslator_Translate(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	bin := writeStubScript(t, argsFile, "")
	c := &ComponentTranslator{TranslatorPath: bin}

	require.NoError(t, c.Translate(context.Background(), "core.wasm", "out.component.wasm"))

	got, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Equal(t, "component new core.wasm -o out.component.wasm\n", string(got))
}

func TestComponentTranslator_Transpile(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	bin := writeStubScript(t, argsFile, "")
	c := &ComponentTranslator{TranspilePath: bin}

	require.NoError(t, c.Transpile(context.Background(), "out.component.wasm", "dist/transpiled"))

	got, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Equal(t, "transpile out.component.wasm -o dist/transpiled\n", string(got))
}

func TestResolveTargets_WasmPathIsUsedVerbatim(t *testing.T) {
	rts, err := ResolveTargets(context.Background(), []string{"/path/to/app.wasm"}, false)
	require.NoError(t, err)
	require.Len(t, rts, 1)
	require.Equal(t, "/path/to/app.wasm", rts[0].Path)
	require.Equal(t, "app", rts[0].Name)
}

func TestResolveTargets_ManifestPathPackageNameSyntax(t *testing.T) {
	dir := t.TempDir()
	cargoDir := filepath.Join(dir, "crate")
	require.NoError(t, os.MkdirAll(cargoDir, 0o755))
	manifest := filepath.Join(cargoDir, "Cargo.toml")

	stubBin := writeStubScript(t, filepath.Join(dir, "cargo-args.txt"), "")
	t.Setenv("PATH", filepath.Dir(stubBin)+string(os.PathListSeparator)+os.Getenv("PATH"))
	require.NoError(t, os.Rename(stubBin, filepath.Join(filepath.Dir(stubBin), "cargo")))

	rts, err := ResolveTargets(context.Background(), []string{manifest + "::mycrate"}, false)
	require.NoError(t, err)
	require.Len(t, rts, 1)
	require.Equal(t, "mycrate", rts[0].Name)
	require.Equal(t, filepath.Join(cargoDir, "target", "wasm32-wasip1", "release", "mycrate.wasm"), rts[0].Path)
}

func TestReadManifestPackageName_ParsesCargoToml(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "Cargo.toml")
	require.NoError(t, os.WriteFile(manifest, []byte("[package]\nname = \"mycrate\"\nversion = \"0.1.0\"\n"), 0o644))

	name, err := readManifestPackageName(manifest)
	require.NoError(t, err)
	require.Equal(t, "mycrate", name)
}

func TestReadManifestPackageName_MissingNameErrors(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "Cargo.toml")
	require.NoError(t, os.WriteFile(manifest, []byte("[package]\nversion = \"0.1.0\"\n"), 0o644))

	_, err := readManifestPackageName(manifest)
	require.Error(t, err)
}
