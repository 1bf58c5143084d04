package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/wasip1vfs/linker/internal/diag"
)

// ResolvedTarget is a compiled .wasm path paired with the logical name the
// rest of the pipeline merges it under (spec §3 "a target module's logical
// name").
type ResolvedTarget struct {
	Path string
	Name string
}

// cargoManifest is the subset of Cargo.toml this driver actually reads.
type cargoManifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
}

// ResolveTargets resolves every CLI target specification to a compiled
// .wasm path plus logical name (spec §6 "Each is one of: a .wasm path, a
// path/to/Cargo.toml, a package name, or manifest_path::package_name").
// Threads mode selects the wasm32-wasip1-threads build target instead of
// wasm32-wasip1.
func ResolveTargets(ctx context.Context, specs []string, threads bool) ([]ResolvedTarget, error) {
	out := make([]ResolvedTarget, 0, len(specs))
	for _, spec := range specs {
		rt, err := resolveOne(ctx, spec, threads)
		if err != nil {
			return nil, diag.NewPrecondition("pre-target", "", err.Error(), "", nil)
		}
		out = append(out, rt)
	}
	return out, nil
}

func resolveOne(ctx context.Context, spec string, threads bool) (ResolvedTarget, error) {
	switch {
	case strings.HasSuffix(spec, ".wasm"):
		return ResolvedTarget{Path: spec, Name: baseNameNoExt(spec)}, nil

	case strings.Contains(spec, "::"):
		parts := strings.SplitN(spec, "::", 2)
		return buildCargoPackage(ctx, parts[0], parts[1], threads)

	case strings.HasSuffix(spec, "Cargo.toml"):
		name, err := readManifestPackageName(spec)
		if err != nil {
			return ResolvedTarget{}, err
		}
		return buildCargoPackage(ctx, spec, name, threads)

	default:
		// Bare package name: look for ./Cargo.toml in the current directory.
		return buildCargoPackage(ctx, "Cargo.toml", spec, threads)
	}
}

func readManifestPackageName(manifestPath string) (string, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", manifestPath, err)
	}
	var man cargoManifest
	if err := toml.Unmarshal(data, &man); err != nil {
		return "", fmt.Errorf("parsing %s: %w", manifestPath, err)
	}
	if man.Package.Name == "" {
		return "", fmt.Errorf("%s: no [package].name", manifestPath)
	}
	return man.Package.Name, nil
}

func buildCargoPackage(ctx context.Context, manifestPath, pkgName string, threads bool) (ResolvedTarget, error) {
	buildTarget := "wasm32-wasip1"
	if threads {
		buildTarget = "wasm32-wasip1-threads"
	}
	args := []string{
		"build", "--release",
		"--manifest-path", manifestPath,
		"--package", pkgName,
		"--target", buildTarget,
	}
	if err := runTool(ctx, "cargo", args); err != nil {
		return ResolvedTarget{}, err
	}

	manifestDir := filepath.Dir(manifestPath)
	wasmPath := filepath.Join(manifestDir, "target", buildTarget, "release", pkgName+".wasm")
	return ResolvedTarget{Path: wasmPath, Name: pkgName}, nil
}

func baseNameNoExt(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
