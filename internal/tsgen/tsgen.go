// Package tsgen renders the generated auxiliary files spec §6 calls for:
// a single test_run.ts for non-threads output, or a small directory of
// worker/harness files for threads mode. Both are "static templates with
// the component's base filename substituted" — grounded on
// original_source's test_run/mod.rs and test_run/thread.rs, which embed the
// same fixed TypeScript verbatim and only interpolate the wasm base name
// (and, for threads, the consolidated memory's page counts).
package tsgen

import (
	"embed"
	"os"
	"path/filepath"
	"text/template"

	"github.com/wasip1vfs/linker/internal/pipectx"
)

//go:embed templates/test_run.ts.tmpl
var nonThreadsFS embed.FS

//go:embed templates/threads
var threadsFS embed.FS

// nonThreadsData is the substitution set for the single non-threads
// template.
type nonThreadsData struct {
	WasmName string
}

// threadsData is the substitution set for every file in the threads
// harness directory; not every template uses every field.
type threadsData struct {
	WasmName     string
	InitialPages uint32
	MaxPages     uint32
	HasMax       bool
}

// threadsFiles lists every file in the worker-harness template directory,
// in the same order original_source's gen_threads_run writes them.
var threadsFiles = []string{
	"common.ts",
	"inst.ts",
	"test_run.ts",
	"thread_spawn.ts",
	"tsconfig.json",
	"package.json",
	"worker_background_worker.ts",
	"worker.ts",
}

// GenerateNonThreads renders test_run.ts into outDir for a non-threads
// build (spec §6 "test_run.ts (non-threads)").
func GenerateNonThreads(outDir, wasmName string) error {
	tmpl, err := template.ParseFS(nonThreadsFS, "templates/test_run.ts.tmpl")
	if err != nil {
		return err
	}
	return renderToFile(tmpl, filepath.Join(outDir, "test_run.ts"), nonThreadsData{WasmName: wasmName})
}

// GenerateThreads renders the worker/harness directory into outDir for a
// threads build (spec §6 "a directory of worker/harness files (threads
// mode)"), consuming the memory-trap pass's recorded page counts
// (pipectx.Context.MemorySizeRecord, spec §9's typed-context-slot design).
func GenerateThreads(outDir, wasmName string, rec *pipectx.MemorySizeRecord) error {
	data := threadsData{WasmName: wasmName}
	if rec != nil {
		data.InitialPages = rec.InitialPages
		data.MaxPages = rec.MaxPages
		data.HasMax = rec.HasMax
	}

	for _, name := range threadsFiles {
		tmpl, err := template.ParseFS(threadsFS, "templates/threads/"+name+".tmpl")
		if err != nil {
			return err
		}
		if err := renderToFile(tmpl, filepath.Join(outDir, name), data); err != nil {
			return err
		}
	}
	return nil
}

func renderToFile(tmpl *template.Template, path string, data interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return tmpl.Execute(f, data)
}
