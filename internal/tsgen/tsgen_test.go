package tsgen

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasip1vfs/linker/internal/pipectx"
)

func TestGenerateNonThreads_WritesSingleFileWithWasmNameSubstituted(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, GenerateNonThreads(dir, "myapp"))

	out, err := os.ReadFile(filepath.Join(dir, "test_run.ts"))
	require.NoError(t, err)
	require.Contains(t, string(out), "myapp")
}

func TestGenerateThreads_WritesEveryHarnessFile(t *testing.T) {
	dir := t.TempDir()
	rec := &pipectx.MemorySizeRecord{InitialPages: 16, MaxPages: 256, HasMax: true}
	require.NoError(t, GenerateThreads(dir, "myapp", rec))

	for _, name := range threadsFiles {
		out, err := os.ReadFile(filepath.Join(dir, name))
		require.NoErrorf(t, err, "expected %s to be written", name)
		_ = out
	}
}

func TestGenerateThreads_ToleratesNilMemorySizeRecord(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, GenerateThreads(dir, "myapp", nil))
	_, err := os.Stat(filepath.Join(dir, "test_run.ts"))
	require.NoError(t, err)
}
