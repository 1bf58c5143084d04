package passes

import "github.com/wasip1vfs/linker/internal/wasmir"

// thunkBody converts the imported function fid into a local function and
// lets build populate its entry sequence. Every call site, export, element
// entry and start-function reference that used to target the import keeps
// working unchanged — wasmir.ConvertImportFuncToLocal does the id bookkeeping
// this requires, since Wasm's import/local index space means the new
// function can't literally keep fid's number.
//
// This is the shared mechanism behind every "stub import gains a real body"
// rewrite in this package: the memory bridge (spec §4.3), memory trap/
// director (spec §4.3), and ABI connection (spec §4.6) all stamp a forwarding
// thunk onto what used to be an imported function.
func thunkBody(m *wasmir.Module, fid wasmir.FuncID, sig wasmir.FunctionType, build func(*wasmir.Body)) error {
	fn, err := m.ConvertImportFuncToLocal(fid)
	if err != nil {
		return err
	}
	build(fn.Body)
	return nil
}
