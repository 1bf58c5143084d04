// Package abi is the table of standard OS-abstraction ("wasip1") ABI
// functions the virtual layer intercepts (spec §4.6, §GLOSSARY "ABI
// function"). The name list is grounded on the function set wazero's
// imports/wasi_snapshot_preview1 package registers against the same
// "wasi_snapshot_preview1" host-module name — this pipeline intercepts the
// identical ABI surface, just from the other side (rewriting a guest module
// that imports these names, rather than hosting them).
package abi

// ImportModule is the standard ABI's host import-module name.
const ImportModule = "wasi_snapshot_preview1"

// ThreadSpawnName is the one non-wasip1-snapshot ABI function this pipeline
// also re-routes (spec §4.7). The threads pass looks it up both under
// ImportModule (the guest's ABI import) and under ComponentThreadsModule (the
// real component-model capability), so it is tracked separately from
// Functions.
const ThreadSpawnName = "thread-spawn"

// ComponentThreadsModule is the component-model namespace the real
// thread-spawn capability is imported under (spec §4.7 "component-model
// namespace").
const ComponentThreadsModule = "wasi:threads/thread-spawn@0.2.0"

// Functions is every wasip1 ABI function name the pipeline's ABI-connect pass
// (spec §4.6) knows about — roughly the ~45 operations spec §GLOSSARY
// estimates, spanning args/environ, clocks, fd/path filesystem operations,
// polling, process control, scheduling, randomness and sockets.
var Functions = []string{
	"args_get",
	"args_sizes_get",
	"environ_get",
	"environ_sizes_get",
	"clock_res_get",
	"clock_time_get",
	"fd_advise",
	"fd_allocate",
	"fd_close",
	"fd_datasync",
	"fd_fdstat_get",
	"fd_fdstat_set_flags",
	"fd_fdstat_set_rights",
	"fd_filestat_get",
	"fd_filestat_set_size",
	"fd_filestat_set_times",
	"fd_pread",
	"fd_prestat_get",
	"fd_prestat_dir_name",
	"fd_pwrite",
	"fd_read",
	"fd_readdir",
	"fd_renumber",
	"fd_seek",
	"fd_sync",
	"fd_tell",
	"fd_write",
	"path_create_directory",
	"path_filestat_get",
	"path_filestat_set_times",
	"path_link",
	"path_open",
	"path_readlink",
	"path_remove_directory",
	"path_rename",
	"path_symlink",
	"path_unlink_file",
	"poll_oneoff",
	"proc_exit",
	"proc_raise",
	"sched_yield",
	"random_get",
	"sock_accept",
	"sock_recv",
	"sock_send",
	"sock_shutdown",
}

// IsFunction reports whether name is a known ABI function.
func IsFunction(name string) bool {
	for _, f := range Functions {
		if f == name {
			return true
		}
	}
	return false
}
