// Command wasip1vfs links a wasip1-vfs virtual layer against one or more
// guest modules, producing a Wasm component plus (unless --no-transpile)
// its JS/TS bindings (spec §6 "External interfaces").
package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(doMain(os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing, same split the
// teacher's own CLI entrypoint uses.
func doMain(stdOut, stdErr *os.File) int {
	cmd := newRootCmd(stdOut, stdErr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stdErr, "wasip1vfs: %v\n", err)
		return 1
	}
	return 0
}
