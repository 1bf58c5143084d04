package passes

import (
	"fmt"

	"github.com/wasip1vfs/linker/internal/diag"
	"github.com/wasip1vfs/linker/internal/names"
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// LibraryPresenceChecker is the Checker hook of spec §4.1: it fails fast,
// before stage 0 runs, if the virtual-layer module was not built against the
// correct runtime library (spec §3 invariant: "The virtual-layer module
// always carries an export named __wasip1_vfs_flag_vfs_memory ... Its
// existence proves the virtual layer was built against the correct runtime
// library") and, per spec §8 scenario E6, if the virtual layer's declared
// memory layout disagrees with the CLI's configured layout.
type LibraryPresenceChecker struct{}

func (LibraryPresenceChecker) Check(m *wasmir.Module, ctx *pipectx.Context) error {
	if m.FindExport(names.FlagVFSMemoryExport) == nil {
		return &diag.PreconditionError{
			Stage:   "pre-vfs",
			Message: fmt.Sprintf("virtual layer is missing %q: it was not linked against the wasip1-vfs runtime library", names.FlagVFSMemoryExport),
		}
	}

	wantLayout := "multi"
	if ctx.SingleMemory() {
		wantLayout = "single"
	}
	otherLayout := "single"
	if wantLayout == "single" {
		otherLayout = "multi"
	}
	if m.FindExport(names.FlagLayoutExport(otherLayout)) != nil && m.FindExport(names.FlagLayoutExport(wantLayout)) == nil {
		return &diag.PreconditionError{
			Stage: "pre-vfs",
			Message: fmt.Sprintf(
				"virtual layer was compiled for %s-memory but the pipeline is configured for %s-memory output (-t %s)",
				otherLayout, wantLayout, wantLayout,
			),
		}
	}
	return nil
}

// StartAnchorChecker verifies every configured target carries its
// __wasip1_vfs_<target>__start_anchor export (spec §3 invariant: "missing
// such an anchor is a user error (suggestion of the closest available name
// is offered)"). It runs as a PostCombine hook since anchors are only
// guaranteed to have survived the merge by that stage.
type StartAnchorChecker struct{ Base }

func (StartAnchorChecker) Name() string { return "start-anchor-checker" }

func (StartAnchorChecker) PostCombine(m *wasmir.Module, ctx *pipectx.Context) error {
	var anchorNames []string
	for _, e := range m.Exports {
		anchorNames = append(anchorNames, e.Name)
	}
	for _, target := range ctx.Targets {
		want := names.StartAnchorExport(target)
		if m.FindExport(want) != nil {
			continue
		}
		return diag.NewPrecondition("post-combine", target,
			fmt.Sprintf("missing required anchor export %q", want), want, anchorNames)
	}
	return nil
}
