// Package passes implements every IR-rewriting pass the pipeline runs at
// each stage (spec §4.1-§4.10). A pass is a tagged-variant enum member in the
// sense spec §9 describes: each concrete pass is its own Go type implementing
// whichever of the six optional hooks it needs, embedding Base to get no-op
// defaults for the rest.
package passes

import (
	"github.com/wasip1vfs/linker/internal/pipectx"
	"github.com/wasip1vfs/linker/internal/wasmir"
)

// Pass is the full hook surface a pass may implement. Hooks not overridden by
// embedding Base default to a no-op (or, for PostAllOptimize, "never
// changed").
type Pass interface {
	Name() string
	PreVFS(m *wasmir.Module, ctx *pipectx.Context) error
	PreTarget(m *wasmir.Module, ctx *pipectx.Context, target string) error
	PostCombine(m *wasmir.Module, ctx *pipectx.Context) error
	PostLowerMemory(m *wasmir.Module, ctx *pipectx.Context) error
	PostComponents(m *wasmir.Module, ctx *pipectx.Context) error
	// PostAllOptimize returns changed=true when it mutated the module in a
	// way that should trigger another optimizer pass plus a re-run of the
	// remaining post_all_optimize passes this sweep (spec §4.1).
	PostAllOptimize(m *wasmir.Module, ctx *pipectx.Context) (changed bool, err error)
}

// Base gives every hook a no-op default; concrete passes embed it and
// override only the hooks spec §4.1 lists them as participating in.
type Base struct{}

func (Base) PreVFS(*wasmir.Module, *pipectx.Context) error                   { return nil }
func (Base) PreTarget(*wasmir.Module, *pipectx.Context, string) error        { return nil }
func (Base) PostCombine(*wasmir.Module, *pipectx.Context) error              { return nil }
func (Base) PostLowerMemory(*wasmir.Module, *pipectx.Context) error          { return nil }
func (Base) PostComponents(*wasmir.Module, *pipectx.Context) error           { return nil }
func (Base) PostAllOptimize(*wasmir.Module, *pipectx.Context) (bool, error)  { return false, nil }

// Checker runs once before stage 0 to fail fast on a violated precondition
// (spec §4.1 "A checker hook runs once before any stage").
type Checker interface {
	Check(m *wasmir.Module, ctx *pipectx.Context) error
}
