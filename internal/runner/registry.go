package runner

import "github.com/wasip1vfs/linker/internal/passes"

// Default returns the pipeline's full ordered pass list, matching the
// section order of spec §4.2-§4.10. Order matters in a handful of places:
// the id-discovery passes (§4.2) must run before anything that consumes
// their pipectx bookkeeping, start-func-id-visitor must read a target's
// renamed __start export before entrypoint.go deletes it, and
// debugbracket.go must be the very last post_all_optimize participant since
// it needs every other pass's function-id churn to have already settled.
func Default() []passes.Pass {
	return []passes.Pass{
		passes.MemoryIDVisitor{},
		passes.GlobalIDVisitor{},
		passes.StartAnchorChecker{},
		passes.StartFuncIDVisitor{},
		passes.MemoryBridge{},
		passes.MemoryTrap{},
		passes.ResetGen{},
		passes.Entrypoint{},
		passes.ABIConnect{},
		passes.Threads{},
		passes.GrowLock{},
		passes.DebugInstr{},
		passes.PatchComponent{},
		passes.DebugBracket{},
	}
}

// Checkers returns the Checker-only hooks that run once before stage 0
// (spec §4.1 "A checker hook runs once before any stage").
func Checkers() []passes.Checker {
	return []passes.Checker{
		passes.LibraryPresenceChecker{},
	}
}
