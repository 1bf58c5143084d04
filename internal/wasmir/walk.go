package wasmir

// WalkInstrs calls visit for every instruction in every sequence reachable
// from body's entry sequence, in an arbitrary but stable (sequence-id
// ascending, then instruction order) traversal. visit may mutate the
// instruction in place (e.g. to rewrite a call target) but must not change
// control flow shape; use WalkSeqs if a pass needs to replace whole sequences.
func (b *Body) WalkInstrs(visit func(seq *InstrSeq, idx int, in *Instr)) {
	b.WalkSeqs(func(seq *InstrSeq) {
		for i := range seq.Instrs {
			visit(seq, i, &seq.Instrs[i])
		}
	})
}

// WalkSeqs calls visit once per sequence reachable from the entry sequence,
// entry first, then children in increasing SeqID order. Because SeqIDs are
// allocated in creation order and control flow only ever references
// already-created sequences in this IR's construction discipline, this
// produces a stable, deterministic order without needing a separate
// reachability pass.
func (b *Body) WalkSeqs(visit func(seq *InstrSeq)) {
	ids := make([]SeqID, 0, len(b.Seqs))
	for id := range b.Seqs {
		ids = append(ids, id)
	}
	sortSeqIDs(ids)
	for _, id := range ids {
		visit(b.Seqs[id])
	}
}

func sortSeqIDs(ids []SeqID) {
	// insertion sort: sequence counts per function body are small (tens, not
	// thousands), so this avoids pulling in sort for one call site.
	for i := 1; i < len(ids); i++ {
		v := ids[i]
		j := i - 1
		for j >= 0 && ids[j] > v {
			ids[j+1] = ids[j]
			j--
		}
		ids[j+1] = v
	}
}

// RewriteCalls replaces every OpCall/OpReturnCall instruction targeting
// old with new, across every sequence of body. Returns the number of call
// sites rewritten.
func (b *Body) RewriteCalls(old, new FuncID) int {
	n := 0
	b.WalkInstrs(func(_ *InstrSeq, _ int, in *Instr) {
		if IsCall(in.Op) && in.FuncID == old {
			in.FuncID = new
			n++
		}
	})
	return n
}

// CountCalls returns the number of OpCall/OpReturnCall instructions
// targeting target across every sequence of body.
func (b *Body) CountCalls(target FuncID) int {
	n := 0
	b.WalkInstrs(func(_ *InstrSeq, _ int, in *Instr) {
		if IsCall(in.Op) && in.FuncID == target {
			n++
		}
	})
	return n
}

// CallSites returns, for every OpCall/OpReturnCall instruction targeting
// target, the sequence it lives in and its index within that sequence.
func (b *Body) CallSites(target FuncID) []CallSite {
	var out []CallSite
	b.WalkSeqs(func(seq *InstrSeq) {
		for i, in := range seq.Instrs {
			if IsCall(in.Op) && in.FuncID == target {
				out = append(out, CallSite{Seq: seq.ID, Index: i})
			}
		}
	})
	return out
}

type CallSite struct {
	Seq   SeqID
	Index int
}

// DirectCallees returns the set of FuncIDs directly called anywhere in body,
// deduplicated.
func (b *Body) DirectCallees() map[FuncID]bool {
	out := map[FuncID]bool{}
	b.WalkInstrs(func(_ *InstrSeq, _ int, in *Instr) {
		if IsCall(in.Op) {
			out[in.FuncID] = true
		}
		if in.Op == OpCallIndirect || in.Op == OpReturnCallIndirect {
			// indirect calls have no statically known callee; callers of
			// DirectCallees that need a conservative over-approximation
			// should treat indirect calls as "calls something unknown" by
			// checking Body.HasIndirectCall separately.
		}
	})
	return out
}

// HasIndirectCall reports whether body contains a call_indirect or
// return_call_indirect instruction anywhere.
func (b *Body) HasIndirectCall() bool {
	found := false
	b.WalkInstrs(func(_ *InstrSeq, _ int, in *Instr) {
		if in.Op == OpCallIndirect || in.Op == OpReturnCallIndirect {
			found = true
		}
	})
	return found
}

// ReachableFuncs performs a visited-set walk of the module's static call
// graph starting at roots, following only direct calls (OpCall /
// OpReturnCall) — the same shape spec §4.9 needs to compute the
// debug-instrumentation exclusion set (the hooks themselves and their
// transitive callees) and that spec §9 calls out generally ("call-graph
// walks use a visited-set to terminate on cycles and to avoid revisiting
// helper functions").
func (m *Module) ReachableFuncs(roots ...FuncID) map[FuncID]bool {
	visited := map[FuncID]bool{}
	var stack []FuncID
	stack = append(stack, roots...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		fn := m.FuncByID(id)
		if fn == nil || fn.Body == nil {
			continue
		}
		for callee := range fn.Body.DirectCallees() {
			if !visited[callee] {
				stack = append(stack, callee)
			}
		}
	}
	return visited
}
