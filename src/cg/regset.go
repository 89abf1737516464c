package cg

import "dtcg/src/isa"

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// RegSet is a fixed-cardinality bitmap over R0..RMax (spec.md §3, §4.2). The
// frame pointer (isa.FramePointer) is never handed out by Alloc, and neither
// is R0: R0 is the helper-call return/ABI register (dt_regset reserves its
// analogous ABI registers the same way), and a general allocation landing in
// R0 would collide with the next EmitHelperCall's result.
type RegSet struct {
	used uint64 // bit i set means register i is currently allocated
}

// ---------------------
// ----- Constants -----
// ---------------------

// FailNoReg is returned by Alloc when the register set is exhausted.
const FailNoReg = -1

// ---------------------
// ----- functions -----
// ---------------------

// NewRegSet returns a freshly reset register set.
func NewRegSet() *RegSet {
	return &RegSet{}
}

// Alloc returns the lowest-numbered free register in (R0, frame pointer), or
// FailNoReg if none is free. R0 is reserved and never handed out (see the
// RegSet doc comment). Allocation policy is otherwise unspecified by spec.md
// §4.2; picking the lowest free index keeps allocation deterministic, which
// the property tests in invariants_test.go rely on.
func (r *RegSet) Alloc() int {
	for i := int(isa.ReturnReg) + 1; i < int(isa.FramePointer); i++ {
		if r.used&(1<<uint(i)) == 0 {
			r.used |= 1 << uint(i)
			return i
		}
	}
	return FailNoReg
}

// Free releases reg back to the set. Freeing an already-free register is a no-op.
func (r *RegSet) Free(reg int) {
	if reg < 0 || reg >= int(isa.FramePointer) {
		return
	}
	r.used &^= 1 << uint(reg)
}

// Reset clears every allocation.
func (r *RegSet) Reset() {
	r.used = 0
}

// IsAllocated reports whether reg is currently allocated.
func (r *RegSet) IsAllocated(reg int) bool {
	if reg < 0 || reg >= int(isa.FramePointer) {
		return false
	}
	return r.used&(1<<uint(reg)) != 0
}

// IsReserved reports whether reg is live; used to assert R0 is free before a
// helper call (spec.md §4.5 step 1).
func (r *RegSet) IsReserved(reg int) bool {
	return r.IsAllocated(reg)
}

// Empty reports whether no registers are currently allocated (spec.md §8
// invariant 2: the register set is empty after top-level emission returns).
func (r *RegSet) Empty() bool {
	return r.used == 0
}

// Iter calls visit once for every currently-allocated register in the
// half-open range [lo, hi).
func (r *RegSet) Iter(lo, hi int, visit func(reg int)) {
	if lo < 0 {
		lo = 0
	}
	if hi > int(isa.FramePointer) {
		hi = int(isa.FramePointer)
	}
	for i := lo; i < hi; i++ {
		if r.used&(1<<uint(i)) != 0 {
			visit(i)
		}
	}
}

// AllocatedIn returns, in ascending order, every allocated register in
// [lo, hi). Used by the helper-call emitter to decide what to spill.
func (r *RegSet) AllocatedIn(lo, hi int) []int {
	var out []int
	r.Iter(lo, hi, func(reg int) { out = append(out, reg) })
	return out
}
