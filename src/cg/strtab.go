package cg

import (
	"fmt"

	"dtcg/src/isa"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// StrTab is an insertion-order string interner returning stable,
// non-negative offsets (spec.md §3, §4.3).
type StrTab struct {
	offsets map[string]int
	order   []string
	next    int // next offset to hand out, in bytes (each string takes its length plus a NUL terminator)
}

// ---------------------
// ----- functions -----
// ---------------------

// NewStrTab returns an empty string table.
func NewStrTab() *StrTab {
	return &StrTab{offsets: make(map[string]int)}
}

// Insert interns s, returning its stable offset. Re-inserting an
// already-interned string returns its original offset at no additional cost.
func (st *StrTab) Insert(s string, maxOff int) (int, error) {
	if maxOff <= 0 {
		maxOff = isa.StrOffMax
	}
	if off, ok := st.offsets[s]; ok {
		return off, nil
	}
	off := st.next
	if off > maxOff {
		return 0, fmt.Errorf("string table offset %d exceeds ISA maximum %d", off, maxOff)
	}
	st.offsets[s] = off
	st.order = append(st.order, s)
	st.next += len(s) + 1 // +1 for the NUL terminator the runtime expects
	return off, nil
}

// Strings returns the interned strings in insertion order.
func (st *StrTab) Strings() []string {
	out := make([]string, len(st.order))
	copy(out, st.order)
	return out
}

// Len returns the number of interned strings.
func (st *StrTab) Len() int {
	return len(st.order)
}
