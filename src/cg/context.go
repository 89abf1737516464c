package cg

import (
	"dtcg/src/ctf"
	"dtcg/src/idtab"
	"dtcg/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// ProbeInfo describes the probe a clause is attached to, enough to support
// the ARGS[] static argument mapping of spec.md §4.8 ("Array/args read").
type ProbeInfo struct {
	// ArgMap[i] gives the native argument index backing the i'th ARGS[] slot
	// exposed to the clause. A probe with no native argument reordering uses
	// the identity mapping.
	ArgMap []int
}

// NativeArg translates a static ARGS[] index through the probe's argument
// mapping. Out-of-range indices pass through unchanged; the downstream
// runtime is responsible for bounds-checking against the actual frame.
func (p *ProbeInfo) NativeArg(i int) int {
	if p == nil || i < 0 || i >= len(p.ArgMap) {
		return i
	}
	return p.ArgMap[i]
}

// Context is the per-clause compilation context of spec.md §3: a fresh
// register set, string table and instruction list, the current stack depth,
// the probe descriptor and the external collaborators. No two concurrently
// compiled clauses may share a Context (spec.md §5).
type Context struct {
	Regs    *RegSet
	Strings *StrTab
	List    *InstrList
	Probe   *ProbeInfo

	CTF   ctf.Provider
	IDs   idtab.Table
	Opt   util.Options

	// StackDepth is the current offset, in bytes, at which the next
	// temporary would be placed; always 8-byte aligned (spec.md §3).
	StackDepth int
}

// ---------------------
// ----- functions -----
// ---------------------

// NewContext returns a fresh, empty compilation context.
func NewContext(ctfp ctf.Provider, ids idtab.Table, probe *ProbeInfo, opt util.Options) *Context {
	return &Context{
		Regs:    NewRegSet(),
		Strings: NewStrTab(),
		List:    NewInstrList(),
		Probe:   probe,
		CTF:     ctfp,
		IDs:     ids,
		Opt:     opt,
	}
}

// Reset clears Regs/Strings/List/StackDepth for reuse across clauses within
// the same goroutine (spec.md §4.9's compilation driver: "reset the register
// set; destroy and recreate the string table; reset the instruction list").
func (c *Context) Reset() {
	c.Regs.Reset()
	c.Strings = NewStrTab()
	c.List = NewInstrList()
	c.StackDepth = 0
}

// growStack reserves n bytes of stack, returning the depth before growth so
// the caller can restore it (spec.md's "stack_depth on entry equals
// stack_depth on exit" invariant).
func (c *Context) growStack(n int) int {
	prev := c.StackDepth
	c.StackDepth += n
	return prev
}

// shrinkStack restores StackDepth to prev.
func (c *Context) shrinkStack(prev int) {
	c.StackDepth = prev
}

// maxStrOff returns the configured STROFF_MAX override, or 0 to mean "use
// the ISA default" (see StrTab.Insert).
func (c *Context) maxStrOff() int {
	return c.Opt.MaxStrOff
}
