package cg

import (
	"math"

	"dtcg/src/idtab"
	"dtcg/src/isa"
)

// SetImm materializes the constant x into register reg: a single 32-bit
// move-immediate if x fits in 32 bits, otherwise a two-word 64-bit immediate
// load (spec.md §4.4).
func (c *Context) SetImm(reg int, x int64) {
	c.SetImmLabelled(reg, x, NoLabel, nil)
}

// SetImmLabelled is like SetImm but places label on the first emitted word
// and, if ref is non-nil, attaches an external-identifier back-reference to
// the last emitted word so the downstream linker can relocate a symbol
// address (spec.md §4.4).
func (c *Context) SetImmLabelled(reg int, x int64, label int, ref *idtab.Descriptor) {
	if fitsInt32(x) {
		w := isa.Word{Op: isa.MovImm, Dst: isa.Reg(reg), Imm: int32(x)}
		if label != NoLabel {
			cur := c.List.AppendLabelled(label, w)
			c.List.Instrs[cur].ExternRef = ref
		} else {
			c.List.AppendRef(w, ref)
		}
		return
	}

	lo := isa.Word{Op: isa.LdImm64, Dst: isa.Reg(reg), Imm: int32(uint32(x))}
	hi := isa.Word{Op: isa.LdImm64, Imm: int32(uint32(x >> 32))}

	if label != NoLabel {
		c.List.AppendLabelled(label, lo)
	} else {
		c.List.Append(lo)
	}
	c.List.AppendRef(hi, ref)
}

// fitsInt32 reports whether x is representable as a sign-extended 32-bit
// immediate.
func fitsInt32(x int64) bool {
	return x >= math.MinInt32 && x <= math.MaxInt32
}
