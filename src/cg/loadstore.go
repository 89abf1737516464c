package cg

import (
	"dtcg/src/ast"
	"dtcg/src/isa"
)

// ChooseLoad resolves the access width for a memory read and selects the
// matching opcode bank (spec.md §4.6). For bit-fields the bit count is
// rounded up to a byte boundary and then to the nearest power-of-two
// container in {1,2,4,8} via clp2; for ordinary scalars widthBits is the
// declared type size. Userland loads (userland set, which callers take from
// the node's ast.FlagUserland) are rejected with an Unknown fault, so the
// userland rows of the opcode table are never selected.
func ChooseLoad(n *ast.Node, widthBits uint, isBitfield, signed, userland bool) (isa.Bytecode, error) {
	widthBytes, err := resolveWidthBytes(n, widthBits, isBitfield)
	if err != nil {
		return isa.Nop, err
	}
	if userland {
		return isa.Nop, fault(Unknown, n, "userland loads are not supported")
	}
	switch widthBytes {
	case 1:
		if signed {
			return isa.LdxB_S_K, nil
		}
		return isa.LdxB_U_K, nil
	case 2:
		if signed {
			return isa.LdxH_S_K, nil
		}
		return isa.LdxH_U_K, nil
	case 4:
		if signed {
			return isa.LdxW_S_K, nil
		}
		return isa.LdxW_U_K, nil
	case 8:
		if signed {
			return isa.LdxDW_S_K, nil
		}
		return isa.LdxDW_U_K, nil
	}
	panic("unreachable: resolveWidthBytes guarantees width in {1,2,4,8}")
}

// ChooseStore resolves the opcode for a memory write of widthBits, applying
// the same bit-field rounding as ChooseLoad. Stores have no sign or address
// space bank.
func ChooseStore(n *ast.Node, widthBits uint, isBitfield bool) (isa.Bytecode, error) {
	widthBytes, err := resolveWidthBytes(n, widthBits, isBitfield)
	if err != nil {
		return isa.Nop, err
	}
	switch widthBytes {
	case 1:
		return isa.StB, nil
	case 2:
		return isa.StH, nil
	case 4:
		return isa.StW, nil
	case 8:
		return isa.StDW, nil
	}
	panic("unreachable: resolveWidthBytes guarantees width in {1,2,4,8}")
}

// resolveWidthBytes implements the clp2-based width rounding shared by
// ChooseLoad and ChooseStore; width ∉ {1,2,4,8} bytes is a fatal internal
// error (spec.md §4.6).
func resolveWidthBytes(n *ast.Node, widthBits uint, isBitfield bool) (int, error) {
	var bytes uint
	if isBitfield {
		bytes = clp2((widthBits + 7) / 8)
	} else {
		bytes = widthBits / 8
	}
	switch bytes {
	case 1, 2, 4, 8:
		return int(bytes), nil
	default:
		return 0, fault(Unknown, n, "access width %d bytes not in {1,2,4,8}", bytes)
	}
}

// clp2 rounds x up to the next power of two (x==0 rounds to 1).
func clp2(x uint) uint {
	if x == 0 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	return x + 1
}

// bitShift computes the right-shift amount that brings a bit-field's value
// to bit 0 of its container, given the container width, the field's bit
// offset as recorded by CTF, and the target's byte order. CTF records
// bit-field offsets from the most significant bit on big-endian targets and
// from the least significant bit on little-endian targets.
func bitShift(containerBits, offsetBits, widthBits uint, bigEndian bool) uint {
	if bigEndian {
		return containerBits - offsetBits - widthBits
	}
	return offsetBits
}

// EmitBitfieldExtract emits the shift pair that isolates a bit-field already
// loaded whole into reg, leaving the (possibly sign-extended) field value in
// reg (spec.md §4.8's "extract epilogue", invariant 5). It reuses the same
// shift-left-then-shift-right idiom as Typecast: shifting the field's top bit
// to bit 63 and back guarantees the round trip and correct sign extension on
// both endiannesses without a 64-bit mask immediate.
func EmitBitfieldExtract(c *Context, reg int, containerBits, offsetBits, widthBits uint, signed, bigEndian bool) {
	shift := bitShift(containerBits, offsetBits, widthBits, bigEndian)
	c.List.Append(isa.Word{Op: isa.LshI, Dst: isa.Reg(reg), Imm: int32(64 - shift - widthBits)})
	if signed {
		c.List.Append(isa.Word{Op: isa.ArshI, Dst: isa.Reg(reg), Imm: int32(64 - widthBits)})
	} else {
		c.List.Append(isa.Word{Op: isa.RshI, Dst: isa.Reg(reg), Imm: int32(64 - widthBits)})
	}
}

// EmitBitfieldInsert merges valueReg's low widthBits bits into containerReg
// at the field's position, leaving the merged container value in
// containerReg ready to store back whole (spec.md §4.8's "insert"). It
// allocates one scratch register from regs to build the field mask and
// frees it before returning; the caller is responsible for freeing valueReg.
func EmitBitfieldInsert(c *Context, containerReg, valueReg int, containerBits, offsetBits, widthBits uint, bigEndian bool) {
	shift := bitShift(containerBits, offsetBits, widthBits, bigEndian)

	// Truncate the incoming value to its field width.
	c.List.Append(isa.Word{Op: isa.LshI, Dst: isa.Reg(valueReg), Imm: int32(64 - widthBits)})
	c.List.Append(isa.Word{Op: isa.RshI, Dst: isa.Reg(valueReg), Imm: int32(64 - widthBits)})
	c.List.Append(isa.Word{Op: isa.LshI, Dst: isa.Reg(valueReg), Imm: int32(shift)})

	mask := c.Regs.Alloc()
	c.SetImm(mask, -1)
	c.List.Append(isa.Word{Op: isa.LshI, Dst: isa.Reg(mask), Imm: int32(64 - widthBits)})
	c.List.Append(isa.Word{Op: isa.RshI, Dst: isa.Reg(mask), Imm: int32(64 - widthBits)})
	c.List.Append(isa.Word{Op: isa.LshI, Dst: isa.Reg(mask), Imm: int32(shift)})
	c.List.Append(isa.Word{Op: isa.NotR, Dst: isa.Reg(mask)})

	c.List.Append(isa.Word{Op: isa.AndR, Dst: isa.Reg(containerReg), Src: isa.Reg(mask)})
	c.List.Append(isa.Word{Op: isa.OrR, Dst: isa.Reg(containerReg), Src: isa.Reg(valueReg)})
	c.Regs.Free(mask)
}
