package cg

import (
	"dtcg/src/ast"
	"dtcg/src/isa"
	"dtcg/src/util"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// HelperArgKind identifies how one helper-call argument is marshaled, per
// the prototype characters of spec.md §4.5.
type HelperArgKind byte

const (
	ArgReg HelperArgKind = 'r' // pass Reg's value via a register-to-register move
	ArgImm HelperArgKind = 'i' // materialize Imm into the next arg register
	ArgDep HelperArgKind = 'd' // pass FP - stack_depth (the laid-out argument vector base)
)

// HelperArg is one positional argument to a helper call.
type HelperArg struct {
	Kind HelperArgKind
	Reg  int
	Imm  int64
}

// spillSlot records a register spilled to the stack during a helper call, so
// it can be restored in LIFO order.
type spillSlot struct {
	reg  int
	slot int // StackDepth value *before* this register was spilled
}

// ---------------------
// ----- functions -----
// ---------------------

// EmitHelperCall encodes the full helper-call ABI of spec.md §4.5: assert R0
// free, validate the helper id and argument count against its prototype,
// compute the stack-depth marker if needed, spill caller-saved registers,
// marshal arguments, emit the CALL, unspill in LIFO order, and return R0 as
// the result register. The caller must move the result out of R0 before its
// next helper call if it needs the value to survive one.
func EmitHelperCall(c *Context, n *ast.Node, id isa.HelperID, args []HelperArg) (int, error) {
	// 1. Assert R0 is free.
	if c.Regs.IsReserved(int(isa.ReturnReg)) {
		return 0, fault(ReservedReg, n, "R0 is live at helper call site")
	}

	// 2. Validate helper id and arg count against its prototype.
	proto, err := isa.Lookup(id)
	if err != nil {
		return 0, fault(InvalidHelper, n, "%s", err)
	}
	if len(proto.Proto) != len(args) {
		return 0, fault(InvalidHelper, n, "helper %s wants %d args, got %d", proto.Name, len(proto.Proto), len(args))
	}
	for i, a := range args {
		want := HelperArgKind(proto.Proto[i])
		if a.Kind != want {
			return 0, fault(InvalidHelper, n, "helper %s arg %d: prototype wants %q, got %q", proto.Name, i, want, a.Kind)
		}
	}

	// 3. If any 'd' appears, compute FP - stack_depth once into R0, before
	// the stack grows from spilling.
	for _, a := range args {
		if a.Kind == ArgDep {
			c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.ReturnReg, Src: isa.FramePointer})
			c.List.Append(isa.Word{Op: isa.SubI, Dst: isa.ReturnReg, Imm: int32(c.StackDepth)})
			break
		}
	}

	// 4. Spill caller-saved registers in [1, CALLER_SAVED_BOUND).
	spillStack := util.Stack{}
	spilled := make(map[int]int)
	for _, reg := range c.Regs.AllocatedIn(1, isa.CallerSavedBound) {
		slot := c.growStack(8)
		c.List.Append(isa.Word{Op: isa.StDW, Dst: isa.FramePointer, Src: isa.Reg(reg), Imm: int32(slot)})
		spillStack.Push(spillSlot{reg: reg, slot: slot})
		spilled[reg] = slot
	}

	// 5. Marshal arguments into successive argument registers. A spilled
	// source register may already have been overwritten by an earlier
	// argument, so its value is reloaded from its spill slot.
	for i, a := range args {
		dst := int(isa.ArgRegStart) + i
		switch a.Kind {
		case ArgReg:
			if slot, ok := spilled[a.Reg]; ok {
				c.List.Append(isa.Word{Op: isa.LdxDW_U_K, Dst: isa.Reg(dst), Src: isa.FramePointer, Imm: int32(slot)})
			} else if a.Reg != dst {
				c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(dst), Src: isa.Reg(a.Reg)})
			}
		case ArgImm:
			c.SetImm(dst, a.Imm)
		case ArgDep:
			if dst != int(isa.ReturnReg) {
				c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(dst), Src: isa.ReturnReg})
			}
		}
	}

	// 6. Emit the call.
	c.List.Append(isa.Word{Op: isa.Call, Imm: int32(id)})

	// 7. Unspill in LIFO order, shrinking stack_depth back down.
	for e := spillStack.Pop(); e != nil; e = spillStack.Pop() {
		s := e.(spillSlot)
		c.List.Append(isa.Word{Op: isa.LdxDW_U_K, Dst: isa.Reg(s.reg), Src: isa.FramePointer, Imm: int32(s.slot)})
		c.shrinkStack(s.slot)
	}

	// 8. Return R0 as the result register.
	return int(isa.ReturnReg), nil
}
