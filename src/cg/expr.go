package cg

import (
	"dtcg/src/ast"
	"dtcg/src/ctf"
	"dtcg/src/idtab"
	"dtcg/src/isa"
	"dtcg/src/util"
)

// Emit is the expression visitor of spec.md §4.8: a dispatch on n.Op. Every
// case obeys the result-register contract: on return n.ResultReg holds a
// register owning the value (or address, when ast.FlagRef is set on n) that
// the caller must free.
func (c *Context) Emit(n *ast.Node) (int, error) {
	var reg int
	var err error

	switch n.Op {
	case ast.IntLit:
		reg, err = c.emitIntLit(n)
	case ast.StrLit:
		reg, err = c.emitStrLit(n)
	case ast.Ident:
		reg, err = c.emitIdent(n)
	case ast.Binary:
		reg, err = c.emitBinary(n)
	case ast.Compare:
		reg, err = c.emitCompare(n)
	case ast.LogAnd:
		reg, err = c.emitLogAnd(n)
	case ast.LogOr:
		reg, err = c.emitLogOr(n)
	case ast.LogXor:
		reg, err = c.emitLogXor(n)
	case ast.LogNot:
		reg, err = c.emitLogNot(n)
	case ast.Ternary:
		reg, err = c.emitTernary(n)
	case ast.PreInc, ast.PreDec, ast.PostInc, ast.PostDec:
		reg, err = c.emitIncDec(n)
	case ast.Assign, ast.CompoundAssign:
		reg, err = c.emitAssign(n)
	case ast.Index:
		reg, err = c.emitIndex(n)
	case ast.InlineRef:
		reg, err = c.emitInline(n)
	case ast.Arrow, ast.Dot:
		reg, err = c.emitMember(n)
	case ast.Deref:
		reg, err = c.emitDeref(n)
	case ast.Addr:
		reg, err = c.emitAddr(n)
	case ast.Comma:
		reg, err = c.emitComma(n)
	case ast.Cast:
		reg, err = c.emitCast(n)
	case ast.Call:
		reg, err = c.emitCall(n)
	case ast.TranslatorBody:
		reg, err = c.emitTranslatorBody(n)
	default:
		return 0, fault(CGExpr, n, "unhandled node kind %s", n.Op)
	}

	if err != nil {
		return 0, err
	}
	n.ResultReg = reg
	return reg, nil
}

func (c *Context) alloc(n *ast.Node) (int, error) {
	reg := c.Regs.Alloc()
	if reg == FailNoReg {
		return 0, fault(NoReg, n, "register set exhausted")
	}
	return reg, nil
}

// ---------------------
// ----- literals ------
// ---------------------

func (c *Context) emitIntLit(n *ast.Node) (int, error) {
	reg, err := c.alloc(n)
	if err != nil {
		return 0, err
	}
	c.SetImm(reg, n.IntVal)
	return reg, nil
}

func (c *Context) emitStrLit(n *ast.Node) (int, error) {
	off, err := c.Strings.Insert(n.StrVal, c.maxStrOff())
	if err != nil {
		return 0, fault(Str2Big, n, "%s", err)
	}
	result, err := EmitHelperCall(c, n, isa.HelperSetS, []HelperArg{{Kind: ArgImm, Imm: int64(off)}})
	if err != nil {
		return 0, err
	}
	reg, err := c.alloc(n)
	if err != nil {
		return 0, err
	}
	c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(reg), Src: isa.Reg(result)})
	return reg, nil
}

// ---------------------
// ---- identifiers ----
// ---------------------

func (c *Context) emitIdent(n *ast.Node) (int, error) {
	id := n.Ident
	if id == nil {
		return 0, fault(CGExpr, n, "identifier node has no bound descriptor")
	}

	switch {
	case id.HasReg():
		reg, err := c.alloc(n)
		if err != nil {
			return 0, err
		}
		c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(reg), Src: isa.Reg(id.CGReg)})
		return reg, nil

	case id.Kind == idtab.KindInline:
		return c.emitInline(n)

	case id.Kind == idtab.KindFunction:
		return c.emitCall(n)

	case id.IsArgs:
		return c.emitArgsRead(n, nil)

	case id.IsArray:
		return c.emitArrayIdentRead(n)

	case id.Kind == idtab.KindSymbol:
		return c.emitSymbol(n)

	default:
		return c.emitScalarRead(n, id)
	}
}

func (c *Context) scopeGetHelper(scope idtab.Scope) isa.HelperID {
	switch scope {
	case idtab.ScopeTLS:
		return isa.HelperGetThread
	case idtab.ScopeGlobal:
		return isa.HelperGetGlobal
	default:
		return isa.HelperGetLocal
	}
}

func (c *Context) scopeSetHelper(scope idtab.Scope) isa.HelperID {
	switch scope {
	case idtab.ScopeTLS:
		return isa.HelperSetThread
	case idtab.ScopeGlobal:
		return isa.HelperSetGlobal
	default:
		return isa.HelperSetLocal
	}
}

func (c *Context) emitScalarRead(n *ast.Node, id *idtab.Descriptor) (int, error) {
	id.MarkRead()
	helper := c.scopeGetHelper(id.Scope)
	result, err := EmitHelperCall(c, n, helper, []HelperArg{{Kind: ArgImm, Imm: int64(id.ID)}})
	if err != nil {
		return 0, err
	}
	reg, err := c.alloc(n)
	if err != nil {
		return 0, err
	}
	c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(reg), Src: isa.Reg(result)})
	return reg, nil
}

func (c *Context) emitSymbol(n *ast.Node) (int, error) {
	reg, err := c.alloc(n)
	if err != nil {
		return 0, err
	}
	c.SetImmLabelled(reg, 0, NoLabel, n.Ident)
	if !n.Has(ast.FlagRef) {
		loadOp, err := ChooseLoad(n, exprBits(c, n), n.Has(ast.FlagBitfield), n.Has(ast.FlagSigned), n.Has(ast.FlagUserland))
		if err != nil {
			return 0, err
		}
		c.List.Append(isa.Word{Op: loadOp, Dst: isa.Reg(reg), Src: isa.Reg(reg)})
	}
	return reg, nil
}

func (c *Context) emitArrayIdentRead(n *ast.Node) (int, error) {
	if n.Ident.IsAssoc {
		return c.emitAssocRead(n, n.Ident, n)
	}
	return c.emitBuiltinArrayRead(n, n.Ident, n)
}

// ---------------------
// ----- arithmetic -----
// ---------------------

func (c *Context) emitBinary(n *ast.Node) (int, error) {
	lreg, err := c.Emit(n.Left)
	if err != nil {
		return 0, err
	}
	rreg, err := c.Emit(n.Right)
	if err != nil {
		return 0, err
	}

	leftPtr := isPointerType(c, n.Left)
	rightPtr := isPointerType(c, n.Right)

	if (n.Operator == "+" || n.Operator == "-") && leftPtr != rightPtr {
		if leftPtr {
			if err := PtrSizeScale(c, n, handleOf(n.Left), rreg, false); err != nil {
				return 0, err
			}
		} else {
			if err := PtrSizeScale(c, n, handleOf(n.Right), lreg, false); err != nil {
				return 0, err
			}
		}
	}

	op, err := binaryOpcode(n, n.Operator)
	if err != nil {
		return 0, err
	}
	c.List.Append(isa.Word{Op: op, Dst: isa.Reg(lreg), Src: isa.Reg(rreg)})

	if n.Operator == "-" && leftPtr && rightPtr {
		if err := PtrSizeScale(c, n, handleOf(n.Left), lreg, true); err != nil {
			return 0, err
		}
	}

	c.Regs.Free(rreg)
	return lreg, nil
}

func binaryOpcode(n *ast.Node, operator string) (isa.Bytecode, error) {
	signed := n.Has(ast.FlagSigned)
	switch operator {
	case "+":
		return isa.AddR, nil
	case "-":
		return isa.SubR, nil
	case "*":
		return isa.MulR, nil
	case "/":
		if signed {
			return isa.DivR, nil
		}
		return isa.DivUR, nil
	case "%":
		if signed {
			return isa.ModR, nil
		}
		return isa.ModUR, nil
	case "&":
		return isa.AndR, nil
	case "|":
		return isa.OrR, nil
	case "^":
		return isa.XorR, nil
	case "<<":
		return isa.LshR, nil
	case ">>":
		if signed {
			return isa.ArshR, nil
		}
		return isa.RshR, nil
	default:
		return isa.Nop, fault(CGExpr, n, "unrecognized binary operator %q", operator)
	}
}

// ---------------------
// ---- comparison ------
// ---------------------

func compareBranch(operator string, signed bool) (isa.Bytecode, error) {
	switch operator {
	case "==":
		return isa.JmpEq, nil
	case "!=":
		return isa.JmpNe, nil
	case "<":
		if signed {
			return isa.Jslt, nil
		}
		return isa.Jlt, nil
	case "<=":
		if signed {
			return isa.Jsle, nil
		}
		return isa.Jle, nil
	case ">":
		if signed {
			return isa.Jsgt, nil
		}
		return isa.Jgt, nil
	case ">=":
		if signed {
			return isa.Jsge, nil
		}
		return isa.Jge, nil
	default:
		return isa.Nop, fault(CGExpr, nil, "unrecognized comparison operator %q", operator)
	}
}

func (c *Context) emitCompare(n *ast.Node) (int, error) {
	lreg, err := c.Emit(n.Left)
	if err != nil {
		return 0, err
	}
	rreg, err := c.Emit(n.Right)
	if err != nil {
		return 0, err
	}

	signed := n.Has(ast.FlagSigned)
	if isStringType(c, n.Left) {
		signed = true
		result, err := EmitHelperCall(c, n, isa.HelperStrcmp, []HelperArg{{Kind: ArgReg, Reg: lreg}, {Kind: ArgReg, Reg: rreg}})
		if err != nil {
			return 0, err
		}
		c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(lreg), Src: isa.Reg(result)})
	}

	c.List.Append(isa.Word{Op: isa.SubR, Dst: isa.Reg(lreg), Src: isa.Reg(rreg)})
	c.Regs.Free(rreg)

	branchOp, err := compareBranch(n.Operator, signed)
	if err != nil {
		return 0, err
	}

	trueLbl := c.List.FreshLabel()
	postLbl := c.List.FreshLabel()
	c.List.Append(isa.Word{Op: branchOp, Dst: isa.Reg(lreg), Imm: int32(trueLbl)})
	c.SetImm(lreg, 0)
	c.List.Append(isa.Word{Op: isa.Jmp, Imm: int32(postLbl)})
	c.List.AppendLabelled(trueLbl, isa.Word{Op: isa.Nop})
	c.SetImm(lreg, 1)
	c.List.AppendLabelled(postLbl, isa.Word{Op: isa.Nop})
	return lreg, nil
}

// ---------------------
// ------ logical -------
// ---------------------

func (c *Context) emitLogAnd(n *ast.Node) (int, error) {
	lreg, err := c.Emit(n.Left)
	if err != nil {
		return 0, err
	}
	falseLbl := c.List.FreshLabel()
	postLbl := c.List.FreshLabel()
	c.List.Append(isa.Word{Op: isa.JmpIfZero, Dst: isa.Reg(lreg), Imm: int32(falseLbl)})

	rreg, err := c.Emit(n.Right)
	if err != nil {
		return 0, err
	}
	c.List.Append(isa.Word{Op: isa.JmpIfZero, Dst: isa.Reg(rreg), Imm: int32(falseLbl)})
	c.Regs.Free(rreg)

	c.SetImm(lreg, 1)
	c.List.Append(isa.Word{Op: isa.Jmp, Imm: int32(postLbl)})
	c.List.AppendLabelled(falseLbl, isa.Word{Op: isa.Nop})
	c.SetImm(lreg, 0)
	c.List.AppendLabelled(postLbl, isa.Word{Op: isa.Nop})
	return lreg, nil
}

func (c *Context) emitLogOr(n *ast.Node) (int, error) {
	lreg, err := c.Emit(n.Left)
	if err != nil {
		return 0, err
	}
	trueLbl := c.List.FreshLabel()
	falseLbl := c.List.FreshLabel()
	postLbl := c.List.FreshLabel()
	c.List.Append(isa.Word{Op: isa.JmpIfNotZero, Dst: isa.Reg(lreg), Imm: int32(trueLbl)})

	rreg, err := c.Emit(n.Right)
	if err != nil {
		return 0, err
	}
	c.List.Append(isa.Word{Op: isa.JmpIfZero, Dst: isa.Reg(rreg), Imm: int32(falseLbl)})
	c.Regs.Free(rreg)

	c.List.AppendLabelled(trueLbl, isa.Word{Op: isa.Nop})
	c.SetImm(lreg, 1)
	c.List.Append(isa.Word{Op: isa.Jmp, Imm: int32(postLbl)})
	c.List.AppendLabelled(falseLbl, isa.Word{Op: isa.Nop})
	c.SetImm(lreg, 0)
	c.List.AppendLabelled(postLbl, isa.Word{Op: isa.Nop})
	return lreg, nil
}

func (c *Context) normalizeBool(reg int) {
	zeroLbl := c.List.FreshLabel()
	postLbl := c.List.FreshLabel()
	c.List.Append(isa.Word{Op: isa.JmpIfZero, Dst: isa.Reg(reg), Imm: int32(zeroLbl)})
	c.SetImm(reg, 1)
	c.List.Append(isa.Word{Op: isa.Jmp, Imm: int32(postLbl)})
	c.List.AppendLabelled(zeroLbl, isa.Word{Op: isa.Nop})
	c.SetImm(reg, 0)
	c.List.AppendLabelled(postLbl, isa.Word{Op: isa.Nop})
}

func (c *Context) emitLogXor(n *ast.Node) (int, error) {
	lreg, err := c.Emit(n.Left)
	if err != nil {
		return 0, err
	}
	c.normalizeBool(lreg)
	rreg, err := c.Emit(n.Right)
	if err != nil {
		return 0, err
	}
	c.normalizeBool(rreg)
	c.List.Append(isa.Word{Op: isa.XorR, Dst: isa.Reg(lreg), Src: isa.Reg(rreg)})
	c.Regs.Free(rreg)
	return lreg, nil
}

func (c *Context) emitLogNot(n *ast.Node) (int, error) {
	reg, err := c.Emit(n.Child)
	if err != nil {
		return 0, err
	}
	zeroLbl := c.List.FreshLabel()
	postLbl := c.List.FreshLabel()
	c.List.Append(isa.Word{Op: isa.JmpIfZero, Dst: isa.Reg(reg), Imm: int32(zeroLbl)})
	c.SetImm(reg, 0)
	c.List.Append(isa.Word{Op: isa.Jmp, Imm: int32(postLbl)})
	c.List.AppendLabelled(zeroLbl, isa.Word{Op: isa.Nop})
	c.SetImm(reg, 1)
	c.List.AppendLabelled(postLbl, isa.Word{Op: isa.Nop})
	return reg, nil
}

// ---------------------
// ------ ternary -------
// ---------------------

func (c *Context) emitTernary(n *ast.Node) (int, error) {
	condReg, err := c.Emit(n.Child)
	if err != nil {
		return 0, err
	}
	falseLbl := c.List.FreshLabel()
	postLbl := c.List.FreshLabel()
	c.List.Append(isa.Word{Op: isa.JmpIfZero, Dst: isa.Reg(condReg), Imm: int32(falseLbl)})
	c.Regs.Free(condReg)

	thenReg, err := c.Emit(n.Left)
	if err != nil {
		return 0, err
	}
	placeholder := c.List.Append(isa.Word{Op: isa.MovReg, Src: isa.Reg(thenReg)})
	c.Regs.Free(thenReg)
	c.List.Append(isa.Word{Op: isa.Jmp, Imm: int32(postLbl)})

	c.List.AppendLabelled(falseLbl, isa.Word{Op: isa.Nop})
	elseReg, err := c.Emit(n.Right)
	if err != nil {
		return 0, err
	}
	c.List.AppendLabelled(postLbl, isa.Word{Op: isa.Nop})

	w := c.List.At(placeholder).Word
	w.Dst = isa.Reg(elseReg)
	c.List.Patch(placeholder, w)
	return elseReg, nil
}

// ---------------------
// ---- inc / dec -------
// ---------------------

func pointerHandle(c *Context, n *ast.Node) (ctf.Handle, bool) {
	h := handleOf(n)
	kind, err := c.CTF.TypeKind(h)
	if err != nil || kind != ctf.KindPointer {
		return ctf.Handle{}, false
	}
	ref, err := c.CTF.TypeReference(h)
	if err != nil {
		return ctf.Handle{}, false
	}
	return ref, true
}

func (c *Context) incDecDelta(n *ast.Node) int64 {
	if isPointerType(c, n.Child) {
		if h, ok := pointerHandle(c, n.Child); ok {
			if sz, err := c.CTF.TypeSize(h); err == nil && sz > 0 {
				return int64(sz)
			}
		}
	}
	return 1
}

func (c *Context) emitIncDec(n *ast.Node) (int, error) {
	reg, err := c.Emit(n.Child)
	if err != nil {
		return 0, err
	}

	scratch, err := c.alloc(n)
	if err != nil {
		return 0, err
	}
	c.SetImm(scratch, c.incDecDelta(n))

	pre := reg
	isPre := n.Op == ast.PreInc || n.Op == ast.PreDec
	isInc := n.Op == ast.PreInc || n.Op == ast.PostInc

	var preReg int
	if !isPre {
		preReg, err = c.alloc(n)
		if err != nil {
			return 0, err
		}
		c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(preReg), Src: isa.Reg(reg)})
	}

	op := isa.AddR
	if !isInc {
		op = isa.SubR
	}
	c.List.Append(isa.Word{Op: op, Dst: isa.Reg(reg), Src: isa.Reg(scratch)})
	c.Regs.Free(scratch)

	if err := c.storeBack(n.Child, reg); err != nil {
		return 0, err
	}

	if isPre {
		return pre, nil
	}
	c.Regs.Free(reg)
	return preReg, nil
}

// storeBack writes the value in valueReg back to the storage location
// described by target: a helper call when target is a plain variable, or a
// memory store via target re-emitted in REF mode to obtain its address
// otherwise (spec.md §4.8's "otherwise re-emit the child in REF mode").
func (c *Context) storeBack(target *ast.Node, valueReg int) error {
	if target.Op == ast.Ident && target.Ident != nil && !target.Ident.IsArray {
		id := target.Ident
		id.MarkWrite()
		_, err := EmitHelperCall(c, target, c.scopeSetHelper(id.Scope), []HelperArg{
			{Kind: ArgImm, Imm: int64(id.ID)},
			{Kind: ArgReg, Reg: valueReg},
		})
		return err
	}

	var addrReg int
	err := target.WithFlag(ast.FlagRef, func() error {
		r, e := c.Emit(target)
		addrReg = r
		return e
	})
	if err != nil {
		return err
	}

	isBitfield := target.Has(ast.FlagBitfield)
	widthBits := exprBits(c, target)
	storeOp, err := ChooseStore(target, widthBits, isBitfield)
	if err != nil {
		c.Regs.Free(addrReg)
		return err
	}

	if !isBitfield {
		c.List.Append(isa.Word{Op: storeOp, Dst: isa.Reg(addrReg), Src: isa.Reg(valueReg)})
		c.Regs.Free(addrReg)
		return nil
	}

	// Bit-field stores can't clobber the rest of the container: load it
	// whole, merge valueReg's bits into it (leaving valueReg itself intact
	// for the caller, per the result-register contract), then store the
	// merged container back (spec.md §4.6 bit-field insert).
	containerBytes, err := resolveWidthBytes(target, widthBits, true)
	if err != nil {
		c.Regs.Free(addrReg)
		return err
	}
	containerBits := uint(containerBytes) * 8

	bitOff, err := c.bitOffsetOf(target)
	if err != nil {
		c.Regs.Free(addrReg)
		return err
	}
	offsetInContainer := uint(bitOff % uint64(containerBits))

	loadOp, err := ChooseLoad(target, widthBits, isBitfield, false, target.Has(ast.FlagUserland))
	if err != nil {
		c.Regs.Free(addrReg)
		return err
	}
	containerReg, err := c.alloc(target)
	if err != nil {
		c.Regs.Free(addrReg)
		return err
	}
	c.List.Append(isa.Word{Op: loadOp, Dst: isa.Reg(containerReg), Src: isa.Reg(addrReg)})

	valCopy, err := c.alloc(target)
	if err != nil {
		c.Regs.Free(addrReg)
		c.Regs.Free(containerReg)
		return err
	}
	c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(valCopy), Src: isa.Reg(valueReg)})
	EmitBitfieldInsert(c, containerReg, valCopy, containerBits, offsetInContainer, widthBits, c.Opt.TargetEndian == util.Big)
	c.Regs.Free(valCopy)

	c.List.Append(isa.Word{Op: storeOp, Dst: isa.Reg(addrReg), Src: isa.Reg(containerReg)})
	c.Regs.Free(containerReg)
	c.Regs.Free(addrReg)
	return nil
}

// ---------------------
// ---- assignment -------
// ---------------------

func (c *Context) emitAssign(n *ast.Node) (int, error) {
	var rhsReg int
	var err error
	if n.Op == ast.CompoundAssign {
		// left OP right, with the same pointer scaling as the plain operator.
		rhsReg, err = c.emitBinary(n)
	} else {
		rhsReg, err = c.Emit(n.Right)
	}
	if err != nil {
		return 0, err
	}

	if n.Right.Translator != nil {
		return c.emitTranslatorAssign(n, rhsReg)
	}

	if err := c.storeBack(n.Left, rhsReg); err != nil {
		return 0, err
	}
	return rhsReg, nil
}

func (c *Context) emitTranslatorAssign(n *ast.Node, _ int) (int, error) {
	tr := n.Right.Translator
	h := ctf.Handle{File: tr.DstFile, Type: tr.DstType}
	size, err := c.CTF.TypeSize(h)
	if err != nil {
		return 0, fault(CTF, n, "%s", err)
	}

	base, err := c.allocScratch(n, int64(size))
	if err != nil {
		return 0, err
	}
	scratch, err := c.alloc(n)
	if err != nil {
		return 0, err
	}
	c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(scratch), Src: isa.Reg(base)})

	for _, m := range tr.Members {
		valReg, err := c.Emit(m.Expr)
		if err != nil {
			return 0, err
		}
		Typecast(c, valReg, exprBits(c, m.Expr), m.Expr.Has(ast.FlagSigned), memberBits(c, h, m.Name), memberSigned(c, h, m.Name))

		addrReg, err := c.alloc(n)
		if err != nil {
			return 0, err
		}
		c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(addrReg), Src: isa.Reg(scratch)})
		if m.Offset > 0 {
			c.List.Append(isa.Word{Op: isa.AddI, Dst: isa.Reg(addrReg), Imm: int32(m.Offset)})
		}

		width := memberBits(c, h, m.Name)
		isBitfield := memberBitfield(c, h, m.Name)
		storeOp, err := ChooseStore(m.Expr, width, isBitfield)
		if err != nil {
			return 0, err
		}

		if !isBitfield {
			c.List.Append(isa.Word{Op: storeOp, Dst: isa.Reg(addrReg), Src: isa.Reg(valReg)})
			c.Regs.Free(addrReg)
			c.Regs.Free(valReg)
			continue
		}

		// As in storeBack: a bit-field member shares its container with its
		// siblings, so the store is a load/insert/store-back sequence
		// rather than a plain whole-value store (spec.md §4.6).
		_, ctfMember, err := MemberInfo(m.Expr, c.CTF, h, m.Name)
		if err != nil {
			return 0, err
		}
		containerBytes, err := resolveWidthBytes(m.Expr, width, true)
		if err != nil {
			return 0, err
		}
		containerBits := uint(containerBytes) * 8
		offsetInContainer := uint(ctfMember.Offset % uint64(containerBits))

		loadOp, err := ChooseLoad(m.Expr, width, true, false, m.Expr.Has(ast.FlagUserland))
		if err != nil {
			return 0, err
		}
		containerReg, err := c.alloc(n)
		if err != nil {
			return 0, err
		}
		c.List.Append(isa.Word{Op: loadOp, Dst: isa.Reg(containerReg), Src: isa.Reg(addrReg)})
		EmitBitfieldInsert(c, containerReg, valReg, containerBits, offsetInContainer, width, c.Opt.TargetEndian == util.Big)
		c.List.Append(isa.Word{Op: storeOp, Dst: isa.Reg(addrReg), Src: isa.Reg(containerReg)})
		c.Regs.Free(containerReg)
		c.Regs.Free(addrReg)
		c.Regs.Free(valReg)
	}

	if err := c.storeBack(n.Left, scratch); err != nil {
		return 0, err
	}
	return scratch, nil
}

// allocScratch materializes size into a scratch register and calls the
// alloc_scratch helper (prototype "r"), returning R0's result register.
func (c *Context) allocScratch(n *ast.Node, size int64) (int, error) {
	sizeReg, err := c.alloc(n)
	if err != nil {
		return 0, err
	}
	c.SetImm(sizeReg, size)
	result, err := EmitHelperCall(c, n, isa.HelperAllocScratch, []HelperArg{{Kind: ArgReg, Reg: sizeReg}})
	c.Regs.Free(sizeReg)
	return result, err
}

// ---------------------
// --- argument lists ----
// ---------------------

// EmitArgList implements spec.md §4.8's argument list emission: evaluate
// every argument first so none is evicted by a sibling's codegen, then lay
// out a (value, size) vector on the stack and return the argument count.
func (c *Context) EmitArgList(args []*ast.Node) (int, error) {
	regs := make([]int, len(args))
	for i, a := range args {
		r, err := c.Emit(a)
		if err != nil {
			return 0, err
		}
		regs[i] = r
	}

	c.growStack(len(args) * 16)
	// The vector lies below FP: element 0 starts at FP - StackDepth, the
	// address a 'd' helper argument passes.
	vec := -c.StackDepth
	for i, a := range args {
		slot := vec + i*16
		c.List.Append(isa.Word{Op: isa.StDW, Dst: isa.FramePointer, Src: isa.Reg(regs[i]), Imm: int32(slot)})

		if a.Has(ast.FlagRef) {
			var sizeReg int
			if isStringType(c, a) {
				r, err := EmitHelperCall(c, a, isa.HelperStrlen, []HelperArg{{Kind: ArgReg, Reg: regs[i]}, {Kind: ArgImm, Imm: 0}})
				if err != nil {
					return 0, err
				}
				sizeReg = r
			} else {
				sizeReg, err = c.alloc(a)
				if err != nil {
					return 0, err
				}
				size, _ := c.CTF.TypeSize(handleOf(a))
				c.SetImm(sizeReg, int64(size))
			}
			c.List.Append(isa.Word{Op: isa.StDW, Dst: isa.FramePointer, Src: isa.Reg(sizeReg), Imm: int32(slot + 8)})
			c.Regs.Free(sizeReg)
		} else {
			zero, err := c.alloc(a)
			if err != nil {
				return 0, err
			}
			c.SetImm(zero, 0)
			c.List.Append(isa.Word{Op: isa.StDW, Dst: isa.FramePointer, Src: isa.Reg(zero), Imm: int32(slot + 8)})
			c.Regs.Free(zero)
		}
		c.Regs.Free(regs[i])
	}
	return len(args), nil
}

func (c *Context) emitCall(n *ast.Node) (int, error) {
	var args []*ast.Node
	for a := n.Child; a != nil; a = a.Next {
		args = append(args, a)
	}
	prevDepth := c.StackDepth
	argc, err := c.EmitArgList(args)
	if err != nil {
		return 0, err
	}
	result, err := EmitHelperCall(c, n, isa.HelperSubr, []HelperArg{
		{Kind: ArgImm, Imm: int64(n.Ident.ID)},
		{Kind: ArgDep},
		{Kind: ArgImm, Imm: int64(argc)},
	})
	c.shrinkStack(prevDepth)
	if err != nil {
		return 0, err
	}
	reg, err := c.alloc(n)
	if err != nil {
		return 0, err
	}
	c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(reg), Src: isa.Reg(result)})
	return reg, nil
}

// ---------------------
// ----- arrays ----------
// ---------------------

func (c *Context) emitAssocRead(n *ast.Node, id *idtab.Descriptor, keyRoot *ast.Node) (int, error) {
	var keys []*ast.Node
	for a := keyRoot.Child; a != nil; a = a.Next {
		keys = append(keys, a)
	}
	prevDepth := c.StackDepth
	argc, err := c.EmitArgList(keys)
	if err != nil {
		return 0, err
	}

	getHelper := isa.HelperGetGlobalAssoc
	setHelper := isa.HelperSetGlobalAssoc
	if id.Scope == idtab.ScopeTLS {
		getHelper, setHelper = isa.HelperGetThreadAssoc, isa.HelperSetThreadAssoc
	}

	result, err := EmitHelperCall(c, n, getHelper, []HelperArg{
		{Kind: ArgImm, Imm: int64(id.ID)},
		{Kind: ArgDep},
		{Kind: ArgImm, Imm: int64(argc)},
	})
	if err != nil {
		return 0, err
	}
	reg, err := c.alloc(n)
	if err != nil {
		return 0, err
	}
	c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(reg), Src: isa.Reg(result)})

	zeroLbl := c.List.FreshLabel()
	postLbl := c.List.FreshLabel()
	c.List.Append(isa.Word{Op: isa.JmpIfNotZero, Dst: isa.Reg(reg), Imm: int32(postLbl)})
	c.List.AppendLabelled(zeroLbl, isa.Word{Op: isa.Nop})

	size, _ := c.CTF.TypeSize(handleOf(keyRoot))
	base, err := c.allocScratch(n, int64(size))
	if err != nil {
		return 0, err
	}
	baseReg, err := c.alloc(n)
	if err != nil {
		return 0, err
	}
	c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(baseReg), Src: isa.Reg(base)})
	_, err = EmitHelperCall(c, n, setHelper, []HelperArg{
		{Kind: ArgImm, Imm: int64(id.ID)},
		{Kind: ArgReg, Reg: baseReg},
		{Kind: ArgDep},
		{Kind: ArgImm, Imm: int64(argc)},
	})
	c.Regs.Free(baseReg)
	if err != nil {
		return 0, err
	}
	reread, err := EmitHelperCall(c, n, getHelper, []HelperArg{
		{Kind: ArgImm, Imm: int64(id.ID)},
		{Kind: ArgDep},
		{Kind: ArgImm, Imm: int64(argc)},
	})
	if err != nil {
		return 0, err
	}
	c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(reg), Src: isa.Reg(reread)})
	c.List.AppendLabelled(postLbl, isa.Word{Op: isa.Nop})

	c.shrinkStack(prevDepth)
	return reg, nil
}

func (c *Context) emitBuiltinArrayRead(n *ast.Node, id *idtab.Descriptor, keyRoot *ast.Node) (int, error) {
	if id.IsArgs {
		return c.emitArgsRead(n, keyRoot.Child)
	}

	keyReg, err := c.Emit(keyRoot.Child)
	if err != nil {
		return 0, err
	}
	getHelper := isa.HelperGetGlobalArray
	if id.Scope == idtab.ScopeTLS {
		getHelper = isa.HelperGetThreadArray
	}
	result, err := EmitHelperCall(c, n, getHelper, []HelperArg{
		{Kind: ArgImm, Imm: int64(id.ID)},
		{Kind: ArgReg, Reg: keyReg},
	})
	if err != nil {
		return 0, err
	}
	c.Regs.Free(keyReg)
	reg, err := c.alloc(n)
	if err != nil {
		return 0, err
	}
	c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(reg), Src: isa.Reg(result)})
	return reg, nil
}

func (c *Context) emitIndex(n *ast.Node) (int, error) {
	id := n.Ident
	if id != nil && id.IsArgs {
		return c.emitArgsRead(n, n.Child)
	}
	if id != nil && id.IsAssoc {
		return c.emitAssocRead(n, id, n)
	}
	return c.emitBuiltinArrayRead(n, id, n)
}

// emitArgsRead implements the ARGS[] builtin per spec.md §4.8: the static
// index is first translated through the probe's argument mapping, then the
// key expression is emitted, then junk high bits above the element's
// natural width are cleared from the raw kernel value.
func (c *Context) emitArgsRead(n *ast.Node, keyExpr *ast.Node) (int, error) {
	if keyExpr != nil && keyExpr.Op == ast.IntLit {
		orig := keyExpr.IntVal
		keyExpr.IntVal = int64(c.Probe.NativeArg(int(orig)))
		defer func() { keyExpr.IntVal = orig }()
	}

	var keyReg int
	var err error
	if keyExpr != nil {
		keyReg, err = c.Emit(keyExpr)
		if err != nil {
			return 0, err
		}
	} else {
		keyReg, err = c.alloc(n)
		if err != nil {
			return 0, err
		}
		c.SetImm(keyReg, int64(c.Probe.NativeArg(0)))
	}

	result, err := EmitHelperCall(c, n, isa.HelperGetGlobalArray, []HelperArg{
		{Kind: ArgImm, Imm: int64(n.Ident.ID)},
		{Kind: ArgReg, Reg: keyReg},
	})
	if err != nil {
		return 0, err
	}
	c.Regs.Free(keyReg)
	reg, err := c.alloc(n)
	if err != nil {
		return 0, err
	}
	c.List.Append(isa.Word{Op: isa.MovReg, Dst: isa.Reg(reg), Src: isa.Reg(result)})

	bits := exprBits(c, n)
	if bits > 0 && bits < 64 {
		shift := 64 - bits
		c.List.Append(isa.Word{Op: isa.LshI, Dst: isa.Reg(reg), Imm: int32(shift)})
		if n.Has(ast.FlagSigned) {
			c.List.Append(isa.Word{Op: isa.ArshI, Dst: isa.Reg(reg), Imm: int32(shift)})
		} else {
			c.List.Append(isa.Word{Op: isa.RshI, Dst: isa.Reg(reg), Imm: int32(shift)})
		}
	}
	return reg, nil
}

// emitTranslatorBody handles a clause whose root is itself a translator body
// (spec.md §4.9): the input register was already bound onto the translator's
// Input identifier by CompileClause, so this simply emits the underlying
// body expression, which reaches it via ordinary identifier lookups.
func (c *Context) emitTranslatorBody(n *ast.Node) (int, error) {
	return c.Emit(n.Child)
}

// ---------------------
// ----- inlines ----------
// ---------------------

func (c *Context) emitInline(n *ast.Node) (int, error) {
	id := n.Ident
	def := id.Payload.(*ast.InlineDef)

	var actuals []*ast.Node
	for a := n.Child; a != nil; a = a.Next {
		actuals = append(actuals, a)
	}

	saved := make([]*ast.Node, len(def.Params))
	for i, p := range def.Params {
		if i < len(actuals) {
			if prev, ok := p.Ident.Payload.(*ast.Node); ok {
				saved[i] = prev
			}
			p.Ident.Payload = actuals[i]
		}
	}
	defer func() {
		for i, p := range def.Params {
			if saved[i] != nil {
				p.Ident.Payload = saved[i]
			}
		}
	}()

	reg, err := c.Emit(def.Root)
	if err != nil {
		return 0, err
	}
	dstHandle := ctf.Handle{File: def.DstFile, Type: def.DstType}
	Typecast(c, reg, exprBits(c, def.Root), def.Root.Has(ast.FlagSigned), typeBitsFromHandle(c, dstHandle), typeSignedFromHandle(c, dstHandle))
	return reg, nil
}

// ---------------------
// ---- member access -----
// ---------------------

func (c *Context) emitMember(n *ast.Node) (int, error) {
	leftReg, err := c.Emit(n.Left)
	if err != nil {
		return 0, err
	}

	if n.Left.Translator != nil {
		tr := n.Left.Translator
		tr.Input.BindReg(leftReg)
		var found *ast.TranslatorMember
		for i := range tr.Members {
			if tr.Members[i].Name == n.Operator {
				found = &tr.Members[i]
				break
			}
		}
		if found == nil {
			tr.Input.UnbindReg()
			c.Regs.Free(leftReg)
			return 0, fault(CGExpr, n, "translator has no member %q", n.Operator)
		}
		reg, err := c.Emit(found.Expr)
		tr.Input.UnbindReg()
		c.Regs.Free(leftReg)
		if err != nil {
			return 0, err
		}
		Typecast(c, reg, exprBits(c, found.Expr), found.Expr.Has(ast.FlagSigned), exprBits(c, n), n.Has(ast.FlagSigned))
		return reg, nil
	}

	_, member, err := MemberInfo(n, c.CTF, handleOf(n.Left), n.Operator)
	if err != nil {
		c.Regs.Free(leftReg)
		return 0, err
	}

	isBitfield := member.Bits != 0
	bits := member.Bits
	if !isBitfield {
		if sz, err := c.CTF.TypeSize(member.Type); err == nil {
			bits = uint(sz * 8)
		}
	}
	enc, _ := c.CTF.TypeEncoding(member.Type)

	var containerBits uint64
	if isBitfield {
		containerBytes, err := resolveWidthBytes(n, bits, true)
		if err != nil {
			c.Regs.Free(leftReg)
			return 0, err
		}
		containerBits = uint64(containerBytes * 8)
	}

	var byteOffset uint64
	if isBitfield {
		byteOffset = (member.Offset / containerBits) * (containerBits / 8)
	} else {
		byteOffset = member.Offset / 8
	}
	if byteOffset > 0 {
		c.List.Append(isa.Word{Op: isa.AddI, Dst: isa.Reg(leftReg), Imm: int32(byteOffset)})
	}

	if !n.Has(ast.FlagRef) {
		loadOp, err := ChooseLoad(n, bits, isBitfield, enc.Signed, n.Has(ast.FlagUserland))
		if err != nil {
			c.Regs.Free(leftReg)
			return 0, err
		}
		c.List.Append(isa.Word{Op: loadOp, Dst: isa.Reg(leftReg), Src: isa.Reg(leftReg)})
		if isBitfield {
			offsetInContainer := uint(member.Offset % containerBits)
			EmitBitfieldExtract(c, leftReg, uint(containerBits), offsetInContainer, bits, enc.Signed, c.Opt.TargetEndian == util.Big)
		}
	}
	return leftReg, nil
}

// ---------------------
// ---- deref / addr ------
// ---------------------

func (c *Context) emitDeref(n *ast.Node) (int, error) {
	reg, err := c.Emit(n.Child)
	if err != nil {
		return 0, err
	}
	if !n.Has(ast.FlagRef) {
		loadOp, err := ChooseLoad(n, exprBits(c, n), n.Has(ast.FlagBitfield), n.Has(ast.FlagSigned), n.Has(ast.FlagUserland))
		if err != nil {
			return 0, err
		}
		c.List.Append(isa.Word{Op: loadOp, Dst: isa.Reg(reg), Src: isa.Reg(reg)})
	}
	return reg, nil
}

func (c *Context) emitAddr(n *ast.Node) (int, error) {
	var reg int
	err := n.Child.WithFlag(ast.FlagRef, func() error {
		r, e := c.Emit(n.Child)
		reg = r
		return e
	})
	return reg, err
}

// ---------------------
// ----- comma / cast ------
// ---------------------

func (c *Context) emitComma(n *ast.Node) (int, error) {
	lreg, err := c.Emit(n.Left)
	if err != nil {
		return 0, err
	}
	c.Regs.Free(lreg)
	return c.Emit(n.Right)
}

func (c *Context) emitCast(n *ast.Node) (int, error) {
	reg, err := c.Emit(n.Child)
	if err != nil {
		return 0, err
	}
	Typecast(c, reg, exprBits(c, n.Child), n.Child.Has(ast.FlagSigned), exprBits(c, n), n.Has(ast.FlagSigned))
	return reg, nil
}
