package cg

import (
	"testing"

	"dtcg/src/ast"
	"dtcg/src/isa"
)

// compileExpr emits n into c, frees the result register and appends the
// program-exit instruction the way CompileClause would (without Finalize);
// it returns the emitted list.
func compileExpr(t *testing.T, c *Context, n *ast.Node) *InstrList {
	t.Helper()
	reg, err := c.Emit(n)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	c.Regs.Free(reg)
	c.List.Append(isa.Word{Op: isa.Exit})
	return c.List
}

func TestIntLiteralEmitsSingleMovImm(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	n := intLit(42)
	list := compileExpr(t, c, n)
	if len(list.Instrs) != 2 {
		t.Fatalf("want 2 instructions (mov + exit), got %d", len(list.Instrs))
	}
	if list.Instrs[0].Word.Op != isa.MovImm || list.Instrs[0].Word.Imm != 42 {
		t.Fatalf("want mov32 #42, got %s", list.Instrs[0].Word)
	}
}

func TestIntLiteralBeyond32BitsUsesTwoWordLoad(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	n := intLit(1 << 40)
	list := compileExpr(t, c, n)
	if list.Instrs[0].Word.Op != isa.LdImm64 || list.Instrs[1].Word.Op != isa.LdImm64 {
		t.Fatalf("want two lddw words, got %s / %s", list.Instrs[0].Word, list.Instrs[1].Word)
	}
}

func TestBinaryAddEmitsAddR(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	n := &ast.Node{Op: ast.Binary, Operator: "+", Left: intLit(1), Right: intLit(2), CTFFile: hS64.File, CTFType: hS64.Type, Flags: ast.FlagSigned}
	list := compileExpr(t, c, n)
	var sawAdd bool
	for _, in := range list.Instrs {
		if in.Word.Op == isa.AddR {
			sawAdd = true
		}
	}
	if !sawAdd {
		t.Fatalf("expected an add in %v", list)
	}
	if !c.Regs.Empty() {
		t.Fatalf("registers leaked after binary emit")
	}
}

func TestSignedDivisionUsesSignedOpcode(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	n := &ast.Node{Op: ast.Binary, Operator: "/", Left: intLit(10), Right: intLit(3), CTFFile: hS64.File, CTFType: hS64.Type, Flags: ast.FlagSigned}
	list := compileExpr(t, c, n)
	var sawDiv bool
	for _, in := range list.Instrs {
		if in.Word.Op == isa.DivR {
			sawDiv = true
		}
		if in.Word.Op == isa.DivUR {
			t.Fatalf("signed operand used unsigned division opcode")
		}
	}
	if !sawDiv {
		t.Fatalf("expected a signed division in %v", list)
	}
}

func TestUnsignedDivisionUsesUnsignedOpcode(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	n := &ast.Node{Op: ast.Binary, Operator: "/", Left: intLit(10), Right: intLit(3), CTFFile: hU64.File, CTFType: hU64.Type}
	list := compileExpr(t, c, n)
	var sawDivU bool
	for _, in := range list.Instrs {
		if in.Word.Op == isa.DivUR {
			sawDivU = true
		}
	}
	if !sawDivU {
		t.Fatalf("expected an unsigned division in %v", list)
	}
}

func TestTernaryPatchesPlaceholderCursor(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	n := &ast.Node{
		Op:      ast.Ternary,
		Child:   intLit(1),
		Left:    intLit(10),
		Right:   intLit(20),
		CTFFile: hS64.File, CTFType: hS64.Type,
	}
	list := compileExpr(t, c, n)
	if err := list.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	var placeholder *Instr
	for i := range list.Instrs {
		if list.Instrs[i].Word.Op == isa.MovReg {
			placeholder = &list.Instrs[i]
			break
		}
	}
	if placeholder == nil || placeholder.Word.Dst != isa.Reg(n.Right.ResultReg) {
		t.Fatalf("placeholder move not patched to the else-branch register r%d", n.Right.ResultReg)
	}
}

func TestCompileClauseAppendsExitAndFreesAllRegisters(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	root := &ast.Node{Op: ast.Binary, Operator: "+", Left: intLit(1), Right: intLit(2), CTFFile: hS64.File, CTFType: hS64.Type, Flags: ast.FlagSigned}
	if err := CompileClause(c, root); err != nil {
		t.Fatalf("CompileClause: %v", err)
	}
	if !c.Regs.Empty() {
		t.Fatalf("register set not empty after CompileClause")
	}
	last := c.List.Instrs[len(c.List.Instrs)-1]
	if last.Word.Op != isa.Exit {
		t.Fatalf("clause does not end in exit: %s", last.Word)
	}
}
