package cg

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"dtcg/src/ast"
	"dtcg/src/ctf"
	"dtcg/src/idtab"
	"dtcg/src/isa"
)

func TestBaseCTFFixtureRegistersExpectedNames(t *testing.T) {
	got := baseCTF().NamedTypes()
	sort.Strings(got)
	want := []string{"int32_t", "int64_t", "uint64_t"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("fixture type names mismatch (-want +got):\n%s", diff)
	}
}

// runBitOp is a tiny register-map interpreter for exactly the opcodes
// EmitBitfieldExtract/EmitBitfieldInsert emit, used to check the round-trip
// invariant without a real VM.
func runBitOp(regs map[int]int64, w isa.Word) {
	d := int(w.Dst)
	switch w.Op {
	case isa.MovImm:
		regs[d] = int64(w.Imm)
	case isa.LshI:
		regs[d] = regs[d] << uint(w.Imm)
	case isa.RshI:
		regs[d] = int64(uint64(regs[d]) >> uint(w.Imm))
	case isa.ArshI:
		regs[d] = regs[d] >> uint(w.Imm)
	case isa.AndR:
		regs[d] = regs[d] & regs[int(w.Src)]
	case isa.OrR:
		regs[d] = regs[d] | regs[int(w.Src)]
	case isa.NotR:
		regs[d] = ^regs[d]
	}
}

func TestBitfieldRoundTripUnsigned(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	for _, tc := range []struct{ containerBits, offset, width uint }{
		{8, 0, 3}, {8, 5, 3}, {16, 4, 8}, {32, 10, 12}, {64, 20, 30},
	} {
		containerReg, valueReg := 1, 2
		c.List = NewInstrList()
		v := int64((1 << tc.width) - 1 - (1 << (tc.width - 1) / 2))
		if v < 0 {
			v = 0
		}
		regs := map[int]int64{containerReg: 0, valueReg: v}
		EmitBitfieldInsert(c, containerReg, valueReg, tc.containerBits, tc.offset, tc.width, false)
		for _, in := range c.List.Instrs {
			runBitOp(regs, in.Word)
		}
		container := regs[containerReg]
		c.List = NewInstrList()
		extractReg := 3
		regs[extractReg] = container
		EmitBitfieldExtract(c, extractReg, tc.containerBits, tc.offset, tc.width, false, false)
		for _, in := range c.List.Instrs {
			runBitOp(regs, in.Word)
		}
		mask := int64((uint64(1) << tc.width) - 1)
		if regs[extractReg]&mask != v&mask {
			t.Fatalf("round-trip failed for container=%d offset=%d width=%d: put %d got %d",
				tc.containerBits, tc.offset, tc.width, v&mask, regs[extractReg]&mask)
		}
	}
}

func TestBitfieldSignedExtractSignExtends(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	containerReg, valueReg := 1, 2
	regs := map[int]int64{containerReg: 0, valueReg: -1}
	EmitBitfieldInsert(c, containerReg, valueReg, 8, 0, 4, false)
	for _, in := range c.List.Instrs {
		runBitOp(regs, in.Word)
	}
	c.List = NewInstrList()
	extractReg := 3
	regs[extractReg] = regs[containerReg]
	EmitBitfieldExtract(c, extractReg, 8, 0, 4, true, false)
	for _, in := range c.List.Instrs {
		runBitOp(regs, in.Word)
	}
	if regs[extractReg] != -1 {
		t.Fatalf("signed extract of all-ones nibble should sign-extend to -1, got %d", regs[extractReg])
	}
}

func TestBitfieldBigEndianShiftsFromHighEnd(t *testing.T) {
	littleShift := bitShift(32, 4, 8, false)
	bigShift := bitShift(32, 4, 8, true)
	if littleShift != 4 {
		t.Fatalf("little-endian shift should equal the offset, got %d", littleShift)
	}
	if bigShift != 32-4-8 {
		t.Fatalf("big-endian shift should count from the high end, got %d", bigShift)
	}
}

func TestExitIsTheOnlyAndLastInstruction(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	root := &ast.Node{Op: ast.Binary, Operator: "+", Left: intLit(3), Right: intLit(4), CTFFile: hS64.File, CTFType: hS64.Type, Flags: ast.FlagSigned}
	if err := CompileClause(c, root); err != nil {
		t.Fatalf("CompileClause: %v", err)
	}
	for i, in := range c.List.Instrs {
		isLast := i == len(c.List.Instrs)-1
		if (in.Word.Op == isa.Exit) != isLast {
			t.Fatalf("exit instruction at wrong position: index %d of %d", i, len(c.List.Instrs))
		}
	}
}

func TestRegisterSetBalancedAcrossNestedEmission(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	inner := &ast.Node{Op: ast.Binary, Operator: "+", Left: intLit(1), Right: intLit(2), CTFFile: hS64.File, CTFType: hS64.Type, Flags: ast.FlagSigned}
	outer := &ast.Node{Op: ast.Binary, Operator: "*", Left: inner, Right: intLit(5), CTFFile: hS64.File, CTFType: hS64.Type, Flags: ast.FlagSigned}
	reg, err := c.Emit(outer)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if !c.Regs.IsAllocated(reg) {
		t.Fatalf("result register should still be allocated to the caller")
	}
	c.Regs.Free(reg)
	if !c.Regs.Empty() {
		t.Fatalf("register leaked: %v allocated after freeing the single live result", c.Regs)
	}
}

func TestStackDepthRestoredAfterAssocRead(t *testing.T) {
	id := &idtab.Descriptor{Kind: idtab.KindArrayVar, IsArray: true, IsAssoc: true, Scope: idtab.ScopeGlobal, Name: "a"}
	tab := newFakeTable(id)
	c := newTestContext(baseCTF(), tab)
	before := c.StackDepth
	key := intLit(1)
	keyRoot := &ast.Node{Op: ast.Index, Child: key, CTFFile: hS64.File, CTFType: hS64.Type}
	n := &ast.Node{Op: ast.Index, Ident: id, CTFFile: hS64.File, CTFType: hS64.Type}
	if _, err := c.emitAssocRead(n, id, keyRoot); err != nil {
		t.Fatalf("emitAssocRead: %v", err)
	}
	if c.StackDepth != before {
		t.Fatalf("stack depth not restored: before=%d after=%d", before, c.StackDepth)
	}
}

func TestBranchTargetsAreAllMaterialized(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	cmp := &ast.Node{Op: ast.Compare, Operator: "<", Left: intLit(1), Right: intLit(2), CTFFile: hS64.File, CTFType: hS64.Type, Flags: ast.FlagSigned}
	if err := CompileClause(c, cmp); err != nil {
		t.Fatalf("CompileClause: %v", err)
	}
	if err := c.List.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func TestPointerScaleMultipliesOnceForWideElement(t *testing.T) {
	ctfp := baseCTF()
	ptrH := ctf.Handle{File: 2, Type: 1}
	ctfp.add(ptrH, fakeType{kind: ctf.KindPointer, size: 8, elem: hS64})
	c := newTestContext(ctfp, newFakeTable())
	lit := intLit(3)
	ptrNode := &ast.Node{Op: ast.Ident, Ident: &idtab.Descriptor{Kind: idtab.KindScalarVar, Scope: idtab.ScopeLocal, CGFlags: idtab.CGREG, CGReg: 4}, CTFFile: ptrH.File, CTFType: ptrH.Type}
	n := &ast.Node{Op: ast.Binary, Operator: "+", Left: ptrNode, Right: lit, CTFFile: ptrH.File, CTFType: ptrH.Type}
	reg, err := c.Emit(n)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	c.Regs.Free(reg)
	var mulCount int
	for _, in := range c.List.Instrs {
		if in.Word.Op == isa.MulI {
			mulCount++
		}
	}
	if mulCount != 1 {
		t.Fatalf("want exactly one scaling multiply for an 8-byte element, got %d", mulCount)
	}
}

func TestPointerScaleSkipsMultiplyForByteSizedElement(t *testing.T) {
	ctfp := baseCTF()
	byteH := ctf.Handle{File: 2, Type: 2}
	ctfp.add(byteH, fakeType{kind: ctf.KindInteger, size: 1, enc: ctf.Encoding{Bits: 8}})
	ptrH := ctf.Handle{File: 2, Type: 3}
	ctfp.add(ptrH, fakeType{kind: ctf.KindPointer, size: 8, elem: byteH})
	c := newTestContext(ctfp, newFakeTable())
	ptrNode := &ast.Node{Op: ast.Ident, Ident: &idtab.Descriptor{Kind: idtab.KindScalarVar, Scope: idtab.ScopeLocal, CGFlags: idtab.CGREG, CGReg: 4}, CTFFile: ptrH.File, CTFType: ptrH.Type}
	n := &ast.Node{Op: ast.Binary, Operator: "+", Left: ptrNode, Right: intLit(3), CTFFile: ptrH.File, CTFType: ptrH.Type}
	reg, err := c.Emit(n)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	c.Regs.Free(reg)
	for _, in := range c.List.Instrs {
		if in.Word.Op == isa.MulI {
			t.Fatalf("byte-sized element should not emit a scaling multiply")
		}
	}
}

func TestHelperCallSpillsOnlyLiveCallerSavedInLIFOOrder(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	r1 := c.Regs.Alloc() // 1, R0 is reserved
	r2 := c.Regs.Alloc() // 2
	r3 := c.Regs.Alloc() // 3
	c.Regs.Free(r1)
	_, err := EmitHelperCall(c, nil, isa.HelperGetGlobal, []HelperArg{{Kind: ArgImm, Imm: 7}})
	if err != nil {
		t.Fatalf("EmitHelperCall: %v", err)
	}
	var spillOrder, restoreOrder []int
	for _, in := range c.List.Instrs {
		if in.Word.Op == isa.StDW {
			spillOrder = append(spillOrder, int(in.Word.Src))
		}
		if in.Word.Op == isa.LdxDW_U_K {
			restoreOrder = append(restoreOrder, int(in.Word.Dst))
		}
	}
	if len(spillOrder) != 2 {
		t.Fatalf("want 2 spills (r2, r3), got %v", spillOrder)
	}
	for i := range spillOrder {
		if spillOrder[i] != restoreOrder[len(restoreOrder)-1-i] {
			t.Fatalf("spill/restore not LIFO: spilled %v, restored %v", spillOrder, restoreOrder)
		}
	}
	c.Regs.Free(r2)
	c.Regs.Free(r3)
}

func TestTypecastSameTypeIsNoOp(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	before := c.List.Len()
	Typecast(c, 0, 64, true, 64, true)
	if c.List.Len() != before {
		t.Fatalf("casting T to T should emit no instructions, emitted %d", c.List.Len()-before)
	}
}

func TestTypecastNarrowingEmitsShiftPair(t *testing.T) {
	c := newTestContext(baseCTF(), newFakeTable())
	before := c.List.Len()
	Typecast(c, 0, 64, true, 8, true)
	if c.List.Len()-before != 2 {
		t.Fatalf("narrowing cast should emit exactly a shift-left/shift-right pair, got %d instructions", c.List.Len()-before)
	}
}
