package cg

import (
	"dtcg/src/idtab"
	"dtcg/src/isa"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Instr is one node of the instruction list: an optional label, the 8-byte
// opcode/operand word, and an optional back-pointer to an identifier used
// for late relocation of immediates referencing externally located symbols
// (spec.md §3, §4.4).
type Instr struct {
	Label     int
	Word      isa.Word
	ExternRef *idtab.Descriptor
}

// Cursor is an opaque handle to a previously-appended instruction, allowing
// its opcode/operands to be overwritten before the list is handed to the
// assembler (spec.md §4.1, the ternary operator's late-patch requirement).
type Cursor int

// InstrList is the ordered, append-only instruction sequence plus its label
// counter (spec.md §3, §4.1). The list preserves insertion order exactly.
type InstrList struct {
	Instrs    []Instr
	nextLabel int
}

// ---------------------
// ----- Constants -----
// ---------------------

// NoLabel is the sentinel Label value meaning "no label on this instruction".
const NoLabel = -1

// ---------------------
// ----- functions -----
// ---------------------

// NewInstrList returns an empty instruction list with its label counter at 0.
func NewInstrList() *InstrList {
	return &InstrList{nextLabel: 0}
}

// Append adds w to the end of the list with no label, returning a Cursor for
// later patching.
func (l *InstrList) Append(w isa.Word) Cursor {
	return l.AppendRef(w, nil)
}

// AppendRef is like Append but attaches an external-identifier back-reference
// to the emitted instruction, for the downstream linker to relocate.
func (l *InstrList) AppendRef(w isa.Word, ref *idtab.Descriptor) Cursor {
	l.Instrs = append(l.Instrs, Instr{Label: NoLabel, Word: w, ExternRef: ref})
	return Cursor(len(l.Instrs) - 1)
}

// AppendLabelled adds w to the end of the list tagged with label.
func (l *InstrList) AppendLabelled(label int, w isa.Word) Cursor {
	l.Instrs = append(l.Instrs, Instr{Label: label, Word: w})
	return Cursor(len(l.Instrs) - 1)
}

// FreshLabel mints a new, unique label id, scoped to this list.
func (l *InstrList) FreshLabel() int {
	id := l.nextLabel
	l.nextLabel++
	return id
}

// Patch overwrites the word at cursor c. Used by the ternary operator to
// retarget a placeholder move once its destination register is known.
func (l *InstrList) Patch(c Cursor, w isa.Word) {
	l.Instrs[int(c)].Word = w
}

// At returns the instruction at cursor c.
func (l *InstrList) At(c Cursor) Instr {
	return l.Instrs[int(c)]
}

// Len returns the number of instructions currently in the list.
func (l *InstrList) Len() int {
	return len(l.Instrs)
}

// LabelOffsets returns the index of the instruction each label was applied
// to. Used by finalize-time checks (every branch must target a materialized
// label, spec.md §8 invariant 4) and by tests.
func (l *InstrList) LabelOffsets() map[int]int {
	out := make(map[int]int)
	for i, in := range l.Instrs {
		if in.Label != NoLabel {
			out[in.Label] = i
		}
	}
	return out
}

// Finalize validates the list is well-formed per spec.md §8: the final
// instruction is a program-exit and no earlier instruction is, and every
// branch targets a label materialized somewhere in the list.
func (l *InstrList) Finalize() error {
	if len(l.Instrs) == 0 {
		return fault(Unknown, nil, "instruction list is empty")
	}
	labels := l.LabelOffsets()
	for i, in := range l.Instrs {
		if in.Word.Op == isa.Exit && i != len(l.Instrs)-1 {
			return fault(Unknown, nil, "program-exit instruction at %d is not the last instruction", i)
		}
		if isBranch(in.Word.Op) {
			if _, ok := labels[int(in.Word.Imm)]; !ok {
				return fault(Unknown, nil, "branch at %d targets unmaterialized label %d", i, in.Word.Imm)
			}
		}
	}
	if l.Instrs[len(l.Instrs)-1].Word.Op != isa.Exit {
		return fault(Unknown, nil, "instruction list does not end with a program-exit instruction")
	}
	return nil
}

// isBranch reports whether op is a control-flow instruction whose Imm field
// carries a (pre-resolution) label id rather than an ordinary immediate.
func isBranch(op isa.Bytecode) bool {
	switch op {
	case isa.Jmp, isa.JmpEq, isa.JmpNe, isa.Jslt, isa.Jsgt, isa.Jsle, isa.Jsge,
		isa.Jlt, isa.Jgt, isa.Jle, isa.Jge, isa.JmpIfZero, isa.JmpIfNotZero:
		return true
	}
	return false
}
