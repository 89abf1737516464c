package cg

import (
	"fmt"
	"strings"
)

// String renders the instruction list as a disassembly listing, one
// instruction per line, with label targets annotated (the supplemented
// debug printer of spec.md §6.2).
func (l *InstrList) String() string {
	var sb strings.Builder
	labels := l.LabelOffsets()
	offsetLabel := make(map[int]int, len(labels))
	for lbl, off := range labels {
		offsetLabel[off] = lbl
	}
	for i, in := range l.Instrs {
		if lbl, ok := offsetLabel[i]; ok {
			fmt.Fprintf(&sb, "L%d:\n", lbl)
		}
		fmt.Fprintf(&sb, "  %4d  %s", i, in.Word.String())
		if isBranch(in.Word.Op) {
			fmt.Fprintf(&sb, " -> L%d", in.Word.Imm)
		}
		if in.ExternRef != nil {
			fmt.Fprintf(&sb, " ; ref %s", in.ExternRef.Name)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
