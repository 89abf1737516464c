package cg

import (
	"fmt"

	"dtcg/src/ast"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// FaultKind enumerates the fatal failure kinds of spec.md §7. Every fault is
// fatal to the current clause: raising one abandons the in-progress context.
type FaultKind int

// Fault is the single failure channel every emitter raises through. It
// implements error so it composes with errors.Is/errors.As, and carries the
// offending node (if any) for diagnostics.
type Fault struct {
	Kind FaultKind
	Msg  string
	Node *ast.Node
}

// ---------------------
// ----- Constants -----
// ---------------------

const (
	NoMem FaultKind = iota
	NoReg
	ReservedReg
	InvalidHelper
	CTF
	Str2Big
	Unknown
	Dyn
	CGExpr
)

var kindNames = [...]string{
	"NO_MEM", "NO_REG", "RESERVED_REG", "INVALID_HELPER", "CTF",
	"STR2BIG", "UNKNOWN", "DYN", "CG_EXPR",
}

// ---------------------
// ----- functions -----
// ---------------------

// String returns the spec's name for k.
func (k FaultKind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("FaultKind(%d)", int(k))
	}
	return kindNames[k]
}

// Error implements the error interface.
func (f *Fault) Error() string {
	if f.Node != nil {
		return fmt.Sprintf("%s: %s (at %s)", f.Kind, f.Msg, f.Node)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
}

// fault constructs a *Fault, the only way emitters should produce one.
func fault(kind FaultKind, n *ast.Node, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...), Node: n}
}
