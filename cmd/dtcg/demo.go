package main

import (
	"dtcg/src/ast"
	"dtcg/src/ctf"
	"dtcg/src/idtab"
)

// demoType is one entry of the built-in CTF fixture the demo clauses type
// check against. A real deployment wires dtcg against the kernel's actual
// CTF data; constructing one here would duplicate that external dependency,
// so the command ships a minimal, self-contained fixture instead.
type demoType struct {
	kind ctf.Kind
	size uint64
	enc  ctf.Encoding
	elem ctf.Handle
}

type demoCTF struct {
	types map[ctf.Handle]demoType
}

func (d *demoCTF) TypeResolve(h ctf.Handle) (ctf.Handle, error) { return h, nil }

func (d *demoCTF) TypeKind(h ctf.Handle) (ctf.Kind, error) {
	t, ok := d.types[h]
	if !ok {
		return ctf.KindUnknown, &ctf.Error{On: h, Err: errUnknownType}
	}
	return t.kind, nil
}

func (d *demoCTF) TypeReference(h ctf.Handle) (ctf.Handle, error) {
	return d.types[h].elem, nil
}

func (d *demoCTF) TypeSize(h ctf.Handle) (uint64, error) {
	t, ok := d.types[h]
	if !ok {
		return 0, &ctf.Error{On: h, Err: errUnknownType}
	}
	return t.size, nil
}

func (d *demoCTF) TypeEncoding(h ctf.Handle) (ctf.Encoding, error) {
	return d.types[h].enc, nil
}

func (d *demoCTF) ArrayInfo(h ctf.Handle) (ctf.ArrayInfo, error) {
	return ctf.ArrayInfo{}, &ctf.Error{On: h, Err: errUnknownType}
}

func (d *demoCTF) MemberInfo(h ctf.Handle, name string) (ctf.Member, error) {
	return ctf.Member{}, &ctf.Error{On: h, Err: errUnknownType}
}

func (d *demoCTF) TypeName(h ctf.Handle) (string, error) { return "", nil }

func (d *demoCTF) TypeLookup(name string) (ctf.Handle, error) {
	return ctf.Handle{}, &ctf.Error{On: ctf.Handle{}, Err: errUnknownType}
}

type unknownTypeError struct{}

func (unknownTypeError) Error() string { return "demo: unknown type handle" }

var errUnknownType = unknownTypeError{}

var s64 = ctf.Handle{File: 1, Type: 1}

func newDemoCTF() *demoCTF {
	return &demoCTF{types: map[ctf.Handle]demoType{
		s64: {kind: ctf.KindInteger, size: 8, enc: ctf.Encoding{Bits: 64, Signed: true}},
	}}
}

type demoTable struct {
	descs []*idtab.Descriptor
}

func (t *demoTable) Resolve(id int) *idtab.Descriptor {
	if id < 0 || id >= len(t.descs) {
		return nil
	}
	return t.descs[id]
}

// demoClauses builds a small, fixed set of sample clauses exercising the
// arithmetic and global-variable-read paths, standing in for the clauses a
// real build would receive pre-parsed and type-checked from upstream.
func demoClauses() ([]*ast.Node, ctf.Provider, idtab.Table) {
	a := &idtab.Descriptor{Kind: idtab.KindScalarVar, Scope: idtab.ScopeGlobal, Name: "a"}
	b := &idtab.Descriptor{Kind: idtab.KindScalarVar, Scope: idtab.ScopeGlobal, Name: "b"}
	tab := &demoTable{descs: []*idtab.Descriptor{a, b}}
	a.ID, b.ID = 0, 1

	lit := func(v int64) *ast.Node {
		return &ast.Node{Op: ast.IntLit, IntVal: v, CTFFile: s64.File, CTFType: s64.Type}
	}
	ident := func(d *idtab.Descriptor) *ast.Node {
		return &ast.Node{Op: ast.Ident, Ident: d, CTFFile: s64.File, CTFType: s64.Type}
	}

	literalClause := lit(7)

	sumClause := &ast.Node{
		Op: ast.Binary, Operator: "+", Left: ident(a), Right: ident(b),
		CTFFile: s64.File, CTFType: s64.Type, Flags: ast.FlagSigned,
	}

	assignClause := &ast.Node{
		Op: ast.Assign, Left: ident(a), Right: lit(42),
		CTFFile: s64.File, CTFType: s64.Type,
	}

	return []*ast.Node{literalClause, sumClause, assignClause}, newDemoCTF(), tab
}
