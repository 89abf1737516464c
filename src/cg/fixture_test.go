package cg

import (
	"dtcg/src/ast"
	"dtcg/src/ctf"
	"dtcg/src/idtab"
	"dtcg/src/util"

	"golang.org/x/exp/maps"
)

// fakeType describes one entry of the in-memory CTF fixture used by the
// package's tests: a self-contained stand-in for the real type database.
type fakeType struct {
	kind    ctf.Kind
	size    uint64
	enc     ctf.Encoding
	elem    ctf.Handle
	nelems  uint64
	members []ctf.Member
	forward ctf.Handle // when kind == KindForward, the handle it resolves to
	name    string
}

// fakeCTF is a minimal, in-memory ctf.Provider fixture keyed by (file, type) handles.
type fakeCTF struct {
	types map[ctf.Handle]fakeType
	names map[string]ctf.Handle
}

func newFakeCTF() *fakeCTF {
	return &fakeCTF{types: make(map[ctf.Handle]fakeType), names: make(map[string]ctf.Handle)}
}

func (f *fakeCTF) add(h ctf.Handle, t fakeType) {
	f.types[h] = t
	if t.name != "" {
		f.names[t.name] = h
	}
}

func (f *fakeCTF) TypeResolve(h ctf.Handle) (ctf.Handle, error) {
	t, ok := f.types[h]
	if !ok {
		return ctf.Handle{}, &ctf.Error{On: h, Err: errNotFound}
	}
	if t.kind == ctf.KindForward {
		return f.TypeResolve(t.forward)
	}
	return h, nil
}

func (f *fakeCTF) TypeKind(h ctf.Handle) (ctf.Kind, error) {
	t, ok := f.types[h]
	if !ok {
		return ctf.KindUnknown, &ctf.Error{On: h, Err: errNotFound}
	}
	return t.kind, nil
}

func (f *fakeCTF) TypeReference(h ctf.Handle) (ctf.Handle, error) {
	t, ok := f.types[h]
	if !ok {
		return ctf.Handle{}, &ctf.Error{On: h, Err: errNotFound}
	}
	return t.elem, nil
}

func (f *fakeCTF) TypeSize(h ctf.Handle) (uint64, error) {
	t, ok := f.types[h]
	if !ok {
		return 0, &ctf.Error{On: h, Err: errNotFound}
	}
	return t.size, nil
}

func (f *fakeCTF) TypeEncoding(h ctf.Handle) (ctf.Encoding, error) {
	t, ok := f.types[h]
	if !ok {
		return ctf.Encoding{}, &ctf.Error{On: h, Err: errNotFound}
	}
	return t.enc, nil
}

func (f *fakeCTF) ArrayInfo(h ctf.Handle) (ctf.ArrayInfo, error) {
	t, ok := f.types[h]
	if !ok {
		return ctf.ArrayInfo{}, &ctf.Error{On: h, Err: errNotFound}
	}
	return ctf.ArrayInfo{Elem: t.elem, Nelems: t.nelems}, nil
}

func (f *fakeCTF) MemberInfo(h ctf.Handle, name string) (ctf.Member, error) {
	t, ok := f.types[h]
	if !ok {
		return ctf.Member{}, &ctf.Error{On: h, Err: errNotFound}
	}
	for _, m := range t.members {
		if m.Name == name {
			return m, nil
		}
	}
	return ctf.Member{}, &ctf.Error{On: h, Err: errNotFound}
}

func (f *fakeCTF) TypeName(h ctf.Handle) (string, error) {
	t, ok := f.types[h]
	if !ok {
		return "", &ctf.Error{On: h, Err: errNotFound}
	}
	return t.name, nil
}

func (f *fakeCTF) TypeLookup(name string) (ctf.Handle, error) {
	h, ok := f.names[name]
	if !ok {
		return ctf.Handle{}, &ctf.Error{On: ctf.Handle{}, Err: errNotFound}
	}
	return h, nil
}

// NamedTypes returns every type name registered in the fixture, for tests
// that check the fixture's own shape rather than the code generator's
// behavior.
func (f *fakeCTF) NamedTypes() []string {
	return maps.Keys(f.names)
}

type notFoundError struct{}

func (notFoundError) Error() string { return "type not found" }

var errNotFound = notFoundError{}

// fakeTable is a minimal idtab.Table fixture: a flat slice indexed by
// Descriptor.ID.
type fakeTable struct {
	descs []*idtab.Descriptor
}

func newFakeTable(descs ...*idtab.Descriptor) *fakeTable {
	for i, d := range descs {
		d.ID = i
	}
	return &fakeTable{descs: descs}
}

func (t *fakeTable) Resolve(id int) *idtab.Descriptor {
	if id < 0 || id >= len(t.descs) {
		return nil
	}
	return t.descs[id]
}

// Well-known handles for the fixture's scalar types.
var (
	hS64 = ctf.Handle{File: 1, Type: 1}
	hU64 = ctf.Handle{File: 1, Type: 2}
	hS32 = ctf.Handle{File: 1, Type: 3}
)

func baseCTF() *fakeCTF {
	f := newFakeCTF()
	f.add(hS64, fakeType{kind: ctf.KindInteger, size: 8, enc: ctf.Encoding{Bits: 64, Signed: true}, name: "int64_t"})
	f.add(hU64, fakeType{kind: ctf.KindInteger, size: 8, enc: ctf.Encoding{Bits: 64, Signed: false}, name: "uint64_t"})
	f.add(hS32, fakeType{kind: ctf.KindInteger, size: 4, enc: ctf.Encoding{Bits: 32, Signed: true}, name: "int32_t"})
	return f
}

// intLit builds a leaf int literal node typed as hS64.
func intLit(v int64) *ast.Node {
	return &ast.Node{Op: ast.IntLit, IntVal: v, CTFFile: hS64.File, CTFType: hS64.Type}
}

func testOpt() util.Options {
	return util.Options{Threads: 1, TargetEndian: util.Little}
}

func newTestContext(ctfp ctf.Provider, ids idtab.Table) *Context {
	return NewContext(ctfp, ids, &ProbeInfo{}, testOpt())
}
