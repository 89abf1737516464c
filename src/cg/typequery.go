package cg

import (
	"dtcg/src/ast"
	"dtcg/src/ctf"
)

// handleOf returns the CTF handle a node's type-checking phase attached to
// it. Every AST node produced by the (out of scope) semantic phase carries
// its resolved type this way (spec.md's ast.Node contract).
func handleOf(n *ast.Node) ctf.Handle {
	return ctf.Handle{File: n.CTFFile, Type: n.CTFType}
}

// typeBitsFromHandle returns h's scalar bit width: its encoding width if CTF
// reports one, otherwise its byte size scaled to bits.
func typeBitsFromHandle(c *Context, h ctf.Handle) uint {
	if enc, err := c.CTF.TypeEncoding(h); err == nil && enc.Bits > 0 {
		return enc.Bits
	}
	if sz, err := c.CTF.TypeSize(h); err == nil {
		return uint(sz * 8)
	}
	return 64
}

// typeSignedFromHandle reports whether h's encoding is signed.
func typeSignedFromHandle(c *Context, h ctf.Handle) bool {
	enc, err := c.CTF.TypeEncoding(h)
	return err == nil && enc.Signed
}

// exprBits returns n's bit width per its resolved CTF type.
func exprBits(c *Context, n *ast.Node) uint {
	return typeBitsFromHandle(c, handleOf(n))
}

// isPointerType reports whether n's resolved type is a CTF pointer.
func isPointerType(c *Context, n *ast.Node) bool {
	kind, err := c.CTF.TypeKind(handleOf(n))
	return err == nil && kind == ctf.KindPointer
}

// isStringType reports whether n's resolved type is a character array, the
// tracing language's string representation.
func isStringType(c *Context, n *ast.Node) bool {
	h := handleOf(n)
	kind, err := c.CTF.TypeKind(h)
	if err != nil || kind != ctf.KindArray {
		return false
	}
	info, err := c.CTF.ArrayInfo(h)
	if err != nil {
		return false
	}
	sz, err := c.CTF.TypeSize(info.Elem)
	return err == nil && sz == 1
}

// memberBits returns the bit width of the named member of h: its declared
// bit-field width, or its natural type size scaled to bits.
func memberBits(c *Context, h ctf.Handle, name string) uint {
	_, m, err := MemberInfo(nil, c.CTF, h, name)
	if err != nil {
		return 64
	}
	if m.Bits != 0 {
		return m.Bits
	}
	if sz, err := c.CTF.TypeSize(m.Type); err == nil {
		return uint(sz * 8)
	}
	return 64
}

// memberSigned reports whether the named member of h has a signed encoding.
func memberSigned(c *Context, h ctf.Handle, name string) bool {
	_, m, err := MemberInfo(nil, c.CTF, h, name)
	if err != nil {
		return false
	}
	return typeSignedFromHandle(c, m.Type)
}

// memberBitfield reports whether the named member of h is a bit-field.
func memberBitfield(c *Context, h ctf.Handle, name string) bool {
	_, m, err := MemberInfo(nil, c.CTF, h, name)
	return err == nil && m.Bits != 0
}
