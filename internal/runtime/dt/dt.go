// Package dt holds the kernel's pre-parsed device tree: a tree of named
// nodes carrying raw big-endian property values, with the lookups and
// typed property accessors the kernel and its system calls rely on.
package dt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	kerrors "github.com/orizon-lang/mordax/internal/errors"
)

// Property is a named raw property value.
type Property struct {
	Name  string
	Value []byte
}

// Node is a device tree node.
type Node struct {
	name       string
	parent     *Node
	properties []Property
	children   []*Node
}

// Name returns the node name including any unit address.
func (n *Node) Name() string { return n.name }

// Parent returns the parent node, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the child nodes in tree order.
func (n *Node) Children() []*Node { return n.children }

// Properties returns the properties in tree order.
func (n *Node) Properties() []Property { return n.properties }

// Path returns the absolute path of the node.
func (n *Node) Path() string {
	if n.parent == nil {
		return "/"
	}
	if n.parent.parent == nil {
		return "/" + n.name
	}
	return n.parent.Path() + "/" + n.name
}

// AddChild appends a child node and returns it.
func (n *Node) AddChild(name string) *Node {
	c := &Node{name: name, parent: n}
	n.children = append(n.children, c)
	return c
}

// Child returns the child called name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// SetProperty sets a raw property value, replacing an existing one.
func (n *Node) SetProperty(name string, value []byte) {
	for i := range n.properties {
		if n.properties[i].Name == name {
			n.properties[i].Value = value
			return
		}
	}
	n.properties = append(n.properties, Property{Name: name, Value: value})
}

// SetCells sets a property to a list of big-endian 32-bit cells.
func (n *Node) SetCells(name string, cells ...uint32) {
	n.SetProperty(name, encodeCells(cells))
}

// SetStrings sets a property to a list of NUL-terminated strings.
func (n *Node) SetStrings(name string, values ...string) {
	var b bytes.Buffer
	for _, v := range values {
		b.WriteString(v)
		b.WriteByte(0)
	}
	n.SetProperty(name, b.Bytes())
}

// Property returns the raw value of a property.
func (n *Node) Property(name string) ([]byte, bool) {
	for _, p := range n.properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// HasProperty reports whether the property exists.
func (n *Node) HasProperty(name string) bool {
	_, ok := n.Property(name)
	return ok
}

func (n *Node) lookup(name string) ([]byte, error) {
	v, ok := n.Property(name)
	if !ok {
		return nil, kerrors.NotFound("property", n.Path()+":"+name)
	}
	return v, nil
}

// Array32 returns the first count cells of a property converted from big
// endian.
func (n *Node) Array32(name string, count int) ([]uint32, error) {
	v, err := n.lookup(name)
	if err != nil {
		return nil, err
	}
	if count < 0 || len(v) < 4*count {
		return nil, kerrors.Errorf(kerrors.EINVAL, "property %s of %s has %d cells, want %d",
			name, n.Path(), len(v)/4, count)
	}
	out := make([]uint32, count)
	for i := range out {
		out[i] = binary.BigEndian.Uint32(v[4*i:])
	}
	return out, nil
}

// Cell returns the first cell of a property.
func (n *Node) Cell(name string) (uint32, error) {
	cells, err := n.Array32(name, 1)
	if err != nil {
		return 0, err
	}
	return cells[0], nil
}

// String returns a string property up to its first NUL.
func (n *Node) String(name string) (string, error) {
	v, err := n.lookup(name)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(v, 0); i >= 0 {
		v = v[:i]
	}
	return string(v), nil
}

// Strings returns every string of a string-list property.
func (n *Node) Strings(name string) ([]string, error) {
	v, err := n.lookup(name)
	if err != nil {
		return nil, err
	}
	return splitStrings(v), nil
}

// Phandle returns a phandle property.
func (n *Node) Phandle(name string) (uint32, error) {
	return n.Cell(name)
}

// OwnPhandle returns the phandle of the node itself, or 0.
func (n *Node) OwnPhandle() uint32 {
	for _, prop := range []string{"linux,phandle", "phandle"} {
		if ph, err := n.Cell(prop); err == nil {
			return ph
		}
	}
	return 0
}

// Compatible reports whether compat is one of the node's compatible
// strings.
func (n *Node) Compatible(compat string) bool {
	v, ok := n.Property("compatible")
	if !ok {
		return false
	}
	for _, s := range splitStrings(v) {
		if s == compat {
			return true
		}
	}
	return false
}

func splitStrings(v []byte) []string {
	var out []string
	for len(v) > 0 {
		i := bytes.IndexByte(v, 0)
		if i < 0 {
			out = append(out, string(v))
			break
		}
		out = append(out, string(v[:i]))
		v = v[i+1:]
	}
	return out
}

func encodeCells(cells []uint32) []byte {
	b := make([]byte, 4*len(cells))
	for i, c := range cells {
		binary.BigEndian.PutUint32(b[4*i:], c)
	}
	return b
}

// ============================================================================
// Tree
// ============================================================================

// Tree is a device tree rooted at an unnamed node.
type Tree struct {
	root *Node
}

// New returns a tree with an empty root node.
func New() *Tree {
	return &Tree{root: &Node{}}
}

// Root returns the root node.
func (t *Tree) Root() *Node { return t.root }

// Walk visits every node depth first in tree order until fn returns false.
func (t *Tree) Walk(fn func(*Node) bool) {
	var walk func(*Node) bool
	walk = func(n *Node) bool {
		if !fn(n) {
			return false
		}
		for _, c := range n.children {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	walk(t.root)
}

// NodeByPath returns the node at an absolute path. "/" is the root.
func (t *Tree) NodeByPath(path string) (*Node, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, kerrors.Errorf(kerrors.EINVAL, "device tree path %q is not absolute", path)
	}
	n := t.root
	for _, part := range strings.Split(path[1:], "/") {
		if part == "" {
			continue
		}
		if n = n.Child(part); n == nil {
			return nil, kerrors.NotFound("device tree node", path)
		}
	}
	return n, nil
}

// NodeByPhandle returns the node whose phandle or linux,phandle property
// equals phandle.
func (t *Tree) NodeByPhandle(phandle uint32) (*Node, error) {
	var found *Node
	if phandle != 0 {
		t.Walk(func(n *Node) bool {
			if n.OwnPhandle() == phandle {
				found = n
				return false
			}
			return true
		})
	}
	if found == nil {
		return nil, kerrors.NotFound("device tree phandle", fmt.Sprint(phandle))
	}
	return found, nil
}

// NodeByCompatible returns the index'th node, in tree order, listing
// compat among its compatible strings.
func (t *Tree) NodeByCompatible(compat string, index int) (*Node, error) {
	var found *Node
	seen := 0
	if index >= 0 {
		t.Walk(func(n *Node) bool {
			if !n.Compatible(compat) {
				return true
			}
			if seen == index {
				found = n
				return false
			}
			seen++
			return true
		})
	}
	if found == nil {
		return nil, kerrors.NotFound("compatible device", fmt.Sprintf("%s[%d]", compat, index))
	}
	return found, nil
}

// MaxPhandle returns the largest phandle in use.
func (t *Tree) MaxPhandle() uint32 {
	var highest uint32
	t.Walk(func(n *Node) bool {
		if ph := n.OwnPhandle(); ph > highest {
			highest = ph
		}
		return true
	})
	return highest
}

// Print writes an indented outline of node and property names.
func (t *Tree) Print(w io.Writer) {
	var dump func(n *Node, depth int)
	dump = func(n *Node, depth int) {
		indent := strings.Repeat("\t", depth)
		name := n.name
		if n.parent == nil {
			name = "/"
		}
		fmt.Fprintf(w, "%sNode name: %s\n", indent, name)
		for _, p := range n.properties {
			fmt.Fprintf(w, "%s\t%s\n", indent, p.Name)
		}
		for _, c := range n.children {
			dump(c, depth+1)
		}
	}
	dump(t.root, 0)
}
