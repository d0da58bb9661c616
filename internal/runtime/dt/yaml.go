package dt

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Board files describe a device tree in YAML. A mapping value is a child
// node and anything else is a property:
//
//	model: Mordax simulated board
//	compatible: ["mordax,sim", "mordax,generic"]
//	memory:
//	  reg: [0x40000000, 0x01000000]
//	uart0:serial@49020000:
//	  compatible: mordax,sim-uart
//	mordax:
//	  debug-interface: "&uart0"
//
// Integers become 32-bit cells, strings become NUL-terminated strings, a
// sequence of integers becomes a cell array and a sequence of strings a
// string list. true is an empty property. A key of the form label:name
// labels the node, and a "&label" string is replaced by the labelled
// node's phandle, which is assigned if the node has none. !!binary
// values are stored as raw bytes.

// LoadYAML parses a YAML board description.
func LoadYAML(r io.Reader) (*Tree, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty board description")
		}
		return nil, fmt.Errorf("failed to parse board description: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("board description must be a mapping")
	}

	l := &loader{tree: New(), labels: make(map[string]*Node)}
	if err := l.node(l.tree.root, doc.Content[0]); err != nil {
		return nil, err
	}
	if err := l.resolve(); err != nil {
		return nil, err
	}
	return l.tree, nil
}

// LoadFile parses the YAML board description at path.
func LoadFile(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := LoadYAML(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

type reference struct {
	node  *Node
	prop  string
	cell  int
	label string
	line  int
}

type loader struct {
	tree   *Tree
	labels map[string]*Node
	refs   []reference
}

func (l *loader) node(n *Node, m *yaml.Node) error {
	for i := 0; i+1 < len(m.Content); i += 2 {
		key, value := m.Content[i], m.Content[i+1]
		if key.Kind != yaml.ScalarNode || key.Value == "" {
			return fmt.Errorf("line %d: invalid key", key.Line)
		}
		if value.Kind == yaml.MappingNode {
			label, name := "", key.Value
			if j := strings.IndexByte(name, ':'); j >= 0 {
				label, name = name[:j], name[j+1:]
			}
			if name == "" || strings.ContainsRune(name, '/') {
				return fmt.Errorf("line %d: invalid node name %q", key.Line, key.Value)
			}
			if n.Child(name) != nil {
				return fmt.Errorf("line %d: duplicate node %q", key.Line, name)
			}
			child := n.AddChild(name)
			if label != "" {
				if _, dup := l.labels[label]; dup {
					return fmt.Errorf("line %d: duplicate label %q", key.Line, label)
				}
				l.labels[label] = child
			}
			if err := l.node(child, value); err != nil {
				return err
			}
			continue
		}
		if n.HasProperty(key.Value) {
			return fmt.Errorf("line %d: duplicate property %q", key.Line, key.Value)
		}
		if err := l.property(n, key.Value, value); err != nil {
			return err
		}
	}
	return nil
}

func (l *loader) property(n *Node, name string, v *yaml.Node) error {
	switch v.Kind {
	case yaml.AliasNode:
		return l.property(n, name, v.Alias)
	case yaml.ScalarNode:
		return l.scalar(n, name, v)
	case yaml.SequenceNode:
		return l.sequence(n, name, v)
	default:
		return fmt.Errorf("line %d: unsupported value for property %q", v.Line, name)
	}
}

func (l *loader) scalar(n *Node, name string, v *yaml.Node) error {
	switch v.Tag {
	case "!!bool":
		var b bool
		if err := v.Decode(&b); err != nil {
			return fmt.Errorf("line %d: %w", v.Line, err)
		}
		if b {
			n.SetProperty(name, []byte{})
		}
		return nil
	case "!!null":
		n.SetProperty(name, []byte{})
		return nil
	case "!!binary":
		// yaml.v3 only decodes !!binary into a string.
		var raw string
		if err := v.Decode(&raw); err != nil {
			return fmt.Errorf("line %d: %w", v.Line, err)
		}
		n.SetProperty(name, []byte(raw))
		return nil
	case "!!int":
		c, err := cell(v)
		if err != nil {
			return err
		}
		n.SetCells(name, c)
		return nil
	}
	if label, ok := strings.CutPrefix(v.Value, "&"); ok {
		n.SetCells(name, 0)
		l.refs = append(l.refs, reference{node: n, prop: name, label: label, line: v.Line})
		return nil
	}
	n.SetStrings(name, v.Value)
	return nil
}

func (l *loader) sequence(n *Node, name string, v *yaml.Node) error {
	if len(v.Content) == 0 {
		n.SetProperty(name, []byte{})
		return nil
	}
	var (
		cells   []uint32
		strs    []string
		pending []reference
	)
	for i, item := range v.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: nested value in property %q", item.Line, name)
		}
		if item.Tag == "!!int" {
			c, err := cell(item)
			if err != nil {
				return err
			}
			cells = append(cells, c)
			continue
		}
		if label, ok := strings.CutPrefix(item.Value, "&"); ok {
			pending = append(pending, reference{node: n, prop: name, cell: i, label: label, line: item.Line})
			cells = append(cells, 0)
			continue
		}
		strs = append(strs, item.Value)
	}
	switch {
	case len(strs) == 0:
		n.SetCells(name, cells...)
		l.refs = append(l.refs, pending...)
	case len(cells) == 0:
		n.SetStrings(name, strs...)
	default:
		return fmt.Errorf("line %d: property %q mixes cells and strings", v.Line, name)
	}
	return nil
}

func cell(v *yaml.Node) (uint32, error) {
	x, err := strconv.ParseInt(strings.ReplaceAll(v.Value, "_", ""), 0, 64)
	if err != nil || x < math.MinInt32 || x > math.MaxUint32 {
		return 0, fmt.Errorf("line %d: %q is not a 32-bit cell", v.Line, v.Value)
	}
	return uint32(x), nil
}

// resolve replaces label references with phandles, assigning phandles
// above the largest explicit one to labelled nodes that lack one.
func (l *loader) resolve() error {
	next := l.tree.MaxPhandle() + 1
	for _, ref := range l.refs {
		target, ok := l.labels[ref.label]
		if !ok {
			return fmt.Errorf("line %d: undefined label %q", ref.line, ref.label)
		}
		ph := target.OwnPhandle()
		if ph == 0 {
			ph = next
			next++
			target.SetCells("phandle", ph)
		}
		value, _ := ref.node.Property(ref.prop)
		copy(value[4*ref.cell:], encodeCells([]uint32{ph}))
	}
	return nil
}
