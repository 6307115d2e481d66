// Package schema structurally validates decoded JSON values against a
// recursive node descriptor, coercing the near-misses LLMs produce.
package schema

// Kind is the structural type of a schema node.
type Kind string

const (
	KindObject  Kind = "object"
	KindArray   Kind = "array"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
)

// Node is a recursive structural descriptor used for validation and coercion
// policy. Enum membership is case-sensitive.
type Node struct {
	Kind       Kind             `json:"kind" yaml:"kind"`
	Properties map[string]*Node `json:"properties,omitempty" yaml:"properties,omitempty"`
	Items      *Node            `json:"items,omitempty" yaml:"items,omitempty"`
	Required   []string         `json:"required,omitempty" yaml:"required,omitempty"`
	Enum       []string         `json:"enum,omitempty" yaml:"enum,omitempty"`
	Default    any              `json:"default,omitempty" yaml:"default,omitempty"`
	Optional   bool             `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// NewObject creates an object node.
func NewObject() *Node {
	return &Node{Kind: KindObject, Properties: make(map[string]*Node)}
}

// NewArray creates an array node with the given item schema.
func NewArray(items *Node) *Node {
	return &Node{Kind: KindArray, Items: items}
}

// NewString creates a string node.
func NewString() *Node { return &Node{Kind: KindString} }

// NewNumber creates a number node.
func NewNumber() *Node { return &Node{Kind: KindNumber} }

// NewBoolean creates a boolean node.
func NewBoolean() *Node { return &Node{Kind: KindBoolean} }

// NewEnum creates a string node restricted to the given values.
func NewEnum(values ...string) *Node {
	return &Node{Kind: KindString, Enum: values}
}

// Prop adds a property to an object node.
func (n *Node) Prop(name string, prop *Node) *Node {
	if n.Properties == nil {
		n.Properties = make(map[string]*Node)
	}
	n.Properties[name] = prop
	return n
}

// Require marks field names as required.
func (n *Node) Require(names ...string) *Node {
	n.Required = append(n.Required, names...)
	return n
}

// WithDefault sets the default value injected when the field is absent.
func (n *Node) WithDefault(v any) *Node {
	n.Default = v
	n.Optional = true
	return n
}

// SingleArrayProperty returns the name and item schema of the node's only
// array-typed property, when the node is an object with exactly one such
// property. The recovery package uses this to re-wrap recovered elements.
func (n *Node) SingleArrayProperty() (string, *Node, bool) {
	if n == nil || n.Kind != KindObject {
		return "", nil, false
	}
	var name string
	var items *Node
	count := 0
	for propName, prop := range n.Properties {
		if prop != nil && prop.Kind == KindArray {
			count++
			name = propName
			items = prop.Items
		}
	}
	if count != 1 {
		return "", nil, false
	}
	return name, items, true
}
