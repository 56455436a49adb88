package schema

import (
	"strings"

	"github.com/randalmurphal/featureflow/pkg/featureflow/config"
)

// DTC attribute names shared by every schema.
const (
	AttrType       = "Type"
	AttrName       = "Name"
	AttrWhen       = "When"
	AttrFields     = "Fields"
	AttrAggregates = "Aggregates"
	AttrStores     = "Stores"
	AttrStore      = "Store"
	AttrAnchor     = "Anchor"
)

// nestedAttributes lists the attributes whose entries become child
// schemas, in the order children are added.
var nestedAttributes = []string{AttrStores, AttrFields, AttrAggregates}

// Schema is one parsed DTC node. It is immutable once the Loader returns it.
type Schema struct {
	FullyQualifiedName string
	Type               string
	Name               string
	Spec               config.Config

	nested []*Schema
	byAttr map[string][]*Schema
}

// Nested returns every child schema in declared order.
func (s *Schema) Nested() []*Schema {
	return append([]*Schema(nil), s.nested...)
}

// NestedIn returns the children declared under attribute attr.
func (s *Schema) NestedIn(attr string) []*Schema {
	return append([]*Schema(nil), s.byAttr[attr]...)
}

// Child returns the direct child with the given Name.
func (s *Schema) Child(name string) (*Schema, bool) {
	for _, c := range s.nested {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Parent returns the fully qualified name of the enclosing schema, or ""
// at the root.
func (s *Schema) Parent() string {
	return ParentOf(s.FullyQualifiedName)
}

// Sibling returns the fully qualified name of name declared next to s,
// which is how a Store attribute is resolved against the transformer's
// Stores list.
func (s *Schema) Sibling(name string) string {
	return Join(s.Parent(), name)
}

// Join builds a fully qualified name.
func Join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// ParentOf strips the last segment from a fully qualified name.
func ParentOf(fqn string) string {
	i := strings.LastIndexByte(fqn, '.')
	if i < 0 {
		return ""
	}
	return fqn[:i]
}
