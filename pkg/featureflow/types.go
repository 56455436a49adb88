package featureflow

import (
	"fmt"
	"strings"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/expr"
	"github.com/randalmurphal/featureflow/pkg/featureflow/registry"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
)

// Kind identifies what a DTC type tag builds.
type Kind int

const (
	KindUnknown Kind = iota
	KindStreamingTransformer
	KindWindowTransformer
	KindBlockAggregate
	KindLabelAggregate
	KindActivityAggregate
	KindIdentityAggregate
	KindVariableAggregate
	KindWindowAggregate
	KindAnchor
	KindWindow
	KindField
	KindStore
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindStreamingTransformer: "streaming transformer",
	KindWindowTransformer:    "window transformer",
	KindBlockAggregate:       "block aggregate",
	KindLabelAggregate:       "label aggregate",
	KindActivityAggregate:    "activity aggregate",
	KindIdentityAggregate:    "identity aggregate",
	KindVariableAggregate:    "variable aggregate",
	KindWindowAggregate:      "window aggregate",
	KindAnchor:               "anchor",
	KindWindow:               "window",
	KindField:                "field",
	KindStore:                "store",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// IsAggregate reports whether k is one of the aggregate variants.
func (k Kind) IsAggregate() bool {
	return k >= KindBlockAggregate && k <= KindWindowAggregate
}

// Built-in type tags.
const (
	TagStreamingTransformer = "Transform:Streaming"
	TagWindowTransformer    = "Transform:Window"
	TagBlockAggregate       = "Aggregate:Block"
	TagLabelAggregate       = "Aggregate:Label"
	TagActivityAggregate    = "Aggregate:Activity"
	TagIdentityAggregate    = "Aggregate:Identity"
	TagVariableAggregate    = "Aggregate:Variable"
	TagWindowAggregate      = "Aggregate:Window"
	TagAnchor               = schema.DefaultAnchorType
	TagMemoryStore          = "Store:Memory"
	TagSQLiteStore          = "Store:SQLite"
	TagPostgresStore        = "Store:Postgres"
	TagRedisStore           = "Store:Redis"
)

var builtinTypes = []struct {
	tag  string
	kind Kind
}{
	{TagStreamingTransformer, KindStreamingTransformer},
	{TagWindowTransformer, KindWindowTransformer},
	{TagBlockAggregate, KindBlockAggregate},
	{TagLabelAggregate, KindLabelAggregate},
	{TagActivityAggregate, KindActivityAggregate},
	{TagIdentityAggregate, KindIdentityAggregate},
	{TagVariableAggregate, KindVariableAggregate},
	{TagWindowAggregate, KindWindowAggregate},
	{TagAnchor, KindAnchor},
	{WindowDay.String(), KindWindow},
	{WindowHour.String(), KindWindow},
	{WindowCount.String(), KindWindow},
	{FieldString.String(), KindField},
	{FieldInteger.String(), KindField},
	{FieldFloat.String(), KindField},
	{FieldBoolean.String(), KindField},
	{FieldDateTime.String(), KindField},
	{FieldMap.String(), KindField},
	{FieldList.String(), KindField},
	{FieldSet.String(), KindField},
	{TagMemoryStore, KindStore},
	{TagSQLiteStore, KindStore},
	{TagPostgresStore, KindStore},
	{TagRedisStore, KindStore},
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

var types = registry.New[string, Kind](registry.WithNormalizer[string, Kind](normalizeTag))

func init() {
	for _, t := range builtinTypes {
		types.Register(t.tag, t.kind)
	}
}

// RegisterType maps an additional tag to kind. Tags are compared without
// regard to case; registering a tag twice is an error.
func RegisterType(tag string, kind Kind) error {
	if kind == KindUnknown {
		return fmt.Errorf("register %q: %w", tag, fferrors.ErrUnknownType)
	}
	return types.Add(tag, kind)
}

// KindOf resolves a type tag.
func KindOf(tag string) (Kind, error) {
	kind, ok := types.Get(tag)
	if !ok {
		return KindUnknown, fferrors.UnknownType("", tag)
	}
	return kind, nil
}

// IsKnownType reports whether tag is registered.
func IsKnownType(tag string) bool {
	return types.Has(tag)
}

// TypedSchema is a schema node parsed into the structure its kind needs.
type TypedSchema interface {
	// Schema returns the underlying DTC node.
	Schema() *schema.Schema
	// Kind returns what the schema builds.
	Kind() Kind
}

// SchemaFactory parses the schema loaded under fqn.
type SchemaFactory func(loader *schema.Loader, fqn string) (TypedSchema, error)

// ItemFactory creates a runtime item for a typed schema.
type ItemFactory func(s TypedSchema, ctx *expr.Context) (Item, error)

// LoadSchema returns the schema constructor for tag.
func LoadSchema(tag string) (SchemaFactory, error) {
	kind, err := KindOf(tag)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindStreamingTransformer:
		return func(l *schema.Loader, fqn string) (TypedSchema, error) {
			return NewStreamingTransformerSchema(l, fqn)
		}, nil
	case KindWindowTransformer:
		return func(l *schema.Loader, fqn string) (TypedSchema, error) {
			return NewWindowTransformerSchema(l, fqn)
		}, nil
	case KindAnchor:
		return func(l *schema.Loader, fqn string) (TypedSchema, error) {
			return NewAnchorSchema(l, fqn)
		}, nil
	case KindWindow:
		return func(l *schema.Loader, fqn string) (TypedSchema, error) {
			return NewWindowSchema(l, fqn)
		}, nil
	case KindField:
		return func(l *schema.Loader, fqn string) (TypedSchema, error) {
			return NewFieldSchema(l, fqn)
		}, nil
	case KindStore:
		return func(l *schema.Loader, fqn string) (TypedSchema, error) {
			return NewStoreSchema(l, fqn)
		}, nil
	}
	if kind.IsAggregate() {
		return func(l *schema.Loader, fqn string) (TypedSchema, error) {
			return NewAggregateSchema(l, fqn)
		}, nil
	}
	return nil, fferrors.UnknownType("", tag)
}

// LoadItem returns the item constructor for tag. Only fields and
// aggregates are items; transformers, anchors, windows and stores have
// dedicated constructors.
func LoadItem(tag string) (ItemFactory, error) {
	kind, err := KindOf(tag)
	if err != nil {
		return nil, err
	}
	switch {
	case kind == KindField:
		return func(s TypedSchema, ctx *expr.Context) (Item, error) {
			fs, ok := s.(*FieldSchema)
			if !ok {
				return nil, wrongSchema(s, kind)
			}
			return NewField(fs, ctx), nil
		}, nil
	case kind.IsAggregate():
		return func(s TypedSchema, ctx *expr.Context) (Item, error) {
			as, ok := s.(*AggregateSchema)
			if !ok || as.Kind() != kind {
				return nil, wrongSchema(s, kind)
			}
			return NewAggregate(as, ctx)
		}, nil
	}
	return nil, fmt.Errorf("%s: %w", tag, ErrNotAnItem)
}

func wrongSchema(s TypedSchema, want Kind) error {
	return fmt.Errorf("%s is a %s, want %s: %w", s.Schema().FullyQualifiedName, s.Kind(), want, ErrWrongSchema)
}

// NewLoader returns a schema loader that validates type tags against the
// registry and opens stores through the registered store openers.
func NewLoader(opts ...schema.Option) *schema.Loader {
	base := []schema.Option{
		schema.WithTypeCheck(IsKnownType),
		schema.WithStoreOpener(openStore),
	}
	return schema.NewLoader(append(base, opts...)...)
}
