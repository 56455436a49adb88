package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/randalmurphal/featureflow/pkg/featureflow/config"
	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/registry"
	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
	"github.com/randalmurphal/featureflow/pkg/featureflow/template"
)

// Default Name and Type given to an Anchor section that omits them.
const (
	DefaultAnchorName = "anchor"
	DefaultAnchorType = "Anchor"
)

// StoreOpener builds the store described by a Store schema. The spec it
// receives has connection attributes already expanded.
type StoreOpener func(s *Schema, spec config.Config) (store.Store, error)

// Loader parses and owns the schemas of a process.
//
// A Loader is safe for concurrent use once loading is finished; AddSchema
// itself is serialized.
type Loader struct {
	mu      sync.Mutex
	specs   map[string]map[string]any
	schemas *registry.Registry[string, *Schema]
	stores  *registry.Registry[string, store.Store]
	errs    fferrors.ErrorCollection

	knownType func(tag string) bool
	openStore StoreOpener
	expander  *template.Expander
}

// Option configures a Loader.
type Option func(*Loader)

// WithTypeCheck rejects tags for which known returns false.
func WithTypeCheck(known func(tag string) bool) Option {
	return func(l *Loader) {
		l.knownType = known
	}
}

// WithStoreOpener sets how GetStore builds stores.
func WithStoreOpener(open StoreOpener) Option {
	return func(l *Loader) {
		l.openStore = open
	}
}

// WithExpander replaces the expander used on store connection attributes.
func WithExpander(e *template.Expander) Option {
	return func(l *Loader) {
		if e != nil {
			l.expander = e
		}
	}
}

// StoreConnectionAttributes are expanded from the environment before a
// store is opened.
var StoreConnectionAttributes = []string{"Path", "DSN", "Addr", "Password", "Username", "Table", "Prefix"}

// NewLoader returns an empty loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		specs:    make(map[string]map[string]any),
		schemas:  registry.New[string, *Schema](),
		stores:   registry.New[string, store.Store](),
		expander: template.NewExpander(template.Strict()),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddSchema parses spec and its nested specs under parent ("" for a root
// node) and returns the fully qualified name of spec. Every problem found
// is returned at once as a *errors.CollectionError.
func (l *Loader) AddSchema(spec map[string]any, parent string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs fferrors.ErrorCollection
	fqn, _ := l.add(spec, parent, &errs)
	l.errs.Add(errs.Err())
	return fqn, errs.Err()
}

func (l *Loader) add(spec map[string]any, parent string, errs *fferrors.ErrorCollection) (string, *Schema) {
	cfg := config.New(spec)
	where := parent
	if where == "" {
		where = "<root>"
	}

	name, err := cfg.RequireString(AttrName)
	if err != nil {
		errs.Add(attributeError(where, AttrName, err))
		return "", nil
	}
	fqn := Join(parent, name)

	if existing, ok := l.specs[fqn]; ok {
		if reflect.DeepEqual(existing, spec) {
			s, _ := l.schemas.Get(fqn)
			return fqn, s
		}
		errs.Add(fferrors.DuplicateSchema(fqn))
		return fqn, nil
	}

	before := errs.Len()
	tag, err := cfg.RequireString(AttrType)
	if err != nil {
		errs.Add(attributeError(fqn, AttrType, err))
	} else if l.knownType != nil && !l.knownType(tag) {
		errs.Add(fferrors.UnknownType(fqn, tag))
	}
	if strings.HasPrefix(name, "_") {
		errs.Add(fferrors.InvalidIdentifier(fqn, AttrName, name))
	}
	for _, key := range cfg.Keys() {
		if v, ok := spec[key].(string); ok && key != AttrName && key != AttrType && strings.TrimSpace(v) == "" {
			errs.Add(fferrors.EmptyAttribute(fqn, key))
		}
	}

	s := &Schema{
		FullyQualifiedName: fqn,
		Type:               tag,
		Name:               name,
		Spec:               cfg,
		byAttr:             make(map[string][]*Schema),
	}

	for _, attr := range nestedAttributes {
		sections, err := cfg.Sections(attr)
		if err != nil {
			errs.Add(fferrors.InvalidAttribute(fqn, attr, err))
			continue
		}
		for _, section := range sections {
			if _, child := l.add(section.Raw(), fqn, errs); child != nil {
				s.nested = append(s.nested, child)
				s.byAttr[attr] = append(s.byAttr[attr], child)
			}
		}
	}
	if anchor, ok := cfg.Section(AttrAnchor); ok {
		raw := anchorSpec(anchor.Raw())
		if _, child := l.add(raw, fqn, errs); child != nil {
			s.nested = append(s.nested, child)
			s.byAttr[AttrAnchor] = append(s.byAttr[AttrAnchor], child)
		}
	} else if cfg.Has(AttrAnchor) {
		errs.Add(fferrors.InvalidAttribute(fqn, AttrAnchor, fmt.Errorf("expected a mapping, got %T", spec[AttrAnchor])))
	}

	// A node is only registered once its whole subtree loaded cleanly.
	if errs.Len() > before {
		return fqn, nil
	}
	l.specs[fqn] = spec
	l.schemas.Register(fqn, s)
	return fqn, s
}

// anchorSpec fills in the Name and Type an Anchor section may omit.
func anchorSpec(raw map[string]any) map[string]any {
	if _, ok := raw[AttrName]; ok {
		if _, ok := raw[AttrType]; ok {
			return raw
		}
	}
	out := make(map[string]any, len(raw)+2)
	for k, v := range raw {
		out[k] = v
	}
	if _, ok := out[AttrName]; !ok {
		out[AttrName] = DefaultAnchorName
	}
	if _, ok := out[AttrType]; !ok {
		out[AttrType] = DefaultAnchorType
	}
	return out
}

func attributeError(fqn, attr string, err error) *fferrors.SchemaError {
	if errors.Is(err, config.ErrEmptyValue) {
		return fferrors.EmptyAttribute(fqn, attr)
	}
	return fferrors.RequiredAttribute(fqn, attr)
}

// Get returns the schema registered under fqn.
func (l *Loader) Get(fqn string) (*Schema, error) {
	s, ok := l.schemas.Get(fqn)
	if !ok {
		return nil, &fferrors.SchemaError{FQN: fqn, Err: fferrors.ErrSchemaNotFound}
	}
	return s, nil
}

// Has reports whether fqn has been loaded.
func (l *Loader) Has(fqn string) bool {
	return l.schemas.Has(fqn)
}

// Names returns every loaded fully qualified name in load order.
func (l *Loader) Names() []string {
	return l.schemas.Keys()
}

// SchemasOfType returns the loaded schemas whose tag matches, ignoring case.
func (l *Loader) SchemasOfType(tag string) []*Schema {
	var out []*Schema
	for _, fqn := range l.schemas.Keys() {
		s, _ := l.schemas.Get(fqn)
		if strings.EqualFold(s.Type, tag) {
			out = append(out, s)
		}
	}
	return out
}

// Errors returns every schema error seen by this loader so far.
func (l *Loader) Errors() *fferrors.ErrorCollection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &l.errs
}

// GetStore returns the store declared at fqn. The store is opened on first
// use and the same instance is returned afterwards.
func (l *Loader) GetStore(fqn string) (store.Store, error) {
	return l.stores.GetOrCreate(fqn, func() (store.Store, error) {
		s, err := l.Get(fqn)
		if err != nil {
			return nil, err
		}
		if l.openStore == nil {
			return nil, fmt.Errorf("open store %s: no store opener configured", fqn)
		}
		expanded, err := l.expander.ExpandMap(s.Spec.Raw(), StoreConnectionAttributes...)
		if err != nil {
			return nil, fferrors.InvalidAttribute(fqn, "Store", err)
		}
		st, err := l.openStore(s, config.New(expanded))
		if err != nil {
			return nil, fmt.Errorf("open store %s: %w", fqn, err)
		}
		return st, nil
	})
}

// Close closes every store opened through GetStore.
func (l *Loader) Close() error {
	var err error
	for _, fqn := range l.stores.Keys() {
		st, _ := l.stores.Get(fqn)
		err = multierr.Append(err, st.Close())
	}
	return err
}
