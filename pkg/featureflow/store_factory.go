package featureflow

import (
	"context"
	"fmt"
	"time"

	"github.com/randalmurphal/featureflow/pkg/featureflow/config"
	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
	"github.com/randalmurphal/featureflow/pkg/featureflow/registry"
	"github.com/randalmurphal/featureflow/pkg/featureflow/schema"
	"github.com/randalmurphal/featureflow/pkg/featureflow/store"
)

// Store connection attributes.
const (
	AttrPath     = "Path"
	AttrDSN      = "DSN"
	AttrAddr     = "Addr"
	AttrUsername = "Username"
	AttrPassword = "Password"
	AttrDB       = "DB"
	AttrTable    = "Table"
	AttrPrefix   = "Prefix"
)

// connectTimeout bounds opening a networked store.
const connectTimeout = 30 * time.Second

var storeOpeners = registry.New[string, schema.StoreOpener](
	registry.WithNormalizer[string, schema.StoreOpener](normalizeTag),
)

func init() {
	storeOpeners.Register(TagMemoryStore, openMemoryStore)
	storeOpeners.Register(TagSQLiteStore, openSQLiteStore)
	storeOpeners.Register(TagPostgresStore, openPostgresStore)
	storeOpeners.Register(TagRedisStore, openRedisStore)
}

// RegisterStore adds a store type. The tag is registered as a store kind
// and open is used for every schema of that type.
func RegisterStore(tag string, open schema.StoreOpener) error {
	if err := storeOpeners.Add(tag, open); err != nil {
		return err
	}
	return RegisterType(tag, KindStore)
}

func openStore(s *schema.Schema, spec config.Config) (store.Store, error) {
	open, ok := storeOpeners.Get(s.Type)
	if !ok {
		return nil, fferrors.UnknownType(s.FullyQualifiedName, s.Type)
	}
	return open(s, spec)
}

func openMemoryStore(s *schema.Schema, _ config.Config) (store.Store, error) {
	return store.NewMemoryStore(s.FullyQualifiedName), nil
}

func openSQLiteStore(s *schema.Schema, spec config.Config) (store.Store, error) {
	path, err := spec.RequireString(AttrPath)
	if err != nil {
		return nil, connectionError(s, AttrPath, err)
	}
	return store.NewSQLiteStore(s.FullyQualifiedName, path)
}

func openPostgresStore(s *schema.Schema, spec config.Config) (store.Store, error) {
	dsn, err := spec.RequireString(AttrDSN)
	if err != nil {
		return nil, connectionError(s, AttrDSN, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	backend, err := store.NewPostgresBackend(ctx, dsn, spec.String(AttrTable, ""))
	if err != nil {
		return nil, err
	}
	return store.NewOrdered(s.FullyQualifiedName, backend, store.WithRetry(fferrors.NetworkRetry)), nil
}

func openRedisStore(s *schema.Schema, spec config.Config) (store.Store, error) {
	addr, err := spec.RequireString(AttrAddr)
	if err != nil {
		return nil, connectionError(s, AttrAddr, err)
	}
	client := store.NewRedisClient(addr,
		spec.String(AttrUsername, ""), spec.String(AttrPassword, ""), spec.Int(AttrDB, 0))
	backend := store.NewRedisBackend(client, spec.String(AttrPrefix, ""))
	return store.NewOrdered(s.FullyQualifiedName, backend, store.WithRetry(fferrors.NetworkRetry)), nil
}

func connectionError(s *schema.Schema, attr string, err error) error {
	return fferrors.InvalidAttribute(s.FullyQualifiedName, attr, err)
}

// StoreSchema is a declared store. Connection attributes are read when
// the store is first opened.
type StoreSchema struct {
	base *schema.Schema
}

// NewStoreSchema validates the store loaded under fqn.
func NewStoreSchema(l *schema.Loader, fqn string) (*StoreSchema, error) {
	s, err := l.Get(fqn)
	if err != nil {
		return nil, err
	}
	if !storeOpeners.Has(s.Type) {
		return nil, fferrors.UnknownType(fqn, s.Type)
	}
	return &StoreSchema{base: s}, nil
}

// Schema implements TypedSchema.
func (s *StoreSchema) Schema() *schema.Schema { return s.base }

// Kind implements TypedSchema.
func (s *StoreSchema) Kind() Kind { return KindStore }

func (s *StoreSchema) String() string {
	return fmt.Sprintf("%s (%s)", s.base.FullyQualifiedName, s.base.Type)
}
