package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	fferrors "github.com/randalmurphal/featureflow/pkg/featureflow/errors"
)

// DefaultPostgresTable is used when a store spec names no table.
const DefaultPostgresTable = "featureflow_records"

// PostgresBackend persists entries to a PostgreSQL table through a pgx
// connection pool. Payloads are stored as JSONB.
type PostgresBackend struct {
	pool    *pgxpool.Pool
	table   string
	timeout time.Duration
	owned   bool
}

// NewPostgresBackend connects to dsn and ensures table exists.
func NewPostgresBackend(ctx context.Context, dsn, table string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	b := NewPostgresBackendFromPool(pool, table)
	b.owned = true
	if err := b.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackendFromPool wraps an existing pool. The caller keeps
// ownership of the pool and must call EnsureTable.
func NewPostgresBackendFromPool(pool *pgxpool.Pool, table string) *PostgresBackend {
	if table == "" {
		table = DefaultPostgresTable
	}
	return &PostgresBackend{
		pool:    pool,
		table:   pgx.Identifier{table}.Sanitize(),
		timeout: 10 * time.Second,
	}
}

// EnsureTable creates the records table if it doesn't exist.
func (b *PostgresBackend) EnsureTable(ctx context.Context) error {
	_, err := b.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+b.table+` (
			identity TEXT NOT NULL,
			grp      TEXT NOT NULL,
			ts       TEXT NOT NULL,
			payload  JSONB NOT NULL,
			PRIMARY KEY (identity, grp, ts)
		)`)
	if err != nil {
		return postgresError("create table", err)
	}
	return nil
}

// Kind implements Backend.
func (b *PostgresBackend) Kind() string {
	return "postgres"
}

func (b *PostgresBackend) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

// Load implements Backend.
func (b *PostgresBackend) Load(key Key) (Record, bool, error) {
	ctx, cancel := b.context()
	defer cancel()

	var payload []byte
	err := b.pool.QueryRow(ctx,
		`SELECT payload FROM `+b.table+` WHERE identity = $1 AND grp = $2 AND ts = $3`,
		key.Identity, key.Group, timestampColumn(key)).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, postgresError("load", err)
	}
	rec, err := Unmarshal(payload)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Put implements Backend.
func (b *PostgresBackend) Put(key Key, rec Record) error {
	payload, err := Marshal(rec)
	if err != nil {
		return err
	}
	ctx, cancel := b.context()
	defer cancel()

	_, err = b.pool.Exec(ctx, `
		INSERT INTO `+b.table+` (identity, grp, ts, payload)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (identity, grp, ts) DO UPDATE SET payload = EXCLUDED.payload`,
		key.Identity, key.Group, timestampColumn(key), string(payload))
	if err != nil {
		return postgresError("save", err)
	}
	return nil
}

// Remove implements Backend.
func (b *PostgresBackend) Remove(key Key) error {
	ctx, cancel := b.context()
	defer cancel()

	_, err := b.pool.Exec(ctx,
		`DELETE FROM `+b.table+` WHERE identity = $1 AND grp = $2 AND ts = $3`,
		key.Identity, key.Group, timestampColumn(key))
	if err != nil {
		return postgresError("delete", err)
	}
	return nil
}

// Scan implements Backend.
func (b *PostgresBackend) Scan(identity, group string) ([]Entry, error) {
	ctx, cancel := b.context()
	defer cancel()

	rows, err := b.pool.Query(ctx, `
		SELECT identity, grp, ts, payload FROM `+b.table+`
		WHERE ($1 = '' OR identity = $1) AND ($2 = '' OR grp = $2)`,
		identity, group)
	if err != nil {
		return nil, postgresError("scan", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			key     Key
			ts      string
			payload []byte
		)
		if err := rows.Scan(&key.Identity, &key.Group, &ts, &payload); err != nil {
			return nil, postgresError("scan row", err)
		}
		if key.Timestamp, err = parseTimestampColumn(ts); err != nil {
			return nil, err
		}
		rec, err := Unmarshal(payload)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: key, Record: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, postgresError("iterate", err)
	}
	return entries, nil
}

// Close implements Backend. A pool passed in by the caller is left open.
func (b *PostgresBackend) Close() error {
	if b.owned {
		b.pool.Close()
	}
	return nil
}

func postgresError(op string, err error) error {
	return &fferrors.BackendError{
		Backend:   "postgres",
		Op:        op,
		Temporary: isTransientPostgresErr(err),
		Err:       err,
	}
}

// isTransientPostgresErr reports connection loss, timeouts, serialization
// failures and deadlocks.
func isTransientPostgresErr(err error) bool {
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08":
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "57P03":
			return true
		}
	}
	return false
}
