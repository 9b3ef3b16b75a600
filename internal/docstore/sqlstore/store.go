// Package sqlstore keeps documents in a single SQL table, on PostgreSQL or
// SQLite. Transactions are optimistic: every read records the row version and
// the commit re-checks those versions before writing. Deleting a document
// leaves a tombstone row so its version keeps counting up if it is created
// again.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"remember/api/internal/docstore"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store implements docstore.Store on database/sql.
type Store struct {
	db          *sqlx.DB
	txOptions   *sql.TxOptions
	maxAttempts int
}

// Open connects to the database, applies pending migrations and returns the
// store. driver is DriverPostgres or DriverSQLite; for SQLite dsn is a file
// path or ":memory:".
func Open(ctx context.Context, driver, dsn string, maxAttempts int) (*Store, error) {
	var (
		db        *sqlx.DB
		txOptions *sql.TxOptions
		err       error
	)
	switch driver {
	case DriverPostgres:
		db, err = sqlx.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetMaxIdleConns(10)
		db.SetMaxOpenConns(20)
		txOptions = &sql.TxOptions{Isolation: sql.LevelSerializable}
	case DriverSQLite:
		db, err = sqlx.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite db: %w", err)
		}
		// One connection serialises commits and keeps ":memory:" a single database.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := ApplyMigrations(ctx, db, embeddedMigrations()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	if maxAttempts <= 0 {
		maxAttempts = docstore.DefaultMaxAttempts
	}
	return &Store{db: db, txOptions: txOptions, maxAttempts: maxAttempts}, nil
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

type row struct {
	Version int64  `db:"version"`
	Data    string `db:"data"`
	Deleted bool   `db:"deleted"`
}

type queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	Rebind(query string) string
}

func load(ctx context.Context, q queryer, ref docstore.Ref) (row, bool, error) {
	var r row
	err := q.GetContext(ctx, &r, q.Rebind(`SELECT version, data, deleted FROM documents WHERE path = ?`), ref.Path())
	if errors.Is(err, sql.ErrNoRows) {
		return row{}, false, nil
	}
	if err != nil {
		return row{}, false, fmt.Errorf("get %s: %w", ref, err)
	}
	if r.Deleted {
		return row{Version: r.Version}, false, nil
	}
	return r, true, nil
}

type tx struct {
	docstore.Staging
	store *Store
	reads map[docstore.Ref]int64
}

func (t *tx) Get(ctx context.Context, ref docstore.Ref) (docstore.Snapshot, error) {
	if err := t.CheckRead(ref); err != nil {
		return docstore.Snapshot{}, err
	}
	r, exists, err := load(ctx, t.store.db, ref)
	if err != nil {
		return docstore.Snapshot{}, err
	}
	if _, seen := t.reads[ref]; !seen {
		t.reads[ref] = r.Version
	}
	if !exists {
		return docstore.Snapshot{Ref: ref}, nil
	}
	return docstore.Snapshot{Ref: ref, Exists: true, Data: []byte(r.Data)}, nil
}

// RunTransaction runs fn and commits its writes if none of the documents it
// read changed in the meantime, retrying on conflict.
func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	return docstore.Retry(ctx, s.maxAttempts, func(ctx context.Context) error {
		t := &tx{store: s, reads: make(map[docstore.Ref]int64)}
		if err := fn(ctx, t); err != nil {
			return err
		}
		if !t.HasWrites() {
			return nil
		}
		return conflictErr(s.commit(ctx, t))
	})
}

func (s *Store) commit(ctx context.Context, t *tx) error {
	dbtx, err := s.db.BeginTxx(ctx, s.txOptions)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	for ref, version := range t.reads {
		current, _, err := load(ctx, dbtx, ref)
		if err != nil {
			return err
		}
		if current.Version != version {
			return fmt.Errorf("%w: %s changed", docstore.ErrConflict, ref)
		}
	}

	states, err := docstore.Resolve(t.Writes(), func(ref docstore.Ref) ([]byte, bool, error) {
		r, exists, err := load(ctx, dbtx, ref)
		if !exists {
			return nil, false, err
		}
		return []byte(r.Data), true, err
	})
	if err != nil {
		return err
	}

	upsert := dbtx.Rebind(`
		INSERT INTO documents (path, collection, depth, version, data)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (path) DO UPDATE SET
			data = excluded.data,
			deleted = FALSE,
			version = documents.version + 1,
			updated_at = CURRENT_TIMESTAMP
	`)
	remove := dbtx.Rebind(tombstone)
	for _, state := range states {
		if state.Deleted {
			if _, err := dbtx.ExecContext(ctx, remove, state.Ref.Path()); err != nil {
				return fmt.Errorf("delete %s: %w", state.Ref, err)
			}
			continue
		}
		_, err := dbtx.ExecContext(ctx, upsert, state.Ref.Path(), state.Ref.Collection(), state.Ref.Depth(), string(state.Data))
		if err != nil {
			return fmt.Errorf("write %s: %w", state.Ref, err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// conflictErr maps serialization failures and lock contention to
// docstore.ErrConflict so the transaction is retried.
func conflictErr(err error) error {
	if err == nil || errors.Is(err, docstore.ErrConflict) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.SQLState() {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", docstore.ErrConflict, err)
		}
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", docstore.ErrConflict, err)
		}
	}
	return err
}

const tombstone = `
	UPDATE documents SET
		data = '',
		deleted = TRUE,
		version = version + 1,
		updated_at = CURRENT_TIMESTAMP
	WHERE path = ? AND deleted = FALSE
`

// Get reads one document outside any transaction.
func (s *Store) Get(ctx context.Context, ref docstore.Ref) (docstore.Snapshot, error) {
	r, exists, err := load(ctx, s.db, ref)
	if err != nil || !exists {
		return docstore.Snapshot{Ref: ref}, err
	}
	return docstore.Snapshot{Ref: ref, Exists: true, Data: []byte(r.Data)}, nil
}

// Children lists the documents of one sub-collection, ordered by path.
func (s *Store) Children(ctx context.Context, parent docstore.Ref, collection string) ([]docstore.Ref, error) {
	collectionPath := parent.CollectionPath(collection)
	var paths []string
	err := s.db.SelectContext(ctx, &paths, s.db.Rebind(`SELECT path FROM documents WHERE collection = ? AND deleted = FALSE ORDER BY path`), collectionPath)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collectionPath, err)
	}
	return parseRefs(paths)
}

// Descendants lists every document below ref within maxDepth levels.
func (s *Store) Descendants(ctx context.Context, ref docstore.Ref, maxDepth int) ([]docstore.Ref, error) {
	pattern := "%"
	if !ref.IsZero() {
		pattern = escapeLike(ref.Path()+"/") + "%"
	}
	var paths []string
	err := s.db.SelectContext(ctx, &paths,
		s.db.Rebind(`SELECT path FROM documents WHERE path LIKE ? ESCAPE '\' AND depth <= ? AND deleted = FALSE`),
		pattern, ref.Depth()+maxDepth)
	if err != nil {
		return nil, fmt.Errorf("list descendants of %s: %w", ref, err)
	}
	refs, err := parseRefs(paths)
	if err != nil {
		return nil, err
	}
	docstore.SortDeepestFirst(refs)
	return refs, nil
}

// Delete removes one document, leaving its tombstone.
func (s *Store) Delete(ctx context.Context, ref docstore.Ref) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(tombstone), ref.Path()); err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func parseRefs(paths []string) ([]docstore.Ref, error) {
	refs := make([]docstore.Ref, 0, len(paths))
	for _, path := range paths {
		ref, err := docstore.ParseRef(path)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
