package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/zeebo/errs"
	_ "modernc.org/sqlite"

	"github.com/pavel-fokin/files-vault/internal/files"
)

// Repository implements files.FileRepository on top of database/sql. It
// speaks to SQLite (modernc.org/sqlite) or PostgreSQL (lib/pq) depending on
// the connection string.
type Repository struct {
	db *sql.DB
	// readDB serves BeginRead. On SQLite it is a second pool whose
	// transactions start deferred, so in WAL mode readers never wait for the
	// write lock. On PostgreSQL it is db.
	readDB  *sql.DB
	dialect dialect
}

type dialect struct {
	name   string
	schema string
	// rebind converts "?" placeholders into the driver's native form.
	rebind func(query string) string
	// classify maps driver specific constraint errors onto files errors.
	classify func(err error) error
	// readOnly is passed as sql.TxOptions.ReadOnly by BeginRead.
	readOnly bool
}

// sources holds the data source names for the write and read pools. An
// empty read source means both share one pool.
type sources struct {
	driver string
	write  string
	read   string
}

// NewRepository opens the database named by dsn and bootstraps the schema.
//
// Connection strings starting with postgres:// or postgresql:// select
// PostgreSQL. Anything else is treated as a SQLite database path, with an
// optional sqlite:// prefix.
func NewRepository(dsn string, maxOpenConns int) (*Repository, error) {
	d, src := resolve(dsn)

	db, err := openPool(src.driver, src.write, maxOpenConns)
	if err != nil {
		return nil, err
	}

	repo := &Repository{db: db, readDB: db, dialect: d}

	// The schema, and with it WAL mode, must exist before readers connect.
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if src.read != "" {
		readDB, err := openPool(src.driver, src.read, maxOpenConns)
		if err != nil {
			db.Close()
			return nil, err
		}
		repo.readDB = readDB
	}

	return repo, nil
}

func openPool(driverName, source string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	return db, nil
}

func resolve(dsn string) (dialect, sources) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return postgresDialect, sources{driver: "postgres", write: dsn}
	}

	path := strings.TrimPrefix(dsn, "sqlite://")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	base := "file:" + path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	return sqliteDialect, sources{
		driver: "sqlite",
		write:  base + "&_pragma=journal_mode(WAL)&_txlock=immediate",
		read:   base,
	}
}

// Close closes the database connections.
func (r *Repository) Close() error {
	if r.readDB != r.db {
		return errs.Combine(r.readDB.Close(), r.db.Close())
	}
	return r.db.Close()
}

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Dialect returns the name of the active SQL dialect.
func (r *Repository) Dialect() string {
	return r.dialect.name
}

// initSchema creates the file and file_access tables if they do not exist.
func (r *Repository) initSchema() error {
	if _, err := r.db.Exec(r.dialect.schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Begin starts a metadata transaction that may write. On SQLite it takes
// the write lock immediately.
func (r *Repository) Begin(ctx context.Context) (files.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, r.dialect.wrap("begin transaction", err)
	}
	return &Tx{tx: tx, dialect: r.dialect}, nil
}

// BeginRead starts a transaction for lookups and listings. It never waits
// behind a writer.
func (r *Repository) BeginRead(ctx context.Context) (files.Tx, error) {
	tx, err := r.readDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: r.dialect.readOnly})
	if err != nil {
		return nil, r.dialect.wrap("begin read transaction", err)
	}
	return &Tx{tx: tx, dialect: r.dialect}, nil
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `
	CREATE TABLE IF NOT EXISTS file (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		mime_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		owner_id TEXT NOT NULL,
		is_public BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_file_owner_id ON file(owner_id);

	CREATE TABLE IF NOT EXISTS file_access (
		file_id TEXT NOT NULL REFERENCES file(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		PRIMARY KEY (file_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_file_access_user_id ON file_access(user_id);
	`,
	rebind:   func(query string) string { return query },
	classify: classifySQLite,
}

var postgresDialect = dialect{
	name: "postgres",
	schema: `
	CREATE TABLE IF NOT EXISTS file (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		mime_type TEXT NOT NULL,
		size BIGINT NOT NULL,
		owner_id UUID NOT NULL,
		is_public BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_file_owner_id ON file(owner_id);

	CREATE TABLE IF NOT EXISTS file_access (
		file_id UUID NOT NULL REFERENCES file(id) ON DELETE CASCADE,
		user_id UUID NOT NULL,
		PRIMARY KEY (file_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_file_access_user_id ON file_access(user_id);
	`,
	rebind:   rebindDollar,
	classify: classifyPostgres,
	readOnly: true,
}

// rebindDollar rewrites "?" placeholders as $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
