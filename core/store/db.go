package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"takedown/config"
	"takedown/core/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// DB is the opened database together with its dialect. Stores use the
// dialect to rebind placeholders and pick dialect-specific SQL, so the same
// queries run on sqlite and postgres.
type DB struct {
	*sql.DB
	Dialect string
}

// Rebind rewrites `?` placeholders to `$n` for postgres; sqlite queries pass
// through untouched.
func (d *DB) Rebind(query string) string {
	if d.Dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// NewDB opens the configured database. The default driver is the pure-Go
// sqlite build; postgres is selected with db_driver=postgres and a pgx DSN.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return newSQLiteDB(cfg, logger)
	case "postgres", "pgx":
		db, err := sql.Open("pgx", cfg.DBURL)
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, err
		}
		logger.Infof("store: connected to postgres")
		return &DB{DB: db, Dialect: DialectPostgres}, nil
	default:
		return nil, fmt.Errorf("store: unsupported db driver %q", cfg.DBDriver)
	}
}

func newSQLiteDB(cfg *config.AppConfig, logger *utils.Logger) (*DB, error) {
	path := cfg.DBURL
	if path == "" {
		path = "data/takedown.db"
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Single writer connection keeps concurrent submits serialized at the
	// driver instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Infof("store: opened sqlite db at %s", path)
	return &DB{DB: db, Dialect: DialectSQLite}, nil
}
