package main

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Driver names as registered with database/sql.
const (
	dialectSQLite   = "sqlite"
	dialectPostgres = "pgx"
)

type sqlStore struct {
	db      *sqlx.DB
	sb      sq.StatementBuilderType
	dialect string
	tel     *telemetry
}

func openDB(driver, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == dialectSQLite {
		// One connection keeps ":memory:" databases alive and serialises writers.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func openSQLStore(driver, dsn string, tel *telemetry) (*sqlStore, error) {
	db, err := openDB(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}

	s := newSQLStore(db, driver, tel)
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing %s database: %w", driver, err)
	}
	return s, nil
}

func newSQLStore(db *sqlx.DB, driver string, tel *telemetry) *sqlStore {
	sb := sq.StatementBuilder.PlaceholderFormat(sq.Question)
	if driver == dialectPostgres {
		sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	if tel == nil {
		tel = newTelemetry(nil, 0)
	}
	return &sqlStore{db: db, sb: sb, dialect: driver, tel: tel}
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) observe(ctx context.Context, operation string) (context.Context, func(error)) {
	return s.tel.observe(ctx, s.dialect, operation)
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		password TEXT NOT NULL,
		avatar TEXT NOT NULL,
		gender TEXT NOT NULL DEFAULT 'x' CHECK (gender IN ('m', 'f', 'x')),
		bio TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_name ON users(name)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		expires_at DATETIME NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		password TEXT NOT NULL,
		avatar TEXT NOT NULL,
		gender TEXT NOT NULL DEFAULT 'x' CHECK (gender IN ('m', 'f', 'x')),
		bio TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_name ON users(name)`,
	`CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_author ON posts(author_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
}

func (s *sqlStore) initDB() error {
	schema := sqliteSchema
	if s.dialect == dialectPostgres {
		schema = postgresSchema
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	return s.migrateDB()
}

func (s *sqlStore) hasColumn(table, column string) (bool, error) {
	query := `SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`
	if s.dialect == dialectPostgres {
		query = `SELECT COUNT(*) FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`
	}

	var count int
	if err := s.db.QueryRow(query, table, column).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *sqlStore) migrateDB() error {
	// Check if slug column exists
	ok, err := s.hasColumn("posts", "slug")
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if _, err := s.db.Exec(`ALTER TABLE posts ADD COLUMN slug TEXT`); err != nil {
		return err
	}

	if err := s.migrateExistingSlugs(); err != nil {
		return err
	}

	_, err = s.db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_posts_slug ON posts(slug)`)
	return err
}

func (s *sqlStore) migrateExistingSlugs() error {
	query, args, err := s.sb.Select("id", "title").From("posts").
		Where(sq.Or{sq.Eq{"slug": nil}, sq.Eq{"slug": ""}}).
		ToSql()
	if err != nil {
		return err
	}

	type postToUpdate struct {
		ID    string `db:"id"`
		Title string `db:"title"`
	}

	var posts []postToUpdate
	if err := s.db.Select(&posts, query, args...); err != nil {
		return err
	}

	ctx := context.Background()
	for _, p := range posts {
		uniqueSlug, err := ensureUniqueSlug(ctx, s, generateSlug(p.Title), p.ID)
		if err != nil {
			return err
		}

		query, args, err := s.sb.Update("posts").Set("slug", uniqueSlug).Where(sq.Eq{"id": p.ID}).ToSql()
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(query, args...); err != nil {
			return err
		}
	}

	return nil
}
