package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDB(t *testing.T) {
	db, err := openDB(dialectSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Ping())
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestInitDB(t *testing.T) {
	s := setupTestStore(t)

	columns := map[string]int{
		"users":    7,
		"posts":    6,
		"sessions": 3,
	}
	for table, want := range columns {
		var count int
		err := s.db.Get(&count, `SELECT COUNT(*) FROM pragma_table_info(?)`, table)
		require.NoError(t, err, table)
		assert.Equal(t, want, count, "%s columns", table)
	}
}

func TestInitDB_Idempotent(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.initDB(), "second initDB")
	require.NoError(t, s.initDB(), "third initDB")
}

func TestInitDB_UniqueNameIndex(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	u := &User{ID: "1", Name: "alice", Password: "h", Avatar: "a", Gender: "x", Bio: "b", CreatedAt: time.Now()}
	require.NoError(t, s.CreateUser(ctx, u))

	dup := *u
	dup.ID = "2"
	err := s.CreateUser(ctx, &dup)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err), "got %v", err)
}

func TestInitDB_GenderCheck(t *testing.T) {
	s := setupTestStore(t)

	u := &User{ID: "1", Name: "alice", Password: "h", Avatar: "a", Gender: "q", Bio: "b", CreatedAt: time.Now()}
	assert.Error(t, s.CreateUser(context.Background(), u))
}

func TestMigrateDB_AddsSlugColumn(t *testing.T) {
	db, err := openDB(dialectSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	// A posts table from before slugs existed.
	_, err = db.Exec(`CREATE TABLE posts (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`)
	require.NoError(t, err)

	now := time.Now().UTC()
	for _, id := range []string{"a", "b"} {
		_, err = db.Exec(`INSERT INTO posts (id, author_id, title, content, created_at) VALUES (?, 'u', 'Old Post', 'c', ?)`, id, now)
		require.NoError(t, err)
	}

	s := newSQLStore(db, dialectSQLite, nil)
	require.NoError(t, s.initDB())

	ok, err := s.hasColumn("posts", "slug")
	require.NoError(t, err)
	assert.True(t, ok)

	var slugs []string
	require.NoError(t, db.Select(&slugs, `SELECT slug FROM posts ORDER BY slug`))
	assert.Equal(t, []string{"old-post", "old-post-2"}, slugs)

	// Slugs are unique from now on.
	_, err = db.Exec(`UPDATE posts SET slug = 'old-post' WHERE id = 'b'`)
	assert.True(t, isUniqueViolation(err), "got %v", err)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(context.Canceled))
}
