package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_RunsHooksInOrder(t *testing.T) {
	var calls []string
	p := pipeline[Post]{
		{name: "first", apply: func(_ context.Context, p *Post) error {
			calls = append(calls, "first")
			p.Title += "1"
			return nil
		}},
		{name: "second", apply: func(_ context.Context, p *Post) error {
			calls = append(calls, "second")
			p.Title += "2"
			return nil
		}},
	}

	post, err := p.afterFindOne(context.Background(), &Post{Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, "t12", post.Title)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestPipeline_NilPassesThrough(t *testing.T) {
	called := false
	p := pipeline[Post]{{name: "mark", apply: func(context.Context, *Post) error {
		called = true
		return nil
	}}}

	post, err := p.afterFindOne(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, post)
	assert.False(t, called)
}

func TestPipeline_AfterFindKeepsOrderAndCount(t *testing.T) {
	p := pipeline[Post]{{name: "upper", apply: func(_ context.Context, p *Post) error {
		p.Title = strings.ToUpper(p.Title)
		return nil
	}}}

	posts, err := p.afterFind(context.Background(), []Post{{Title: "a"}, {Title: "b"}, {Title: "c"}})
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, "A", posts[0].Title)
	assert.Equal(t, "B", posts[1].Title)
	assert.Equal(t, "C", posts[2].Title)

	empty, err := p.afterFind(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPipeline_ErrorNamesHook(t *testing.T) {
	boom := errors.New("boom")
	p := pipeline[Post]{{name: "explode", apply: func(context.Context, *Post) error { return boom }}}

	_, err := p.afterFindOne(context.Background(), &Post{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "explode")

	_, err = p.afterFind(context.Background(), []Post{{}})
	assert.ErrorIs(t, err, boom)
}

func TestFormatCreatedAt(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 59, 0, time.Local)
	assert.Equal(t, "2024-01-02 03:04", formatCreatedAt(ts))
}

func TestContentToHTML(t *testing.T) {
	post := &Post{Content: "# Hi"}
	require.NoError(t, contentToHTML(context.Background(), post))
	assert.Equal(t, "<h1>Hi</h1>", strings.TrimSpace(post.Content))
}

func TestRenderMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		contains string
		excludes string
	}{
		{"emphasis", "some *text*", "<em>text</em>", ""},
		{"link", "[go](https://go.dev)", `href="https://go.dev"`, ""},
		{"table", "| a |\n|---|\n| b |", "<table>", ""},
		{"strikethrough", "~~gone~~", "<del>gone</del>", ""},
		{"script stripped", "<script>alert(1)</script>", "", "<script>"},
		{"javascript link stripped", "[x](javascript:alert(1))", "", "javascript:"},
		{"empty", "", "", "<p>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := renderMarkdown(tt.source)
			require.NoError(t, err)
			if tt.contains != "" {
				assert.Contains(t, got, tt.contains)
			}
			if tt.excludes != "" {
				assert.NotContains(t, got, tt.excludes)
			}
		})
	}
}

func TestGetPostByID_Enriched(t *testing.T) {
	blog := setupTestBlog(t)
	alice := createTestUser(t, blog, "alice")
	ctx := context.Background()

	post := &Post{AuthorID: alice.ID, Title: "Hello", Content: "# Hi"}
	require.NoError(t, blog.createPost(ctx, post))

	got, err := blog.getPostByID(ctx, post.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "<h1>Hi</h1>", strings.TrimSpace(got.Content))
	assert.Equal(t, formatCreatedAt(post.CreatedAt), got.CreatedAtDisplay)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}$`, got.CreatedAtDisplay)

	require.NotNil(t, got.Author)
	assert.Equal(t, "alice", got.Author.Name)
	assert.NotEmpty(t, got.Author.CreatedAtDisplay)
}

func TestGetRawPostByID_KeepsMarkdown(t *testing.T) {
	blog := setupTestBlog(t)
	alice := createTestUser(t, blog, "alice")
	ctx := context.Background()

	post := &Post{AuthorID: alice.ID, Title: "Hello", Content: "# Hi"}
	require.NoError(t, blog.createPost(ctx, post))

	got, err := blog.getRawPostByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "# Hi", got.Content)
	assert.NotEmpty(t, got.CreatedAtDisplay)
	require.NotNil(t, got.Author)
}

func TestGetPostByID_DanglingAuthor(t *testing.T) {
	blog := setupTestBlog(t)
	ctx := context.Background()

	post := &Post{ID: "orphan", AuthorID: "deleted-user", Title: "Orphan", Content: "text", Slug: "orphan", CreatedAt: time.Now().UTC()}
	require.NoError(t, blog.store.CreatePost(ctx, post))

	got, err := blog.getPostByID(ctx, "orphan")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.Author)
	assert.Contains(t, got.Content, "<p>text</p>")
}

func TestGetPosts_EnrichesEveryPost(t *testing.T) {
	blog := setupTestBlog(t)
	alice := createTestUser(t, blog, "alice")
	ctx := context.Background()

	for _, title := range []string{"One", "Two", "Three"} {
		require.NoError(t, blog.createPost(ctx, &Post{AuthorID: alice.ID, Title: title, Content: "**" + title + "**"}))
	}

	posts, err := blog.getPosts(ctx, "")
	require.NoError(t, err)
	require.Len(t, posts, 3)
	for _, p := range posts {
		assert.Contains(t, p.Content, "<strong>"+p.Title+"</strong>")
		assert.NotEmpty(t, p.CreatedAtDisplay)
		require.NotNil(t, p.Author)
		assert.Equal(t, alice.ID, p.Author.ID)
	}
}
