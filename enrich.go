package main

import (
	"context"
	"fmt"
	"time"
)

// createdAtLayout is YYYY-MM-DD HH:mm.
const createdAtLayout = "2006-01-02 15:04"

// hook is one named post-fetch transform.
type hook[T any] struct {
	name  string
	apply func(context.Context, *T) error
}

// pipeline runs its hooks in order after every find.
type pipeline[T any] []hook[T]

// afterFindOne enriches a single result. A nil result passes through.
func (p pipeline[T]) afterFindOne(ctx context.Context, v *T) (*T, error) {
	if v == nil {
		return nil, nil
	}
	for _, h := range p {
		if err := h.apply(ctx, v); err != nil {
			return nil, fmt.Errorf("%s: %w", h.name, err)
		}
	}
	return v, nil
}

// afterFind enriches every element in place, keeping order and count.
func (p pipeline[T]) afterFind(ctx context.Context, vs []T) ([]T, error) {
	for i := range vs {
		for _, h := range p {
			if err := h.apply(ctx, &vs[i]); err != nil {
				return nil, fmt.Errorf("%s: %w", h.name, err)
			}
		}
	}
	return vs, nil
}

func formatCreatedAt(t time.Time) string {
	return t.Local().Format(createdAtLayout)
}

func addUserCreatedAt(_ context.Context, u *User) error {
	u.CreatedAtDisplay = formatCreatedAt(u.CreatedAt)
	return nil
}

func addPostCreatedAt(_ context.Context, p *Post) error {
	p.CreatedAtDisplay = formatCreatedAt(p.CreatedAt)
	return nil
}

func contentToHTML(_ context.Context, p *Post) error {
	html, err := renderMarkdown(p.Content)
	if err != nil {
		return err
	}
	p.Content = html
	return nil
}

// populateAuthor resolves AuthorID. A dangling reference leaves Author nil.
func populateAuthor(users UserStore, userHooks pipeline[User]) hook[Post] {
	return hook[Post]{
		name: "populateAuthor",
		apply: func(ctx context.Context, p *Post) error {
			author, err := users.GetUserByID(ctx, p.AuthorID)
			if err != nil {
				return err
			}
			p.Author, err = userHooks.afterFindOne(ctx, author)
			return err
		},
	}
}

var userHooks = pipeline[User]{
	{name: "addCreatedAt", apply: addUserCreatedAt},
}

// postHooks returns the full post pipeline and the one used for edit forms,
// which keeps the markdown source.
func postHooks(users UserStore) (rendered, raw pipeline[Post]) {
	raw = pipeline[Post]{
		populateAuthor(users, userHooks),
		{name: "addCreatedAt", apply: addPostCreatedAt},
	}
	rendered = append(raw[:len(raw):len(raw)], hook[Post]{name: "contentToHTML", apply: contentToHTML})
	return rendered, raw
}
