package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var ErrValidation = errors.New("validation failed")

const (
	GenderMale   = "m"
	GenderFemale = "f"
	GenderOther  = "x"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type User struct {
	ID        string    `db:"id" bson:"_id" json:"id"`
	Name      string    `db:"name" bson:"name" json:"name" validate:"required"`
	Password  string    `db:"password" bson:"password" json:"-" validate:"required"`
	Avatar    string    `db:"avatar" bson:"avatar" json:"avatar" validate:"required"`
	Gender    string    `db:"gender" bson:"gender" json:"gender" validate:"required,oneof=m f x"`
	Bio       string    `db:"bio" bson:"bio" json:"bio" validate:"required"`
	CreatedAt time.Time `db:"created_at" bson:"created_at" json:"created_at"`

	CreatedAtDisplay string `db:"-" bson:"-" json:"-"`
}

// validate enforces the schema: required fields and the gender enum.
// An empty gender defaults to "x".
func (u *User) validate() error {
	if u.Gender == "" {
		u.Gender = GenderOther
	}
	if err := validate.Struct(u); err != nil {
		return fmt.Errorf("invalid user: %w: %v", ErrValidation, err)
	}
	return nil
}

type Post struct {
	ID        string    `db:"id" bson:"_id"`
	AuthorID  string    `db:"author_id" bson:"author_id" validate:"required"`
	Title     string    `db:"title" bson:"title" validate:"required"`
	Content   string    `db:"content" bson:"content" validate:"required"`
	Slug      string    `db:"slug" bson:"slug"`
	CreatedAt time.Time `db:"created_at" bson:"created_at"`

	Author           *User  `db:"-" bson:"-" validate:"-"`
	CreatedAtDisplay string `db:"-" bson:"-"`
}

func (p *Post) validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid post: %w: %v", ErrValidation, err)
	}
	return nil
}

// SessionUser is the copy of a user kept in session data. It never carries
// the password hash.
type SessionUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Gender string `json:"gender"`
	Bio    string `json:"bio"`
}

func sessionUserFrom(u *User) *SessionUser {
	return &SessionUser{
		ID:     u.ID,
		Name:   u.Name,
		Avatar: u.Avatar,
		Gender: u.Gender,
		Bio:    u.Bio,
	}
}

type Session struct {
	ID        string              `json:"id"`
	User      *SessionUser        `json:"user,omitempty"`
	Flash     map[string][]string `json:"flash,omitempty"`
	ExpiresAt time.Time           `json:"expires_at"`
}
