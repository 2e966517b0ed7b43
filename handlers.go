package main

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

func (b *Blog) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	b.logger.ErrorContext(r.Context(), msg, "error", err, "path", r.URL.Path)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (b *Blog) notFound(w http.ResponseWriter, r *http.Request) {
	b.render(w, r, http.StatusNotFound, "notfound.html", map[string]any{"Title": "Not found"})
}

// Posts lists every post, or one author's posts with ?author=.
func (b *Blog) Posts(w http.ResponseWriter, r *http.Request) {
	authorID := r.URL.Query().Get("author")

	var author *User
	if authorID != "" {
		var err error
		author, err = b.getUserByID(r.Context(), authorID)
		if err != nil {
			b.serverError(w, r, "loading author", err)
			return
		}
	}

	posts, err := b.getPosts(r.Context(), authorID)
	if err != nil {
		b.serverError(w, r, "loading posts", err)
		return
	}

	title := "Posts"
	if author != nil {
		title = author.Name
	}

	b.render(w, r, http.StatusOK, "posts.html", map[string]any{
		"Title":  title,
		"Posts":  posts,
		"Author": author,
	})
}

func (b *Blog) Detail(w http.ResponseWriter, r *http.Request) {
	post, err := b.getPostByID(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		b.serverError(w, r, "loading post", err)
		return
	}
	if post == nil {
		b.notFound(w, r)
		return
	}

	b.render(w, r, http.StatusOK, "post.html", map[string]any{
		"Title": post.Title,
		"Post":  post,
	})
}

// Permalink redirects /p/{slug} to the post's canonical page.
func (b *Blog) Permalink(w http.ResponseWriter, r *http.Request) {
	post, err := b.getPostBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		b.serverError(w, r, "loading post by slug", err)
		return
	}
	if post == nil {
		b.notFound(w, r)
		return
	}
	http.Redirect(w, r, "/posts/"+post.ID, http.StatusMovedPermanently)
}

func (b *Blog) CreateForm(w http.ResponseWriter, r *http.Request) {
	b.render(w, r, http.StatusOK, "create.html", map[string]any{
		"Title": "New post",
		"Form":  map[string]string{},
	})
}

func (b *Blog) Create(w http.ResponseWriter, r *http.Request) {
	if !parseFormWithCSRF(w, r) {
		return
	}

	title := r.FormValue("title")
	content := r.FormValue("content")

	var msg string
	switch {
	case title == "":
		msg = "Please fill in the title"
	case content == "":
		msg = "Please fill in the content"
	}
	if msg != "" {
		b.flash(w, r, flashError, msg)
		http.Redirect(w, r, "/posts/create", http.StatusSeeOther)
		return
	}

	post := &Post{
		AuthorID: b.currentUser(r).ID,
		Title:    title,
		Content:  content,
	}
	if err := b.createPost(r.Context(), post); err != nil {
		b.serverError(w, r, "creating post", err)
		return
	}

	b.flash(w, r, flashSuccess, "Post published")
	http.Redirect(w, r, "/posts/"+post.ID, http.StatusSeeOther)
}

// ownPost loads the raw post for edit and delete and checks that the
// current user wrote it. It writes the response itself when it returns nil.
func (b *Blog) ownPost(w http.ResponseWriter, r *http.Request) *Post {
	post, err := b.getRawPostByID(r.Context(), chi.URLParam(r, "postID"))
	if err != nil {
		b.serverError(w, r, "loading post", err)
		return nil
	}
	if post == nil {
		b.notFound(w, r)
		return nil
	}
	if post.AuthorID != b.currentUser(r).ID {
		b.flash(w, r, flashError, "You can only change your own posts")
		http.Redirect(w, r, "/posts/"+post.ID, http.StatusSeeOther)
		return nil
	}
	return post
}

func (b *Blog) EditForm(w http.ResponseWriter, r *http.Request) {
	post := b.ownPost(w, r)
	if post == nil {
		return
	}

	b.render(w, r, http.StatusOK, "edit.html", map[string]any{
		"Title": "Editing " + post.Title,
		"Post":  post,
	})
}

func (b *Blog) Edit(w http.ResponseWriter, r *http.Request) {
	if !parseFormWithCSRF(w, r) {
		return
	}
	post := b.ownPost(w, r)
	if post == nil {
		return
	}

	title := r.FormValue("title")
	content := r.FormValue("content")
	if title == "" || content == "" {
		b.flash(w, r, flashError, "Title and content are required")
		http.Redirect(w, r, "/posts/"+post.ID+"/edit", http.StatusSeeOther)
		return
	}

	if err := b.updatePost(r.Context(), post.ID, title, content); err != nil {
		b.serverError(w, r, "updating post", err)
		return
	}

	b.flash(w, r, flashSuccess, "Post updated")
	http.Redirect(w, r, "/posts/"+post.ID, http.StatusSeeOther)
}

func (b *Blog) RemoveForm(w http.ResponseWriter, r *http.Request) {
	post := b.ownPost(w, r)
	if post == nil {
		return
	}

	b.render(w, r, http.StatusOK, "remove.html", map[string]any{
		"Title": "Deleting " + post.Title,
		"Post":  post,
	})
}

func (b *Blog) Remove(w http.ResponseWriter, r *http.Request) {
	if !parseFormWithCSRF(w, r) {
		return
	}
	post := b.ownPost(w, r)
	if post == nil {
		return
	}

	if err := b.deletePost(r.Context(), post.ID); err != nil {
		b.serverError(w, r, "deleting post", err)
		return
	}

	b.flash(w, r, flashSuccess, "Post deleted")
	http.Redirect(w, r, "/posts", http.StatusSeeOther)
}

func (b *Blog) SignupForm(w http.ResponseWriter, r *http.Request) {
	b.render(w, r, http.StatusOK, "signup.html", map[string]any{"Title": "Sign up"})
}

type signupForm struct {
	Name       string `validate:"min=1,max=10"`
	Gender     string `validate:"oneof=m f x"`
	Bio        string `validate:"min=1,max=30"`
	Avatar     string `validate:"required"`
	Password   string `validate:"min=6"`
	Repassword string `validate:"eqfield=Password"`
}

var signupMessages = map[string]string{
	"Name":       "Name must be 1-10 characters",
	"Gender":     "Gender must be m, f or x",
	"Bio":        "Bio must be 1-30 characters",
	"Avatar":     "Please upload an avatar",
	"Password":   "Password must be at least 6 characters",
	"Repassword": "Passwords do not match",
}

// validateSignup returns the message for the first invalid field, or "".
func validateSignup(form signupForm) string {
	err := validate.Struct(form)
	if err == nil {
		return ""
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		return signupMessages[fields[0].Field()]
	}
	return "Invalid signup form"
}

func (b *Blog) Signup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if !validateCSRF(r) {
		http.Error(w, "Invalid CSRF token", http.StatusForbidden)
		return
	}

	avatar, err := saveUpload(r, "avatar", b.cfg.Uploads.Dir)
	if errors.Is(err, errBadUpload) {
		b.logger.Info("avatar rejected", "error", err)
		b.flash(w, r, flashError, "Avatar must be a PNG, JPEG, GIF or WebP image")
		http.Redirect(w, r, "/signup", http.StatusSeeOther)
		return
	}
	if err != nil && !errors.Is(err, errNoUpload) {
		b.serverError(w, r, "saving avatar", err)
		return
	}

	form := signupForm{
		Name:       r.FormValue("name"),
		Gender:     r.FormValue("gender"),
		Bio:        r.FormValue("bio"),
		Avatar:     avatar,
		Password:   r.FormValue("password"),
		Repassword: r.FormValue("repassword"),
	}
	if msg := validateSignup(form); msg != "" {
		removeUpload(b.cfg.Uploads.Dir, avatar)
		b.flash(w, r, flashError, msg)
		http.Redirect(w, r, "/signup", http.StatusSeeOther)
		return
	}

	hash, err := hashPassword(form.Password)
	if err != nil {
		removeUpload(b.cfg.Uploads.Dir, avatar)
		b.serverError(w, r, "hashing password", err)
		return
	}

	user := &User{
		Name:     form.Name,
		Password: hash,
		Gender:   form.Gender,
		Bio:      form.Bio,
		Avatar:   avatar,
	}
	if err := b.createUser(r.Context(), user); err != nil {
		removeUpload(b.cfg.Uploads.Dir, avatar)
		if isUniqueViolation(err) {
			b.flash(w, r, flashError, "That name is already taken")
			http.Redirect(w, r, "/signup", http.StatusSeeOther)
			return
		}
		b.serverError(w, r, "creating user", err)
		return
	}

	if err := b.regenerateSession(r); err != nil {
		b.serverError(w, r, "regenerating session", err)
		return
	}
	b.session(r).User = sessionUserFrom(user)
	b.flash(w, r, flashSuccess, "Signed up")
	http.Redirect(w, r, "/posts", http.StatusSeeOther)
}

func (b *Blog) SigninForm(w http.ResponseWriter, r *http.Request) {
	b.render(w, r, http.StatusOK, "signin.html", map[string]any{"Title": "Sign in"})
}

func (b *Blog) Signin(w http.ResponseWriter, r *http.Request) {
	if !parseFormWithCSRF(w, r) {
		return
	}

	name := r.FormValue("name")
	password := r.FormValue("password")

	user, err := b.getUserByName(r.Context(), name)
	if err != nil {
		b.serverError(w, r, "loading user", err)
		return
	}
	if user == nil {
		b.flash(w, r, flashError, "No such user")
		http.Redirect(w, r, "/signin", http.StatusSeeOther)
		return
	}
	if !checkPassword(user.Password, password) {
		b.flash(w, r, flashError, "Wrong name or password")
		http.Redirect(w, r, "/signin", http.StatusSeeOther)
		return
	}

	if err := b.regenerateSession(r); err != nil {
		b.serverError(w, r, "regenerating session", err)
		return
	}
	b.session(r).User = sessionUserFrom(user)
	b.flash(w, r, flashSuccess, "Signed in")
	http.Redirect(w, r, "/posts", http.StatusSeeOther)
}

// Signout drops the user from the session but keeps the session itself so
// the flash message survives the redirect.
func (b *Blog) Signout(w http.ResponseWriter, r *http.Request) {
	b.session(r).User = nil
	b.flash(w, r, flashSuccess, "Signed out")
	http.Redirect(w, r, "/posts", http.StatusSeeOther)
}
