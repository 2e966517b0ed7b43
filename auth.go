package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	csrfCookieName = "csrf"
	csrfFieldName  = "csrf_token"
	sessionClaim   = "sid"
)

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

func generateToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

type sessionCtxKey struct{}

// sessionHolder lets handlers start a session mid-request and have later
// helpers see it.
type sessionHolder struct {
	session *Session
}

func (b *Blog) sessionTokenFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(b.cfg.Session.Key)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// loadSession runs after jwtauth.Verify. A valid signed cookie whose session
// still exists in the store becomes the request's session.
func (b *Blog) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		holder := &sessionHolder{}

		_, claims, err := jwtauth.FromContext(r.Context())
		if err == nil {
			if sid, ok := claims[sessionClaim].(string); ok && sid != "" {
				session, err := b.sessions.LoadSession(r.Context(), sid)
				if err != nil {
					b.logger.ErrorContext(r.Context(), "loading session", "error", err)
				} else {
					holder.session = session
				}
			}
		}

		ctx := context.WithValue(r.Context(), sessionCtxKey{}, holder)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionHolderFrom(r *http.Request) *sessionHolder {
	holder, _ := r.Context().Value(sessionCtxKey{}).(*sessionHolder)
	return holder
}

// session returns the request's session, starting an unsaved one if needed.
func (b *Blog) session(r *http.Request) *Session {
	holder := sessionHolderFrom(r)
	if holder == nil {
		holder = &sessionHolder{}
	}
	if holder.session == nil {
		holder.session = &Session{}
	}
	return holder.session
}

func (b *Blog) currentUser(r *http.Request) *SessionUser {
	holder := sessionHolderFrom(r)
	if holder == nil || holder.session == nil {
		return nil
	}
	return holder.session.User
}

// saveSession persists the request's session and (re)issues the signed
// cookie. New sessions get an id here.
func (b *Blog) saveSession(w http.ResponseWriter, r *http.Request) error {
	session := b.session(r)
	if session.ID == "" {
		id, err := generateToken()
		if err != nil {
			return fmt.Errorf("generating session id: %w", err)
		}
		session.ID = id
	}
	session.ExpiresAt = time.Now().Add(b.cfg.Session.MaxAge).UTC()

	if err := b.sessions.SaveSession(r.Context(), session); err != nil {
		return err
	}
	return b.setSessionCookie(w, session)
}

func (b *Blog) setSessionCookie(w http.ResponseWriter, session *Session) error {
	claims := jwt.MapClaims{sessionClaim: session.ID}
	jwtauth.SetIssuedNow(claims)
	jwtauth.SetExpiry(claims, session.ExpiresAt)

	_, token, err := b.tokenAuth.Encode(claims)
	if err != nil {
		return fmt.Errorf("signing session cookie: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     b.cfg.Session.Key,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   b.cfg.Session.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(b.cfg.Session.MaxAge.Seconds()),
	})
	return nil
}

// regenerateSession drops the stored session and clears its id so the next
// save issues a fresh one. Called on sign-in to avoid session fixation.
func (b *Blog) regenerateSession(r *http.Request) error {
	session := b.session(r)
	if session.ID != "" {
		if err := b.sessions.DeleteSession(r.Context(), session.ID); err != nil {
			return err
		}
		session.ID = ""
	}
	return nil
}

// requireLogin sends anonymous visitors to the sign-in page.
func (b *Blog) requireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.currentUser(r) == nil {
			b.flash(w, r, flashError, "Not signed in")
			http.Redirect(w, r, "/signin", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireGuest keeps signed-in users away from signup and signin.
func (b *Blog) requireGuest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.currentUser(r) != nil {
			b.flash(w, r, flashError, "Already signed in")
			http.Redirect(w, r, "/posts", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setCSRFCookie stores the token every form must echo back in csrf_token.
// Forms get the token from the template, so scripts never need the cookie.
func setCSRFCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int((24 * time.Hour).Seconds()),
	})
}

func getCSRFToken(r *http.Request) string {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// validateCSRF expects the form to be parsed already.
func validateCSRF(r *http.Request) bool {
	cookieToken := getCSRFToken(r)
	formToken := r.FormValue(csrfFieldName)

	if cookieToken == "" || formToken == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(formToken)) == 1
}

func parseFormWithCSRF(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return false
	}
	if !validateCSRF(r) {
		http.Error(w, "Invalid CSRF token", http.StatusForbidden)
		return false
	}
	return true
}

// ensureCSRFToken returns the request's CSRF token, issuing one if it has none.
func (b *Blog) ensureCSRFToken(w http.ResponseWriter, r *http.Request) string {
	token := getCSRFToken(r)
	if token != "" {
		return token
	}

	token, err := generateToken()
	if err != nil {
		return ""
	}
	setCSRFCookie(w, token, b.cfg.Session.Secure)
	return token
}
