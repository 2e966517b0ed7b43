package main

import (
	"net/http"
	"strings"
)

const (
	flashSuccess = "success"
	flashError   = "error"
)

// flash queues a read-once message in the session and persists it so it
// survives the redirect that usually follows.
func (b *Blog) flash(w http.ResponseWriter, r *http.Request, kind, message string) {
	session := b.session(r)
	if session.Flash == nil {
		session.Flash = make(map[string][]string)
	}
	session.Flash[kind] = append(session.Flash[kind], message)

	if err := b.saveSession(w, r); err != nil {
		b.logger.ErrorContext(r.Context(), "saving flash message", "kind", kind, "error", err)
	}
}

// takeFlashes removes and returns every queued message of each kind, joined
// with commas. The session is only written back when something was taken.
func (b *Blog) takeFlashes(w http.ResponseWriter, r *http.Request, kinds ...string) map[string]string {
	out := make(map[string]string, len(kinds))
	holder := sessionHolderFrom(r)
	if holder == nil || holder.session == nil || len(holder.session.Flash) == 0 {
		return out
	}

	session := holder.session
	for _, kind := range kinds {
		if msgs, ok := session.Flash[kind]; ok {
			out[kind] = strings.Join(msgs, ",")
			delete(session.Flash, kind)
		}
	}

	if len(out) > 0 && session.ID != "" {
		if err := b.saveSession(w, r); err != nil {
			b.logger.ErrorContext(r.Context(), "consuming flash messages", "error", err)
		}
	}
	return out
}
