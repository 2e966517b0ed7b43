package main

import (
	"context"
	"errors"
	"html/template"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
)

type Blog struct {
	cfg       *Config
	store     Store
	sessions  SessionStore
	templates map[string]*template.Template
	logger    *slog.Logger
	tokenAuth *jwtauth.JWTAuth

	// locals are the app-wide template constants.
	locals map[string]string

	postHooks    pipeline[Post]
	rawPostHooks pipeline[Post]
}

func NewBlog(cfg *Config, store Store, sessions SessionStore, logger *slog.Logger) *Blog {
	if sessions == nil {
		sessions = store
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Blog{
		cfg:       cfg,
		store:     store,
		sessions:  sessions,
		templates: loadTemplates(),
		logger:    logger,
		tokenAuth: jwtauth.New("HS256", []byte(cfg.Session.Secret), nil),
		locals: map[string]string{
			"Title":       cfg.Blog.Title,
			"Description": cfg.Blog.Description,
		},
	}
	b.postHooks, b.rawPostHooks = postHooks(store)
	return b
}

func (b *Blog) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&requestLogFormatter{logger: b.logger}))
	r.Use(middleware.Recoverer)
	r.Use(jwtauth.Verify(b.tokenAuth, b.sessionTokenFromCookie))
	r.Use(b.loadSession)

	r.NotFound(b.notFound)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))
	r.Handle("/img/*", serveUploads(b.cfg.Uploads.Dir))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/posts", http.StatusFound)
	})
	r.Get("/feed", b.Feed)
	r.Get("/p/{slug}", b.Permalink)

	r.Group(func(r chi.Router) {
		r.Use(b.requireGuest)
		r.Get("/signup", b.SignupForm)
		r.Post("/signup", b.Signup)
		r.Get("/signin", b.SigninForm)
		r.Post("/signin", b.Signin)
	})
	r.With(b.requireLogin).Get("/signout", b.Signout)

	r.Route("/posts", func(r chi.Router) {
		r.Get("/", b.Posts)
		r.Get("/{postID}", b.Detail)

		r.Group(func(r chi.Router) {
			r.Use(b.requireLogin)
			r.Get("/create", b.CreateForm)
			r.Post("/create", b.Create)
			r.Get("/{postID}/edit", b.EditForm)
			r.Post("/{postID}/edit", b.Edit)
			r.Get("/{postID}/remove", b.RemoveForm)
			r.Post("/{postID}/remove", b.Remove)
		})
	})

	return r
}

// sweepSessions deletes expired rows from the SQL session table every hour
// until ctx is done.
func sweepSessions(ctx context.Context, s *sqlStore, logger *slog.Logger) {
	if err := s.cleanupExpiredSessions(ctx); err != nil {
		logger.Error("cleaning up expired sessions", "error", err)
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanupExpiredSessions(ctx); err != nil {
				logger.Error("cleaning up expired sessions", "error", err)
			}
		}
	}
}

func main() {
	cfg, err := loadConfig("config")
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel := newTelemetry(logger, cfg.Log.SlowQuery)
	store, err := openStore(ctx, cfg.Database.URL, tel)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer store.Close()

	var sessions SessionStore = store
	if cfg.Redis.Addr != "" {
		rdb, err := connectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("connecting to redis: %v", err)
		}
		defer rdb.Close()
		sessions = newRedisSessionStore(rdb)
		logger.Info("storing sessions in redis", "addr", cfg.Redis.Addr)
	} else if s, ok := store.(*sqlStore); ok {
		go sweepSessions(ctx, s, logger)
	}

	blog := NewBlog(cfg, store, sessions, logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      blog.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server starting", "title", cfg.Blog.Title, "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listening on %s: %v", cfg.Port, err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
}
