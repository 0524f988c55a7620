// Package server wires the stores, feed, and handlers into an HTTP
// router.
package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/grumpy-ui/listado/internal/auth"
	"github.com/grumpy-ui/listado/internal/backup"
	"github.com/grumpy-ui/listado/internal/config"
	"github.com/grumpy-ui/listado/internal/email"
	"github.com/grumpy-ui/listado/internal/handler"
	"github.com/grumpy-ui/listado/internal/live"
	"github.com/grumpy-ui/listado/internal/middleware"
	"github.com/grumpy-ui/listado/internal/push"
	"github.com/grumpy-ui/listado/internal/store"
	ws "github.com/grumpy-ui/listado/internal/websocket"
)

type Server struct {
	db     *sql.DB
	cfg    config.Config
	logger *slog.Logger

	feed *live.Feed
	hub  *ws.Hub

	listH   *handler.ListHandler
	authH   *handler.AuthHandler
	syncH   *handler.SyncHandler
	pushH   *handler.PushHandler
	backupH *handler.BackupHandler

	authService   *auth.Service
	sessionStore  *store.SessionStore
	codeStore     *store.VerificationStore
	rateLimiter   *middleware.RateLimiter
	backupManager *backup.Manager
}

func New(db *sql.DB, cfg config.Config, logger *slog.Logger) *Server {
	listStore := store.NewListStore(db)
	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	codeStore := store.NewVerificationStore(db)
	pushStore := store.NewPushStore(db)
	backupStore := store.NewBackupStore(db)

	feed := live.NewFeed(listStore, logger.With("component", "feed"))
	hub := ws.NewHub(feed, logger.With("component", "websocket"))

	emailClient := email.NewClient(cfg.Email.ServerToken, cfg.Email.FromEmail, logger.With("component", "email"))
	authService := auth.NewService(userStore, sessionStore, codeStore, emailClient, logger.With("component", "auth"))
	verifier := auth.NewVerifier(cfg.FederatedSecret, cfg.FederatedIssuer, userStore, authService)

	pushService := push.NewService(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey)
	if pushService.Configured() {
		notifier := push.NewNotifier(pushService, pushStore, logger.With("component", "push"))
		feed.SetOnChange(notifier.ListChanged)
	}

	backupManager := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.Backup.S3Endpoint,
			Bucket:    cfg.Backup.S3Bucket,
			Region:    cfg.Backup.S3Region,
			AccessKey: cfg.Backup.S3AccessKey,
			SecretKey: cfg.Backup.S3SecretKey,
		},
		DBPath:        cfg.DBPath,
		Passphrase:    cfg.Backup.Passphrase,
		ScheduleHour:  cfg.Backup.ScheduleHour,
		RetentionDays: cfg.Backup.RetentionDays,
	}, db, backupStore, logger.With("component", "backup"))

	return &Server{
		db:            db,
		cfg:           cfg,
		logger:        logger,
		feed:          feed,
		hub:           hub,
		listH:         handler.NewListHandler(feed, logger.With("component", "list")),
		authH:         handler.NewAuthHandler(authService, verifier, logger.With("component", "auth_handler")),
		syncH:         handler.NewSyncHandler(feed, authService, cfg.GraceWindow, logger.With("component", "session")),
		pushH:         handler.NewPushHandler(pushStore, pushService, logger.With("component", "push_handler")),
		backupH:       handler.NewBackupHandler(backupManager, backupStore, logger.With("component", "backup_handler")),
		authService:   authService,
		sessionStore:  sessionStore,
		codeStore:     codeStore,
		rateLimiter:   middleware.NewRateLimiter(),
		backupManager: backupManager,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// VerificationStore returns the code store for cleanup tasks.
func (s *Server) VerificationStore() *store.VerificationStore {
	return s.codeStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// BackupManager returns the backup manager so main can start and stop
// its schedule loop.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Auth API. Credential endpoints are rate limited by IP.
	mux.HandleFunc("POST /api/auth/signup", s.rateLimited(s.authH.SignUp))
	mux.HandleFunc("POST /api/auth/signin", s.rateLimited(s.authH.SignIn))
	mux.HandleFunc("POST /api/auth/verify", s.rateLimited(s.authH.Verify))
	mux.HandleFunc("POST /api/auth/resend", s.rateLimited(s.authH.Resend))
	mux.HandleFunc("POST /api/auth/signout", s.authH.SignOut)
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)
	mux.HandleFunc("POST /api/auth/federated", s.rateLimited(s.authH.Federated))
	mux.HandleFunc("GET /api/auth/federated/callback", s.authH.FederatedCallback)
	mux.HandleFunc("GET /api/auth/federated/result", s.authH.FederatedResult)
	mux.HandleFunc("GET /api/auth/method", s.authH.Method)

	// List API. Anonymous access is deliberate: a list URL is its
	// capability.
	mux.HandleFunc("POST /api/lists", s.listH.Create)
	mux.Handle("GET /api/lists", middleware.RequireUser(http.HandlerFunc(s.listH.Mine)))
	mux.HandleFunc("GET /api/lists/{id}", s.listH.Get)
	mux.HandleFunc("PATCH /api/lists/{id}", s.listH.Rename)
	mux.HandleFunc("DELETE /api/lists/{id}", s.listH.Delete)
	mux.Handle("POST /api/lists/{id}/claim", middleware.RequireUser(http.HandlerFunc(s.listH.Claim)))
	mux.HandleFunc("PUT /api/lists/{id}/items", s.listH.ReplaceItems)
	mux.HandleFunc("POST /api/lists/{id}/items", s.listH.AddItem)
	mux.HandleFunc("POST /api/lists/{id}/items/{index}/toggle", s.listH.ToggleItem)
	mux.HandleFunc("DELETE /api/lists/{id}/items/{index}", s.listH.DeleteItem)

	// Push API.
	mux.Handle("POST /api/push/subscribe", middleware.RequireUser(http.HandlerFunc(s.pushH.Subscribe)))
	mux.Handle("GET /api/push/subscriptions", middleware.RequireUser(http.HandlerFunc(s.pushH.ListSubscriptions)))
	mux.Handle("DELETE /api/push/subscriptions/{id}", middleware.RequireUser(http.HandlerFunc(s.pushH.Unsubscribe)))
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)

	// Backup API.
	mux.Handle("GET /api/backups", middleware.RequireUser(http.HandlerFunc(s.backupH.List)))
	mux.Handle("POST /api/backups", middleware.RequireUser(http.HandlerFunc(s.backupH.Run)))
	mux.Handle("GET /api/backups/status", middleware.RequireUser(http.HandlerFunc(s.backupH.Status)))
	mux.Handle("GET /api/backups/{id}/download", middleware.RequireUser(http.HandlerFunc(s.backupH.Download)))

	// Realtime.
	mux.HandleFunc("GET /ws/lists/{id}", ws.HandleWatch(s.hub, s.logger.With("component", "websocket")))
	mux.HandleFunc("GET /ws/session", s.syncH.Serve)

	mux.HandleFunc("GET /health", s.healthHandler)

	h := middleware.WithUser(s.authService)(mux)
	return middleware.RequestLogger(s.logger.With("component", "http"))(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(h).ServeHTTP(w, r)
	}
}
