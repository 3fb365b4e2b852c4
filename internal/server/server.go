package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quillpress/apiserver/config"
	"github.com/quillpress/apiserver/internal/auth"
	"github.com/quillpress/apiserver/internal/db"
	"github.com/quillpress/apiserver/internal/handlers"
	"github.com/quillpress/apiserver/internal/logger"
	"github.com/quillpress/apiserver/internal/mq"
	"github.com/quillpress/apiserver/internal/notify"
	"github.com/quillpress/apiserver/internal/services"
	"github.com/quillpress/apiserver/internal/store"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

// ErrMissingSecret is returned by New when SECRETKEY is not set.
var ErrMissingSecret = errors.New("SECRETKEY is required")

// Server wraps the HTTP server and router.
type Server struct {
	httpServer  *http.Server
	router      *chi.Mux
	db          *sql.DB
	queue       *mq.MQ
	userService *services.UserService
	log         *zap.Logger
}

// Dependencies are the external collaborators a Server is built from.
type Dependencies struct {
	DB     *sql.DB
	Queue  *mq.MQ
	Logger *zap.Logger
}

// New connects to the database and the optional broker and constructs a
// Server. It fails closed when no signing secret is configured.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	if cfg.JWT.Secret == "" {
		return nil, ErrMissingSecret
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	queue, err := mq.Open(ctx, cfg.MQ)
	switch {
	case errors.Is(err, mq.ErrDisabled):
		log.Info("message queue disabled; welcome notifications will not be sent")
		queue = nil
	case err != nil:
		_ = dbConn.Close()
		return nil, err
	}

	return NewWithDependencies(cfg, Dependencies{DB: dbConn, Queue: queue, Logger: log})
}

// NewWithDependencies constructs a Server over already-open collaborators.
func NewWithDependencies(cfg config.Config, deps Dependencies) (*Server, error) {
	if cfg.JWT.Secret == "" {
		return nil, ErrMissingSecret
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var notifier services.Notifier = services.NopNotifier{}
	if deps.Queue != nil {
		notifier = notify.NewMQNotifier(deps.Queue, cfg.Mail.Channel, cfg.Mail.From)
	}

	tokens := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.TTL)
	userService := services.NewUserService(store.NewUserRepository(deps.DB), tokens, notifier, log)
	postService := services.NewPostService(store.NewPostRepository(deps.DB))

	validate := handlers.NewValidator()
	authMiddleware := handlers.RequireAuth(tokens)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		logger.RequestLogger(log),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	handlers.AuthRouter(router, userService, authMiddleware, validate, log)
	handlers.PostRouter(router, postService, authMiddleware, validate, log)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer:  httpServer,
		router:      router,
		db:          deps.DB,
		queue:       deps.Queue,
		userService: userService,
		log:         log,
	}, nil
}

// Router exposes the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.log.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run starts the server and shuts it down gracefully when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	select {
	case err := <-errCh:
		_ = s.Shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown drains in-flight requests and pending notifications, then
// releases the database and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.userService.Wait()
	if s.queue != nil {
		_ = s.queue.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	s.log.Info("http server stopped")
	return err
}
