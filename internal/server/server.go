package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/flockchat/users-api/config"
	"github.com/flockchat/users-api/internal/db"
	"github.com/flockchat/users-api/internal/handlers"
	"github.com/flockchat/users-api/internal/presence"
	"github.com/flockchat/users-api/internal/services"
	"github.com/flockchat/users-api/internal/store"
	"github.com/flockchat/users-api/internal/token"
)

// Server wraps the HTTP server, router, and presence sweeper.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	sweeper    *presence.Sweeper
	log        *zap.Logger

	stopSweeper context.CancelFunc
	sweeperDone sync.WaitGroup
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	userService := services.NewUserService(userRepo)

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}
	verifier := token.NewJWT(jwtSecret, token.DefaultTTL)

	engine := presence.NewEngine(userRepo, cfg.Presence.OfflineTimeout)
	sweeper := presence.NewSweeper(engine, cfg.Presence.SweepInterval, log)
	gate := handlers.NewGate(verifier, engine, userService)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, userService, gate)
	})

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
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		sweeper:    sweeper,
		log:        log,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start launches the presence sweeper and runs the HTTP server.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopSweeper = cancel
	s.sweeperDone.Add(1)
	go func() {
		defer s.sweeperDone.Done()
		s.sweeper.Run(ctx)
	}()

	s.log.Info("server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the sweeper, closes the database, and shuts the HTTP
// server down.
func (s *Server) Shutdown() error {
	if s.stopSweeper != nil {
		s.stopSweeper()
		s.sweeperDone.Wait()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}
