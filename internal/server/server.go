// Package server is the composition root: it builds the storage, services
// and handlers from a config.Config, mounts the routes and runs the HTTP
// server with graceful shutdown.
//
// ROUTES:
//
//	POST /users                  register
//	GET  /users                  list accounts          (auth)
//	GET  /users/global           search the directory   (auth)
//	GET  /users/verify           redeem a verification token
//	POST /users/verify/resend    email a fresh token
//	POST /auth                   log in
//	POST /auth/logout            clear the token cookie
//	GET  /healthz                liveness
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/apicore/internal/auth"
	"github.com/sakif/apicore/internal/config"
	"github.com/sakif/apicore/internal/handler"
	"github.com/sakif/apicore/internal/middleware"
	"github.com/sakif/apicore/internal/model"
	"github.com/sakif/apicore/internal/notify"
	"github.com/sakif/apicore/internal/repository"
	"github.com/sakif/apicore/internal/repository/memory"
	"github.com/sakif/apicore/internal/repository/redisstore"
	sqliteRepo "github.com/sakif/apicore/internal/repository/sqlite"
	"github.com/sakif/apicore/internal/service"
)

// Deps lets callers replace collaborators that talk to the outside world.
// Nil fields are built from the config.
type Deps struct {
	Users    repository.UserRepository
	Tokens   repository.VerificationTokenStore
	Notifier notify.Notifier
}

// Server owns the router and every resource that must be closed on
// shutdown (database handle, Redis client).
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	closers []io.Closer
}

// New wires the dependency graph:
//
//	config → storage (sqlite | memory, optional redis tokens) → services → handlers → routes
//
// and seeds the configured superuser.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}

	if err := s.buildStorage(&deps); err != nil {
		s.Close()
		return nil, err
	}
	if deps.Notifier == nil {
		deps.Notifier = s.buildNotifier()
	}

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	passwords := auth.NewPasswordServiceWithCost(cfg.Auth.BcryptCost)

	verification := service.NewVerificationService(deps.Tokens, deps.Users, deps.Notifier, service.VerificationConfig{
		TTL:       cfg.Storage.TokenTTL,
		From:      cfg.Mail.From,
		Signature: cfg.Mail.Signature,
		VerifyURL: cfg.VerifyURL(),
	}, logger)
	registration := service.NewRegistrationService(deps.Users, passwords, verification, logger)
	directory := service.NewDirectoryService(deps.Users, logger)

	if err := s.seedAdmin(ctx, registration); err != nil {
		s.Close()
		return nil, err
	}

	s.setupRoutes(
		handler.NewUsersHandler(registration, verification, directory, logger),
		handler.NewAuthHandler(registration, tokens, cfg.Server.SecureCookies, logger),
		tokens,
	)
	return s, nil
}

func (s *Server) buildStorage(deps *Deps) error {
	if deps.Users == nil {
		switch s.config.Storage.Backend {
		case config.StorageMemory:
			store := memory.New()
			deps.Users = store
			if deps.Tokens == nil {
				deps.Tokens = store
			}
		default:
			db, err := sqliteRepo.New(s.config.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			s.closers = append(s.closers, db)
			deps.Users = db
			if deps.Tokens == nil {
				deps.Tokens = db
			}
		}
	}

	if deps.Tokens == nil && s.config.Storage.RedisAddr == "" {
		return errors.New("server: a token store is required when users are injected")
	}
	if s.config.Storage.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     s.config.Storage.RedisAddr,
			Password: s.config.Storage.RedisPassword,
			DB:       s.config.Storage.RedisDB,
		})
		s.closers = append(s.closers, client)
		deps.Tokens = redisstore.New(client, s.config.Storage.TokenRetention)
		s.logger.Info("verification tokens stored in redis", slog.String("addr", s.config.Storage.RedisAddr))
	}
	return nil
}

func (s *Server) buildNotifier() notify.Notifier {
	mail := s.config.Mail
	if mail.SMTPHost == "" {
		s.logger.Warn("SMTP_HOST not set, verification emails are only logged")
		return notify.NewLogNotifier(s.logger)
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     mail.SMTPHost,
		Port:     mail.SMTPPort,
		Username: mail.SMTPUser,
		Password: mail.SMTPPassword,
	})
}

func (s *Server) seedAdmin(ctx context.Context, registration *service.RegistrationService) error {
	admin := s.config.Admin
	if admin.Username == "" {
		return nil
	}
	_, err := registration.EnsureSuperuser(ctx, model.RegistrationInput{
		Username:  admin.Username,
		Firstname: admin.Firstname,
		Lastname:  admin.Lastname,
		Email:     admin.Email,
		Password:  admin.Password,
	}, admin.Teams...)
	if err != nil {
		return fmt.Errorf("seeding superuser %s: %w", admin.Username, err)
	}
	return nil
}

// setupRoutes mounts middleware and handlers. Middleware runs in the order
// it is added.
func (s *Server) setupRoutes(users *handler.UsersHandler, login *handler.AuthHandler, tokens *auth.TokenService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	s.router.Route("/users", func(r chi.Router) {
		r.Post("/", users.HandleRegister)
		r.Get("/verify", users.HandleVerify)
		r.Post("/verify/resend", users.HandleResend)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/", users.HandleList)
			r.Get("/global", users.HandleSearch)
		})
	})

	s.router.Post("/auth", login.HandleLogin)
	s.router.Post("/auth/logout", login.HandleLogout)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases storage connections. It is safe to call more than once.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start serves until SIGINT/SIGTERM, then gives in-flight requests 30
// seconds to finish and closes storage.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", s.config.Server.PublicURL),
			slog.String("storage", s.config.Storage.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
