// Package main is the entry point for the chat server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/chatapp/ws-server/internal/auth"
	"github.com/chatapp/ws-server/internal/config"
	"github.com/chatapp/ws-server/internal/handler"
	natsclient "github.com/chatapp/ws-server/internal/nats"
	"github.com/chatapp/ws-server/internal/service"
	"github.com/chatapp/ws-server/internal/store"
	"github.com/chatapp/ws-server/pkg/logger"
	"github.com/chatapp/ws-server/pkg/tracing"
)

func main() {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.NewForEnv(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat server", zap.String("store", cfg.StoreBackend))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-ws-server", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the store
	st, err := openStore(cfg)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	// Connect to NATS
	var (
		readiness handler.ReadinessChecker
		sessions  *natsclient.SessionStore
		journal   *natsclient.StreamManager
	)
	if cfg.NATSEnabled {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Name:     "chat-ws-server",
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()
		readiness = natsClient

		sessions, err = natsclient.OpenSessionStore(ctx, natsClient, cfg.SessionBucket, cfg.SessionTTL)
		if err != nil {
			log.Fatal("failed to open session store", zap.Error(err))
		}

		if cfg.JournalEnabled {
			journal = natsclient.NewStreamManager(natsClient, cfg.JournalStream)
			if err := journal.EnsureStream(ctx); err != nil {
				log.Fatal("failed to ensure stream", zap.Error(err))
			}
		}
	} else {
		log.Warn("NATS disabled, session authentication and journal unavailable")
	}

	// Initialize authentication
	var resolver auth.SessionResolver
	if sessions != nil {
		if cfg.JWKSURL == "" {
			log.Warn("JWKS_URL not set, session authentication disabled")
		} else {
			keys := oidc.NewRemoteKeySet(ctx, cfg.JWKSURL)
			verifier := auth.NewVerifier(keys,
				auth.WithIdentityClaim(cfg.TokenIdentityClaim),
				auth.WithIssuer(cfg.TokenIssuer),
				auth.WithAudience(cfg.TokenAudience),
				auth.WithLeeway(cfg.TokenLeeway),
			)
			resolver = auth.NewResolver(sessions, verifier, auth.ResolverConfig{
				LookupTimeout: cfg.SessionLookupTimeout,
			}, log)
		}
	}
	authenticator := auth.NewAuthenticator(resolver, auth.AuthenticatorConfig{
		BearerSecret: cfg.JWTSecret,
	})

	// Initialize services
	var chatJournal service.Journal
	if journal != nil {
		chatJournal = journal
	}
	chatSvc := service.NewChatService(authenticator, st, chatJournal, service.ChatConfig{
		SendBuffer: cfg.WSSendBuffer,
	}, log)
	directorySvc := service.NewDirectoryService(st, log)

	// Initialize handlers
	var messageHandler *handler.MessageHandler
	if journal != nil {
		messageHandler = handler.NewMessageHandler(directorySvc, journal, log)
	}

	router := handler.NewRouter(handler.RouterConfig{
		Health: handler.NewHealthHandler(readiness),
		Chat: handler.NewChatHandler(chatSvc, handler.ChatHandlerConfig{
			CookieName:      cfg.SessionCookieName,
			AllowedOrigins:  cfg.WSAllowedOrigins,
			MaxMessageBytes: cfg.WSMaxMessageBytes,
		}, log),
		Users:             handler.NewUserHandler(directorySvc, log),
		Conversations:     handler.NewConversationHandler(directorySvc, log),
		Messages:          messageHandler,
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.WSAllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Logger:            log,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: cfg.ServerReadTimeout,
		// WriteTimeout is not set: it would cut long-lived WebSocket connections.
		IdleTimeout: 120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Hijacked connections are not tracked by server.Shutdown.
	chatSvc.Shutdown()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreBadger:
		return store.OpenBadger(cfg.BadgerDir)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
