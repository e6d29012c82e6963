package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"merchant-actions-api/internal/auth"
	"merchant-actions-api/internal/bankwindow"
	"merchant-actions-api/internal/cache"
	"merchant-actions-api/internal/config"
	"merchant-actions-api/internal/database"
	"merchant-actions-api/internal/deeplink"
	"merchant-actions-api/internal/eligibility"
	"merchant-actions-api/internal/events"
	"merchant-actions-api/internal/features"
	"merchant-actions-api/internal/handler"
	"merchant-actions-api/internal/middleware"
	"merchant-actions-api/internal/service"
	tlsconfig "merchant-actions-api/internal/tls"
	"merchant-actions-api/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Path to JSON config file")
	devLogging := flag.Bool("dev", false, "Use development logging")
	flag.Parse()

	logger := initLogger(*devLogging)
	defer logger.Sync()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Initialize tracing
	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		SampleRatio: cfg.Tracing.SampleRatio,
	}); err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx); err != nil {
			logger.Warn("Tracing shutdown failed", zap.Error(err))
		}
	}()

	// Initialize database
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize the session cache: Redis when configured, in-memory
	// otherwise
	sessionCache, closeCache, err := initCache(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize session cache", zap.Error(err))
	}
	defer closeCache()

	// Feature flags
	flags := features.NewManager()
	flags.Register(features.FlagDeepLinkV2, false, "v2 deep-link token format")
	flags.Register(features.FlagLinkMinting, true, "deep-link minting endpoint")
	flags.Register(features.FlagEventHooks, true, "event-driven hooks")

	// Events
	eventManager := events.NewManager(flags.IsEnabled(features.FlagEventHooks))
	defer eventManager.Shutdown()
	registerAuditHooks(eventManager, logger)

	// Core decision components
	windows := bankwindow.NewCalculator(cfg.BankWindows)
	engine := eligibility.New(windows)
	svc := service.NewService(db, engine, eventManager, logger)

	sessions := auth.NewStore(sessionCache, time.Duration(cfg.SessionTTL())*time.Minute, logger)

	cipher := initCipher(cfg, logger)
	authFlow := service.NewAuthFlow(service.AuthFlowOptions{
		Cipher:    cipher,
		Sessions:  sessions,
		Flags:     flags,
		Events:    eventManager,
		DevMarker: cfg.DeepLink.DevToolingMarker,
		LinkBase:  cfg.DeepLink.LinkBaseURL,
		Logger:    logger,
	})

	h := handler.NewHandlerWithOptions(svc, authFlow, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
	})

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
	defer rateLimiter.Stop()

	// Setup router
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if cfg.Tracing.Enabled {
		r.Use(middleware.TracingMiddleware())
	}
	if cfg.RateLimit.Enabled {
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.Security.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Routes
	r.Route("/transactions", func(r chi.Router) {
		r.Post("/", h.CreateTransactions)
		r.Get("/{transaction_id}/actions", h.GetTransactionActions)
	})

	r.Route("/merchants", func(r chi.Router) {
		r.Get("/{merchant_id}/transactions", h.GetMerchantTransactions)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/handoff", h.Handoff)
		r.Post("/links", h.MintLink)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	if cfg.Server.EnableTLS {
		tlsCfg, err := tlsconfig.LoadTLSConfig(tlsconfig.Config{
			CertFile: cfg.Server.CertFile,
			KeyFile:  cfg.Server.KeyFile,
		})
		if err != nil {
			logger.Fatal("Failed to load TLS configuration", zap.Error(err))
		}
		if cfg.Server.CertFile == "" || cfg.Server.KeyFile == "" {
			logger.Warn("No certificate files provided, using self-signed certificate for development")
		}
		server.TLSConfig = tlsCfg
	}

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		logger.Info("Shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting server",
		zap.String("addr", addr),
		zap.Bool("tls", cfg.Server.EnableTLS),
		zap.String("database", cfg.Database.Path),
	)

	if cfg.Server.EnableTLS {
		// Certificates are already in TLSConfig; the file arguments stay
		// empty.
		err = server.ListenAndServeTLS("", "")
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

// initLogger builds the process logger.
func initLogger(development bool) *zap.Logger {
	if development {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}

// registerAuditHooks attaches the audit-log subscribers. Session ids never
// reach the log; merchant id and the decision outcome do.
func registerAuditHooks(manager *events.Manager, logger *zap.Logger) {
	manager.Subscribe(events.EventSessionEstablished, func(ctx context.Context, e events.Event) error {
		if data, ok := e.Data.(events.SessionEstablishedData); ok {
			logger.Info("Session established", zap.String("merchant_id", data.MerchantID))
		}
		return nil
	})
	manager.Subscribe(events.EventDeepLinkFailed, func(ctx context.Context, e events.Event) error {
		if data, ok := e.Data.(events.DeepLinkFailedData); ok {
			logger.Warn("Deep-link handoff failed", zap.String("reason", data.Reason))
		}
		return nil
	})
	manager.Subscribe(events.EventActionsEvaluated, func(ctx context.Context, e events.Event) error {
		if data, ok := e.Data.(events.ActionsEvaluatedData); ok {
			logger.Debug("Actions evaluated",
				zap.String("transaction_id", data.Actions.TransactionID),
				zap.Bool("void", data.Actions.Void),
				zap.Bool("capture", data.Actions.Capture),
			)
		}
		return nil
	})
}

// initCache selects the session cache backend.
func initCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("No Redis configured, using in-memory session cache")
		return cache.NewMemoryCache(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	redisCache, err := cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	return redisCache, func() { redisCache.Close() }, nil
}

// initCipher builds the deep-link cipher when the secrets are configured.
// Absent secrets are tolerated at startup; handoff requests will be
// rejected until they are provided.
func initCipher(cfg *config.Config, logger *zap.Logger) *deeplink.Cipher {
	if cfg.Crypto.KeyHex == "" || cfg.Crypto.IVHex == "" {
		logger.Warn("Deep-link secrets not configured; handoff endpoints will reject requests")
		return nil
	}
	cipher, err := deeplink.NewCipher(cfg.Crypto.KeyHex, cfg.Crypto.IVHex)
	if err != nil {
		logger.Fatal("Invalid deep-link secrets", zap.Error(err))
	}
	return cipher
}
