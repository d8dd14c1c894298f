package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/faithconnect/member-service/config"
	"github.com/faithconnect/member-service/idp"
	"github.com/faithconnect/member-service/idp/idpfactory"
	"github.com/faithconnect/member-service/shared/audit"
	"github.com/faithconnect/member-service/shared/mail"
	"github.com/faithconnect/member-service/shared/monitoring"
	"github.com/faithconnect/member-service/shared/redis"
	"github.com/faithconnect/member-service/shared/utils"
	v1 "github.com/faithconnect/member-service/v1"
	v1handlers "github.com/faithconnect/member-service/v1/handlers"
	v1middleware "github.com/faithconnect/member-service/v1/middleware"
	v1models "github.com/faithconnect/member-service/v1/models"
	"github.com/faithconnect/member-service/v1/services"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

const serviceName = "faithconnect-member-service"

func main() {
	// Load .env file if it exists (optional - fails silently if not found)
	_ = godotenv.Load()

	cfg, err := config.Load(utils.GetEnvOrDefault("CONFIG_PATH", config.DefaultPath))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	utils.SetupLogging(cfg.Logging.Format, cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting member service initialization", "store", cfg.Store.Backend)

	if err := monitoring.Initialize(monitoring.DefaultConfig(serviceName)); err != nil {
		slog.Warn("Failed to initialize metrics, continuing without them", "error", err)
	}
	monitoring.RegisterRoutes(append(v1handlers.Routes(), "/health", "/metrics"))

	// Initialize Audit system (global instance used by services and the denied-write middleware)
	auditClient := audit.NewClient(cfg.Audit.ServiceURL)
	audit.InitializeGlobalAudit(auditClient)

	ctx := context.Background()
	memberStore, err := v1.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open member store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}

	healthChecks := map[string]v1handlers.HealthCheck{"store": memberStore.Ping}

	// Live updates are optional
	var (
		redisClient *redis.RedisClient
		publisher   services.ChangePublisher
		subscriber  v1handlers.ChangeSubscriber
	)
	if cfg.Redis.Addr != "" {
		redisClient, err = redis.NewClient(&redis.Config{
			Addr:            cfg.Redis.Addr,
			Password:        cfg.Redis.Password,
			DB:              cfg.Redis.DB,
			MaxStreamLength: cfg.Redis.MaxStreamLength,
		})
		if err != nil {
			slog.Error("Failed to connect to Redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		changes := services.NewChangeStream(redisClient)
		publisher = changes
		subscriber = changes
		healthChecks["redis"] = redisClient.HealthCheck
	} else {
		slog.Info("Live member updates disabled", "reason", "REDIS_ADDR not configured")
	}

	var provider idp.IdentityProviderAPI
	if cfg.IDP.BaseURL != "" && cfg.IDP.ClientID != "" && cfg.IDP.ClientSecret != "" {
		provider, err = idpfactory.NewIdpAPIProvider(idpfactory.FactoryConfig{
			ProviderType: idp.ProviderType(cfg.IDP.Provider),
			BaseURL:      cfg.IDP.BaseURL,
			ClientID:     cfg.IDP.ClientID,
			ClientSecret: cfg.IDP.ClientSecret,
			Scopes:       cfg.IDP.Scopes,
		})
		if err != nil {
			slog.Error("Failed to create IDP provider", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("Account management disabled", "reason", "ASGARDEO_BASE_URL, ASGARDEO_CLIENT_ID or ASGARDEO_CLIENT_SECRET not set")
	}

	mailer := mail.NewMailService(mail.Config{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
	})

	memberService := services.NewMemberService(memberStore, publisher)
	accountService := services.NewAccountService(provider, memberService, mailer, services.AccountConfig{
		ResetSigningKey: cfg.Mail.ResetSigningKey,
		ResetURL:        cfg.Mail.ResetURL,
		SignInURL:       cfg.Mail.SignInURL,
		ResetTokenTTL:   cfg.Mail.ResetTokenTTL,
		MemberGroup:     cfg.IDP.MemberGroup,
	})
	integrityService := services.NewIntegrityService(memberStore)
	v1Handler := v1handlers.NewV1Handler(memberService, accountService, integrityService, subscriber)

	jwtConfig := v1middleware.JWTAuthConfig{
		JWKSURL:        cfg.Auth.JWKSURL,
		ExpectedIssuer: cfg.Auth.Issuer,
		ValidClientIDs: cfg.Auth.ClientIDs,
		OrgName:        cfg.Auth.OrgName,
		Timeout:        cfg.Auth.JWKSTimeout,
	}
	if err := jwtConfig.Validate(); err != nil {
		slog.Error("Invalid JWT configuration", "error", err)
		os.Exit(1)
	}
	jwtAuthMiddleware := v1middleware.NewJWTAuthMiddleware(jwtConfig)

	authMode, _ := v1models.ParseAuthorizationMode(cfg.Auth.AuthorizationMode)
	authorizationMiddleware := v1middleware.NewAuthorizationMiddlewareWithConfig(v1middleware.AuthorizationConfig{
		Mode:       authMode,
		StrictMode: cfg.Auth.StrictMode,
	})

	router := chi.NewRouter()
	router.Use(utils.PanicRecoveryMiddleware)
	router.Use(v1middleware.NewCORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(monitoring.HTTPMetricsMiddleware)

	// Public routes
	router.Method(http.MethodGet, "/health", v1handlers.HealthHandler(serviceName, healthChecks))
	router.Method(http.MethodGet, "/metrics", monitoring.Handler())

	// Protected API routes (JWT Auth -> denied-write audit -> Authorization)
	router.Route("/api/v1", func(api chi.Router) {
		api.Use(jwtAuthMiddleware.AuthenticateJWT)
		api.Use(v1middleware.AuditDeniedWrites)
		api.Use(authorizationMiddleware.AuthorizeRequest)
		v1Handler.SetupV1Routes(api)
	})

	addr := ":" + cfg.Server.Port
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Member service starting", "addr", addr, "store", memberStore.Name())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start member service", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down member service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("Failed to close Redis connection", "error", err)
		}
	}
	if err := memberStore.Close(); err != nil {
		slog.Error("Failed to close member store", "error", err)
	}
	auditClient.Flush(5 * time.Second)

	slog.Info("Member service exited")
}
