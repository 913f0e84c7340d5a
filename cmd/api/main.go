package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"huddle/api/internal/app"
	"huddle/api/internal/config"
	"huddle/api/internal/export"
	"huddle/api/internal/files"
	"huddle/api/internal/logging"
	"huddle/api/internal/otp"
	"huddle/api/internal/search"
	"huddle/api/internal/session"
	"huddle/api/internal/sms"
	"huddle/api/internal/store"
	"huddle/api/internal/ws"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	logger, err := logging.New("huddle-api", cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, logger)

	smsClient := sms.NewClient(sms.Config{
		BaseURL:  cfg.SMSBaseURL,
		APIKey:   cfg.SMSAPIKey,
		SenderID: cfg.SMSSenderID,
	}, logger)
	if !smsClient.IsConfigured() {
		logger.Warn("sms provider not configured, login codes will not be delivered")
	}

	fileService, err := files.NewService(files.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		PublicURL: cfg.MinioPublicURL,
	}, logger)
	if err != nil {
		logger.Fatal("object store init failed", zap.Error(err))
	}
	if fileService.IsConfigured() {
		if err := fileService.EnsureBucket(ctx); err != nil {
			logger.Warn("upload bucket not ready, file sends will fail", zap.Error(err))
		}
	} else {
		logger.Warn("object store not configured, file sends and avatars disabled")
	}

	hub := ws.NewHub(logger)
	presence := ws.NewPresence()

	collaborators := app.Collaborators{
		SMS:      smsClient,
		Files:    fileService,
		Search:   searchService,
		Export:   export.NewService(),
		Hub:      hub,
		Presence: presence,
		Logger:   logger,
	}

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for sessions and otp codes")
		sessionStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer sessionStore.Close()
		otpStore, err := otp.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer otpStore.Close()
		collaborators.OTP = otp.NewService(otpStore, cfg.OTPTTL, cfg.OTPCodeLength, cfg.OTPRateEvery, cfg.OTPBurst)
		service = app.NewWithSessionStore(cfg, dataStore, sessionStore, collaborators)
	} else {
		logger.Info("using postgres sessions and in-memory otp codes")
		collaborators.OTP = otp.NewService(otp.NewMemoryStore(), cfg.OTPTTL, cfg.OTPCodeLength, cfg.OTPRateEvery, cfg.OTPBurst)
		if removed, err := dataStore.DeleteExpiredSessions(ctx); err != nil {
			logger.Warn("expired session sweep failed", zap.Error(err))
		} else if removed > 0 {
			logger.Info("swept expired sessions", zap.Int64("count", removed))
		}
		service = app.New(cfg, dataStore, collaborators)
	}

	if err := service.Bootstrap(ctx); err != nil {
		logger.Warn("bootstrap error, will retry on next restart", zap.Error(err))
	}
	searchService.ReindexAllFromPG(ctx)

	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("huddle api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
