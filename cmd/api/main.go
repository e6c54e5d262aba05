package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"guide-connect/internal/config"
	"guide-connect/internal/db"
	"guide-connect/internal/email"
	apihttp "guide-connect/internal/http"
	"guide-connect/internal/repository"
	"guide-connect/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	client, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("mongo connect", zap.Error(err))
	}
	defer client.Disconnect(ctx)

	userRepo := repository.NewMongoUserRepository(db.Database(client, cfg))
	if err := userRepo.EnsureIndexes(ctx); err != nil {
		logger.Fatal("ensure indexes", zap.Error(err))
	}

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	var (
		resetLimiter service.ResetRateLimiter
		stateStore   service.StateStore
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			resetLimiter = service.NewRedisResetRateLimiter(redisClient, 10*time.Minute, 3)
			stateStore = service.NewRedisStateStore(redisClient)
		}
		cancel()
	}

	jwtSvc := service.NewJWTService(cfg.JWTSecret, cfg.JWTTTL)
	authSvc := service.NewAuthService(logger, userRepo, emailSender, resetLimiter)

	googleAdapter := service.NewGoogleAdapter(
		cfg.GoogleClientID,
		cfg.GoogleClientSecret,
		strings.TrimRight(cfg.BackendURL, "/")+"/api/auth/google/callback",
	)
	oauthSvc := service.NewOAuthService(logger, userRepo, googleAdapter, stateStore)
	if cfg.GoogleClientID == "" {
		logger.Warn("google oauth not configured")
	}

	cookieSecure := strings.HasPrefix(cfg.BackendURL, "https://")
	authHandler := apihttp.NewAuthHandler(logger, authSvc, oauthSvc, jwtSvc, cfg.ClientURL, cookieSecure)
	adminHandler := apihttp.NewAdminHandler(logger, authSvc)
	router := apihttp.NewRouter(logger, authHandler, adminHandler, jwtSvc, authSvc, cfg.ClientURL)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
