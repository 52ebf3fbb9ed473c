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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/OburuO/ville-messenger-app/internal/config"
	"github.com/OburuO/ville-messenger-app/internal/db"
	"github.com/OburuO/ville-messenger-app/internal/group"
	"github.com/OburuO/ville-messenger-app/internal/ledger"
	"github.com/OburuO/ville-messenger-app/internal/message"
	"github.com/OburuO/ville-messenger-app/internal/middleware"
	"github.com/OburuO/ville-messenger-app/internal/reaction"
	"github.com/OburuO/ville-messenger-app/internal/realtime"
	"github.com/OburuO/ville-messenger-app/internal/storage"
	"github.com/OburuO/ville-messenger-app/internal/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration failed", "error", err)
		os.Exit(1)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		slog.Error("configuration failed", "error", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Platform layer.
	database, err := db.NewDatabase(cfg.DBDSN)
	if err != nil {
		log.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer database.Conn.Close()
	if err := database.AutoMigrate(); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}
	log.Info("database ready")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	log.Info("redis ready")

	blobs, err := storage.NewDisk(cfg.StorageRoot, log)
	if err != nil {
		log.Error("attachment storage unavailable", "error", err)
		os.Exit(1)
	}

	// Users and auth.
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)
	authMiddleware := middleware.NewAuthMiddleware(userService)

	// Realtime fan-out.
	publisher := realtime.NewRedisPublisher(redisClient)
	ledgerRepo := ledger.NewRepository(database.Conn)
	presence := realtime.NewPresence(redisClient, publisher, log)
	hub := realtime.NewHub(redisClient, ledgerRepo, presence, log)
	go hub.Run(ctx)
	go hub.SubscribeToRedis(ctx)

	// Reactions.
	reactionRepo := reaction.NewRepository(database.Conn)
	reactionService := reaction.NewService(reactionRepo, log)
	reactionHandler := reaction.NewHandler(reactionService, cfg.Debug)

	// Messages.
	messageRepo := message.NewRepository(database.Conn)
	messageService := message.NewService(messageRepo, ledgerRepo, blobs, reactionRepo, publisher, log)
	messageHandler := message.NewHandler(messageService, blobs, cfg.Debug)
	reactionService.RegisterEntity(reaction.EntityTypeMessages, messageRepo)

	// Group teardown runs off the request path.
	teardown := group.NewTeardownWorker(database.Conn, blobs, publisher, log, cfg.TeardownQueueSize)
	go teardown.Run(ctx)
	groupHandler := group.NewHandler(ledgerRepo, teardown, cfg.Debug)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes.
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Handle("/metrics", promhttp.Handler())

	// Everything else requires an authenticated principal.
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/ws", realtime.ServeWs(hub, log))

		messageHandler.Routes(r)
		reactionHandler.Routes(r)
		groupHandler.Routes(r)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}
