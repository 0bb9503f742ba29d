package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatline/internal/config"
	"github.com/chatline/internal/gate"
	"github.com/chatline/internal/handler"
	"github.com/chatline/internal/logger"
	"github.com/chatline/internal/middleware"
	"github.com/chatline/internal/push"
	"github.com/chatline/internal/repository"
	"github.com/chatline/internal/service"
	"github.com/chatline/internal/startup"
	"github.com/chatline/internal/storage"
	"github.com/chatline/internal/storage/memory"
	"github.com/chatline/internal/ws"
	"github.com/chatline/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and demo data (no external DB required)")
	flag.Parse()

	logger.Info("starting chatline API")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}

	chatRepo := repository.NewChatRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	reactRepo := repository.NewReactionRepository(pool)
	requestRepo := repository.NewRequestRepository(pool)
	pushRepo := repository.NewPushSubscriptionRepository(pool)

	if *dev {
		if err := seedDevData(repository.NewUserRepository(pool), chatRepo); err != nil {
			logger.Errorf("seed dev data: %v", err)
		} else {
			logger.Info("dev data seeded (users: alice, bob, carol)")
		}
	}
	logger.Info("database connected, migrations applied")

	// Per-pair admission locks: Redis when configured, in-process otherwise.
	var locker storage.PairLocker
	if cfg.Redis.URL != "" {
		rc := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second)
		locker = rc
		logger.Info("redis connected, pair locks are distributed")
	} else {
		locker = memory.New()
		logger.Info("no REDIS_URL, pair locks are in-process (single instance only)")
	}
	defer locker.Close()

	if cfg.PushVAPIDPublicKey == "" || cfg.PushVAPIDPrivateKey == "" {
		keys, err := push.EnsureVAPIDKeys("")
		if err != nil {
			logger.Errorf("VAPID: could not load or generate keys: %v (push disabled)", err)
		} else {
			cfg.PushVAPIDPublicKey = keys.PublicKey
			cfg.PushVAPIDPrivateKey = keys.PrivateKey
		}
	}

	hub := ws.NewHub(cfg.MaxWSConnections)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	msgGate := gate.New(requestRepo, locker)
	sender := push.NewSender(pushRepo, cfg.PushVAPIDPublicKey, cfg.PushVAPIDPrivateKey)
	var notifier service.Notifier
	if sender.Enabled() {
		notifier = sender
	}
	msgSvc := service.NewMessageService(msgRepo, reactRepo, chatRepo, msgGate, hub, notifier)

	msgH := handler.NewMessageHandler(msgSvc, chatRepo)
	reqH := handler.NewRequestHandler(requestRepo)
	pushH := handler.NewPushHandler(pushRepo, cfg.PushVAPIDPublicKey)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Do not compress websocket upgrades: a wrapped ResponseWriter without
	// http.Hijacker turns the upgrade into a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature", "X-User-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config/push", pushH.VAPIDPublic)

	var identity func(http.Handler) http.Handler
	if cfg.AuthServiceURL != "" {
		identity = middleware.AuthServiceValidate(cfg.AuthServiceURL, nil)
	} else {
		logger.Info("no AUTH_SERVICE_URL, identity comes from X-User-Id (development only)")
		identity = middleware.DevIdentity
	}

	r.Group(func(r chi.Router) {
		r.Use(identity)
		r.Post("/api/messages", msgH.SendMessage)
		r.Get("/api/chats/{chatId}/messages", msgH.GetMessages)
		r.Post("/api/messages/{messageId}/reactions", msgH.AddReaction)
		r.Delete("/api/messages/{messageId}/reactions", msgH.RemoveReaction)
		r.Get("/api/requests/incoming", reqH.GetIncoming)
		r.Get("/api/requests/sent", reqH.GetSent)
		r.Post("/api/requests/{requestId}/accept", reqH.Accept)
		r.Post("/api/requests/{requestId}/decline", reqH.Decline)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatline"
		password = "chatline_secret"
		database = "chatline"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
