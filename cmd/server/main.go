package main

import (
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"chatgate/internal/chatlog"
	"chatgate/internal/config"
	"chatgate/internal/handlers"
	"chatgate/internal/logging"
	"chatgate/internal/models"
	"chatgate/internal/services"
	"chatgate/internal/upstream"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	cacheSweepInterval    = 5 * time.Minute
	sessionReaperInterval = time.Hour
)

func main() {
	logging.Init()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg := config.Load()
	slog.Info("configuration loaded", "port", cfg.Port, "bots_file", cfg.BotsFile)

	botsCfg, err := config.LoadBots(cfg.BotsFile)
	if err != nil {
		slog.Error("failed to load bots config", "file", cfg.BotsFile, "error", err)
		os.Exit(1)
	}
	slog.Info("bots config loaded", "bots", len(botsCfg.Bots), "credentials", len(botsCfg.Credentials))

	stats := services.NewStats()
	connManager := services.NewConnectionManager(stats)
	cache := services.NewResponseCache(cfg.CacheTTL, cfg.CacheMaxSize)

	sessions, err := services.NewSessionStore(botsCfg.Bots, cfg.HistoryCap, cfg.IdleTimeout)
	if err != nil {
		slog.Error("failed to build session store", "error", err)
		os.Exit(1)
	}

	pool := services.NewCredentialPool(credentialKeys(botsCfg.Credentials), cfg.CredentialCap)
	sseClient := upstream.NewSSEClient(botsCfg.Credentials)
	rateLimiter := services.NewMessageRateLimiter(cfg.MessageRate, cfg.MessageBurst)

	chatLog, err := chatlog.New(cfg.LogDir, stats.ChatLogDropped)
	if err != nil {
		slog.Warn("chat transcript log disabled", "dir", cfg.LogDir, "error", err)
		chatLog = nil
	} else {
		defer chatLog.Close()
	}

	chatService := services.NewChatService(
		connManager, sessions, cache, pool, sseClient, stats,
		rateLimiter, chatLog, cfg.ReplayChunkSize, cfg.ReplayChunkDelay,
	)

	services.InitMetrics(connManager, sessions, cache, stats)

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		slog.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}
	scheduler.NewJob(
		gocron.DurationJob(cacheSweepInterval),
		gocron.NewTask(func() {
			cache.Sweep()
			slog.Debug("cache sweep complete", "size", cache.Len())
		}),
		gocron.WithName("cache_sweep"),
	)
	scheduler.NewJob(
		gocron.DurationJob(sessionReaperInterval),
		gocron.NewTask(func() {
			// Reaped identities also release their rate-limiter state, or
			// the per-identity map would grow for the process lifetime.
			for _, identity := range sessions.ReapIdle() {
				rateLimiter.Forget(identity)
			}
		}),
		gocron.WithName("session_reaper"),
	)
	scheduler.Start()

	go watchBotsFile(cfg.BotsFile, sessions, sseClient, pool)

	app := fiber.New(fiber.Config{
		AppName:      "chatgate",
		ReadTimeout:  900 * time.Second,
		WriteTimeout: 900 * time.Second,
		IdleTimeout:  900 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept",
		AllowCredentials: allowedOrigins != "*",
	}))

	prometheus := fiberprometheus.New("chatgate")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	wsHandler := handlers.NewWebSocketHandler(connManager, chatService)
	healthHandler := handlers.NewHealthHandler(connManager)
	statsHandler := handlers.NewStatsHandler(stats, cache, sessions)

	app.Get("/health", healthHandler.Handle)
	app.Get("/stats", statsHandler.Handle)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			identity := c.Query("user_id")
			if identity == "" {
				identity = "user_" + uuid.New().String()
			}
			c.Locals("user_id", identity)
			c.Locals("client_ip", clientIP(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.Handle))

	slog.Info("server ready",
		"port", cfg.Port,
		"ws", "/ws",
		"stats", "/stats",
		"metrics", "/metrics",
	)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		slog.Info("shutting down")

		if err := scheduler.Shutdown(); err != nil {
			slog.Warn("scheduler shutdown failed", "error", err)
		}
		if err := app.Shutdown(); err != nil {
			slog.Warn("server shutdown failed", "error", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// clientIP prefers the first X-Forwarded-For hop when the socket peer is a
// loopback proxy.
func clientIP(c *fiber.Ctx) string {
	ip := c.IP()
	if ip == "127.0.0.1" || ip == "::1" {
		if fwd := c.Get("X-Forwarded-For"); fwd != "" {
			if first, _, found := strings.Cut(fwd, ","); found {
				return strings.TrimSpace(first)
			}
			return strings.TrimSpace(fwd)
		}
	}
	return ip
}

func credentialKeys(creds []models.Credential) []string {
	keys := make([]string, 0, len(creds))
	for _, cred := range creds {
		keys = append(keys, cred.Key)
	}
	return keys
}

// watchBotsFile hot-reloads personas and credentials when the bots file
// changes. Watches the directory rather than the file so editors that
// replace the file atomically still trigger.
func watchBotsFile(filePath string, sessions *services.SessionStore, sseClient *upstream.SSEClient, pool *services.CredentialPool) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("bots file watcher disabled", "error", err)
		return
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		slog.Warn("bots file watcher disabled", "file", filePath, "error", err)
		return
	}
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		slog.Warn("bots file watcher disabled", "dir", dir, "error", err)
		return
	}
	slog.Info("watching bots file for changes", "file", filePath)

	var debounceTimer *time.Timer
	const debounceDuration = 500 * time.Millisecond

	reload := func() {
		botsCfg, err := config.LoadBots(filePath)
		if err != nil {
			slog.Error("bots reload failed, keeping previous config", "error", err)
			return
		}
		if err := sessions.SetPersonas(botsCfg.Bots); err != nil {
			slog.Error("bots reload rejected", "error", err)
			return
		}
		sseClient.SetCredentials(botsCfg.Credentials)
		pool.EnsureKeys(credentialKeys(botsCfg.Credentials))
		slog.Info("bots config reloaded", "bots", len(botsCfg.Bots), "credentials", len(botsCfg.Credentials))
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, reload)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("bots file watcher error", "error", err)
		}
	}
}
