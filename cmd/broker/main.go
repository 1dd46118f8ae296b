package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/monteslu/peersignal-broker/internal/admin"
	"github.com/monteslu/peersignal-broker/internal/config"
	"github.com/monteslu/peersignal-broker/internal/logging"
	"github.com/monteslu/peersignal-broker/internal/middleware"
	"github.com/monteslu/peersignal-broker/internal/ratelimit"
	"github.com/monteslu/peersignal-broker/internal/room"
	"github.com/monteslu/peersignal-broker/internal/session"
	"github.com/monteslu/peersignal-broker/internal/transport"
)

func main() {
	envPaths := []string{".env", "../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Warn("no .env file found, relying on process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}

	limits, err := ratelimit.NewSet(
		cfg.RateLimitConnectionPerIP,
		cfg.RateLimitRoomCreatePerIP,
		cfg.RateLimitJoinPerIP,
		cfg.RateLimitSignalPerConn,
	)
	if err != nil {
		slog.Error("failed to build rate limiters", "error", err)
		os.Exit(1)
	}
	limits.StartScavenger(60 * time.Second)
	defer limits.Stop()

	registry := room.NewRegistry(room.DefaultHostGracePeriod)

	coordinator := session.NewCoordinator(registry, limits, session.Config{
		MaxPendingPerRoom: cfg.MaxPendingPerRoom,
		MaxRoomsPerIP:     cfg.MaxRoomsPerIP,
		MaxPayloadSize:    cfg.MaxPayloadSize,
		IdleTimeout:       time.Duration(cfg.IdleTimeoutMs) * time.Millisecond,
		IceServers:        cfg.IceServers,
	})

	hub := transport.NewHub(
		&handler{coordinator: coordinator},
		func(ip string) bool { return limits.ConnectionPerIP.Allow(ip) },
	)

	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
	}))
	router.Use(gin.Recovery())

	router.GET("/ws", hub.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if cfg.AdminPassword != "" {
		adminView := admin.New(registry)
		adminGroup := router.Group("/admin", middleware.AdminAuth(cfg.AdminPassword))
		adminGroup.GET("", adminView.ServeHTML)
		adminGroup.GET("/api/stats", adminView.ServeStats)
		slog.Info("admin view enabled")
	} else {
		slog.Info("admin view disabled (ADMIN_PASSWORD unset)")
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slog.Info("peersignal-broker starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shut down", "error", err)
	}

	registry.Shutdown()
	slog.Info("shutdown complete")
}

// handler bridges transport.Hub's lifecycle callbacks to the Session
// Coordinator. The connection-per-IP admission check is not made here: it
// is the AdmitFunc passed to transport.NewHub, which refuses the handshake
// itself (spec.md §7) before a Connection even exists.
type handler struct {
	coordinator *session.Coordinator
}

func (h *handler) OnConnect(conn *transport.Connection) {
	h.coordinator.OnConnect(conn)
}

func (h *handler) OnMessage(conn *transport.Connection, raw []byte) {
	h.coordinator.OnMessage(conn, raw)
}

func (h *handler) OnDisconnect(conn *transport.Connection) {
	h.coordinator.OnDisconnect(conn)
}
