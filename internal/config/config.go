// Package config validates and loads the broker's environment configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	Port string

	MaxPendingPerRoom int
	MaxRoomsPerIP     int
	IdleTimeoutMs     int
	MaxPayloadSize    int
	AdminPassword     string // empty disables the admin view
	GoEnv             string
	LogLevel          string

	// Rate limits, "<max>-<unit>" shorthand (e.g. "20-M"), parsed by
	// internal/ratelimit via ulule/limiter's rate-string parser.
	RateLimitConnectionPerIP string
	RateLimitRoomCreatePerIP string
	RateLimitJoinPerIP       string
	RateLimitSignalPerConn   string

	// IceServers is the STUN hint attached to createRoom/joinRoom/
	// getIceServers replies (spec.md §6), shaped exactly as
	// RTCPeerConnection's constructor expects its iceServers option.
	IceServers []IceServer
}

// IceServer is a single entry of the iceServers list a browser's
// RTCPeerConnection constructor takes directly.
type IceServer struct {
	URLs string `json:"urls"`
}

// Load reads and validates environment variables, applying the defaults
// from spec.md §6 where a variable is unset.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = getEnvOrDefault("PORT", "3000")
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got %q)", cfg.Port))
	}

	var err error
	cfg.MaxPendingPerRoom, err = getEnvIntOrDefault("MAX_PENDING_PER_ROOM", 10)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.MaxRoomsPerIP, err = getEnvIntOrDefault("MAX_ROOMS_PER_IP", 5)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.IdleTimeoutMs, err = getEnvIntOrDefault("IDLE_TIMEOUT_MS", 300000)
	if err != nil {
		errs = append(errs, err.Error())
	}
	cfg.MaxPayloadSize, err = getEnvIntOrDefault("MAX_PAYLOAD_SIZE", 16384)
	if err != nil {
		errs = append(errs, err.Error())
	}

	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.RateLimitConnectionPerIP = getEnvOrDefault("RATE_LIMIT_CONNECTION_PER_IP", "20-M")
	cfg.RateLimitRoomCreatePerIP = getEnvOrDefault("RATE_LIMIT_ROOM_CREATE_PER_IP", "5-M")
	cfg.RateLimitJoinPerIP = getEnvOrDefault("RATE_LIMIT_JOIN_PER_IP", "30-M")
	cfg.RateLimitSignalPerConn = getEnvOrDefault("RATE_LIMIT_SIGNAL_PER_CONN", "50-S")

	stunDefault := "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302"
	for _, url := range strings.Split(getEnvOrDefault("STUN_SERVERS", stunDefault), ",") {
		if url = strings.TrimSpace(url); url != "" {
			cfg.IceServers = append(cfg.IceServers, IceServer{URLs: url})
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func getEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, v)
	}
	return n, nil
}

func logValidatedConfig(cfg *Config) {
	slog.Info("✅ configuration validated",
		"port", cfg.Port,
		"max_pending_per_room", cfg.MaxPendingPerRoom,
		"max_rooms_per_ip", cfg.MaxRoomsPerIP,
		"idle_timeout_ms", cfg.IdleTimeoutMs,
		"max_payload_size", cfg.MaxPayloadSize,
		"admin_enabled", cfg.AdminPassword != "",
		"go_env", cfg.GoEnv,
	)
}
