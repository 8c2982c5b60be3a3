package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"agent-relay/internal/router"
	"agent-relay/internal/session"
	"agent-relay/internal/watcher"
)

// Config holds server configuration, loaded from environment variables.
type Config struct {
	Port        int
	StaticDir   string
	MaxSessions int
	AgentBin    string
	StaleAfter  time.Duration
}

func loadConfig() Config {
	cfg := Config{
		Port:        8420,
		StaticDir:   "",
		MaxSessions: 10,
		AgentBin:    "claude",
		StaleAfter:  5 * time.Minute,
	}

	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv("MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSessions = n
		}
	}
	if v := os.Getenv("AGENT_BIN"); v != "" {
		cfg.AgentBin = v
	}
	if v := os.Getenv("STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StaleAfter = d
		}
	}

	return cfg
}

func main() {
	cfg := loadConfig()

	// Initialize session manager.
	manager := session.NewManager(session.ManagerConfig{
		MaxSessions: cfg.MaxSessions,
		AgentBin:    cfg.AgentBin,
		StaleAfter:  cfg.StaleAfter,
	})

	// Initialize workspace watcher (callback set after the router exists).
	var rtServer *router.Server
	fileWatch := watcher.New(func(sessionID string, fileCount int) {
		if rtServer != nil {
			rtServer.OnWorkspaceChange(sessionID, fileCount)
		}
	})

	// Initialize router and start distributing manager events.
	rtServer = router.New(manager, fileWatch, cfg.StaticDir)
	go rtServer.Run()

	// Set up HTTP server.
	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: rtServer.Handler(),
	}

	// Graceful shutdown on signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down...")
		fileWatch.Shutdown()
		manager.Shutdown()
		httpServer.Close()
	}()

	log.Printf("agent-relay server running on http://localhost:%d", cfg.Port)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}
