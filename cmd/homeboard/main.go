package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dukerupert/homeboard/internal/config"
	"github.com/dukerupert/homeboard/internal/database"
	"github.com/dukerupert/homeboard/internal/logging"
	"github.com/dukerupert/homeboard/internal/secret"
	"github.com/dukerupert/homeboard/internal/server"
	"github.com/dukerupert/homeboard/internal/store"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "session" {
		os.Exit(runSession(os.Args[2:]))
	}

	configPath := flag.String("config", "homeboard.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	box, err := openSecretBox(cfg, logger)
	if err != nil {
		slog.Error("failed to set up token encryption", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := server.New(db, cfg, box, reg, logger)
	if err != nil {
		slog.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		slog.Error("failed to start background jobs", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.ListenPort,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Manual syncs answer after the run completes.
		WriteTimeout:      cfg.Sync.FetchTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("homeboard starting", "addr", ":"+cfg.ListenPort, "timezone", cfg.Timezone)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	cancel()
	srv.Stop()
}

func openSecretBox(cfg *config.Config, logger *slog.Logger) (*secret.Box, error) {
	if cfg.Secret != "" {
		return secret.NewBox(cfg.Secret)
	}
	box, _, err := secret.NewEphemeralBox()
	if err != nil {
		return nil, err
	}
	logger.Warn("HOMEBOARD_SECRET not set; provider tokens will need reconnecting after a restart")
	return box, nil
}

// runSession issues a dashboard session token for a household, creating
// the household first when -new is given.
func runSession(args []string) int {
	fs := flag.NewFlagSet("session", flag.ExitOnError)
	configPath := fs.String("config", "homeboard.yaml", "path to the YAML config file")
	householdID := fs.Int64("household", 0, "household ID")
	newName := fs.String("new", "", "create a household with this name")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		return 1
	}
	defer db.Close()

	hid, err := resolveHousehold(db, *householdID, *newName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	sess, err := store.NewSessionStore(db).Create(hid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create session: %v\n", err)
		return 1
	}
	fmt.Printf("household: %d\ntoken:     %s\nexpires:   %s\n", hid, sess.Token, sess.ExpiresAt.Format(time.RFC3339))
	return 0
}

func resolveHousehold(db *sql.DB, id int64, newName string) (int64, error) {
	households := store.NewHouseholdStore(db)
	if newName != "" {
		h, err := households.Create(newName)
		if err != nil {
			return 0, fmt.Errorf("create household: %w", err)
		}
		return h.ID, nil
	}
	if id == 0 {
		return 0, errors.New("one of -household or -new is required")
	}
	h, err := households.GetByID(id)
	if err != nil {
		return 0, fmt.Errorf("get household: %w", err)
	}
	if h == nil {
		return 0, fmt.Errorf("household %d not found", id)
	}
	return h.ID, nil
}
