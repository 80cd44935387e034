package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mhollis/veil/internal/api"
	"github.com/mhollis/veil/internal/config"
	"github.com/mhollis/veil/internal/redact"
)

var (
	serveAddr   string
	watchConfig bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the redaction HTTP API",
	Long: `Start an HTTP server exposing the redaction engine.

Endpoints:
  GET  /healthz       - liveness probe
  POST /redact        - redact a single document
  POST /redact/batch  - redact multiple documents concurrently

With --watch-config the server rebuilds pattern rules and placeholders
when the config file changes. The entity recognizer is not reloaded;
restart the server to pick up a new model resource.

Examples:
  veil serve
  veil serve --addr :9000
  veil serve --watch-config`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :8000)")
	serveCmd.Flags().BoolVar(&watchConfig, "watch-config", false, "reload pattern rules when the config file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	model, err := buildRecognizer(cfg, logger)
	if err != nil {
		return err
	}
	engine, err := buildEngineWith(cfg, logger, model)
	if err != nil {
		return err
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	server := api.NewServer(engine, version, logger)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchConfig {
		cfgFile := viper.ConfigFileUsed()
		if cfgFile == "" {
			return fmt.Errorf("--watch-config requires a config file (none was loaded)")
		}
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		defer watcher.Close()
		// Watch the directory: editors replace the file on save, which
		// drops a watch on the file itself.
		if err := watcher.Add(filepath.Dir(cfgFile)); err != nil {
			return fmt.Errorf("failed to watch config directory: %w", err)
		}
		go watchConfigFile(ctx, watcher, cfgFile, server, model, logger)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// watchConfigFile reloads the config and swaps the engine whenever the
// config file is written. The model detector is reused across reloads.
func watchConfigFile(ctx context.Context, watcher *fsnotify.Watcher, path string, server *api.Server, model redact.Detector, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := reloadEngine(server, model, logger); err != nil {
				logger.Error("config reload failed, keeping previous engine", "error", err)
				continue
			}
			logger.Info("config reloaded", "file", path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}

// reloadEngine re-reads the config file and rebuilds the engine around
// the existing model detector.
func reloadEngine(server *api.Server, model redact.Detector, logger *slog.Logger) error {
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to re-read config: %w", err)
	}
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	engine, err := buildEngineWith(cfg, logger, model)
	if err != nil {
		return err
	}
	server.SetEngine(engine)
	return nil
}
