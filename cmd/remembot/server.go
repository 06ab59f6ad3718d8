package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/remembot/internal/analytics"
	"github.com/kalambet/remembot/internal/api"
	"github.com/kalambet/remembot/internal/blobstore"
	"github.com/kalambet/remembot/internal/config"
	"github.com/kalambet/remembot/internal/intake"
	"github.com/kalambet/remembot/internal/intent"
	"github.com/kalambet/remembot/internal/llm"
	"github.com/kalambet/remembot/internal/media"
	"github.com/kalambet/remembot/internal/mem0"
	"github.com/kalambet/remembot/internal/memory"
	"github.com/kalambet/remembot/internal/reminder"
	"github.com/kalambet/remembot/internal/storage"
	"github.com/kalambet/remembot/internal/twilio"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the remembot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running remembot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show remembot system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "remembot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "remembot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.LogLevel, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("remembot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("remembot is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	blobs, err := blobstore.New(cfg.Storage.DataDir, store)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	// Language collaborator is optional. Without a key, classification runs
	// on keyword fallback and audio transcription is unavailable.
	var llmClient *llm.Client
	if cfg.OpenAI.APIKey != "" {
		llmClient = llm.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	} else {
		slog.Warn("no OpenAI API key configured, running in fallback mode")
	}

	classifier := classifierFor(llmClient)
	processor := processorFor(llmClient)

	memories := memory.NewService(store, mem0.NewClient(cfg.Mem0.APIKey))
	reminders := reminder.NewService(store)
	twilioClient := twilio.NewClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber)

	pipeline := intake.NewPipeline(store, classifier, memories, reminders,
		twilioClient, processor, blobs, cfg.Location())

	// Build HTTP handler and server.
	appHandler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Handler:   pipeline,
		Memories:  memories,
		Analytics: analytics.NewService(store),
		LocalUser: cfg.LocalUser,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// Start the reminder scheduler.
	scheduler := reminder.NewScheduler(store, twilioClient, cfg.Reminder.PollInterval)
	go scheduler.Run(ctx)

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     store,
		Memories:  memories,
		LocalUser: cfg.LocalUser,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "remembot listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// classifierFor builds the intent classifier. A typed nil *llm.Client must
// not leak into the interface value, so the nil case is explicit.
func classifierFor(c *llm.Client) *intent.Classifier {
	if c == nil {
		return intent.NewClassifier(nil)
	}
	return intent.NewClassifier(c)
}

func processorFor(c *llm.Client) *media.Processor {
	if c == nil {
		return media.NewProcessor(nil)
	}
	return media.NewProcessor(c)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("remembot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop remembot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to remembot (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.OpenAI.APIKey != "" {
		printStatus("Classifier", "%s", cfg.OpenAI.Model)
	} else {
		printStatus("Classifier", "keyword fallback (no API key)")
	}
	printStatus("Timezone", "%s", cfg.Timezone)
	printStatus("Poll interval", "%s", cfg.Reminder.PollInterval)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
