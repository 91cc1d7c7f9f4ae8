package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/interviewd/internal/api"
	"github.com/kalambet/interviewd/internal/config"
	"github.com/kalambet/interviewd/internal/session"
	"github.com/kalambet/interviewd/internal/storage"
	"github.com/kalambet/interviewd/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the interviewd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		return runServer(cmd.Context(), cfg, logger)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running interviewd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show interviewd server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "interviewd.pid")
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

// runServer serves the HTTP facade until ctx is done, then drains connections, stops the
// sweeper and closes every session.
func runServer(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	printStep("interviewd version %s", version)

	baseURL := resolveServerURL("", cfg.Server.Addr)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	pidPath := pidFilePath(cfg.Storage.DataDir)
	if resp, err := healthClient.Get(baseURL + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("interviewd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on %s", cfg.Server.Addr)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry.Enabled, cfg.Telemetry.ServiceName, os.Stderr, logger)
	if err != nil {
		return err
	}

	host := session.NewHost(session.HostConfig{
		DataDir:   cfg.Storage.DataDir,
		SendQueue: cfg.Session.SendQueue,
		Logger:    logger,
	})
	sweeper, err := session.NewSweeper(host, cfg.Session.SweepInterval, logger)
	if err != nil {
		return err
	}

	handler := api.NewHandler(api.Deps{
		Host:           host,
		Logger:         logger,
		CookieName:     cfg.Auth.CookieName,
		CookieMaxAge:   cfg.Auth.CookieMaxAge,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	sweeper.Start()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Server.Addr, "data_dir", cfg.Storage.DataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Shutdown does not wait for hijacked websocket connections; closing the
		// sessions afterwards closes their viewers and ends those handlers.
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down server: %w", err))
		}
		sweeper.Stop()
		if err := host.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing sessions: %w", err))
		}
		if err := shutdownTracer(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("flushing traces: %w", err))
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("interviewd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop interviewd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to interviewd (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	baseURL := resolveServerURL(serverURL, cfg.Server.Addr)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running at %s", baseURL)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if owner := ownerOrEmpty(); owner != "" {
		printStatus("Owner", "%s", owner)
		if running {
			c := &apiClient{baseURL: baseURL, owner: owner, cookieName: cfg.Auth.CookieName, httpClient: client}
			var list []storage.InterviewSummary
			if listResp, err := c.get(ctx, "/interviews"); err == nil && decodeJSON(listResp, &list) == nil {
				printStatus("Interviews", "%s", countLabel(len(list), 100))
			}
		}
	} else {
		printStatus("Owner", "not logged in")
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func ownerOrEmpty() string {
	if ownerFlag != "" {
		return ownerFlag
	}
	owner, err := readOwner(ownerFilePath())
	if err != nil {
		return ""
	}
	return owner
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
