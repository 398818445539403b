package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/callsage/internal/api"
	"github.com/joescharf/callsage/internal/daemon"
	"github.com/joescharf/callsage/internal/metrics"
)

const (
	shutdownTimeout = 15 * time.Second
	stopTimeout     = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API server in the foreground",
	Long: `Run the callsage REST API (/api/v1) and Prometheus metrics (/metrics).

By default it listens on port 8080. Use --port to change it, or
'callsage serve start' to run it in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the API server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background API server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.PersistentFlags().Lookup("port"))

	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

// pidFile returns the state file of the background server.
func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "callsage-serve.pid"))
}

// serveLogPath is where a background server writes its output.
func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "callsage-serve.log")
}

func serveAddr() string {
	return fmt.Sprintf(":%d", viper.GetInt("port"))
}

func serveRun(ctx context.Context) error {
	addr := serveAddr()

	if dryRun {
		ui.DryRunMsg("Would serve the API on %s", addr)
		return nil
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	pf := pidFile()
	if err := pf.Acquire(addr); err != nil {
		return err
	}
	defer func() { _ = pf.Remove() }()

	met := metrics.New()
	mgr, err := newManager(met)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(mgr, met, appLog).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, interruptSignals()...)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	ui.Success("Serving API at %s/api/v1", daemon.Info{Addr: addr}.URL())
	appLog.WithField("addr", addr).Info("api server started")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	appLog.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func serveStartRun() error {
	pf := pidFile()
	if info, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d) at %s", info.PID, info.URL())
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	args := []string{"serve", "--port", strconv.Itoa(viper.GetInt("port"))}
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}

	if dryRun {
		ui.DryRunMsg("Would start %s %v (log: %s)", exe, args, serveLogPath())
		return nil
	}

	if err := os.MkdirAll(viper.GetString("state_dir"), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	detachServer(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	pid := child.Process.Pid
	_ = child.Process.Release()

	ui.Success("Server started (pid %d) at %s", pid, daemon.Info{Addr: serveAddr()}.URL())
	ui.Info("Logs: %s", serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	info, running := pf.IsRunning()
	if !running {
		_ = pf.Remove()
		return fmt.Errorf("server is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (pid %d)", info.PID)
		return nil
	}

	graceful, force := stopSignals()
	if err := pf.Signal(graceful); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		if _, alive := pf.IsRunning(); !alive {
			_ = pf.Remove()
			ui.Success("Server stopped (pid %d)", info.PID)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	ui.Warning("Server did not exit within %s, killing it", stopTimeout)
	if err := pf.Signal(force); err != nil {
		return fmt.Errorf("kill server: %w", err)
	}
	_ = pf.Remove()
	ui.Success("Server killed (pid %d)", info.PID)
	return nil
}

func serveStatusRun() error {
	info, running := pidFile().IsRunning()
	if !running {
		ui.Info("Server is not running")
		return nil
	}

	ui.Success("Server running (pid %d) at %s", info.PID, info.URL())
	if info.Addr == "" {
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(info.URL() + "/healthz")
	if err != nil {
		ui.Warning("Health check failed: %v", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		ui.Warning("Health check returned %s", resp.Status)
		return nil
	}
	ui.Info("Health: ok")
	return nil
}
