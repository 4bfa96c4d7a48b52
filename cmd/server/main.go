/*
main.go - Application entry point

PURPOSE:
  Command-line entry point of the resource scheduling engine. Loads
  configuration, wires the store, engine and HTTP API, and runs either the
  server or a single auto-assign batch.

COMMANDS:
  scheduler serve        Run the HTTP API (and the periodic auto-assign
                         scheduler when scheduler.enabled is set)
  scheduler auto-assign  Run one auto-assign batch and print the result

FLAGS:
  -c, --config                    Configuration file (yaml or json); optional
  --allow-priority-rescheduling   auto-assign only

ENVIRONMENT:
  Every config key can be overridden with SCHED_<SECTION>__<KEY>, e.g.
  SCHED_SERVER__PORT=3000 or SCHED_DATABASE__PATH=:memory:. A .env file in
  the working directory is read first.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the background scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and Redis connections

SEE ALSO:
  - app.go: Dependency wiring
  - config/config.go: Configuration sections
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/resource-scheduler/api"
	"github.com/warp/resource-scheduler/config"
	"github.com/warp/resource-scheduler/scheduling"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "scheduler",
	Short:         "Resource scheduling engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  serve,
}

var allowRescheduling bool

var autoAssignCmd = &cobra.Command{
	Use:   "auto-assign",
	Short: "Run one auto-assign batch and print the result",
	RunE:  autoAssign,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file")
	autoAssignCmd.Flags().BoolVar(&allowRescheduling, "allow-priority-rescheduling", false, "move lower-priority assignments out of the way")
	rootCmd.AddCommand(serveCmd, autoAssignCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Scheduler.Enabled {
		sched := api.NewAutoAssignScheduler(a.handler.RunAutoAssign, scheduling.AutoAssignOptions{
			AllowPriorityRescheduling: cfg.Scheduler.AllowPriorityRescheduling,
		}, cfg.Scheduler.Interval)
		sched.Start()
		defer sched.Stop()
	}

	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewRouter(a.handler, api.RouterOptions{
			CORSOrigins: cfg.Server.CORSOrigins,
			Metrics:     a.metrics,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Infof("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.log.Infof("server stopped")
	return nil
}

func autoAssign(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.handler.RunAutoAssign(ctx, scheduling.AutoAssignOptions{
		AllowPriorityRescheduling: allowRescheduling || cfg.Scheduler.AllowPriorityRescheduling,
	})
	if result == nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result); encErr != nil {
		return encErr
	}
	return err
}
