package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/api"
	"github.com/sells-group/price-discovery/internal/config"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, discovery workers and inbox monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Booking.Enabled {
			initBooking(env)
		}

		if cfg.Server.MonitorInbox && env.Correlator.Inbox != nil {
			go env.Correlator.RunMonitor(ctx, config.Secs(cfg.Inquiry.MonitorIntervalSecs))
			zap.L().Info("inbox monitor started",
				zap.Int("interval_secs", cfg.Inquiry.MonitorIntervalSecs),
			)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildServer(env).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildServer maps the environment onto the API's dependencies, leaving
// optional services nil when they are not configured.
func buildServer(env *appEnv) *api.Server {
	deps := api.Deps{
		Catalog:   env.Store,
		Search:    env.Engine,
		Discovery: env.Scheduler,
	}
	if env.Correlator != nil && env.Correlator.Sender != nil {
		deps.Inquiries = env.Correlator
	}
	if env.Bookings != nil {
		deps.Bookings = env.Bookings
	}
	return api.NewServer(deps, api.Config{CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
