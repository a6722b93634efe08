package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/config"
)

var monitorWatch bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Scan the inbox for inquiry replies and expire unanswered inquiries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "monitor")
		if err != nil {
			return err
		}
		defer env.Close()

		if monitorWatch {
			zap.L().Info("watching inbox", zap.Int("interval_secs", cfg.Inquiry.MonitorIntervalSecs))
			env.Correlator.RunMonitor(ctx, config.Secs(cfg.Inquiry.MonitorIntervalSecs))
			return nil
		}

		report, err := env.Correlator.Monitor(ctx)
		if err != nil {
			return err
		}
		expired, err := env.Correlator.Expire(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("inbox scan complete",
			zap.Int("scanned", report.Scanned),
			zap.Int("priced", report.Priced),
			zap.Int64("expired", expired),
		)
		return printJSON(cmd.OutOrStdout(), report)
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorWatch, "watch", false, "keep scanning every inquiry.monitor_interval_secs")
	rootCmd.AddCommand(monitorCmd)
}
