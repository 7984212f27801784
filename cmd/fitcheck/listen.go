package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/fitcheck/internal/cli"
	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

func listenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Watch for store transactions and credit them as they arrive",
		Long: `Run the transaction listener in the foreground. Purchases approved,
delivered or revoked in the store are applied to your balance as they arrive.
Metrics are served on --metrics-addr when set. Stop with Ctrl+C.`,
		RunE: runListen,
	}
	cmd.Flags().String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090")
	_ = viper.BindPFlag("metrics.addr", cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

func runListen(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	return withApp(ctx, func(a *app) error {
		var server *http.Server
		serverErr := make(chan error, 1)
		if a.cfg.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			server = &http.Server{
				Addr:              a.cfg.MetricsAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()
			a.logger.Info("serving metrics", "addr", a.cfg.MetricsAddr)
		}

		changes, unsubscribe := a.ledger.Subscribe()
		defer unsubscribe()

		if _, err := fmt.Fprintln(out, cli.FormatInfo("Listening for store transactions. Press Ctrl+C to stop.")); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, cli.RenderBalance(a.ledger.Remaining())); err != nil {
			return err
		}

		var runErr error
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case err := <-serverErr:
				runErr = fmt.Errorf("metrics server failed: %w", err)
				break loop
			case change, ok := <-changes:
				if !ok {
					break loop
				}
				a.logger.Info("balance changed",
					"kind", change.Kind,
					"reference", change.Reference,
					"previous", change.Previous,
					"remaining", change.Remaining)
				if _, err := fmt.Fprintln(out, cli.RenderBalance(change.Remaining)); err != nil {
					runErr = err
					break loop
				}
			}
		}

		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				common.LogError(err, "metrics server shutdown failed", common.Fields{"addr": a.cfg.MetricsAddr})
			}
		}
		return runErr
	})
}
