// -- cmd/run.go --
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/djbob2000/linked-clicker-sub000/api/schemas"
	"github.com/djbob2000/linked-clicker-sub000/internal/browser"
	"github.com/djbob2000/linked-clicker-sub000/internal/controller"
	"github.com/djbob2000/linked-clicker-sub000/internal/observability"
)

var (
	flagMaxConnections int
	flagMinMutual      int
	flagHeadless       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one automation pass: authenticate, open the list, process items.",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()

		// CLI flags win over file and environment configuration.
		if cmd.Flags().Changed("max-connections") {
			cfg.Processing.MaxConnections = flagMaxConnections
		}
		if cmd.Flags().Changed("min-mutual") {
			cfg.Processing.MinMutualConnections = flagMinMutual
		}
		if cmd.Flags().Changed("headless") {
			cfg.Browser.Headless = flagHeadless
		}

		ctrl := controller.New(cfg, logger,
			func(ctx context.Context) (schemas.Driver, error) {
				return browser.New(ctx, cfg, logger)
			}, nil)

		unsubscribe := ctrl.OnStatusChange(func(s schemas.RunStatus) {
			logger.Debug("Status changed.",
				zap.String("step", string(s.CurrentStep)),
				zap.Uint("processed", s.ItemsProcessed),
				zap.Uint("succeeded", s.ItemsSucceeded))
		})
		defer unsubscribe()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			ctrl.Stop()
		}()

		status, err := ctrl.Start(ctx)
		if err != nil {
			return err
		}
		logger.Info("Run complete.",
			zap.Uint("processed", status.ItemsProcessed),
			zap.Uint("succeeded", status.ItemsSucceeded),
			zap.Uint("limit", status.ItemLimit))
		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&flagMaxConnections, "max-connections", 10, "stop after this many successful connection requests")
	runCmd.Flags().IntVar(&flagMinMutual, "min-mutual", 5, "minimum mutual connections for an item to be eligible")
	runCmd.Flags().BoolVar(&flagHeadless, "headless", true, "run the browser headless")
	rootCmd.AddCommand(runCmd)
}
