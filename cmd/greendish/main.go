package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vitwit/greendish"
	"github.com/vitwit/greendish/config"
	"github.com/vitwit/greendish/logger"
)

var version = "dev"

var (
	cfgFile  string
	logLevel string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "greendish",
		Short:         "GreenDish wallet session and restaurant registration",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newSwitchNetworkCmd())
	rootCmd.AddCommand(newNetworksCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newRewardsCmd())
	rootCmd.AddCommand(newRegisterCmd())

	return rootCmd
}

// app is a loaded configuration plus the GreenDish instance built from it.
type app struct {
	cfg    *config.Config
	logger logger.Logger
	gd     *greendish.GreenDish
}

func loadApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	l, err := logger.NewZapLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	gd, err := greendish.New(cfg, greendish.WithLogger(l))
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: l, gd: gd}, nil
}

func (a *app) Close() {
	a.gd.Close()
	if s, ok := a.logger.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

// connect restores or requests a wallet connection and waits for the
// contract probes it starts.
func (a *app) connect(ctx context.Context) error {
	if err := a.gd.Open(ctx); err != nil {
		return err
	}
	if !a.gd.Snapshot().Connection.IsConnected() {
		if err := a.gd.Connect(ctx); err != nil {
			return err
		}
	}
	a.gd.Wait()
	return nil
}

func commandContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
