package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/fitcheck/internal/cli"
	"github.com/Veraticus/fitcheck/internal/common"
	"github.com/Veraticus/fitcheck/internal/config"
)

var (
	cfgFile string
	version = "dev"
	rootCmd = &cobra.Command{
		Use:   "fitcheck",
		Short: "🪞 An honest stylist for your outfit photos",
		Long: `fitcheck: snap an outfit, pick the occasion, and get a spoken critique
with shoppable suggestions. Each analysis costs one credit; new users get a
few for free and more can be bought in packs.`,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/fitcheck/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().String("db", "", "database path (default: $HOME/.local/share/fitcheck/fitcheck.db)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(creditsCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(buyCmd())
	rootCmd.AddCommand(restoreCmd())
	rootCmd.AddCommand(listenCmd())
	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, cli.FormatError(common.UserMessage(err)))
		slog.Debug("command failed", "error", err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}

		viper.AddConfigPath(fmt.Sprintf("%s/.config/fitcheck", home))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("FITCHECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := setupLogging(); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	return nil
}

func setupLogging() error {
	level, err := common.ParseLevel(viper.GetString("logging.level"))
	if err != nil {
		return err
	}
	return common.SetupLogger(os.Stderr, level, viper.GetString("logging.format"))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("fitcheck " + version)
		},
	}
}
