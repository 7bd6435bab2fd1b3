package main

import (
	"os"
	"time"

	"extranet-system/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "extranet",
		Short: "Ordering extranet for the clients of a food distributor",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.LoadConfig()
			setupLogger(cfg.LogLevel)
		},
		SilenceUsage: true,
	}
)

func setupLogger(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "extranet").Logger()
}

func main() {
	rootCmd.AddCommand(serveCmd, sweepCmd, migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}
