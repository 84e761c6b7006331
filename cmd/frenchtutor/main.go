package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ent0n29/frenchtutor/internal/config"
	"github.com/ent0n29/frenchtutor/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	cfg      config.Config
	logger   zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "frenchtutor",
	Short:         "Voice French tutor service",
	Long:          "A French conversation tutor: a speech reliability core driving browser speech engines, a chat model, and a small HTTP/WebSocket server.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./frenchtutor.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")
}

func initConfig() error {
	var err error
	cfg, err = config.LoadFile(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger = logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return nil
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chunksCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(replayCmd)

	if err := rootCmd.Execute(); err != nil {
		l := logging.Logger()
		l.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
