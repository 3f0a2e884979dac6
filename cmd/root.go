package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/example/resale-repricer/internal/config"
	"github.com/example/resale-repricer/internal/logging"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

type globalFlags struct {
	envFile   string
	logLevel  string
	logFormat string
}

func NewRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:           "repricer",
		Short:         "Keeps resale marketplace bids one step below the lowest ask",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "overrides LOG_LEVEL")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "overrides LOG_FORMAT (json or text)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newRunCmd(&g))
	root.AddCommand(newLoginCmd(&g))
	root.AddCommand(newQuoteCmd())
	root.AddCommand(newMatchCmd(&g))
	root.AddCommand(newStrategyCmd())
	root.AddCommand(newMigrateCmd(&g))

	return root
}

// setup loads configuration and builds the logger every command shares.
func (g *globalFlags) setup() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(g.envFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.LogFormat = g.logFormat
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

// logger builds the logger alone, for commands that need no account or
// connections and so must not fail on missing secrets.
func (g *globalFlags) logger() (*logrus.Logger, error) {
	level, format := g.logLevel, g.logFormat
	if level == "" {
		level = envOr("LOG_LEVEL", "info")
	}
	if format == "" {
		format = envOr("LOG_FORMAT", "text")
	}
	return logging.New(level, format, os.Stderr)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
