// Command brain runs the multi-agent assistant: the HTTP API and chat
// gateways, one-off requests from the shell, and an event tail.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nidhogg/aibrain/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set at build time.
var Version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	_ = godotenv.Load()

	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "brain",
		Short:         "Multi-agent personal assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(), "path to a JSON or YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override server.log_level")

	root.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newAgentsCmd(opts),
		newEventsCmd(opts),
		newVersionCmd(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/brain.json"
}

// load reads the config and builds the logger it asks for. A missing file
// at the default path falls back to built-in defaults.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, err
		}
		cfg = config.Default()
		config.ApplyEnv(cfg)
	}
	level := cfg.Server.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	logger, err := newLogger(level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
