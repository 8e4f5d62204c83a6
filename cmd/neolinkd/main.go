package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"NeoLink-Agent/internal/config"
	"NeoLink-Agent/pkg/logger"
)

// version 在构建时通过 -ldflags 注入。
var version = "dev"

// main 是 NeoLink 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "neolinkd:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "neolinkd",
		Short:         "NeoLink DeFi WhatsApp agent",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the JSON config (default $NEOLINK_CONFIG or configs/neolink.json)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(
		newServeCommand(opts),
		newClassifyCommand(opts),
		newChatCommand(opts),
		newTokenCommand(opts),
	)
	return root
}

// loadConfig 读取 .env 与配置文件；未显式指定且默认文件不存在时只使用环境变量。
func loadConfig(opts *rootOptions) (*config.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return nil, err
	}
	path := opts.configPath
	explicit := path != ""
	if path == "" {
		path = os.Getenv("NEOLINK_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = filepath.Join("configs", "neolink.json")
	}
	if _, err := os.Stat(path); err != nil && !explicit {
		return config.Default("."), nil
	}
	return config.Load(path)
}

func initLogger(cfg *config.Config) error {
	return logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	})
}
