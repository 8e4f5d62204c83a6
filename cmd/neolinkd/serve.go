package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"NeoLink-Agent/internal/api"
	"NeoLink-Agent/internal/auth"
	"NeoLink-Agent/internal/config"
	"NeoLink-Agent/internal/observability/metrics"
	"NeoLink-Agent/pkg/logger"
)

var healthFeatures = []string{
	"Real blockchain data",
	"Live market prices",
	"Natural conversation",
	"DeFi education",
	"Gas fee tracking",
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("neolinkd")

	rt, err := buildRuntime(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rt.Start(bgCtx)

	authSvc, err := auth.NewService(auth.Config{
		Mode:       auth.Mode(cfg.Auth.Mode),
		Secret:     cfg.Auth.Secret,
		Issuer:     cfg.Auth.Issuer,
		TTLSeconds: cfg.Auth.TTLSeconds,
	})
	if err != nil {
		return err
	}
	if cfg.Twilio.AuthToken == "" {
		log.Warn("未配置 TWILIO_AUTH_TOKEN，webhook 签名校验已关闭")
	}

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(bgCtx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", "error", err)
			}
		}()
	}

	serverOpts := []api.Option{
		api.WithAuth(authSvc),
		api.WithTwilioValidator(auth.NewTwilioValidator(cfg.Twilio.AuthToken, cfg.Twilio.PublicURL)),
		api.WithRateLimit(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		api.WithSessionCounter(rt.store),
		api.WithVersion(version),
		api.WithFeatures(healthFeatures...),
		api.WithMetricsRoute(cfg.Metrics.Address == ""),
		api.WithTimeouts(
			cfg.Agent.MessageTimeout(),
			config.Duration(cfg.Server.ReadHeaderTimeoutSeconds),
			config.Duration(cfg.Server.ShutdownTimeoutSeconds),
		),
	}
	if rt.repo != nil {
		serverOpts = append(serverOpts, api.WithTurnHistory(rt.repo))
	}
	if rt.registry != nil {
		serverOpts = append(serverOpts, api.WithChains(rt.registry))
	}

	server := api.NewServer(cfg.Server.Address, rt.agent, serverOpts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("NeoLink 已停止")
	return nil
}
