package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"NeoLink-Agent/internal/agent"
	"NeoLink-Agent/internal/capability"
	"NeoLink-Agent/internal/capability/coingecko"
	"NeoLink-Agent/internal/capability/warmer"
	"NeoLink-Agent/internal/config"
	xerrors "NeoLink-Agent/internal/errors"
	"NeoLink-Agent/internal/intent"
	"NeoLink-Agent/internal/journal"
	"NeoLink-Agent/internal/knowledge"
	"NeoLink-Agent/internal/llm"
	"NeoLink-Agent/internal/llm/openai"
	"NeoLink-Agent/internal/llm/pythonbridge"
	"NeoLink-Agent/internal/observability/alerting"
	"NeoLink-Agent/internal/observability/metrics"
	"NeoLink-Agent/internal/session"
	redisstore "NeoLink-Agent/internal/storage/redis"
	"NeoLink-Agent/internal/storage/sqlstore"
	"NeoLink-Agent/internal/web3/provider"
	"NeoLink-Agent/pkg/logger"
)

// runtime 汇总一次进程内需要启动和释放的全部组件。
type runtime struct {
	agent      *agent.Agent
	classifier *intent.Classifier
	store      *session.MemoryStore
	registry   *provider.Registry
	redis      *goredis.Client
	queue      journal.Queue
	repo       journal.Repository
	journal    *journal.Journal
	recorder   *journal.Recorder
	warmer     *warmer.Warmer
	logger     *slog.Logger
}

// buildRuntime 按配置装配智能体。offline 为 true 时不访问任何外部服务。
func buildRuntime(ctx context.Context, cfg *config.Config, offline bool) (rt *runtime, err error) {
	rt = &runtime{logger: logger.Named("neolinkd")}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	if rt.classifier, err = buildClassifier(cfg); err != nil {
		return rt, err
	}

	if !offline && (cfg.Redis.URL != "" || cfg.Redis.Address != "") {
		rt.redis, err = redisstore.Dial(ctx, redisstore.Config{
			URL:         cfg.Redis.URL,
			Address:     cfg.Redis.Address,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return rt, err
		}
	}

	providers, native, err := rt.buildProviders(ctx, cfg, offline)
	if err != nil {
		return rt, err
	}

	llmClient, err := buildLLMClient(cfg, offline)
	if err != nil {
		return rt, err
	}
	kb, err := buildKnowledge(cfg)
	if err != nil {
		return rt, err
	}
	fallback := agent.NewFallback(llmClient, kb,
		agent.WithFallbackTimeout(cfg.LLM.Timeout()),
		agent.WithMaxReplyRunes(cfg.LLM.MaxReplyRunes),
		agent.WithMaxTokens(cfg.LLM.MaxTokens),
		agent.WithPersona(cfg.LLM.Persona),
	)
	dispatcher := agent.NewDispatcher(providers, fallback, agent.WithNativeSymbol(native))

	agentOpts := []agent.Option{agent.WithMetrics(metrics.Default())}
	if !cfg.Journal.Disabled && !offline {
		if err := rt.buildJournal(ctx, cfg); err != nil {
			return rt, err
		}
		agentOpts = append(agentOpts, agent.WithJournal(rt.journal))
	}

	rt.store = session.NewMemoryStore()
	rt.agent = agent.New(rt.store, rt.classifier, dispatcher, agentOpts...)
	return rt, nil
}

func buildClassifier(cfg *config.Config) (*intent.Classifier, error) {
	tables := intent.DefaultTables()
	if cfg.Classifier.Tables != "" {
		loaded, err := intent.LoadTables(cfg.Classifier.Tables)
		if err != nil {
			return nil, err
		}
		tables = loaded
	}
	return intent.NewClassifier(tables), nil
}

func (rt *runtime) buildProviders(ctx context.Context, cfg *config.Config, offline bool) (capability.Providers, string, error) {
	providers := capability.Providers{
		Timeout: cfg.Providers.Timeout(),
		Observe: observeProvider,
	}
	native := rt.classifier.NativeSymbol()

	if offline || cfg.Providers.Mode == "static" {
		static := capability.NewStatic()
		providers.Price, providers.Gas, providers.Balance = static, static, static
		return providers, native, nil
	}

	registry, err := provider.NewRegistry(ctx, provider.Config{
		ChainConfig:  cfg.Web3.ChainConfig,
		DefaultChain: cfg.Web3.DefaultChain,
		RPCURL:       cfg.Web3.RPCURL,
		NativeSymbol: cfg.Web3.NativeSymbol,
	})
	if err != nil {
		return providers, "", err
	}
	rt.registry = registry
	chain, err := registry.DefaultClient()
	if err != nil {
		return providers, "", err
	}
	providers.Gas, providers.Balance = chain, chain
	native = chain.NativeSymbol()

	var price capability.PriceProvider = coingecko.NewClient(coingecko.Config{
		BaseURL:       cfg.Providers.CoinGecko.BaseURL,
		APIKey:        cfg.Providers.CoinGecko.APIKey,
		Currency:      cfg.Providers.CoinGecko.Currency,
		CoinIDs:       cfg.Providers.CoinGecko.CoinIDs,
		Timeout:       cfg.Providers.Timeout(),
		RatePerMinute: cfg.Providers.CoinGecko.RatePerMinute,
	})
	if rt.redis != nil {
		price = redisstore.NewPriceCache(price, rt.redis,
			redisstore.WithTTL(config.Duration(cfg.Providers.Cache.TTLSeconds)),
			redisstore.WithKeyPrefix(cfg.Providers.Cache.Prefix),
		)
		if cfg.Providers.Warmer.Enabled {
			rt.warmer, err = warmer.New(price, cfg.Providers.Warmer.Symbols, cfg.Providers.Warmer.Schedule,
				warmer.WithTimeout(cfg.Providers.Timeout()))
			if err != nil {
				return providers, "", err
			}
		}
	}
	providers.Price = price
	return providers, native, nil
}

func observeProvider(name string, res capability.Result) {
	if !res.OK() {
		metrics.Default().ObserveProviderFailure(name, string(res.Reason))
	}
}

func buildLLMClient(cfg *config.Config, offline bool) (llm.Client, error) {
	if offline || cfg.LLM.Provider == "static" {
		return llm.StaticClient{}, nil
	}
	if cfg.LLM.Provider == "python" {
		return pythonbridge.NewClient(pythonbridge.Config{
			Executable: cfg.LLM.Python.Executable,
			Script:     cfg.LLM.Python.Script,
			WorkingDir: cfg.LLM.Python.WorkingDir,
			Timeout:    cfg.LLM.Timeout(),
		})
	}
	apiKey := cfg.LLM.OpenAI.ResolveAPIKey()
	if apiKey == "" {
		return nil, errors.New("openai provider 需要配置 api_key 或 api_key_env")
	}
	return openai.NewClient(openai.Config{
		APIKey:      apiKey,
		BaseURL:     cfg.LLM.OpenAI.BaseURL,
		Model:       cfg.LLM.OpenAI.Model,
		Temperature: cfg.LLM.OpenAI.Temperature,
		Timeout:     cfg.LLM.Timeout(),
		Referer:     cfg.LLM.OpenAI.Referer,
		Title:       cfg.LLM.OpenAI.Title,
	})
}

func buildKnowledge(cfg *config.Config) (knowledge.Provider, error) {
	if cfg.Knowledge.Source == "" {
		return knowledge.NewStaticProvider(knowledge.DefaultSnippets(), cfg.Knowledge.MaxResults), nil
	}
	return knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
}

func (rt *runtime) buildJournal(ctx context.Context, cfg *config.Config) error {
	jc := cfg.Journal
	switch jc.Queue.Driver {
	case "", "memory":
		rt.queue = journal.NewMemoryQueue(jc.Queue.Size)
	case "redis":
		if rt.redis == nil {
			return errors.New("redis 队列需要配置 redis 连接")
		}
		queue, err := journal.NewRedisQueue(rt.redis, journal.RedisQueueConfig{
			Queue:     jc.Queue.Redis.Queue,
			BlockWait: config.Duration(jc.Queue.Redis.BlockWaitSeconds),
		})
		if err != nil {
			return err
		}
		rt.queue = queue
	case "rabbitmq":
		queue, err := journal.NewRabbitMQQueue(journal.RabbitMQConfig{
			URL:        jc.Queue.RabbitMQ.URL,
			Queue:      jc.Queue.RabbitMQ.Queue,
			Prefetch:   jc.Queue.RabbitMQ.Prefetch,
			Durable:    jc.Queue.RabbitMQ.Durable,
			AutoDelete: jc.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		rt.queue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", jc.Queue.Driver)
	}

	switch jc.Store.Driver {
	case "", "file":
		if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
			return err
		}
		repo, err := journal.NewFileRepository(cfg.Runtime.DataDir)
		if err != nil {
			return err
		}
		rt.repo = repo
	default:
		repo, err := sqlstore.NewTurnRepository(ctx, sqlstore.Config{
			Driver:          jc.Store.Driver,
			DSN:             jc.Store.DSN,
			MaxOpenConns:    jc.Store.MaxOpenConns,
			MaxIdleConns:    jc.Store.MaxIdleConns,
			ConnMaxLifetime: config.Duration(jc.Store.ConnMaxLifetimeSeconds),
			ConnMaxIdleTime: config.Duration(jc.Store.ConnMaxIdleTimeSeconds),
		})
		if err != nil {
			return err
		}
		rt.repo = repo
	}

	rt.journal = journal.New(rt.queue,
		journal.WithPublishTimeout(config.Duration(jc.PublishTimeoutSeconds)),
		journal.WithBacklog(jc.Backlog),
	)
	rt.recorder = journal.NewRecorder(rt.queue, rt.repo,
		journal.WithWorkerCount(jc.Workers),
		journal.WithAlerts(buildAlerts(cfg.Alerting)),
	)
	return nil
}

func buildAlerts(cfg config.AlertingConfig) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if webhook := alerting.NewWebhookNotifier(cfg.WebhookURL, config.Duration(cfg.TimeoutSeconds)); webhook != nil {
		notifiers = append(notifiers, webhook)
	}
	return alerting.NewFanout(xerrors.Severity(cfg.MinSeverity), notifiers...)
}

// Start 启动后台任务：会话记录消费者与价格预热。
func (rt *runtime) Start(ctx context.Context) {
	if rt.recorder != nil {
		go func() {
			if err := rt.recorder.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				rt.logger.Error("会话记录器异常退出", "error", err)
			}
		}()
	}
	if rt.warmer != nil {
		go func() {
			if err := rt.warmer.Start(ctx); err != nil {
				rt.logger.Error("价格预热异常退出", "error", err)
			}
		}()
	}
}

// Close 释放所有外部连接。
func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			rt.logger.Warn("关闭会话记录队列失败", "error", err)
		}
	} else if rt.queue != nil {
		_ = rt.queue.Close()
	}
	if rt.repo != nil {
		if err := rt.repo.Close(); err != nil {
			rt.logger.Warn("关闭会话记录存储失败", "error", err)
		}
	}
	if rt.registry != nil {
		rt.registry.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}
