package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 描述了 NeoLink 在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Metrics    MetricsConfig    `json:"metrics"`
	Agent      AgentConfig      `json:"agent"`
	Classifier ClassifierConfig `json:"classifier"`
	Providers  ProvidersConfig  `json:"providers"`
	Redis      RedisConfig      `json:"redis"`
	Web3       Web3Config       `json:"web3"`
	LLM        LLMConfig        `json:"llm"`
	Knowledge  KnowledgeConfig  `json:"knowledge"`
	Journal    JournalConfig    `json:"journal"`
	Logging    LoggingConfig    `json:"logging"`
	Auth       AuthConfig       `json:"auth"`
	Twilio     TwilioConfig     `json:"twilio"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Alerting   AlertingConfig   `json:"alerting"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// ServerConfig 控制 HTTP 服务的监听地址等参数。
type ServerConfig struct {
	Address                  string `json:"address"`
	ReadHeaderTimeoutSeconds int    `json:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int    `json:"shutdown_timeout_seconds"`
}

// MetricsConfig 为空地址时指标挂载在主路由的 /metrics 上。
type MetricsConfig struct {
	Address string `json:"address"`
}

// AgentConfig 控制单条消息的处理预算。
type AgentConfig struct {
	MessageTimeoutSeconds int `json:"message_timeout_seconds"`
}

// MessageTimeout 返回单条消息的处理超时。
func (c AgentConfig) MessageTimeout() time.Duration {
	return seconds(c.MessageTimeoutSeconds)
}

// ClassifierConfig 指定关键字表文件，为空时使用内置表。
type ClassifierConfig struct {
	Tables string `json:"tables"`
}

// ProvidersConfig 描述行情、Gas 与余额数据源。
type ProvidersConfig struct {
	// Mode 为 live 时访问真实数据源，static 使用内置演示数据。
	Mode           string           `json:"mode"`
	TimeoutSeconds int              `json:"timeout_seconds"`
	CoinGecko      CoinGeckoConfig  `json:"coingecko"`
	Cache          PriceCacheConfig `json:"cache"`
	Warmer         WarmerConfig     `json:"warmer"`
}

// Timeout 返回数据源调用超时。
func (c ProvidersConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}

// CoinGeckoConfig 描述价格接口参数。
type CoinGeckoConfig struct {
	BaseURL       string            `json:"base_url"`
	APIKey        string            `json:"api_key"`
	Currency      string            `json:"currency"`
	RatePerMinute int               `json:"rate_per_minute"`
	CoinIDs       map[string]string `json:"coin_ids"`
}

// PriceCacheConfig 控制 Redis 价格缓存，Redis 未配置时不生效。
type PriceCacheConfig struct {
	TTLSeconds int    `json:"ttl_seconds"`
	Prefix     string `json:"prefix"`
}

// WarmerConfig 控制价格预热任务。
type WarmerConfig struct {
	Enabled  bool     `json:"enabled"`
	Schedule string   `json:"schedule"`
	Symbols  []string `json:"symbols"`
}

// RedisConfig 描述共享的 Redis 连接。
type RedisConfig struct {
	URL      string `json:"url"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Web3Config 包含访问区块链节点所需的信息。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
	NativeSymbol string `json:"native_symbol"`
}

// LLMConfig 用于配置兜底对话的大模型。
type LLMConfig struct {
	// Provider 支持 openai、python 与 static，static 不访问网络。
	Provider       string       `json:"provider"`
	OpenAI         OpenAIConfig `json:"openai"`
	Python         PythonConfig `json:"python"`
	TimeoutSeconds int          `json:"timeout_seconds"`
	MaxTokens      int          `json:"max_tokens"`
	MaxReplyRunes  int          `json:"max_reply_runes"`
	Persona        string       `json:"persona"`
}

// PythonConfig 指定通过标准输入输出调用的本地脚本。
type PythonConfig struct {
	Executable string `json:"executable"`
	Script     string `json:"script"`
	WorkingDir string `json:"working_dir"`
}

// Timeout 返回兜底对话的超时。
func (c LLMConfig) Timeout() time.Duration {
	return seconds(c.TimeoutSeconds)
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey      string  `json:"api_key"`
	APIKeyEnv   string  `json:"api_key_env"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Referer     string  `json:"referer"`
	Title       string  `json:"title"`
}

// ResolveAPIKey 优先使用配置中的密钥，其次读取 APIKeyEnv 指向的环境变量。
func (c OpenAIConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(c.APIKey); key != "" {
		return key
	}
	if c.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
	}
	return ""
}

// KnowledgeConfig 指定知识库文件，为空时使用内置 DeFi 条目。
type KnowledgeConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// JournalConfig 控制对话记录的异步写入。
type JournalConfig struct {
	Disabled              bool               `json:"disabled"`
	Workers               int                `json:"workers"`
	PublishTimeoutSeconds int                `json:"publish_timeout_seconds"`
	Backlog               int                `json:"backlog"`
	Queue                 JournalQueueConfig `json:"queue"`
	Store                 JournalStoreConfig `json:"store"`
}

// JournalQueueConfig 选择消息队列实现。
type JournalQueueConfig struct {
	Driver   string              `json:"driver"`
	Size     int                 `json:"size"`
	Redis    RedisQueueConfig    `json:"redis"`
	RabbitMQ RabbitMQQueueConfig `json:"rabbitmq"`
}

// RedisQueueConfig 描述基于 Redis 列表的队列。
type RedisQueueConfig struct {
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQQueueConfig 描述 RabbitMQ 队列。
type RabbitMQQueueConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// JournalStoreConfig 选择对话记录的持久化实现。
type JournalStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志输出。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// AuthConfig 保护 JSON 接口。
type AuthConfig struct {
	Mode       string `json:"mode"`
	Secret     string `json:"secret"`
	Issuer     string `json:"issuer"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// TwilioConfig 描述 WhatsApp webhook 的签名校验参数。
type TwilioConfig struct {
	AuthToken string `json:"auth_token"`
	// PublicURL 是 Twilio 看到的外部地址，位于反向代理之后时需要配置。
	PublicURL string `json:"public_url"`
}

// RateLimitConfig 按发送者限制消息频率，PerMinute 为 0 时关闭。
type RateLimitConfig struct {
	PerMinute int `json:"per_minute"`
	Burst     int `json:"burst"`
}

// AlertingConfig 描述会话记录落库失败时的告警渠道。审计日志渠道始终开启。
type AlertingConfig struct {
	WebhookURL     string `json:"webhook_url"`
	MinSeverity    string `json:"min_severity"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件，并应用默认值与环境变量覆盖。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回只依赖环境变量的配置，用于没有配置文件的场景。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	return cfg
}

// LoadDotEnv 读取 .env 文件，文件不存在时忽略。已存在的环境变量不会被覆盖。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("读取 %s 失败: %w", path, err)
		}
	}
	return nil
}

// applyEnv 使用环境变量覆盖敏感或与部署相关的字段。
func (c *Config) applyEnv() {
	if port := env("PORT"); port != "" {
		c.Server.Address = ":" + port
	}
	override(&c.Server.Address, "NEOLINK_ADDRESS")
	override(&c.Web3.RPCURL, "ETHEREUM_RPC_URL")
	override(&c.Redis.URL, "REDIS_URL")
	override(&c.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	override(&c.Twilio.PublicURL, "NEOLINK_PUBLIC_URL")
	override(&c.Auth.Secret, "NEOLINK_JWT_SECRET")
	override(&c.Providers.CoinGecko.APIKey, "COINGECKO_API_KEY")
	override(&c.Journal.Queue.RabbitMQ.URL, "RABBITMQ_URL")
	override(&c.Alerting.WebhookURL, "NEOLINK_ALERT_WEBHOOK")
	override(&c.Journal.Store.DSN, "NEOLINK_JOURNAL_DSN")
	override(&c.Logging.Level, "NEOLINK_LOG_LEVEL")

	if c.LLM.OpenAI.APIKey == "" && c.LLM.OpenAI.APIKeyEnv == "" {
		for _, name := range []string{"OPENROUTER_API_KEY", "OPENAI_API_KEY"} {
			if env(name) != "" {
				c.LLM.OpenAI.APIKeyEnv = name
				break
			}
		}
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadHeaderTimeoutSeconds <= 0 {
		c.Server.ReadHeaderTimeoutSeconds = 5
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}
	if c.Agent.MessageTimeoutSeconds <= 0 {
		c.Agent.MessageTimeoutSeconds = 30
	}

	c.Providers.Mode = strings.ToLower(strings.TrimSpace(c.Providers.Mode))
	if c.Providers.Mode == "" {
		if c.Web3.RPCURL == "" && c.Web3.ChainConfig == "" {
			c.Providers.Mode = "static"
		} else {
			c.Providers.Mode = "live"
		}
	}
	if c.Providers.TimeoutSeconds <= 0 {
		c.Providers.TimeoutSeconds = 8
	}
	if c.Providers.Cache.TTLSeconds <= 0 {
		c.Providers.Cache.TTLSeconds = 60
	}
	if c.Providers.Warmer.Schedule == "" {
		c.Providers.Warmer.Schedule = "@every 1m"
	}
	if len(c.Providers.Warmer.Symbols) == 0 {
		c.Providers.Warmer.Symbols = []string{"ETH", "BTC"}
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		if c.LLM.OpenAI.ResolveAPIKey() != "" {
			c.LLM.Provider = "openai"
		} else {
			c.LLM.Provider = "static"
		}
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 15
	}
	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 2
	}

	if c.Journal.Workers <= 0 {
		c.Journal.Workers = 2
	}
	if c.Journal.PublishTimeoutSeconds <= 0 {
		c.Journal.PublishTimeoutSeconds = 2
	}
	if c.Journal.Backlog <= 0 {
		c.Journal.Backlog = 256
	}
	if c.Journal.Queue.Driver == "" {
		c.Journal.Queue.Driver = "memory"
	}
	if c.Journal.Queue.Size <= 0 {
		c.Journal.Queue.Size = 256
	}
	if c.Journal.Store.Driver == "" {
		c.Journal.Store.Driver = "file"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}
	c.Alerting.MinSeverity = strings.ToLower(strings.TrimSpace(c.Alerting.MinSeverity))
	if c.Alerting.MinSeverity == "" {
		c.Alerting.MinSeverity = "warning"
	}
	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 5
	}

	c.Classifier.Tables = resolve(baseDir, c.Classifier.Tables)
	c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)
	c.Knowledge.Source = resolve(baseDir, c.Knowledge.Source)
	c.LLM.Python.Script = resolve(baseDir, c.LLM.Python.Script)
	c.LLM.Python.WorkingDir = resolve(baseDir, c.LLM.Python.WorkingDir)
	c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}
}

// Validate 检查互相依赖的字段。
func (c *Config) Validate() error {
	switch c.Providers.Mode {
	case "live", "static":
	default:
		return fmt.Errorf("未知的数据源模式: %s", c.Providers.Mode)
	}
	switch c.LLM.Provider {
	case "openai", "static":
	case "python":
		if c.LLM.Python.Script == "" {
			return errors.New("python provider 需要配置 llm.python.script")
		}
	default:
		return fmt.Errorf("未知的大模型 provider: %s", c.LLM.Provider)
	}
	switch c.Journal.Queue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.Journal.Queue.Driver)
	}
	switch c.Journal.Store.Driver {
	case "file":
	case "mysql", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Journal.Store.DSN) == "" {
			return fmt.Errorf("存储驱动 %s 需要配置 dsn", c.Journal.Store.Driver)
		}
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Journal.Store.Driver)
	}
	if !c.Journal.Disabled && c.Journal.Queue.Driver == "redis" && c.Redis.URL == "" && c.Redis.Address == "" {
		return errors.New("redis 队列需要配置 redis 连接")
	}
	if !c.Journal.Disabled && c.Journal.Queue.Driver == "rabbitmq" && c.Journal.Queue.RabbitMQ.URL == "" {
		return errors.New("rabbitmq 队列需要配置 url")
	}
	switch strings.ToLower(c.Alerting.MinSeverity) {
	case "", "info", "warning", "critical":
	default:
		return fmt.Errorf("未知的告警级别: %s", c.Alerting.MinSeverity)
	}
	if c.RateLimit.PerMinute < 0 || c.RateLimit.Burst < 0 {
		return errors.New("rate_limit 不能为负数")
	}
	return nil
}

func resolve(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func override(target *string, name string) {
	if value := env(name); value != "" {
		*target = value
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Duration 将秒数配置转换为 time.Duration，非正数返回 0。
func Duration(secondsValue int) time.Duration {
	if secondsValue <= 0 {
		return 0
	}
	return seconds(secondsValue)
}
