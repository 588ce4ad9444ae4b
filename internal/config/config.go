package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"IntentForge/pkg/logger"
)

// 环境变量名称。
const (
	EnvConfigPath   = "INTENTD_CONFIG"
	EnvPrivateKey   = "INTENTD_PRIVATE_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvLLMProvider  = "AI_PROVIDER"
	EnvStorageDSN   = "INTENTD_STORAGE_DSN"
)

// Config 描述了 IntentForge 守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging logger.Config `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Queue   QueueConfig   `json:"queue"`
	LLM     LLMConfig     `json:"llm"`
	Web3    Web3Config    `json:"web3"`
	Runtime RuntimeConfig `json:"runtime"`
	Alerts  AlertsConfig  `json:"alerts"`
	Auth    AuthConfig    `json:"auth"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
	// MetricsAddress 非空时在独立端口暴露 /metrics。
	MetricsAddress string `json:"metrics_address"`
}

// StorageConfig 描述操作记录的持久化后端。
type StorageConfig struct {
	Operations OperationStoreConfig `json:"operations"`
}

// OperationStoreConfig 支持 memory 与 mysql 两种驱动。
type OperationStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// ConnMaxLifetime 返回连接的最长存活时间。
func (c OperationStoreConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// QueueConfig 描述待执行操作的投递队列。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 对应 Redis 列表队列。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Key              string `json:"key"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 对应 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
}

// LLMConfig 用于配置自然语言意图解析的调用方式。Provider 取值 anthropic、
// openai 或 none，默认 anthropic。
type LLMConfig struct {
	Provider  string          `json:"provider"`
	Anthropic AnthropicConfig `json:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai"`
}

// Timeout 返回当前提供方的请求超时时间。
func (c LLMConfig) Timeout() time.Duration {
	switch c.Provider {
	case "anthropic":
		return c.Anthropic.Timeout()
	case "openai":
		return c.OpenAI.Timeout()
	}
	return 0
}

// AnthropicConfig 描述 Anthropic Messages API。
type AnthropicConfig struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	MaxTokens      int    `json:"max_tokens"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回请求超时时间。
func (c AnthropicConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OpenAIConfig 描述兼容 OpenAI Chat Completions 接口的服务。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回请求超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Web3Config 包含链端点、注册表覆盖文件以及签名私钥。
type Web3Config struct {
	ChainConfig     string `json:"chain_config"`
	RegistryOverlay string `json:"registry_overlay"`
	PrivateKey      string `json:"private_key"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
	Workers int    `json:"workers"`
	// ExecutionTimeoutSeconds 为 0 时不限制执行时长，只能由用户取消结束等待。
	ExecutionTimeoutSeconds int `json:"execution_timeout_seconds"`
	DeadlineMinutes         int `json:"deadline_minutes"`
}

// ExecutionTimeout 返回单个操作从领取到结束的时限，0 表示不限制。
func (c RuntimeConfig) ExecutionTimeout() time.Duration {
	if c.ExecutionTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.ExecutionTimeoutSeconds) * time.Second
}

// Deadline 返回交易截止时间的偏移量。
func (c RuntimeConfig) Deadline() time.Duration {
	return time.Duration(c.DeadlineMinutes) * time.Minute
}

// AlertsConfig 控制链上失败等事件的告警通道。
type AlertsConfig struct {
	Webhook string `json:"webhook"`
}

// AuthConfig 控制 API 的令牌认证。
type AuthConfig struct {
	Mode   string           `json:"mode"`
	Tokens []APITokenConfig `json:"tokens"`
}

// APITokenConfig 描述一个 API 令牌。TokenEnv 非空时从对应环境变量读取密钥。
type APITokenConfig struct {
	Name        string   `json:"name"`
	Token       string   `json:"token"`
	TokenEnv    string   `json:"token_env"`
	Permissions []string `json:"permissions"`
}

// Load 负责解析指定路径的 JSON 配置文件。
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

	baseDir := filepath.Dir(path)
	if err := loadDotEnv(baseDir); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ResolvePath 返回配置文件路径，优先使用环境变量。
func ResolvePath(flagValue string) string {
	if v := strings.TrimSpace(os.Getenv(EnvConfigPath)); v != "" {
		return v
	}
	return flagValue
}

// loadDotEnv 读取配置目录下的 .env，已存在的环境变量不会被覆盖。
func loadDotEnv(baseDir string) error {
	path := filepath.Join(baseDir, ".env")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("检查 .env 文件失败: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("加载 .env 文件失败: %w", err)
	}
	return nil
}

// applyEnv 使用环境变量覆盖敏感字段。
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvPrivateKey)); v != "" {
		c.Web3.PrivateKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvOpenAIKey)); v != "" {
		c.LLM.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAnthropicKey)); v != "" {
		c.LLM.Anthropic.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLLMProvider)); v != "" {
		c.LLM.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStorageDSN)); v != "" {
		c.Storage.Operations.DSN = v
	}
	for i := range c.Auth.Tokens {
		if name := strings.TrimSpace(c.Auth.Tokens[i].TokenEnv); name != "" {
			if v := strings.TrimSpace(os.Getenv(name)); v != "" {
				c.Auth.Tokens[i].Token = v
			}
		}
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Operations.Driver == "" {
		c.Storage.Operations.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 64
	}
	if c.Queue.Redis.Key == "" {
		c.Queue.Redis.Key = "intentforge:operations"
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "intentforge.operations"
	}

	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.Anthropic.BaseURL == "" {
		c.LLM.Anthropic.BaseURL = "https://api.anthropic.com"
	}
	if c.LLM.Anthropic.Model == "" {
		c.LLM.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if c.LLM.Anthropic.MaxTokens <= 0 {
		c.LLM.Anthropic.MaxTokens = 1024
	}
	if c.LLM.Anthropic.TimeoutSeconds <= 0 {
		c.LLM.Anthropic.TimeoutSeconds = 30
	}
	if c.LLM.OpenAI.BaseURL == "" {
		c.LLM.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 30
	}

	c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)
	c.Web3.RegistryOverlay = resolve(baseDir, c.Web3.RegistryOverlay)

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}
	if c.Runtime.Workers <= 0 {
		c.Runtime.Workers = 2
	}
	if c.Runtime.ExecutionTimeoutSeconds < 0 {
		c.Runtime.ExecutionTimeoutSeconds = 0
	}
	if c.Runtime.DeadlineMinutes <= 0 {
		c.Runtime.DeadlineMinutes = 30
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
	}
}

func (c *Config) validate() error {
	switch c.Storage.Operations.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.Operations.DSN) == "" {
			return errors.New("使用 mysql 存储时必须配置 dsn")
		}
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Storage.Operations.Driver)
	}

	switch c.Queue.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Queue.Redis.Address) == "" {
			return errors.New("使用 redis 队列时必须配置 address")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.Queue.RabbitMQ.URL) == "" {
			return errors.New("使用 rabbitmq 队列时必须配置 url")
		}
	default:
		return fmt.Errorf("不支持的队列驱动: %s", c.Queue.Driver)
	}

	switch c.LLM.Provider {
	case "anthropic", "openai", "none":
	default:
		return fmt.Errorf("不支持的 LLM 提供方: %s", c.LLM.Provider)
	}

	switch strings.ToLower(strings.TrimSpace(c.Auth.Mode)) {
	case "", "disabled":
	case "token":
		if len(c.Auth.Tokens) == 0 {
			return errors.New("token 认证模式至少需要配置一个令牌")
		}
	default:
		return fmt.Errorf("不支持的认证模式: %s", c.Auth.Mode)
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
