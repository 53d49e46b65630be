package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"resumind/internal/types"
)

// OpenAIConfig OpenAI兼容接口的模型配置
type OpenAIConfig struct {
	APIKey    string          `yaml:"api_key,omitempty"` // 通常通过环境变量 OPENAI_API_KEY 注入
	ChatURL   string          `yaml:"chat_url"`          // chat/completions 端点
	ChatModel string          `yaml:"chat_model"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// EmbeddingConfig Embedding专用配置
type EmbeddingConfig struct {
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`
}

// QdrantConfig Qdrant向量库配置
type QdrantConfig struct {
	Endpoint          string `yaml:"endpoint"`                // 环境变量 QDRANT_URL 优先
	APIKey            string `yaml:"api_key,omitempty"`       // 环境变量 QDRANT_API_KEY 优先
	Collection        string `yaml:"collection"`              // 被搜索的逻辑分区
	ContentPayloadKey string `yaml:"content_payload_key"`     // 哪个payload字段作为简历正文
	Dimension         int    `yaml:"dimension"`               // 查询向量维度
	TimeoutSeconds    int    `yaml:"timeout_seconds"`         // HTTP客户端超时
	SearchLimit       int    `yaml:"default_search_limit"`    // 相似度搜索返回数
}

// RedisConfig 可选的会话历史后端配置
type RedisConfig struct {
	Address    string `yaml:"address"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	KeyPrefix  string `yaml:"key_prefix"`
	TTLMinutes int    `yaml:"ttl_minutes"`
}

// ServerConfig HTTP服务器配置
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"` // json 或 pretty
	TimeFormat   string `yaml:"time_format"`
	ReportCaller bool   `yaml:"report_caller"`
	FilePath     string `yaml:"file_path,omitempty"` // 为空则只写控制台
}

// TracingConfig OpenTelemetry导出配置
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"` // gRPC端点，例如 localhost:4317
	ServiceName  string `yaml:"service_name"`
}

// Config 应用程序配置
type Config struct {
	OpenAI OpenAIConfig `yaml:"openai"`
	Qdrant QdrantConfig `yaml:"qdrant"`

	// 会话历史后端: "memory"（默认）或 "redis"
	HistoryBackend string      `yaml:"history_backend"`
	Redis          RedisConfig `yaml:"redis"`

	Server  ServerConfig  `yaml:"server"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracing TracingConfig `yaml:"tracing"`

	// 模型QPM限制，键为模型名；缺省为不限流
	ModelQPMLimits map[string]int `yaml:"model_qpm_limits"`
}

// LoadConfig 从YAML文件加载配置，并用环境变量覆盖密钥字段。
// configPath 为空时在常见位置查找 config.yaml；找不到则使用默认值。
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		searchPaths := []string{
			"config.yaml",
			"./config.yaml",
			"../config.yaml",
			filepath.Join(os.Getenv("HOME"), ".resumind", "config.yaml"),
		}
		for _, path := range searchPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}

	cfg := createDefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件 %s 失败: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件 %s 失败: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// applyEnvOverrides 密钥类配置以环境变量为准
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("QDRANT_URL"); v != "" {
		cfg.Qdrant.Endpoint = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		cfg.Qdrant.APIKey = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.OpenAI.ChatModel == "" {
		cfg.OpenAI.ChatModel = "gpt-4o-mini"
	}
	if cfg.OpenAI.Embedding.Model == "" {
		cfg.OpenAI.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "resume_collection"
	}
	if cfg.Qdrant.ContentPayloadKey == "" {
		cfg.Qdrant.ContentPayloadKey = "resume_text"
	}
	if cfg.Qdrant.SearchLimit <= 0 {
		cfg.Qdrant.SearchLimit = 5
	}
	if cfg.HistoryBackend == "" {
		cfg.HistoryBackend = "memory"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8888"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "resumind"
	}
}

// Validate 校验启动所必需的外部凭证。缺失即为致命错误，
// 服务不提供降级启动模式。
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY", types.ErrSecretsMissing)
	}
	if c.Qdrant.Endpoint == "" {
		return fmt.Errorf("%w: QDRANT_URL", types.ErrSecretsMissing)
	}
	return nil
}

func createDefaultConfig() *Config {
	return &Config{}
}
