package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumind/internal/types"
)

// TestLoadConfigFromYAML 验证YAML配置能否被正确加载并套用默认值
func TestLoadConfigFromYAML(t *testing.T) {
	yamlContent := `
openai:
  chat_model: "gpt-4o-mini"
  embedding:
    model: "text-embedding-3-small"
    dimensions: 1536
qdrant:
  endpoint: "http://localhost:6333"
  collection: "resume_collection"
  content_payload_key: "resume_text"
  default_search_limit: 5
model_qpm_limits:
  gpt-4o-mini: 60
`
	tmpDir, err := os.MkdirTemp("", "config-test")
	require.NoError(t, err, "无法创建临时目录")
	defer os.RemoveAll(tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	err = os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err, "无法写入临时配置文件")

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err, "加载合法配置不应返回错误")
	require.NotNil(t, cfg)

	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.ChatModel)
	assert.Equal(t, 1536, cfg.OpenAI.Embedding.Dimensions)
	assert.Equal(t, "resume_collection", cfg.Qdrant.Collection)
	assert.Equal(t, "resume_text", cfg.Qdrant.ContentPayloadKey)
	assert.Equal(t, map[string]int{"gpt-4o-mini": 60}, cfg.ModelQPMLimits)

	// 未显式配置的字段应被默认值填充
	assert.Equal(t, "memory", cfg.HistoryBackend)
	assert.Equal(t, ":8888", cfg.Server.Address)
	assert.Equal(t, "info", cfg.Logger.Level)
}

// TestLoadConfigEnvOverridesSecrets 验证环境变量中的密钥覆盖文件中的值
func TestLoadConfigEnvOverridesSecrets(t *testing.T) {
	yamlContent := `
openai:
  api_key: "file-key"
qdrant:
  endpoint: "http://file-endpoint:6333"
`
	tmpDir, err := os.MkdirTemp("", "config-test-env")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("QDRANT_URL", "http://env-endpoint:6333")
	t.Setenv("QDRANT_API_KEY", "env-qdrant-key")

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.OpenAI.APIKey)
	assert.Equal(t, "http://env-endpoint:6333", cfg.Qdrant.Endpoint)
	assert.Equal(t, "env-qdrant-key", cfg.Qdrant.APIKey)
}

// TestValidateMissingSecrets 验证缺失凭证时返回 ErrSecretsMissing
func TestValidateMissingSecrets(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSecretsMissing)

	cfg.OpenAI.APIKey = "sk-test"
	err = cfg.Validate()
	require.Error(t, err, "缺少Qdrant端点时仍应报错")
	assert.ErrorIs(t, err, types.ErrSecretsMissing)

	cfg.Qdrant.Endpoint = "http://localhost:6333"
	assert.NoError(t, cfg.Validate())
}
