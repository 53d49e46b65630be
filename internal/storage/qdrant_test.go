package storage_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumind/internal/config"
	"resumind/internal/storage"
)

// TestNewQdrant 测试Qdrant客户端初始化
func TestNewQdrant(t *testing.T) {
	cfg := &config.QdrantConfig{
		Endpoint:   "http://localhost:6333",
		Collection: "resume_collection",
		Dimension:  1536,
	}

	client, err := storage.NewQdrant(cfg, storage.WithHTTPTimeout(5*time.Second))
	require.NoError(t, err, "应该成功创建Qdrant客户端")
	require.NotNil(t, client, "客户端不应为nil")

	_, err = storage.NewQdrant(&config.QdrantConfig{})
	assert.Error(t, err, "缺少端点时应报错")

	_, err = storage.NewQdrant(nil)
	assert.Error(t, err, "nil配置应报错")
}

// TestSearchCandidatesSendsFilterAndLimit 验证搜索请求体携带过滤器和limit
func TestSearchCandidatesSendsFilterAndLimit(t *testing.T) {
	var gotBody map[string]interface{}
	var gotAPIKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/resume_collection/points/search" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotAPIKey = r.Header.Get("api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"result": [
				{"id": "p1", "score": 0.91, "payload": {"category": "HR", "resume_text": "A"}},
				{"id": "p2", "score": 0.85, "payload": {"category": "HR", "resume_text": "B"}}
			],
			"status": "ok",
			"time": 0.001
		}`))
	}))
	defer server.Close()

	cfg := &config.QdrantConfig{
		Endpoint:   server.URL,
		APIKey:     "secret-key",
		Collection: "resume_collection",
		Dimension:  3,
	}
	client, err := storage.NewQdrant(cfg)
	require.NoError(t, err)

	filter := storage.EqualityFilter("category", "HR")
	results, err := client.SearchCandidates(context.Background(), []float64{0.1, 0.2, 0.3}, 5, filter)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "p1", results[0].ID)
	assert.Equal(t, "HR", results[0].Payload["category"])
	assert.Equal(t, "A", results[0].Payload["resume_text"])

	// 请求体断言
	assert.Equal(t, "secret-key", gotAPIKey)
	assert.Equal(t, float64(5), gotBody["limit"])
	assert.Equal(t, true, gotBody["with_payload"])
	require.NotNil(t, gotBody["filter"], "过滤器应出现在请求体中")

	must := gotBody["filter"].(map[string]interface{})["must"].([]interface{})
	cond := must[0].(map[string]interface{})
	assert.Equal(t, "category", cond["key"])
	assert.Equal(t, "HR", cond["match"].(map[string]interface{})["value"])
}

// TestSearchCandidatesNoFilter 无过滤器时请求体不应带filter字段
func TestSearchCandidatesNoFilter(t *testing.T) {
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"result": [], "status": "ok", "time": 0.001}`))
	}))
	defer server.Close()

	client, err := storage.NewQdrant(&config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "resume_collection",
	})
	require.NoError(t, err)

	results, err := client.SearchCandidates(context.Background(), []float64{0.5}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, hasFilter := gotBody["filter"]
	assert.False(t, hasFilter, "无过滤器时不应发送filter字段")
}

// TestSearchCandidatesDimensionMismatch 查询向量维度与配置不符时拒绝请求
func TestSearchCandidatesDimensionMismatch(t *testing.T) {
	client, err := storage.NewQdrant(&config.QdrantConfig{
		Endpoint:   "http://localhost:6333",
		Collection: "resume_collection",
		Dimension:  1536,
	})
	require.NoError(t, err)

	_, err = client.SearchCandidates(context.Background(), []float64{0.1, 0.2}, 5, nil)
	assert.Error(t, err, "维度不匹配应报错")
}

// TestSearchCandidatesServerError 非2xx响应应返回错误
func TestSearchCandidatesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status": {"error": "out of memory"}}`))
	}))
	defer server.Close()

	client, err := storage.NewQdrant(&config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "resume_collection",
	})
	require.NoError(t, err)

	_, err = client.SearchCandidates(context.Background(), []float64{0.5}, 5, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant API error")
}

// TestCountPoints 验证点计数调用
func TestCountPoints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/resume_collection/points/count" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"result": {"count": 2484}, "status": "ok", "time": 0.002}`))
	}))
	defer server.Close()

	client, err := storage.NewQdrant(&config.QdrantConfig{
		Endpoint:   server.URL,
		Collection: "resume_collection",
	})
	require.NoError(t, err)

	count, err := client.CountPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2484), count)
}
