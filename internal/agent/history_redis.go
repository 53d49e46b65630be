package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"resumind/internal/types"
)

// RedisChatHistory 实现了 ChatHistory 接口，使用 Redis List 作为存储。
// 多实例部署时会话可以落在任意实例上，历史仍然一致。
type RedisChatHistory struct {
	redisClient *redis.Client
	keyPrefix   string        // 例如 "resumind:history:"，避免键冲突
	ttl         time.Duration // 可选：会话历史的过期时间，0表示不过期
}

// NewRedisChatHistory 创建一个新的 RedisChatHistory 实例。
// redisClient 必须是已配置好的 go-redis 客户端；创建时会Ping一次确认连通。
func NewRedisChatHistory(redisClient *redis.Client, keyPrefix string, ttl time.Duration) (*RedisChatHistory, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("%w: redis客户端不能为nil", types.ErrInitialization)
	}
	if keyPrefix == "" {
		keyPrefix = "resumind:history:"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: ping redis失败: %v", types.ErrInitialization, err)
	}

	return &RedisChatHistory{
		redisClient: redisClient,
		keyPrefix:   keyPrefix,
		ttl:         ttl,
	}, nil
}

func (h *RedisChatHistory) buildKey(sessionID string) string {
	return h.keyPrefix + sessionID
}

// GetHistory 实现 ChatHistory 接口
func (h *RedisChatHistory) GetHistory(ctx context.Context, sessionID string) ([]types.HistoryEntry, error) {
	key := h.buildKey(sessionID)

	serialized, err := h.redisClient.LRange(ctx, key, 0, -1).Result()
	if errors.Is(err, redis.Nil) {
		return []types.HistoryEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取会话 %s 的redis历史失败: %w", sessionID, err)
	}

	entries := make([]types.HistoryEntry, 0, len(serialized))
	for _, s := range serialized {
		var entry types.HistoryEntry
		if err := json.Unmarshal([]byte(s), &entry); err != nil {
			return nil, fmt.Errorf("反序列化会话 %s 的历史记录失败: %w", sessionID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// AddEntry 实现 ChatHistory 接口
func (h *RedisChatHistory) AddEntry(ctx context.Context, sessionID string, entry types.HistoryEntry) error {
	return h.AddEntries(ctx, sessionID, []types.HistoryEntry{entry})
}

// AddEntries 实现 ChatHistory 接口。
// RPush和Expire放在同一个事务pipeline里，保证TTL跟着写入一起刷新。
func (h *RedisChatHistory) AddEntries(ctx context.Context, sessionID string, entries []types.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	key := h.buildKey(sessionID)

	pipe := h.redisClient.TxPipeline()
	for _, entry := range entries {
		if entry.Role == "" {
			return fmt.Errorf("会话 %s 的批量历史记录中存在缺少role的条目", sessionID)
		}
		serialized, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("序列化会话 %s 的历史记录失败: %w", sessionID, err)
		}
		pipe.RPush(ctx, key, serialized)
	}
	if h.ttl > 0 {
		pipe.Expire(ctx, key, h.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入会话 %s 的redis历史失败: %w", sessionID, err)
	}
	return nil
}

// ClearHistory 实现 ChatHistory 接口
func (h *RedisChatHistory) ClearHistory(ctx context.Context, sessionID string) error {
	key := h.buildKey(sessionID)

	if err := h.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("清除会话 %s 的redis历史失败: %w", sessionID, err)
	}
	return nil
}

var _ ChatHistory = (*RedisChatHistory)(nil)
