package agent

import (
	"context"
	"fmt"
	"sync"

	"resumind/internal/types"
)

// ChatHistory 定义了会话历史存储的接口。
// 历史是只追加的 {role, content} 序列，按会话ID隔离。
type ChatHistory interface {
	// GetHistory 获取指定会话的完整历史。
	// 会话不存在时返回空切片和 nil 错误。
	GetHistory(ctx context.Context, sessionID string) ([]types.HistoryEntry, error)

	// AddEntry 向指定会话追加一条记录。
	AddEntry(ctx context.Context, sessionID string, entry types.HistoryEntry) error

	// AddEntries 向指定会话批量追加多条记录。
	AddEntries(ctx context.Context, sessionID string, entries []types.HistoryEntry) error

	// ClearHistory 清除指定会话的全部历史。会话不存在时静默成功。
	ClearHistory(ctx context.Context, sessionID string) error
}

// WindowHistory 返回历史的最近 limit 条记录。limit<=0 时返回完整历史。
// 返回的是同一底层数组的切片，调用方不应修改元素。
func WindowHistory(entries []types.HistoryEntry, limit int) []types.HistoryEntry {
	if limit <= 0 || len(entries) <= limit {
		return entries
	}
	return entries[len(entries)-limit:]
}

// InMemoryChatHistory 是 ChatHistory 接口的内存实现。
// 非持久化，进程重启即丢失，适合单实例部署和测试。
type InMemoryChatHistory struct {
	// 使用读写锁以支持并发访问
	mu        sync.RWMutex
	histories map[string][]types.HistoryEntry
}

// NewInMemoryChatHistory 创建一个新的 InMemoryChatHistory 实例。
func NewInMemoryChatHistory() *InMemoryChatHistory {
	return &InMemoryChatHistory{
		histories: make(map[string][]types.HistoryEntry),
	}
}

// GetHistory 实现 ChatHistory 接口
func (m *InMemoryChatHistory) GetHistory(_ context.Context, sessionID string) ([]types.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history, ok := m.histories[sessionID]
	if !ok {
		return []types.HistoryEntry{}, nil
	}
	// 返回副本，防止外部修改内部存储
	cpy := make([]types.HistoryEntry, len(history))
	copy(cpy, history)
	return cpy, nil
}

// AddEntry 实现 ChatHistory 接口
func (m *InMemoryChatHistory) AddEntry(_ context.Context, sessionID string, entry types.HistoryEntry) error {
	if entry.Role == "" {
		return fmt.Errorf("会话 %s 的历史记录缺少role", sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.histories[sessionID] = append(m.histories[sessionID], entry)
	return nil
}

// AddEntries 实现 ChatHistory 接口
func (m *InMemoryChatHistory) AddEntries(ctx context.Context, sessionID string, entries []types.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.Role == "" {
			return fmt.Errorf("会话 %s 的批量历史记录中存在缺少role的条目", sessionID)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.histories[sessionID] = append(m.histories[sessionID], entries...)
	return nil
}

// ClearHistory 实现 ChatHistory 接口
func (m *InMemoryChatHistory) ClearHistory(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.histories, sessionID)
	return nil
}

var _ ChatHistory = (*InMemoryChatHistory)(nil)
