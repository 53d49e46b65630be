package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockResponse 定义了 MockChatClient 的单次预期响应
type MockResponse struct {
	Content   string
	ToolCalls []schema.ToolCall
	Usage     *schema.TokenUsage
	Error     error
}

// MockChatClient 是 model.ToolCallingChatModel 的测试替身。
// 按配置顺序返回响应，并记录每次Generate收到的完整消息序列，
// 便于断言两阶段编排的报文内容。
type MockChatClient struct {
	mu sync.Mutex

	SequentialResponses []MockResponse
	ResponseIndex       int

	// ReceivedCalls 每个元素是一次Generate调用收到的消息序列副本
	ReceivedCalls [][]*schema.Message
	// BoundTools 记录最近一次WithTools绑定的工具
	BoundTools []*schema.ToolInfo
}

// NewMockChatClient 创建一个按顺序返回responses的 MockChatClient。
func NewMockChatClient(responses ...MockResponse) *MockChatClient {
	return &MockChatClient{
		SequentialResponses: responses,
		ReceivedCalls:       make([][]*schema.Message, 0),
	}
}

// Generate 按顺序弹出下一个预设响应
func (m *MockChatClient) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	received := make([]*schema.Message, len(input))
	copy(received, input)
	m.ReceivedCalls = append(m.ReceivedCalls, received)

	if m.ResponseIndex >= len(m.SequentialResponses) {
		return nil, errors.New("mock client没有更多预设响应了")
	}
	resp := m.SequentialResponses[m.ResponseIndex]
	m.ResponseIndex++

	if resp.Error != nil {
		return nil, resp.Error
	}

	msg := &schema.Message{
		Role:      schema.Assistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	}
	if resp.Usage != nil {
		msg.ResponseMeta = &schema.ResponseMeta{Usage: resp.Usage}
	}
	return msg, nil
}

// Stream 未实现，编排逻辑只用同步Generate
func (m *MockChatClient) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("MockChatClient 不支持 Stream")
}

// WithTools 记录绑定的工具并返回自身，
// 这样同一个mock的响应序列能覆盖绑定前后的两次调用。
func (m *MockChatClient) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BoundTools = tools
	return m, nil
}

// CallCount 返回Generate被调用的次数
func (m *MockChatClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ReceivedCalls)
}

var _ model.ToolCallingChatModel = (*MockChatClient)(nil)
