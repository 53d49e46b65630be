package ratelimit

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"resumind/internal/logger"
)

// RateLimitedChatModel 是聊天模型的限流代理。
// 每次调用前从令牌桶取一个令牌，提供商侧的错误原样返回，不做重试，
// 同一次编排运行内是否重试由上层决定。
type RateLimitedChatModel struct {
	original    model.ToolCallingChatModel
	rateLimiter *TokenBucket
}

// NewRateLimitedChatModel 创建一个限流聊天模型代理
func NewRateLimitedChatModel(original model.ToolCallingChatModel, qpm int) *RateLimitedChatModel {
	return &RateLimitedChatModel{
		original:    original,
		rateLimiter: NewTokenBucket(qpm, qpm/2),
	}
}

// Generate 代理Generate方法，调用前等待令牌
func (rl *RateLimitedChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	if err := rl.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	return rl.original.Generate(ctx, messages, options...)
}

// Stream 代理Stream方法，调用前等待令牌
func (rl *RateLimitedChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := rl.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	return rl.original.Stream(ctx, messages, options...)
}

// WithTools 代理WithTools方法，绑定后的模型与原模型共享同一个令牌桶，
// 两阶段的两次调用合并受同一个QPM约束。
func (rl *RateLimitedChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	newModel, err := rl.original.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedChatModel{
		original:    newModel,
		rateLimiter: rl.rateLimiter,
	}, nil
}

// WrapWithQPMLimit 按模型名从配置里取QPM限制并包装模型。
// 找到限制时使用其90%作为安全值；没有配置该模型时原样返回不包装。
func WrapWithQPMLimit(original model.ToolCallingChatModel, modelName string, qpmLimits map[string]int) model.ToolCallingChatModel {
	if len(qpmLimits) == 0 || modelName == "" {
		return original
	}
	modelQPM, ok := qpmLimits[modelName]
	if !ok || modelQPM <= 0 {
		return original
	}

	safeQPM := int(float64(modelQPM) * 0.9)
	if safeQPM <= 0 {
		safeQPM = 1
	}
	logger.Info().Str("model", modelName).Int("qpm", safeQPM).Msg("聊天模型已启用QPM限流")
	return NewRateLimitedChatModel(original, safeQPM)
}

var _ model.ToolCallingChatModel = (*RateLimitedChatModel)(nil)
