package types

import "errors"

// 定义基础错误类型
var (
	// ErrSecretsMissing 必需的外部凭证缺失，启动期致命
	ErrSecretsMissing = errors.New("缺少必需的密钥配置")
	// ErrInitialization 模型或向量库客户端构造失败，启动期致命
	ErrInitialization = errors.New("客户端初始化失败")
	// ErrExtraction 上传的文档不是合法的PDF，仅影响本次上传
	ErrExtraction = errors.New("文档文本提取失败")
	// ErrRetrieval 工具执行期间向量库调用失败
	ErrRetrieval = errors.New("向量检索失败")
	// ErrModelCall 任一阶段的模型调用失败
	ErrModelCall = errors.New("模型调用失败")
)
