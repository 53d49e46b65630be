package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"

	"resumind/internal/agent"
	"resumind/internal/api/handler"
	"resumind/internal/api/router"
	"resumind/internal/config"
	applogger "resumind/internal/logger"
	"resumind/internal/parser"
	"resumind/internal/ratelimit"
	"resumind/internal/storage"
	"resumind/internal/tracing"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		applogger.Fatal().Err(err).Msg("加载配置失败")
	}

	initLogger(cfg)
	glog.Info("配置加载成功")

	// 缺少密钥是致命错误，不提供降级启动模式
	if err := cfg.Validate(); err != nil {
		glog.Fatalf("配置校验失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var shutdownTracer func(context.Context) error
	if cfg.Tracing.Enabled {
		shutdownTracer, err = tracing.InitTracerProvider(ctx, cfg.Tracing.ServiceName, cfg.Tracing.OTLPEndpoint)
		if err != nil {
			glog.Fatalf("初始化追踪失败: %v", err)
		}
		glog.Info("OpenTelemetry追踪已启用")
	}

	qdrantClient, err := storage.NewQdrant(&cfg.Qdrant)
	if err != nil {
		glog.Fatalf("初始化Qdrant客户端失败: %v", err)
	}
	// 集合由外部的索引流程填充，这里只确认它不是空的
	if count, err := qdrantClient.CountPoints(ctx); err != nil {
		glog.Warnf("查询Qdrant集合点数失败: %v", err)
	} else {
		glog.Infof("Qdrant集合 '%s' 当前有 %d 个点", cfg.Qdrant.Collection, count)
	}

	embedder, err := parser.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.Embedding)
	if err != nil {
		glog.Fatalf("初始化Embedder失败: %v", err)
	}
	glog.Info("Embedder初始化成功")

	var chatModel model.ToolCallingChatModel
	openAIModel, err := agent.NewOpenAIChatModel(cfg.OpenAI.APIKey, cfg.OpenAI.ChatModel, cfg.OpenAI.ChatURL)
	if err != nil {
		glog.Fatalf("初始化聊天模型失败: %v", err)
	}
	chatModel = ratelimit.WrapWithQPMLimit(openAIModel, openAIModel.ModelName(), cfg.ModelQPMLimits)
	glog.Info("聊天模型初始化成功")

	relevantDocsTool, err := agent.NewRelevantDocsTool(embedder, qdrantClient, cfg.Qdrant.ContentPayloadKey, cfg.Qdrant.SearchLimit)
	if err != nil {
		glog.Fatalf("初始化检索工具失败: %v", err)
	}

	orchestrator, err := agent.NewOrchestrator(ctx, chatModel, relevantDocsTool)
	if err != nil {
		glog.Fatalf("初始化编排器失败: %v", err)
	}
	glog.Info("对话编排器初始化成功")

	history, err := initChatHistory(cfg)
	if err != nil {
		glog.Fatalf("初始化会话历史后端失败: %v", err)
	}
	glog.Infof("会话历史后端: %s", cfg.HistoryBackend)

	pdfExtractor, err := parser.NewEinoPDFTextExtractor(ctx)
	if err != nil {
		glog.Fatalf("创建PDF提取器失败: %v", err)
	}
	glog.Info("使用Eino PDF解析器")

	chatHandler, err := handler.NewChatHandler(orchestrator, pdfExtractor, history)
	if err != nil {
		glog.Fatalf("初始化ChatHandler失败: %v", err)
	}

	serverOpts := []hertzconfig.Option{
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	}
	var traceCfg *hertztracing.Config
	if cfg.Tracing.Enabled {
		tracer, c := hertztracing.NewServerTracer()
		serverOpts = append(serverOpts, tracer)
		traceCfg = c
	}

	h := server.New(serverOpts...)
	if traceCfg != nil {
		h.Use(hertztracing.ServerMiddleware(traceCfg))
	}

	router.RegisterRoutes(h, chatHandler)
	glog.Info("HTTP路由注册成功")

	go func() {
		glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}
	if shutdownTracer != nil {
		if err := shutdownTracer(shutdownCtx); err != nil {
			glog.Errorf("关闭追踪导出器失败: %v", err)
		}
	}
	glog.Info("优雅退出完成")
}

// initLogger 按配置初始化zerolog全局日志，并把Hertz的日志也接到同一个输出
func initLogger(cfg *config.Config) {
	applogger.Init(applogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
		FilePath:     cfg.Logger.FilePath,
	})

	glog.SetLogger(hertzadapter.From(applogger.Logger))
	if cfg.Logger.Level == "debug" {
		glog.SetLevel(glog.LevelDebug)
	} else {
		glog.SetLevel(glog.LevelInfo)
	}
}

// initChatHistory 根据配置选择会话历史后端，默认纯内存
func initChatHistory(cfg *config.Config) (agent.ChatHistory, error) {
	if cfg.HistoryBackend != "redis" {
		return agent.NewInMemoryChatHistory(), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if cfg.Tracing.Enabled {
		if err := redisotel.InstrumentTracing(rdb); err != nil {
			glog.Warnf("为Redis客户端启用追踪失败: %v", err)
		}
	}

	return agent.NewRedisChatHistory(rdb, cfg.Redis.KeyPrefix, time.Duration(cfg.Redis.TTLMinutes)*time.Minute)
}
