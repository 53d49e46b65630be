package router

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"resumind/internal/api/handler"
	"resumind/internal/types"
)

// RegisterRoutes 注册 API 路由
func RegisterRoutes(h *server.Hertz, chatHandler *handler.ChatHandler) {
	api := h.Group("/api/v1")

	api.POST("/chat", func(c context.Context, ctx *app.RequestContext) {
		query := strings.TrimSpace(ctx.PostForm("query"))
		sessionID := ctx.PostForm("session_id")
		fileHeader, err := ctx.FormFile("resume")
		hasFile := err == nil && fileHeader != nil

		if query == "" {
			if hasFile {
				ctx.JSON(consts.StatusBadRequest, utils.H{"error": "Apa yang ingin Anda tanyakan tentang kandidat ini?"})
			} else {
				ctx.JSON(consts.StatusBadRequest, utils.H{"error": "Silakan tulis pertanyaan atau unggah CV untuk dianalisis."})
			}
			return
		}

		// 可选的CV上传
		uploadedText := ""
		if hasFile {
			file, err := fileHeader.Open()
			if err != nil {
				ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "打开上传文件失败"})
				return
			}
			defer file.Close()

			uploadedText, err = chatHandler.ExtractUploadedResume(c, file, fileHeader.Filename)
			if err != nil {
				// 单次上传的错误：会话不受影响，用户可以换文件重试
				if errors.Is(err, types.ErrExtraction) {
					ctx.JSON(consts.StatusBadRequest, utils.H{"error": "File PDF tidak dapat diproses: " + err.Error()})
					return
				}
				ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
				return
			}
		}

		resp, err := chatHandler.HandleChat(c, query, sessionID, uploadedText)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}

		ctx.JSON(consts.StatusOK, resp)
	})

	// 健康检查
	api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})
}
