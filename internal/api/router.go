// internal/api/router.go
package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Corphon/ElementFusion/internal/config"
	"github.com/Corphon/ElementFusion/internal/di"
	"github.com/Corphon/ElementFusion/internal/services"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	// 获取依赖注入容器
	container := di.GetContainer()

	// 只从容器获取服务，不再创建新实例
	combinationService, ok := container.Get("combination").(*services.CombinationService)
	if !ok {
		return nil, fmt.Errorf("组合服务未正确初始化")
	}

	elementService, ok := container.Get("element").(*services.ElementService)
	if !ok {
		return nil, fmt.Errorf("元素服务未正确初始化")
	}

	generationService, ok := container.Get("generation").(*services.GenerationService)
	if !ok {
		return nil, fmt.Errorf("生成服务未正确初始化")
	}

	hub, ok := container.Get("ws_hub").(*DiscoveryHub)
	if !ok {
		return nil, fmt.Errorf("发现广播中心未正确初始化")
	}

	db, _ := container.Get("db").(*gorm.DB)

	handler := NewHandler(combinationService, elementService, generationService, hub, db)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())

	// WebSocket 支持
	r.GET("/ws/discoveries", handler.DiscoveryWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		// 组合解析（可能触发LLM生成，单独限流）
		api.POST("/combine", CombineRateLimit(), handler.CombineElements)

		// ===============================
		// 元素相关路由
		// ===============================
		elementsGroup := api.Group("/elements")
		{
			elementsGroup.GET("/initial", handler.GetInitialElements)
			elementsGroup.GET("/:id", handler.GetElement)
		}

		// ===============================
		// LLM配置相关路由
		// ===============================
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.PUT("/config", handler.UpdateLLMConfig)
		}

		// 健康检查
		api.GET("/health", handler.GetHealth)

		// 调试路由
		api.GET("/ws/status", handler.GetWebSocketStatus)
	}

	return r, nil
}
