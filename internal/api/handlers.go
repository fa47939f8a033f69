// internal/api/handlers.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Corphon/ElementFusion/internal/config"
	apperrors "github.com/Corphon/ElementFusion/internal/errors"
	"github.com/Corphon/ElementFusion/internal/llm"
	"github.com/Corphon/ElementFusion/internal/services"
)

// Handler 处理API请求
type Handler struct {
	CombinationService *services.CombinationService // 组合解析服务
	ElementService     *services.ElementService     // 元素查询服务
	GenerationService  *services.GenerationService  // 生成服务
	Hub                *DiscoveryHub                // 发现广播中心
	DB                 *gorm.DB                     // 健康检查用
	Response           *ResponseHelper              // 响应助手
}

// NewHandler 创建API处理器
func NewHandler(
	combinationService *services.CombinationService,
	elementService *services.ElementService,
	generationService *services.GenerationService,
	hub *DiscoveryHub,
	db *gorm.DB,
) *Handler {
	return &Handler{
		CombinationService: combinationService,
		ElementService:     elementService,
		GenerationService:  generationService,
		Hub:                hub,
		DB:                 db,
		Response:           NewResponseHelper(),
	}
}

// CombineRequest 组合两个元素的请求结构
type CombineRequest struct {
	ElementAID   string `json:"element_a_id"`   // 第一个元素ID
	ElementBID   string `json:"element_b_id"`   // 第二个元素ID
	ElementAName string `json:"element_a_name"` // 第一个元素名称
	ElementBName string `json:"element_b_name"` // 第二个元素名称
}

// CombineResponse 组合结果
type CombineResponse struct {
	Element interface{} `json:"element"`
	IsNew   bool        `json:"is_new"` // 本次请求是否执行了生成
}

// CombineElements 解析一对元素的组合结果
func (h *Handler) CombineElements(c *gin.Context) {
	var req CombineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}

	result, isNew, err := h.CombinationService.Resolve(c.Request.Context(),
		services.ElementRef{ID: req.ElementAID, Name: req.ElementAName},
		services.ElementRef{ID: req.ElementBID, Name: req.ElementBName})
	if err != nil {
		h.respondCombinationError(c, err)
		return
	}

	h.Response.Success(c, CombineResponse{
		Element: result,
		IsNew:   isNew,
	})
}

// respondCombinationError 把组合解析错误映射为HTTP响应
func (h *Handler) respondCombinationError(c *gin.Context, err error) {
	switch {
	case apperrors.IsValidationError(err):
		h.Response.BadRequest(c, "组合请求无效", err.Error())
	case apperrors.IsGenerationFailedError(err):
		h.Response.Error(c, http.StatusBadGateway, ErrorGenerationFailed,
			"生成新元素失败", err.Error())
	case apperrors.IsStoreUnavailableError(err):
		h.Response.Error(c, http.StatusServiceUnavailable, ErrorStoreUnavailable,
			"存储服务暂时不可用", err.Error())
	default:
		h.Response.Error(c, http.StatusInternalServerError, ErrorCombinationFailed,
			"组合解析失败", err.Error())
	}
}

// GetInitialElements 返回所有种子元素
func (h *Handler) GetInitialElements(c *gin.Context) {
	elements, err := h.ElementService.ListInitialElements(c.Request.Context())
	if err != nil {
		if apperrors.IsStoreUnavailableError(err) {
			h.Response.Error(c, http.StatusServiceUnavailable, ErrorStoreUnavailable,
				"存储服务暂时不可用", err.Error())
			return
		}
		h.Response.InternalError(c, "查询种子元素失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{
		"elements": elements,
		"count":    len(elements),
	})
}

// GetElement 按ID查询元素
func (h *Handler) GetElement(c *gin.Context) {
	id := c.Param("id")

	element, err := h.ElementService.GetElement(c.Request.Context(), id)
	if err != nil {
		switch {
		case apperrors.IsValidationError(err):
			h.Response.BadRequest(c, "元素ID无效", err.Error())
		case apperrors.IsNotFoundError(err):
			h.Response.NotFound(c, "元素")
		case apperrors.IsStoreUnavailableError(err):
			h.Response.Error(c, http.StatusServiceUnavailable, ErrorStoreUnavailable,
				"存储服务暂时不可用", err.Error())
		default:
			h.Response.InternalError(c, "查询元素失败", err.Error())
		}
		return
	}

	h.Response.Success(c, element)
}

// GetLLMStatus 获取LLM服务状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	cfg := config.GetCurrentConfig()

	status := gin.H{
		"ready":       h.GenerationService.IsReady(),
		"ready_state": h.GenerationService.GetReadyState(),
		"provider":    h.GenerationService.GetProviderName(),
		"providers":   llm.ListProviders(),
	}

	if cfg != nil {
		status["configured_provider"] = cfg.LLMProvider
		if cfg.LLMConfig != nil {
			status["default_model"] = cfg.LLMConfig["default_model"]
		}
	}

	h.Response.Success(c, status)
}

// UpdateLLMConfigRequest 更新LLM配置的请求结构
type UpdateLLMConfigRequest struct {
	Provider string            `json:"provider"` // 提供者名称
	Config   map[string]string `json:"config"`   // 提供者配置
}

// UpdateLLMConfig 更新LLM配置并热切换提供者
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req UpdateLLMConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求格式错误", err.Error())
		return
	}

	if req.Provider == "" {
		h.Response.BadRequest(c, "提供者名称不能为空")
		return
	}

	if req.Config == nil || req.Config["api_key"] == "" {
		h.Response.Error(c, http.StatusBadRequest, ErrorAPIKeyMissing, "API密钥不能为空")
		return
	}

	// 先验证新配置能否初始化提供者，再持久化
	if err := h.GenerationService.UpdateProvider(req.Provider, req.Config); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid,
			"LLM配置无效", err.Error())
		return
	}

	if err := config.UpdateLLMConfig(req.Provider, req.Config); err != nil {
		h.Response.InternalError(c, "保存LLM配置失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{
		"provider":    req.Provider,
		"ready":       h.GenerationService.IsReady(),
		"ready_state": h.GenerationService.GetReadyState(),
	}, "LLM配置已更新")
}

// GetHealth 健康检查
func (h *Handler) GetHealth(c *gin.Context) {
	health := gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"llm_ready": h.GenerationService.IsReady(),
	}

	dbStatus := "ok"
	if h.DB != nil {
		sqlDB, err := h.DB.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			dbStatus = "unavailable"
			health["status"] = "degraded"
		}
	} else {
		dbStatus = "not_configured"
		health["status"] = "degraded"
	}
	health["database"] = dbStatus

	statusCode := http.StatusOK
	if health["status"] != "ok" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// GetWebSocketStatus 获取 WebSocket 连接状态（调试用）
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := h.Hub.GetStatus()
	status["timestamp"] = time.Now().Format(time.RFC3339)

	c.JSON(http.StatusOK, status)
}

// DiscoveryWebSocket 处理发现广播 WebSocket 连接
func (h *Handler) DiscoveryWebSocket(c *gin.Context) {
	h.Hub.ServeWS(c.Writer, c.Request)
}
