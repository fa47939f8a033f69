// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"

	// 元素相关错误
	ErrorElementNotFound = "ELEMENT_NOT_FOUND"
	ErrorElementInvalid  = "ELEMENT_INVALID"

	// 组合相关错误
	ErrorCombinationFailed = "COMBINATION_FAILED"
	ErrorGenerationFailed  = "GENERATION_FAILED"
	ErrorStoreUnavailable  = "STORE_UNAVAILABLE"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"

	// 配置健康相关
	ErrorConfigUnhealthy = "CONFIG_UNHEALTHY"
	ErrorAPIKeyMissing   = "API_KEY_MISSING"
)
