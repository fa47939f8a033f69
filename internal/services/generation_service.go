// internal/services/generation_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/Corphon/ElementFusion/internal/config"
	apperrors "github.com/Corphon/ElementFusion/internal/errors"
	"github.com/Corphon/ElementFusion/internal/llm"
)

const combinationSystemPrompt = `You are a creative word-combination game assistant.
Combine the two given elements into one new element.

Rules:
- The result must be a single concise noun
- Creatively fuse the concepts of both elements
- Respond with JSON only: {"name": "result name", "emoji": "one emoji"}
- Pick exactly one emoji that best represents the result`

// GeneratedElement 生成协作方返回的新元素提案
type GeneratedElement struct {
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
}

// GenerationService 封装对LLM提供者的元素生成调用
type GenerationService struct {
	providerMutex sync.RWMutex
	provider      llm.Provider
	providerName  string
	isReady       bool
	readyState    string
}

// NewGenerationService 根据当前配置创建生成服务
// 配置缺失或提供者初始化失败时返回未就绪服务而不是错误
func NewGenerationService() *GenerationService {
	service := &GenerationService{
		readyState: "Uninitialized",
	}

	cfg := config.GetCurrentConfig()
	if cfg == nil {
		service.readyState = "Failed to retrieve configuration"
		return service
	}

	if cfg.LLMProvider == "" || (cfg.LLMConfig != nil && cfg.LLMConfig["api_key"] == "") {
		service.readyState = "API key not configured"
		return service
	}

	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		service.readyState = fmt.Sprintf("Initialization failed: %v", err)
		return service
	}

	service.provider = provider
	service.providerName = cfg.LLMProvider
	service.isReady = true
	service.readyState = "Ready"

	return service
}

// NewGenerationServiceWithProvider 使用给定提供者创建生成服务（测试用）
func NewGenerationServiceWithProvider(name string, provider llm.Provider) *GenerationService {
	return &GenerationService{
		provider:     provider,
		providerName: name,
		isReady:      true,
		readyState:   "Ready",
	}
}

// IsReady 返回服务是否已就绪
func (s *GenerationService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetReadyState 返回服务就绪状态描述
func (s *GenerationService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.readyState
}

// GetProviderName 返回当前提供者名称
func (s *GenerationService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// UpdateProvider 更新生成服务的提供者
func (s *GenerationService) UpdateProvider(providerName string, providerConfig map[string]string) error {
	provider, err := llm.GetProvider(providerName, providerConfig)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("Configuration failed: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.isReady = true
	s.readyState = "Ready"

	return nil
}

// GenerateCombination 根据两个元素名称生成新元素的名称和表情符号
// 以下情况均视为生成失败：提供者未就绪、调用出错、输出被截断、JSON无法解析、名称或表情符号为空
func (s *GenerationService) GenerateCombination(ctx context.Context, nameA, nameB string) (*GeneratedElement, error) {
	s.providerMutex.RLock()
	if !s.isReady || s.provider == nil {
		state := s.readyState
		s.providerMutex.RUnlock()
		return nil, apperrors.NewGenerationFailedError("生成服务未就绪: "+state, nil)
	}
	provider := s.provider
	s.providerMutex.RUnlock()

	req := llm.CompletionRequest{
		SystemPrompt: combinationSystemPrompt,
		Prompt:       fmt.Sprintf("Element 1: %s\nElement 2: %s", nameA, nameB),
		Temperature:  0.8,
		MaxTokens:    100,
		ExtraParams: map[string]interface{}{
			"response_format": map[string]string{"type": "json_object"},
		},
	}

	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		return nil, apperrors.NewGenerationFailedError("调用生成提供者失败", err)
	}

	// 输出被截断时内容不可信，按失败处理
	if resp.FinishReason == "length" {
		return nil, apperrors.NewGenerationFailedError("生成输出被截断", nil)
	}

	text := cleanJSONString(resp.Text)
	if text == "" {
		return nil, apperrors.NewGenerationFailedError("生成输出为空", nil)
	}

	var generated GeneratedElement
	if err := json.Unmarshal([]byte(text), &generated); err != nil {
		return nil, apperrors.NewGenerationFailedError("解析生成输出失败", err)
	}

	if generated.Name == "" || generated.Emoji == "" {
		return nil, apperrors.NewGenerationFailedError("生成输出缺少名称或表情符号", nil)
	}

	return &generated, nil
}

// 清理JSON字符串，去除前后非JSON内容
var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```", "",
	"\ufeff", "",
	"\u00a0", " ",
)

func cleanJSONString(s string) string {
	if s == "" {
		return s
	}

	// 统一替换常见的噪声和Markdown标记
	s = jsonNoiseReplacer.Replace(s)
	s = strings.TrimSpace(s)

	// 移除零宽字符及除换行/制表符外的控制字符
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	// 查找第一个 {，将其之前的内容全部丢弃
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	s = strings.TrimSpace(s[start:])

	// 简单的括号计数匹配，截取第一个完整的JSON对象
	balance := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}

		if char == '\\' {
			escaped = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if char == '{' {
				balance++
			} else if char == '}' {
				balance--
			}

			if balance == 0 {
				return strings.TrimSpace(s[:i+1])
			}
		}
	}

	// 没找到匹配的结束符，回退到最后一个 }
	if end := strings.LastIndexByte(s, '}'); end != -1 {
		return strings.TrimSpace(s[:end+1])
	}

	return strings.TrimSpace(s)
}
