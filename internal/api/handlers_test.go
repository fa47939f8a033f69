// internal/api/handlers_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/ElementFusion/internal/errors"
	"github.com/Corphon/ElementFusion/internal/llm"
	"github.com/Corphon/ElementFusion/internal/models"
	"github.com/Corphon/ElementFusion/internal/services"
	"github.com/Corphon/ElementFusion/internal/storage"
)

// memStore 内存实现的测试存储
type memStore struct {
	mu       sync.Mutex
	elements map[string]*models.Element
	byName   map[string]string
	combos   map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		elements: make(map[string]*models.Element),
		byName:   make(map[string]string),
		combos:   make(map[string]string),
	}
}

func (s *memStore) FindCombination(ctx context.Context, idA, idB string) (*models.Combination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resultID, exists := s.combos[storage.CombinationKey(idA, idB)]
	if !exists {
		return nil, nil
	}
	a, b := storage.SortPair(idA, idB)
	return &models.Combination{ElementAID: a, ElementBID: b, ResultID: &resultID, Status: models.CombinationDone}, nil
}

func (s *memStore) FindElementByID(ctx context.Context, id string) (*models.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elements[id], nil
}

func (s *memStore) FindElementByName(ctx context.Context, name string) (*models.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, exists := s.byName[name]
	if !exists {
		return nil, nil
	}
	return s.elements[id], nil
}

func (s *memStore) InsertElement(ctx context.Context, element *models.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[element.Name]; exists {
		return apperrors.NewConflictError("元素已存在", nil)
	}
	s.elements[element.ID] = element
	s.byName[element.Name] = element.ID
	return nil
}

func (s *memStore) UpsertCombination(ctx context.Context, idA, idB, resultID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.combos[storage.CombinationKey(idA, idB)] = resultID
	return nil
}

func (s *memStore) ListInitialElements(ctx context.Context) ([]*models.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var initial []*models.Element
	for _, element := range s.elements {
		if element.IsInitial {
			initial = append(initial, element)
		}
	}
	return initial, nil
}

func (s *memStore) seed(element *models.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements[element.ID] = element
	s.byName[element.Name] = element.ID
}

// jsonProvider 返回固定JSON的测试提供者
type jsonProvider struct {
	text string
	err  error
}

func (p *jsonProvider) Initialize(config map[string]string) error { return nil }
func (p *jsonProvider) GetName() string                           { return "test" }
func (p *jsonProvider) GetSupportedModels() []string              { return []string{"test-model"} }

func (p *jsonProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Text: p.text}, nil
}

// 构建测试用的路由和存储
func setupTestHandler(t *testing.T, provider llm.Provider) (*gin.Engine, *memStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newMemStore()
	generationService := services.NewGenerationServiceWithProvider("test", provider)
	cache := storage.NewComboCache(64, time.Minute)
	combinationService := services.NewCombinationService(store, generationService, cache, nil)
	elementService := services.NewElementService(store)

	handler := &Handler{
		CombinationService: combinationService,
		ElementService:     elementService,
		GenerationService:  generationService,
		Hub:                NewDiscoveryHub(),
		Response:           NewResponseHelper(),
	}

	r := gin.New()
	r.POST("/api/combine", handler.CombineElements)
	r.GET("/api/elements/initial", handler.GetInitialElements)
	r.GET("/api/elements/:id", handler.GetElement)
	r.GET("/api/llm/status", handler.GetLLMStatus)
	r.PUT("/api/llm/config", handler.UpdateLLMConfig)

	return r, store
}

func requestJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("序列化请求体失败: %v", err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postJSON(t *testing.T, r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return requestJSON(t, r, http.MethodPost, path, body)
}

// TestCombineElementsSuccess 测试组合接口成功路径
func TestCombineElementsSuccess(t *testing.T) {
	r, store := setupTestHandler(t, &jsonProvider{text: `{"name": "Steam", "emoji": "💨"}`})

	w := postJSON(t, r, "/api/combine", CombineRequest{
		ElementAID:   "water-id",
		ElementBID:   "fire-id",
		ElementAName: "Water",
		ElementBName: "Fire",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("期望状态码200，实际: %d，响应: %s", w.Code, w.Body.String())
	}

	var response APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if !response.Success {
		t.Fatalf("响应应该标记成功: %s", w.Body.String())
	}

	data, _ := response.Data.(map[string]interface{})
	if data == nil {
		t.Fatalf("响应应该包含数据: %s", w.Body.String())
	}
	if data["is_new"] != true {
		t.Fatalf("首次组合应该标记为新发现: %v", data)
	}

	element, _ := data["element"].(map[string]interface{})
	if element == nil || element["name"] != "Steam" {
		t.Fatalf("组合结果不正确: %v", data)
	}

	// 组合记录已持久化
	if len(store.combos) != 1 {
		t.Fatalf("应该写入一条组合记录，实际: %d", len(store.combos))
	}
}

// TestCombineElementsBadRequest 测试非法输入返回400
func TestCombineElementsBadRequest(t *testing.T) {
	r, _ := setupTestHandler(t, &jsonProvider{text: `{"name": "Steam", "emoji": "💨"}`})

	w := postJSON(t, r, "/api/combine", CombineRequest{
		ElementAID: "water-id",
		// 缺少其余字段
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("期望状态码400，实际: %d，响应: %s", w.Code, w.Body.String())
	}
}

// TestCombineElementsGenerationFailed 测试生成失败返回502
func TestCombineElementsGenerationFailed(t *testing.T) {
	r, _ := setupTestHandler(t, &jsonProvider{text: "not json at all"})

	w := postJSON(t, r, "/api/combine", CombineRequest{
		ElementAID:   "water-id",
		ElementBID:   "fire-id",
		ElementAName: "Water",
		ElementBName: "Fire",
	})

	if w.Code != http.StatusBadGateway {
		t.Fatalf("期望状态码502，实际: %d，响应: %s", w.Code, w.Body.String())
	}

	var response APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if response.Error == nil || response.Error.Code != ErrorGenerationFailed {
		t.Fatalf("错误代码不正确: %s", w.Body.String())
	}
}

// TestGetInitialElements 测试种子元素接口
func TestGetInitialElements(t *testing.T) {
	r, store := setupTestHandler(t, &jsonProvider{})

	store.seed(&models.Element{ID: "water-id", Name: "Water", Emoji: "💧", IsInitial: true})
	store.seed(&models.Element{ID: "fire-id", Name: "Fire", Emoji: "🔥", IsInitial: true})
	store.seed(&models.Element{ID: "steam-id", Name: "Steam", Emoji: "💨", IsInitial: false})

	req := httptest.NewRequest(http.MethodGet, "/api/elements/initial", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("期望状态码200，实际: %d", w.Code)
	}

	var response APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}

	data, _ := response.Data.(map[string]interface{})
	if data == nil || data["count"] != float64(2) {
		t.Fatalf("应该返回2个种子元素: %s", w.Body.String())
	}
}

// TestGetElementNotFound 测试查询不存在的元素返回404
func TestGetElementNotFound(t *testing.T) {
	r, _ := setupTestHandler(t, &jsonProvider{})

	req := httptest.NewRequest(http.MethodGet, "/api/elements/no-such-id", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("期望状态码404，实际: %d", w.Code)
	}
}

// TestUpdateLLMConfigValidation 测试LLM配置更新的校验分支
func TestUpdateLLMConfigValidation(t *testing.T) {
	tests := []struct {
		name         string
		body         UpdateLLMConfigRequest
		expectedCode string
	}{
		{
			name:         "缺少提供者名称",
			body:         UpdateLLMConfigRequest{Config: map[string]string{"api_key": "k"}},
			expectedCode: ErrorBadRequest,
		},
		{
			name:         "缺少配置",
			body:         UpdateLLMConfigRequest{Provider: "openai"},
			expectedCode: ErrorAPIKeyMissing,
		},
		{
			name:         "缺少API密钥",
			body:         UpdateLLMConfigRequest{Provider: "openai", Config: map[string]string{"default_model": "m"}},
			expectedCode: ErrorAPIKeyMissing,
		},
		{
			name:         "未注册的提供者",
			body:         UpdateLLMConfigRequest{Provider: "no-such-provider", Config: map[string]string{"api_key": "k"}},
			expectedCode: ErrorLLMConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := setupTestHandler(t, &jsonProvider{})

			w := requestJSON(t, r, http.MethodPut, "/api/llm/config", tt.body)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("期望状态码400，实际: %d，响应: %s", w.Code, w.Body.String())
			}

			var response APIResponse
			if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
				t.Fatalf("解析响应失败: %v", err)
			}
			if response.Error == nil || response.Error.Code != tt.expectedCode {
				t.Fatalf("错误代码不正确，期望: %s，响应: %s", tt.expectedCode, w.Body.String())
			}
		})
	}
}

// TestUpdateLLMConfigSwitchFailureKeepsServing 测试切换失败后服务标记为未就绪
func TestUpdateLLMConfigSwitchFailureKeepsServing(t *testing.T) {
	gin.SetMode(gin.TestMode)

	generationService := services.NewGenerationServiceWithProvider("test", &jsonProvider{})
	handler := &Handler{
		GenerationService: generationService,
		Response:          NewResponseHelper(),
	}

	r := gin.New()
	r.PUT("/api/llm/config", handler.UpdateLLMConfig)

	w := requestJSON(t, r, http.MethodPut, "/api/llm/config", UpdateLLMConfigRequest{
		Provider: "no-such-provider",
		Config:   map[string]string{"api_key": "k"},
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("期望状态码400，实际: %d", w.Code)
	}
	if generationService.IsReady() {
		t.Fatal("切换失败后生成服务应该标记为未就绪")
	}
}

// TestGetLLMStatus 测试LLM状态接口
func TestGetLLMStatus(t *testing.T) {
	r, _ := setupTestHandler(t, &jsonProvider{})

	req := httptest.NewRequest(http.MethodGet, "/api/llm/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("期望状态码200，实际: %d", w.Code)
	}

	var response APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}

	data, _ := response.Data.(map[string]interface{})
	if data == nil || data["ready"] != true {
		t.Fatalf("测试提供者应该处于就绪状态: %s", w.Body.String())
	}
}
