// internal/services/combination_service.go
package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/ElementFusion/internal/errors"
	"github.com/Corphon/ElementFusion/internal/models"
	"github.com/Corphon/ElementFusion/internal/storage"
	"github.com/Corphon/ElementFusion/internal/utils"
)

// ElementRef 组合请求中的元素引用
type ElementRef struct {
	ID   string
	Name string
}

// ElementStore 组合解析所需的持久存储操作
type ElementStore interface {
	FindCombination(ctx context.Context, idA, idB string) (*models.Combination, error)
	FindElementByID(ctx context.Context, id string) (*models.Element, error)
	FindElementByName(ctx context.Context, name string) (*models.Element, error)
	InsertElement(ctx context.Context, element *models.Element) error
	UpsertCombination(ctx context.Context, idA, idB, resultID string) error
	ListInitialElements(ctx context.Context) ([]*models.Element, error)
}

// CombinationGenerator 新元素的生成协作方
type CombinationGenerator interface {
	GenerateCombination(ctx context.Context, nameA, nameB string) (*GeneratedElement, error)
}

// DiscoveryNotifier 新组合产生时的通知回调（可为nil）
type DiscoveryNotifier interface {
	NotifyDiscovery(element *models.Element)
}

// CombinationService 组合解析服务
// 解析顺序：进程内缓存 → 持久存储 → 生成协作方
type CombinationService struct {
	store     ElementStore
	generator CombinationGenerator
	cache     *storage.ComboCache
	notifier  DiscoveryNotifier
}

// NewCombinationService 创建组合解析服务
func NewCombinationService(store ElementStore, generator CombinationGenerator, cache *storage.ComboCache, notifier DiscoveryNotifier) *CombinationService {
	if cache == nil {
		cache = storage.NewComboCache(0, 0)
	}

	return &CombinationService{
		store:     store,
		generator: generator,
		cache:     cache,
		notifier:  notifier,
	}
}

// Resolve 解析一对元素的组合结果
// 返回结果元素和isNew标志：isNew为true表示本次执行了生成步骤
// 输入顺序无关，(a, b) 与 (b, a) 解析为同一结果
func (s *CombinationService) Resolve(ctx context.Context, a, b ElementRef) (*models.Element, bool, error) {
	if a.ID == "" || b.ID == "" || a.Name == "" || b.Name == "" {
		return nil, false, apperrors.NewValidationError("元素ID和名称不能为空", nil)
	}

	key := storage.CombinationKey(a.ID, b.ID)

	// 第一层：进程内缓存
	if element, ok := s.cache.Get(key); ok {
		return element, false, nil
	}

	// 第二层：持久存储
	combo, err := s.store.FindCombination(ctx, a.ID, b.ID)
	if err != nil {
		return nil, false, apperrors.NewStoreUnavailableError("查询组合记录失败", err)
	}

	if combo != nil && combo.ResultID != nil {
		element, err := s.store.FindElementByID(ctx, *combo.ResultID)
		if err != nil {
			return nil, false, apperrors.NewStoreUnavailableError("查询结果元素失败", err)
		}
		if element != nil {
			s.cache.Set(key, element)
			return element, false, nil
		}
		// 组合记录指向不存在的元素，当作未命中继续走生成
		utils.GetLogger().Warnf("组合记录 %s 指向不存在的元素 %s，重新生成", key, *combo.ResultID)
	}

	// 第三层：生成协作方
	generated, err := s.generator.GenerateCombination(ctx, a.Name, b.Name)
	if err != nil {
		return nil, false, err
	}

	result, err := s.persistGenerated(ctx, generated)
	if err != nil {
		return nil, false, err
	}

	if err := s.store.UpsertCombination(ctx, a.ID, b.ID, result.ID); err != nil {
		return nil, false, apperrors.NewStoreUnavailableError("写入组合记录失败", err)
	}

	s.cache.Set(key, result)

	if s.notifier != nil {
		s.notifier.NotifyDiscovery(result)
	}

	return result, true, nil
}

// persistGenerated 按名称去重后持久化生成的元素
// 同名元素已存在时复用其记录，不同组合可以收敛到同一个结果元素
func (s *CombinationService) persistGenerated(ctx context.Context, generated *GeneratedElement) (*models.Element, error) {
	existing, err := s.store.FindElementByName(ctx, generated.Name)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("按名称查询元素失败", err)
	}
	if existing != nil {
		return existing, nil
	}

	element := &models.Element{
		ID:        uuid.NewString(),
		Name:      generated.Name,
		Emoji:     generated.Emoji,
		IsInitial: false,
		CreatedAt: time.Now().UTC(),
	}

	err = s.store.InsertElement(ctx, element)
	if err == nil {
		return element, nil
	}

	// 并发请求抢先插入了同名元素，改用已有记录
	if apperrors.IsConflictError(err) {
		winner, findErr := s.store.FindElementByName(ctx, generated.Name)
		if findErr != nil {
			return nil, apperrors.NewStoreUnavailableError("冲突后按名称查询元素失败", findErr)
		}
		if winner != nil {
			return winner, nil
		}
		return nil, apperrors.NewProcessingError("元素插入冲突但未找到同名记录", err)
	}

	return nil, apperrors.NewStoreUnavailableError("插入元素失败", err)
}
