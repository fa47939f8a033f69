// internal/services/element_service.go
package services

import (
	"context"

	apperrors "github.com/Corphon/ElementFusion/internal/errors"
	"github.com/Corphon/ElementFusion/internal/models"
)

// ElementService 元素查询服务
type ElementService struct {
	store ElementStore
}

// NewElementService 创建元素查询服务
func NewElementService(store ElementStore) *ElementService {
	return &ElementService{store: store}
}

// ListInitialElements 返回所有种子元素
func (s *ElementService) ListInitialElements(ctx context.Context) ([]*models.Element, error) {
	elements, err := s.store.ListInitialElements(ctx)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("查询种子元素失败", err)
	}
	return elements, nil
}

// GetElement 按ID查询元素
func (s *ElementService) GetElement(ctx context.Context, id string) (*models.Element, error) {
	if id == "" {
		return nil, apperrors.NewValidationError("元素ID不能为空", nil)
	}

	element, err := s.store.FindElementByID(ctx, id)
	if err != nil {
		return nil, apperrors.NewStoreUnavailableError("查询元素失败", err)
	}
	if element == nil {
		return nil, apperrors.NewNotFoundError("元素不存在", nil)
	}
	return element, nil
}
