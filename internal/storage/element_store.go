// internal/storage/element_store.go
package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/Corphon/ElementFusion/internal/errors"
	"github.com/Corphon/ElementFusion/internal/models"
)

// GormElementStore 基于gorm的元素与组合记录存储
type GormElementStore struct {
	db *gorm.DB
}

// NewElementStore 创建元素存储
func NewElementStore(db *gorm.DB) *GormElementStore {
	return &GormElementStore{db: db}
}

// FindCombination 按规范化元素对查询已完成的组合记录，未找到返回 (nil, nil)
func (s *GormElementStore) FindCombination(ctx context.Context, idA, idB string) (*models.Combination, error) {
	a, b := SortPair(idA, idB)

	var combo models.Combination
	err := s.db.WithContext(ctx).
		Where("element_a_id = ? AND element_b_id = ? AND status = ?", a, b, models.CombinationDone).
		First(&combo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &combo, nil
}

// FindElementByID 按ID查询元素，未找到返回 (nil, nil)
func (s *GormElementStore) FindElementByID(ctx context.Context, id string) (*models.Element, error) {
	var element models.Element
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&element).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &element, nil
}

// FindElementByName 按名称精确查询元素（区分大小写），未找到返回 (nil, nil)
func (s *GormElementStore) FindElementByName(ctx context.Context, name string) (*models.Element, error) {
	var element models.Element
	err := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&element).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &element, nil
}

// InsertElement 插入新元素，ID或名称重复时返回冲突错误
func (s *GormElementStore) InsertElement(ctx context.Context, element *models.Element) error {
	if err := s.db.WithContext(ctx).Create(element).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return apperrors.NewConflictError("元素已存在", err)
		}
		return err
	}
	return nil
}

// UpsertCombination 以done状态写入组合记录
// 对规范化元素对做冲突容忍的upsert：并发请求已写入同一元素对时原地更新而不报错
func (s *GormElementStore) UpsertCombination(ctx context.Context, idA, idB, resultID string) error {
	a, b := SortPair(idA, idB)

	combo := models.Combination{
		ElementAID: a,
		ElementBID: b,
		ResultID:   &resultID,
		Status:     models.CombinationDone,
		CreatedAt:  time.Now().UTC(),
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "element_a_id"},
				{Name: "element_b_id"},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"result_id": resultID,
				"status":    string(models.CombinationDone),
			}),
		}).
		Create(&combo).Error
}

// ListInitialElements 按创建时间升序返回所有种子元素
func (s *GormElementStore) ListInitialElements(ctx context.Context) ([]*models.Element, error) {
	var elements []*models.Element
	err := s.db.WithContext(ctx).
		Where("is_initial = ?", true).
		Order("created_at ASC").
		Find(&elements).Error
	if err != nil {
		return nil, err
	}
	return elements, nil
}
