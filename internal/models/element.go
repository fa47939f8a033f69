// internal/models/element.go
package models

import "time"

// CombinationStatus 组合记录的状态
type CombinationStatus string

const (
	CombinationPending    CombinationStatus = "pending"
	CombinationGenerating CombinationStatus = "generating"
	CombinationDone       CombinationStatus = "done"
	CombinationFailed     CombinationStatus = "failed"
)

// Element 表示组合空间中的一个元素：游戏开始时的种子元素，或由玩家合成出的新元素
// 元素创建后不可变；同名元素在全局唯一
type Element struct {
	ID           string    `json:"id" gorm:"primaryKey;size:64"`
	Name         string    `json:"name" gorm:"uniqueIndex;size:255;not null"`
	Emoji        string    `json:"emoji" gorm:"size:16"`
	ImageURL     *string   `json:"image_url" gorm:"size:512"`
	ThumbnailURL *string   `json:"thumbnail_url" gorm:"size:512"`
	IsInitial    bool      `json:"is_initial" gorm:"index"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName 指定元素表名
func (Element) TableName() string {
	return "elements"
}

// Combination 组合记录：无序元素对到结果元素的持久映射
// 元素对按字典序存储（较小的ID在前），保证 (A,B) 和 (B,A) 不会产生两行
// 同步管线只会写入 done 状态；pending/generating/failed 为异步管线预留
type Combination struct {
	ElementAID string            `json:"element_a_id" gorm:"primaryKey;size:64"`
	ElementBID string            `json:"element_b_id" gorm:"primaryKey;size:64"`
	ResultID   *string           `json:"result_id" gorm:"size:64"`
	Status     CombinationStatus `json:"status" gorm:"size:16;not null;default:pending"`
	CreatedAt  time.Time         `json:"created_at"`
}

// TableName 指定组合记录表名
func (Combination) TableName() string {
	return "combinations"
}
