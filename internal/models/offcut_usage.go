package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// OffcutUsage is the audit trail of every reuse of an offcut.
type OffcutUsage struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"usage_id"`
	OffcutID     uint           `gorm:"index;not null" json:"offcut_id"`
	BatchID      uint           `gorm:"index;not null" json:"batch_id"`
	ReuseDate    time.Time      `gorm:"type:date" json:"reuse_date"`
	ReuseSuccess bool           `json:"reuse_success"`
	PerformedBy  string         `json:"performed_by"`
	Details      datatypes.JSON `json:"details"`
	CreatedAt    time.Time      `json:"created_at"`
}
