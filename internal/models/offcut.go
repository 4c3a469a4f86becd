package models

import "time"

type Offcut struct {
	ID                     uint      `gorm:"primaryKey" json:"offcut_id"`
	LegacyOffcutID         *int      `gorm:"index" json:"legacy_offcut_id"`
	RelatedLegacyOffcutID  *int      `json:"related_legacy_offcut_id,omitempty"`
	MaterialProfile        string    `gorm:"index:idx_offcuts_profile_available;not null" json:"material_profile"`
	LengthMM               int       `gorm:"not null" json:"length_mm"`
	CreatedInBatchDetailID uint      `gorm:"index" json:"created_in_batch_detail_id"`
	ReuseCount             int       `gorm:"not null;default:0" json:"reuse_count"`
	Available              bool      `gorm:"index:idx_offcuts_profile_available;not null;default:true" json:"available"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}
