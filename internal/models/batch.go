package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Batch is one committed cutting run. Rows are append-only.
type Batch struct {
	ID              uint            `gorm:"primaryKey" json:"batch_id"`
	BatchCode       string          `gorm:"size:16;uniqueIndex;not null" json:"batch_code"`
	BatchDate       time.Time       `gorm:"type:date;index;not null" json:"batch_date"`
	SourceFile      string          `json:"source_file"`
	SourceObjectKey string          `json:"source_object_key,omitempty"`
	CommittedBy     string          `json:"committed_by,omitempty"`
	LineItems       []BatchLineItem `gorm:"foreignKey:BatchID" json:"line_items,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type BatchLineItem struct {
	ID                 uint            `gorm:"primaryKey" json:"batch_detail_id"`
	BatchID            uint            `gorm:"index;not null" json:"batch_id"`
	LineNumber         int             `gorm:"not null" json:"line_number"`
	ItemCode           string          `gorm:"size:64" json:"item_code"`
	ItemDescription    string          `gorm:"index;not null" json:"item_description"`
	SawName            string          `gorm:"size:64" json:"saw_name"`
	Quantity           int             `json:"quantity"`
	InputLength        int             `json:"input_length"`
	BarLength          int             `json:"bar_length"`
	UsedLength         int             `json:"used_length"`
	OffcutLength       int             `json:"offcut_length"`
	DoubleCut          bool            `json:"double_cut"`
	WastePercentage    decimal.Decimal `gorm:"type:numeric(7,2)" json:"waste_percentage"`
	Efficiency         decimal.Decimal `gorm:"type:numeric(7,2)" json:"efficiency"`
	SuggestedOffcutIDs string          `json:"suggested_offcut_ids,omitempty"`
	SavedOffcutIDs     string          `json:"saved_offcut_ids,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// MaterialProfile is the cross-section classification offcuts are matched on.
func (li BatchLineItem) MaterialProfile() string {
	return li.ItemDescription
}
