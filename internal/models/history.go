package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// EditRecord is one accepted document update, archived for audit and
// debugging. The relay itself never reads these back; they feed the
// /api/{docId}/history endpoint.
type EditRecord struct {
	ID        string    `json:"id" gorm:"type:char(27);primaryKey"`
	DocID     string    `json:"doc_id" gorm:"type:text;not null;index"`
	Version   int64     `json:"version" gorm:"not null"`
	Text      string    `json:"text" gorm:"type:text;not null"`
	Origin    string    `json:"origin" gorm:"type:varchar(100);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate hook generates a KSUID before inserting.
func (r *EditRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = ksuid.New().String()
	}
	return nil
}
