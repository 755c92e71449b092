package models

import (
	"time"
)

// StoreRecord is one (namespace, key) entry of the database-backed store.
// Timestamps are unix seconds so expiry comparisons stay in SQL.
type StoreRecord struct {
	Namespace CaseSensitiveString `gorm:"primaryKey;size:64"`
	Key       CaseSensitiveString `gorm:"primaryKey;column:record_key;size:255"`
	Value     Document            `gorm:"not null"`
	CreatedAt int64               `gorm:"not null;autoCreateTime:false"`
	ExpiresAt *int64              `gorm:"index"`
	UpdatedAt time.Time           `gorm:"index;autoUpdateTime:false"`
}

// TableName pins the table name independent of the naming strategy.
func (StoreRecord) TableName() string {
	return "store_records"
}
