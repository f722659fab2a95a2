// Package domain contains the durable RPS sequence counter.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Sequence is the per-issuer counter backing RPS number allocation.
// last_value only ever moves forward; gaps are acceptable, duplicates
// are not.
type Sequence struct {
	IssuerID  snowflake.ID `gorm:"primaryKey"`
	LastValue int64        `gorm:"not null;default:0"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Sequence) TableName() string { return "fiscal_sequences" }
