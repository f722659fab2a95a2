package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Allocator hands out the next RPS number for an issuer scope.
// Implementations must guarantee two concurrent calls never return
// the same value, across service instances.
type Allocator interface {
	// Next increments and returns the counter using the provided
	// transaction handle so allocation and document creation commit
	// together.
	Next(ctx context.Context, tx *gorm.DB, issuerID snowflake.ID) (int64, error)

	// Current reads the counter without advancing it.
	Current(ctx context.Context, issuerID snowflake.ID) (int64, error)
}
