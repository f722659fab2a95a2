package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/emissor/internal/sequence/domain"
	"github.com/smallbiznis/emissor/pkg/db"
	"gorm.io/gorm"
)

type allocator struct {
	db *gorm.DB
}

func NewAllocator(conn *gorm.DB) domain.Allocator {
	return &allocator{db: conn}
}

// Next advances the issuer counter inside the caller's transaction.
// The UPDATE takes a row lock held until commit, so concurrent
// allocations for the same issuer serialize at the storage layer and
// a crash before commit releases the number without burning a
// duplicate later.
func (a *allocator) Next(ctx context.Context, tx *gorm.DB, issuerID snowflake.ID) (int64, error) {
	conn := a.db
	if tx != nil {
		conn = tx
	}
	conn = conn.WithContext(ctx)

	res := conn.Exec(
		`UPDATE fiscal_sequences SET last_value = last_value + 1, updated_at = CURRENT_TIMESTAMP WHERE issuer_id = ?`,
		issuerID,
	)
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrAllocationUnavailable, res.Error)
	}

	if res.RowsAffected == 0 {
		err := conn.Exec(
			`INSERT INTO fiscal_sequences (issuer_id, last_value, updated_at) VALUES (?, 1, CURRENT_TIMESTAMP)`,
			issuerID,
		).Error
		if err != nil {
			if !db.IsDuplicateKeyErr(err) {
				return 0, fmt.Errorf("%w: %v", domain.ErrAllocationUnavailable, err)
			}
			// Lost the first-allocation race; the row exists now.
			retry := conn.Exec(
				`UPDATE fiscal_sequences SET last_value = last_value + 1, updated_at = CURRENT_TIMESTAMP WHERE issuer_id = ?`,
				issuerID,
			)
			if retry.Error != nil {
				return 0, fmt.Errorf("%w: %v", domain.ErrAllocationUnavailable, retry.Error)
			}
		}
	}

	var seq domain.Sequence
	if err := conn.First(&seq, "issuer_id = ?", issuerID).Error; err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrAllocationUnavailable, err)
	}
	return seq.LastValue, nil
}

func (a *allocator) Current(ctx context.Context, issuerID snowflake.ID) (int64, error) {
	var seq domain.Sequence
	err := a.db.WithContext(ctx).First(&seq, "issuer_id = ?", issuerID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return seq.LastValue, nil
}
