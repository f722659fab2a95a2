package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	GetByID(ctx context.Context, id snowflake.ID) (*Issuer, error)
}
