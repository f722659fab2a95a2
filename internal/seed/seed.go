// Package seed bootstraps a default issuer for local development.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	issuerdomain "github.com/smallbiznis/emissor/internal/issuer/domain"
	"gorm.io/gorm"
)

const (
	defaultIssuerName = "Emissor Dev Issuer"
	defaultCNPJ       = "00000000000191"
	defaultCityCode   = "3550308"
)

// EnsureDefaultIssuer creates the issuer with the given id if no row
// exists yet. Existing rows are left untouched so local edits survive
// restarts.
func EnsureDefaultIssuer(db *gorm.DB, id int64) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing issuerdomain.Issuer
		err := tx.First(&existing, "id = ?", id).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		issuer := issuerdomain.Issuer{
			ID:                    snowflake.ID(id),
			Name:                  defaultIssuerName,
			CNPJ:                  defaultCNPJ,
			MunicipalRegistration: "000000",
			CityCode:              defaultCityCode,
			RPSSeries:             "1",
			ISSRate:               decimal.NewFromInt(5),
			ServiceCode:           "01.07",
			Environment:           issuerdomain.EnvironmentStaging,
		}
		return tx.Create(&issuer).Error
	})
}
