// Package domain contains persistence models for issuer profiles.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Environment selects which authority endpoint receives submissions.
type Environment string

const (
	EnvironmentStaging    Environment = "staging"
	EnvironmentProduction Environment = "production"
)

// Issuer is the tax-registration identity under which RPS numbers and
// fiscal documents are issued. Managed by account configuration; this
// service only reads it.
type Issuer struct {
	ID                    snowflake.ID    `gorm:"primaryKey"`
	Name                  string          `gorm:"type:text;not null"`
	CNPJ                  string          `gorm:"type:text;not null"`
	MunicipalRegistration string          `gorm:"type:text;not null"`
	CityCode              string          `gorm:"type:text;not null"`
	RPSSeries             string          `gorm:"type:text;not null;default:'1'"`
	ISSRate               decimal.Decimal `gorm:"type:numeric(7,4);not null"`
	TaxRegime             string          `gorm:"type:text"`
	ServiceCode           string          `gorm:"type:text;not null"`
	CNAECode              string          `gorm:"type:text"`
	ISSWithheldDefault    bool            `gorm:"not null;default:false"`
	Environment           Environment     `gorm:"type:text;not null;default:'staging'"`
	CredentialRef         string          `gorm:"type:text"`
	CreatedAt             time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Issuer) TableName() string { return "issuers" }
