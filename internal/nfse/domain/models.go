// Package domain contains persistence models for fiscal documents.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// DocumentStatus represents fiscal document lifecycle states.
type DocumentStatus string

const (
	// DocumentStatusProcessing is the initial state: an RPS number is
	// allocated and the envelope is on its way to the authority.
	DocumentStatusProcessing DocumentStatus = "PROCESSING"
	// DocumentStatusIssued is terminal-success.
	DocumentStatusIssued DocumentStatus = "ISSUED"
	// DocumentStatusError is terminal for this document; the operator
	// may retry under a new RPS number. The old number stays burned.
	DocumentStatusError DocumentStatus = "ERROR"
	// DocumentStatusCancelled is terminal, reachable only from ISSUED.
	DocumentStatusCancelled DocumentStatus = "CANCELLED"
)

// FiscalDocument is the persisted record of one issuance attempt.
// Every attempt, successful or not, leaves a retrievable row: a burned
// RPS number must always correspond to an auditable document.
type FiscalDocument struct {
	ID            snowflake.ID   `gorm:"primaryKey"`
	IssuerID      snowflake.ID   `gorm:"not null;index;uniqueIndex:ux_document_rps,priority:1"`
	TransactionID string         `gorm:"type:text;not null;index"`
	RPSNumber     int64          `gorm:"not null;uniqueIndex:ux_document_rps,priority:2"`
	RPSSeries     string         `gorm:"type:text;not null"`
	Status        DocumentStatus `gorm:"type:text;not null;default:'PROCESSING'"`

	GrossAmount    decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	Deductions     decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	BaseAmount     decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	ISSRate        decimal.Decimal `gorm:"type:numeric(7,4);not null"`
	ISSAmount      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	NetAmount      decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	ISSWithheld    bool            `gorm:"not null;default:false"`
	PISWithheld    decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	COFINSWithheld decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	INSSWithheld   decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	IRWithheld     decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	CSLLWithheld   decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0"`
	ServiceCode    string          `gorm:"type:text;not null"`
	CNAECode       string          `gorm:"type:text"`
	Description    string          `gorm:"type:text;not null"`

	RecipientTaxID    string  `gorm:"type:text"`
	RecipientName     string  `gorm:"type:text"`
	RecipientEmail    *string `gorm:"type:text"`
	RecipientStreet   *string `gorm:"type:text"`
	RecipientNumber   *string `gorm:"type:text"`
	RecipientDistrict *string `gorm:"type:text"`
	RecipientCityCode *string `gorm:"type:text"`
	RecipientState    *string `gorm:"type:text"`
	RecipientZip      *string `gorm:"type:text"`

	AuthorityNumber  *string `gorm:"type:text"`
	VerificationCode *string `gorm:"type:text"`
	DocumentURL      *string `gorm:"type:text"`
	OutboundXML      string  `gorm:"type:text"`
	InboundResponse  *string `gorm:"type:text"`
	ErrorMessage     *string `gorm:"type:text"`
	CancelReason     *string `gorm:"type:text"`

	Metadata    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	IssuedAt    *time.Time        `gorm:""`
	CancelledAt *time.Time        `gorm:""`
}

// TableName sets the database table name.
func (FiscalDocument) TableName() string { return "fiscal_documents" }

// IsLive reports whether the document blocks a new issuance attempt
// for its transaction id.
func (d *FiscalDocument) IsLive() bool {
	return d.Status == DocumentStatusProcessing || d.Status == DocumentStatusIssued
}
