package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Address is the recipient's street address. Optional as a whole; when
// present it is carried into the envelope as-is.
type Address struct {
	Street   string `json:"street"`
	Number   string `json:"number"`
	District string `json:"district"`
	CityCode string `json:"city_code"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
}

// Recipient identifies the service taker. TaxID is a CPF or CNPJ;
// everything else is optional.
type Recipient struct {
	TaxID   string   `json:"tax_id"`
	Name    string   `json:"name"`
	Email   string   `json:"email,omitempty"`
	Address *Address `json:"address,omitempty"`
}

// FiscalTransaction is the caller's description of one service sale.
// TransactionID is the caller-supplied idempotency key: at most one
// live document may exist per transaction id.
type FiscalTransaction struct {
	TransactionID string          `json:"transaction_id"`
	Description   string          `json:"description"`
	Gross         decimal.Decimal `json:"gross_amount"`
	Deductions    decimal.Decimal `json:"deductions"`
	PIS           decimal.Decimal `json:"pis_withheld"`
	COFINS        decimal.Decimal `json:"cofins_withheld"`
	INSS          decimal.Decimal `json:"inss_withheld"`
	IR            decimal.Decimal `json:"ir_withheld"`
	CSLL          decimal.Decimal `json:"csll_withheld"`
	ISSWithheld   *bool           `json:"iss_withheld,omitempty"`
	ServiceCode   string          `json:"service_code,omitempty"`
	Recipient     *Recipient      `json:"recipient,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the structural invariants that do not depend on the
// issuer profile. Monetary invariants live in the tax package.
func (t *FiscalTransaction) Validate() error {
	if strings.TrimSpace(t.TransactionID) == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidTransaction)
	}
	if strings.TrimSpace(t.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidTransaction)
	}
	if t.Gross.IsNegative() {
		return fmt.Errorf("%w: gross_amount must not be negative", ErrInvalidTransaction)
	}
	if t.Recipient != nil && strings.TrimSpace(t.Recipient.TaxID) == "" {
		return fmt.Errorf("%w: recipient.tax_id is required when a recipient is given", ErrInvalidTransaction)
	}
	return nil
}
