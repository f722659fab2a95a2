// Package tax computes the ISS breakdown for a service transaction.
//
// Compute is PURE:
// - No side effects
// - No DB access
// - Fully deterministic
package tax

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput is returned when the monetary inputs violate the
// transaction invariants. Nothing is allocated or persisted in that case.
var ErrInvalidInput = errors.New("invalid_tax_input")

// Input carries the raw monetary fields of a service transaction.
// All amounts are non-negative decimals; withholdings are the five
// federal categories deducted from the net payable amount.
type Input struct {
	Gross       decimal.Decimal
	Deductions  decimal.Decimal
	PIS         decimal.Decimal
	COFINS      decimal.Decimal
	INSS        decimal.Decimal
	IR          decimal.Decimal
	CSLL        decimal.Decimal
	ISSWithheld bool
}

// Breakdown is the computed tax result, immutable once produced.
// Monetary fields carry 2 decimal places; the rate keeps 4.
type Breakdown struct {
	Base decimal.Decimal
	Rate decimal.Decimal
	ISS  decimal.Decimal
	Net  decimal.Decimal
}

// Compute derives the tax breakdown from a transaction and the issuer's
// ISS rate (percentage, e.g. 5.00 for 5%).
//
//	base = gross - deductions
//	iss  = round2(base * rate / 100)
//	net  = gross - iss - sum(withholdings)
//
// The ISS amount always reduces the net payable: the provider bears it
// economically whether they remit it or the recipient withholds it. The
// ISSWithheld flag only changes who remits, which the wire format
// carries separately.
//
// Rounding is half away from zero at 2 decimal places. A zero rate is
// legal and yields a zero-ISS breakdown (exempt services).
func Compute(in Input, rate decimal.Decimal) (Breakdown, error) {
	if err := validate(in, rate); err != nil {
		return Breakdown{}, err
	}

	gross := in.Gross.Round(2)
	base := gross.Sub(in.Deductions.Round(2))
	iss := base.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)

	net := gross.Sub(iss).Sub(withholdingTotal(in))

	if net.IsNegative() {
		return Breakdown{}, ErrInvalidInput
	}

	return Breakdown{
		Base: base,
		Rate: rate.Truncate(4),
		ISS:  iss,
		Net:  net.Round(2),
	}, nil
}

func validate(in Input, rate decimal.Decimal) error {
	if in.Gross.IsNegative() || rate.IsNegative() {
		return ErrInvalidInput
	}
	for _, amount := range []decimal.Decimal{in.Deductions, in.PIS, in.COFINS, in.INSS, in.IR, in.CSLL} {
		if amount.IsNegative() || amount.GreaterThan(in.Gross) {
			return ErrInvalidInput
		}
	}
	return nil
}

func withholdingTotal(in Input) decimal.Decimal {
	total := in.PIS.Add(in.COFINS).Add(in.INSS).Add(in.IR).Add(in.CSLL)
	return total.Round(2)
}
