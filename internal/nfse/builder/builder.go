// Package builder renders the outbound NFS-e envelope.
//
// Build is deterministic: the same inputs always yield the same bytes.
// Element order is fixed by the struct layout and optional elements are
// omitted entirely rather than emitted empty, so envelopes can be
// compared and replayed byte-for-byte.
package builder

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	issuerdomain "github.com/smallbiznis/emissor/internal/issuer/domain"
	"github.com/smallbiznis/emissor/internal/nfse/domain"
	"github.com/smallbiznis/emissor/internal/tax"
)

const envelopeNamespace = "http://www.abrasf.org.br/nfse.xsd"

// Input is everything the envelope carries. The RPS number must come
// from the sequence allocator; emission time from the caller's clock.
type Input struct {
	Issuer      *issuerdomain.Issuer
	Transaction *domain.FiscalTransaction
	Breakdown   tax.Breakdown
	RPSNumber   int64
	RPSSeries   string
	ISSWithheld bool
	ServiceCode string
	EmittedAt   time.Time
}

type envelope struct {
	XMLName xml.Name `xml:"GerarNfseEnvio"`
	XMLNS   string   `xml:"xmlns,attr"`
	RPS     rps      `xml:"Rps"`
}

type rps struct {
	Inf infRPS `xml:"InfDeclaracaoPrestacaoServico"`
}

type infRPS struct {
	Identification identification `xml:"Rps"`
	Service        service        `xml:"Servico"`
	Provider       provider       `xml:"Prestador"`
	Recipient      *recipient     `xml:"Tomador,omitempty"`
}

type identification struct {
	Number   int64  `xml:"IdentificacaoRps>Numero"`
	Series   string `xml:"IdentificacaoRps>Serie"`
	Type     int    `xml:"IdentificacaoRps>Tipo"`
	Emission string `xml:"DataEmissao"`
}

type service struct {
	Values      values `xml:"Valores"`
	ISSWithheld int    `xml:"IssRetido"`
	ServiceCode string `xml:"ItemListaServico"`
	CNAECode    string `xml:"CodigoCnae,omitempty"`
	Description string `xml:"Discriminacao"`
	CityCode    string `xml:"CodigoMunicipio"`
}

type values struct {
	Gross      string `xml:"ValorServicos"`
	Deductions string `xml:"ValorDeducoes,omitempty"`
	PIS        string `xml:"ValorPis,omitempty"`
	COFINS     string `xml:"ValorCofins,omitempty"`
	INSS       string `xml:"ValorInss,omitempty"`
	IR         string `xml:"ValorIr,omitempty"`
	CSLL       string `xml:"ValorCsll,omitempty"`
	ISS        string `xml:"ValorIss"`
	Rate       string `xml:"Aliquota"`
	Net        string `xml:"ValorLiquidoNfse"`
}

type provider struct {
	CNPJ                  string `xml:"CpfCnpj>Cnpj"`
	MunicipalRegistration string `xml:"InscricaoMunicipal"`
}

type recipient struct {
	TaxID   taxID    `xml:"IdentificacaoTomador>CpfCnpj"`
	Name    string   `xml:"RazaoSocial,omitempty"`
	Address *address `xml:"Endereco,omitempty"`
	Email   string   `xml:"Contato>Email,omitempty"`
}

type taxID struct {
	CPF  string `xml:"Cpf,omitempty"`
	CNPJ string `xml:"Cnpj,omitempty"`
}

type address struct {
	Street   string `xml:"Endereco,omitempty"`
	Number   string `xml:"Numero,omitempty"`
	District string `xml:"Bairro,omitempty"`
	CityCode string `xml:"CodigoMunicipio,omitempty"`
	State    string `xml:"Uf,omitempty"`
	Zip      string `xml:"Cep,omitempty"`
}

// Build renders the envelope. It performs no I/O and no validation
// beyond what marshalling requires; inputs are assumed validated.
func Build(in Input) ([]byte, error) {
	tx := in.Transaction

	env := envelope{
		XMLNS: envelopeNamespace,
		RPS: rps{Inf: infRPS{
			Identification: identification{
				Number:   in.RPSNumber,
				Series:   in.RPSSeries,
				Type:     1,
				Emission: in.EmittedAt.UTC().Format(time.RFC3339),
			},
			Service: service{
				Values: values{
					Gross:      money(tx.Gross),
					Deductions: moneyOmitZero(tx.Deductions),
					PIS:        moneyOmitZero(tx.PIS),
					COFINS:     moneyOmitZero(tx.COFINS),
					INSS:       moneyOmitZero(tx.INSS),
					IR:         moneyOmitZero(tx.IR),
					CSLL:       moneyOmitZero(tx.CSLL),
					ISS:        money(in.Breakdown.ISS),
					Rate:       rate(in.Breakdown.Rate),
					Net:        money(in.Breakdown.Net),
				},
				ISSWithheld: issWithheldCode(in.ISSWithheld),
				ServiceCode: in.ServiceCode,
				CNAECode:    in.Issuer.CNAECode,
				Description: tx.Description,
				CityCode:    in.Issuer.CityCode,
			},
			Provider: provider{
				CNPJ:                  in.Issuer.CNPJ,
				MunicipalRegistration: in.Issuer.MunicipalRegistration,
			},
			Recipient: buildRecipient(tx.Recipient),
		}},
	}

	body, err := xml.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func buildRecipient(r *domain.Recipient) *recipient {
	if r == nil {
		return nil
	}
	out := &recipient{
		Name:  r.Name,
		Email: r.Email,
	}
	// CPF is 11 digits, CNPJ 14; the element name must match.
	if len(r.TaxID) > 11 {
		out.TaxID.CNPJ = r.TaxID
	} else {
		out.TaxID.CPF = r.TaxID
	}
	if a := r.Address; a != nil {
		out.Address = &address{
			Street:   a.Street,
			Number:   a.Number,
			District: a.District,
			CityCode: a.CityCode,
			State:    a.State,
			Zip:      a.Zip,
		}
	}
	return out
}

// issWithheldCode follows the ABRASF convention: 1 = withheld, 2 = not.
func issWithheldCode(withheld bool) int {
	if withheld {
		return 1
	}
	return 2
}

func money(v decimal.Decimal) string { return v.StringFixed(2) }

func rate(v decimal.Decimal) string { return v.StringFixed(4) }

func moneyOmitZero(v decimal.Decimal) string {
	if v.IsZero() {
		return ""
	}
	return money(v)
}
