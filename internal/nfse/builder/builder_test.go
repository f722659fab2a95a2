package builder

import (
	"encoding/xml"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	issuerdomain "github.com/smallbiznis/emissor/internal/issuer/domain"
	"github.com/smallbiznis/emissor/internal/nfse/domain"
	"github.com/smallbiznis/emissor/internal/tax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testIssuer() *issuerdomain.Issuer {
	return &issuerdomain.Issuer{
		Name:                  "Acme Servicos LTDA",
		CNPJ:                  "12345678000190",
		MunicipalRegistration: "987654",
		CityCode:              "3550308",
		CNAECode:              "6201500",
	}
}

func testInput() Input {
	return Input{
		Issuer: testIssuer(),
		Transaction: &domain.FiscalTransaction{
			TransactionID: "tx-001",
			Description:   "Software development services",
			Gross:         d("1000.00"),
		},
		Breakdown: tax.Breakdown{
			Base: d("1000.00"),
			Rate: d("5.0000"),
			ISS:  d("50.00"),
			Net:  d("950.00"),
		},
		RPSNumber:   42,
		RPSSeries:   "1",
		ServiceCode: "01.07",
		EmittedAt:   time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC),
	}
}

func TestBuild_Deterministic(t *testing.T) {
	first, err := Build(testInput())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := Build(testInput())
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestBuild_ElementOrderAndFormatting(t *testing.T) {
	out, err := Build(testInput())
	require.NoError(t, err)
	xmlStr := string(out)

	assert.True(t, strings.HasPrefix(xmlStr, xml.Header), "missing xml declaration")
	assert.Contains(t, xmlStr, `<GerarNfseEnvio xmlns="http://www.abrasf.org.br/nfse.xsd">`)
	assert.Contains(t, xmlStr, "<Numero>42</Numero>")
	assert.Contains(t, xmlStr, "<Serie>1</Serie>")
	assert.Contains(t, xmlStr, "<DataEmissao>2026-03-15T10:30:00Z</DataEmissao>")
	assert.Contains(t, xmlStr, "<ValorServicos>1000.00</ValorServicos>")
	assert.Contains(t, xmlStr, "<ValorIss>50.00</ValorIss>")
	assert.Contains(t, xmlStr, "<Aliquota>5.0000</Aliquota>")
	assert.Contains(t, xmlStr, "<ValorLiquidoNfse>950.00</ValorLiquidoNfse>")
	assert.Contains(t, xmlStr, "<IssRetido>2</IssRetido>")
	assert.Contains(t, xmlStr, "<Cnpj>12345678000190</Cnpj>")

	// Values before IssRetido, provider before any recipient.
	assert.Less(t, strings.Index(xmlStr, "<Valores>"), strings.Index(xmlStr, "<IssRetido>"))
	assert.Less(t, strings.Index(xmlStr, "<Servico>"), strings.Index(xmlStr, "<Prestador>"))
}

func TestBuild_OmitsEmptyOptionalElements(t *testing.T) {
	out, err := Build(testInput())
	require.NoError(t, err)
	xmlStr := string(out)

	assert.NotContains(t, xmlStr, "<Tomador>")
	assert.NotContains(t, xmlStr, "<ValorDeducoes>")
	assert.NotContains(t, xmlStr, "<ValorPis>")
	assert.NotContains(t, xmlStr, "<ValorInss>")
}

func TestBuild_RecipientWithCPFAndAddress(t *testing.T) {
	in := testInput()
	in.Transaction.Recipient = &domain.Recipient{
		TaxID: "12345678901",
		Name:  "Maria Souza",
		Email: "maria@example.com",
		Address: &domain.Address{
			Street:   "Rua das Flores",
			Number:   "100",
			District: "Centro",
			CityCode: "3550308",
			State:    "SP",
			Zip:      "01001000",
		},
	}

	out, err := Build(in)
	require.NoError(t, err)
	xmlStr := string(out)

	assert.Contains(t, xmlStr, "<Cpf>12345678901</Cpf>")
	assert.NotContains(t, xmlStr, "<Cnpj>12345678901</Cnpj>")
	assert.Contains(t, xmlStr, "<RazaoSocial>Maria Souza</RazaoSocial>")
	assert.Contains(t, xmlStr, "<Endereco>Rua das Flores</Endereco>")
	assert.Contains(t, xmlStr, "<Email>maria@example.com</Email>")
}

func TestBuild_RecipientWithCNPJ(t *testing.T) {
	in := testInput()
	in.Transaction.Recipient = &domain.Recipient{TaxID: "98765432000155"}

	out, err := Build(in)
	require.NoError(t, err)

	assert.Contains(t, string(out), "<Cnpj>98765432000155</Cnpj>")
}

func TestBuild_WithheldISSAndDeductions(t *testing.T) {
	in := testInput()
	in.Transaction.Deductions = d("200.00")
	in.ISSWithheld = true
	in.Breakdown = tax.Breakdown{
		Base: d("800.00"),
		Rate: d("5.0000"),
		ISS:  d("40.00"),
		Net:  d("960.00"),
	}

	out, err := Build(in)
	require.NoError(t, err)
	xmlStr := string(out)

	assert.Contains(t, xmlStr, "<IssRetido>1</IssRetido>")
	assert.Contains(t, xmlStr, "<ValorDeducoes>200.00</ValorDeducoes>")
	assert.Contains(t, xmlStr, "<ValorLiquidoNfse>960.00</ValorLiquidoNfse>")
}
