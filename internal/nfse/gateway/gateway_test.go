package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/emissor/internal/authority"
	appconfig "github.com/smallbiznis/emissor/internal/config"
	"github.com/smallbiznis/emissor/internal/credential"
	issuerdomain "github.com/smallbiznis/emissor/internal/issuer/domain"
	"github.com/smallbiznis/emissor/internal/nfse/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const acceptedBody = `<?xml version="1.0" encoding="UTF-8"?>
<GerarNfseResposta>
  <ListaNfse>
    <CompNfse>
      <Nfse>
        <InfNfse>
          <Numero>20260001</Numero>
          <CodigoVerificacao>AB12-CD34</CodigoVerificacao>
          <OutrasInformacoes>https://nfse.example/doc/20260001</OutrasInformacoes>
        </InfNfse>
      </Nfse>
    </CompNfse>
  </ListaNfse>
</GerarNfseResposta>`

const rejectedBody = `<?xml version="1.0" encoding="UTF-8"?>
<GerarNfseResposta>
  <ListaMensagemRetorno>
    <MensagemRetorno>
      <Codigo>E160</Codigo>
      <Mensagem>CNPJ do prestador invalido</Mensagem>
    </MensagemRetorno>
  </ListaMensagemRetorno>
</GerarNfseResposta>`

func newTestGateway(t *testing.T, url string) domain.Gateway {
	t.Helper()
	reg, err := authority.NewStaticRegistry(authority.RegistryConfig{Endpoints: []authority.Endpoint{
		{CityCode: "3550308", Staging: url, Production: url},
	}})
	require.NoError(t, err)
	return NewHTTPGateway(appconfig.Config{GatewayTimeout: 2 * time.Second}, reg)
}

func submitReq() domain.SubmitRequest {
	return domain.SubmitRequest{
		Envelope:    []byte("<GerarNfseEnvio/>"),
		CityCode:    "3550308",
		Environment: issuerdomain.EnvironmentStaging,
	}
}

func TestSubmit_Accepted(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(acceptedBody))
	}))
	defer srv.Close()

	res := newTestGateway(t, srv.URL).Submit(context.Background(), submitReq())

	assert.Equal(t, domain.SubmissionAccepted, res.Outcome)
	assert.Equal(t, "20260001", res.AuthorityNumber)
	assert.Equal(t, "AB12-CD34", res.VerificationCode)
	assert.Equal(t, "https://nfse.example/doc/20260001", res.DocumentURL)
	assert.Contains(t, gotContentType, "application/xml")
}

func TestSubmit_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(rejectedBody))
	}))
	defer srv.Close()

	res := newTestGateway(t, srv.URL).Submit(context.Background(), submitReq())

	assert.Equal(t, domain.SubmissionRejected, res.Outcome)
	assert.Contains(t, res.Reason, "E160")
	assert.Contains(t, res.Reason, "CNPJ do prestador invalido")
	assert.Empty(t, res.AuthorityNumber)
}

func TestSubmit_UnusableCertificateFallsBackToPlainClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(acceptedBody))
	}))
	defer srv.Close()

	req := submitReq()
	req.Credential = credential.Credential{
		CertificatePEM: []byte("not a pem bundle"),
		Passphrase:     "secret",
	}

	res := newTestGateway(t, srv.URL).Submit(context.Background(), req)

	assert.Equal(t, domain.SubmissionAccepted, res.Outcome)
	assert.Equal(t, "20260001", res.AuthorityNumber)
}

func TestSubmit_UnreachableOnConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	res := newTestGateway(t, srv.URL).Submit(context.Background(), submitReq())

	assert.Equal(t, domain.SubmissionUnreachable, res.Outcome)
	assert.NotEmpty(t, res.Reason)
}

func TestSubmit_UnreachableOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(acceptedBody))
	}))
	defer srv.Close()

	reg, err := authority.NewStaticRegistry(authority.RegistryConfig{Endpoints: []authority.Endpoint{
		{CityCode: "3550308", Staging: srv.URL},
	}})
	require.NoError(t, err)
	gw := NewHTTPGateway(appconfig.Config{GatewayTimeout: 50 * time.Millisecond}, reg)

	res := gw.Submit(context.Background(), submitReq())

	assert.Equal(t, domain.SubmissionUnreachable, res.Outcome)
}

func TestSubmit_UnreachableOnGarbageResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>upstream error</html>"))
	}))
	defer srv.Close()

	res := newTestGateway(t, srv.URL).Submit(context.Background(), submitReq())

	assert.Equal(t, domain.SubmissionUnreachable, res.Outcome)
	assert.Contains(t, res.Reason, "unparseable")
}

func TestSubmit_UnreachableOnUnknownMunicipality(t *testing.T) {
	gw := newTestGateway(t, "https://unused.example")
	req := submitReq()
	req.CityCode = "9999999"

	res := gw.Submit(context.Background(), req)

	assert.Equal(t, domain.SubmissionUnreachable, res.Outcome)
	assert.Contains(t, res.Reason, "resolve endpoint")
}
