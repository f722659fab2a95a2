package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/emissor/internal/clock"
	"github.com/smallbiznis/emissor/internal/config"
	"github.com/smallbiznis/emissor/internal/credential"
	issuerdomain "github.com/smallbiznis/emissor/internal/issuer/domain"
	issuerrepo "github.com/smallbiznis/emissor/internal/issuer/repository"
	nfsedomain "github.com/smallbiznis/emissor/internal/nfse/domain"
	nfseservice "github.com/smallbiznis/emissor/internal/nfse/service"
	sequencedomain "github.com/smallbiznis/emissor/internal/sequence/domain"
	sequencerepo "github.com/smallbiznis/emissor/internal/sequence/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type scriptedGateway struct {
	results []nfsedomain.SubmitResult
}

func (g *scriptedGateway) Submit(ctx context.Context, req nfsedomain.SubmitRequest) nfsedomain.SubmitResult {
	if len(g.results) == 0 {
		return nfsedomain.SubmitResult{Outcome: nfsedomain.SubmissionAccepted, AuthorityNumber: "1"}
	}
	next := g.results[0]
	g.results = g.results[1:]
	return next
}

type noCredentials struct{}

func (noCredentials) Resolve(ctx context.Context, ref string) (credential.Credential, error) {
	return credential.Credential{}, nil
}

type serverEnv struct {
	engine  *gin.Engine
	issuer  *issuerdomain.Issuer
	gateway *scriptedGateway
}

func setupServer(t *testing.T) *serverEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto&_pragma=busy_timeout(10000)", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&issuerdomain.Issuer{},
		&sequencedomain.Sequence{},
		&nfsedomain.FiscalDocument{},
	))
	require.NoError(t, db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_live_transaction
		 ON fiscal_documents(transaction_id)
		 WHERE status IN ('PROCESSING','ISSUED')`,
	).Error)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	iss := &issuerdomain.Issuer{
		ID:                    node.Generate(),
		Name:                  "Acme Servicos LTDA",
		CNPJ:                  "12345678000190",
		MunicipalRegistration: "987654",
		CityCode:              "3550308",
		RPSSeries:             "1",
		ISSRate:               decimal.NewFromInt(5),
		ServiceCode:           "01.07",
		Environment:           issuerdomain.EnvironmentStaging,
	}
	require.NoError(t, db.Create(iss).Error)

	gw := &scriptedGateway{}
	allocator := sequencerepo.NewAllocator(db)
	svc := nfseservice.NewService(nfseservice.ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clock.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)),
		IssuerRepo:  issuerrepo.NewRepository(db),
		Allocator:   allocator,
		Gateway:     gw,
		Credentials: noCredentials{},
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	NewServer(ServerParam{
		Engine:    engine,
		Cfg:       config.Config{},
		GenID:     node,
		NfseSvc:   svc,
		Allocator: allocator,
	})

	return &serverEnv{engine: engine, issuer: iss, gateway: gw}
}

func (e *serverEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func (e *serverEnv) issueBody(txID string) gin.H {
	return gin.H{
		"issuer_id": e.issuer.ID.String(),
		"transaction": gin.H{
			"transaction_id": txID,
			"description":    "Consulting services",
			"gross_amount":   "1000.00",
		},
	}
}

func TestIssueDocumentEndpoint_Issued(t *testing.T) {
	env := setupServer(t)
	env.gateway.results = []nfsedomain.SubmitResult{{
		Outcome:          nfsedomain.SubmissionAccepted,
		AuthorityNumber:  "20260001",
		VerificationCode: "AB12",
	}}

	rec := env.do(http.MethodPost, "/api/documents", env.issueBody("tx-1"))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, nfsedomain.DocumentStatusIssued, resp.Status)
	assert.Equal(t, int64(1), resp.RPSNumber)
	assert.Equal(t, "50.00", resp.ISSAmount)
	assert.Equal(t, "950.00", resp.NetAmount)
	require.NotNil(t, resp.AuthorityNumber)
	assert.Equal(t, "20260001", *resp.AuthorityNumber)
}

func TestIssueDocumentEndpoint_RejectedReturnsErrorDocument(t *testing.T) {
	env := setupServer(t)
	env.gateway.results = []nfsedomain.SubmitResult{{
		Outcome: nfsedomain.SubmissionRejected,
		Reason:  "E160: CNPJ invalido",
	}}

	rec := env.do(http.MethodPost, "/api/documents", env.issueBody("tx-2"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, nfsedomain.DocumentStatusError, resp.Status)
	require.NotNil(t, resp.ErrorMessage)
	assert.Contains(t, *resp.ErrorMessage, "E160")
}

func TestIssueDocumentEndpoint_ValidationError(t *testing.T) {
	env := setupServer(t)

	body := env.issueBody("tx-3")
	body["transaction"].(gin.H)["description"] = ""
	rec := env.do(http.MethodPost, "/api/documents", body)

	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "validation_error")
}

func TestIssueDocumentEndpoint_DuplicateConflict(t *testing.T) {
	env := setupServer(t)

	rec := env.do(http.MethodPost, "/api/documents", env.issueBody("tx-dup"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/api/documents", env.issueBody("tx-dup"))
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "conflict")
}

func TestIssueDocumentEndpoint_UnknownIssuer(t *testing.T) {
	env := setupServer(t)

	body := env.issueBody("tx-4")
	body["issuer_id"] = "99999"
	rec := env.do(http.MethodPost, "/api/documents", body)

	require.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestGetDocumentEndpoint(t *testing.T) {
	env := setupServer(t)

	rec := env.do(http.MethodPost, "/api/documents", env.issueBody("tx-get"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = env.do(http.MethodGet, "/api/documents/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/documents/123456", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/api/documents/not-a-number", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDocumentXMLEndpoint(t *testing.T) {
	env := setupServer(t)

	rec := env.do(http.MethodPost, "/api/documents", env.issueBody("tx-xml"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = env.do(http.MethodGet, "/api/documents/"+created.ID+"/xml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, rec.Body.String(), "<GerarNfseEnvio")
}

func TestCancelDocumentEndpoint(t *testing.T) {
	env := setupServer(t)

	rec := env.do(http.MethodPost, "/api/documents", env.issueBody("tx-cancel"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = env.do(http.MethodPost, "/api/documents/"+created.ID+"/cancel", gin.H{
		"reason": "customer requested a full refund",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, nfsedomain.DocumentStatusCancelled, cancelled.Status)

	// Short reason rejected, second cancel conflicts.
	rec = env.do(http.MethodPost, "/api/documents/"+created.ID+"/cancel", gin.H{
		"reason": strings.Repeat("x", 14),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/documents/"+created.ID+"/cancel", gin.H{
		"reason": "customer requested a full refund",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_state")
}

func TestListDocumentsEndpoint(t *testing.T) {
	env := setupServer(t)

	for i := 0; i < 3; i++ {
		rec := env.do(http.MethodPost, "/api/documents", env.issueBody(fmt.Sprintf("tx-list-%d", i)))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(http.MethodGet, "/api/documents?page_size=2&issuer_id="+env.issuer.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp listDocumentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Documents, 2)
	require.NotNil(t, resp.PageInfo)
	assert.True(t, resp.PageInfo.HasMore)

	rec = env.do(http.MethodGet, "/api/documents?status=ISSUED", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Documents, 3)
}

func TestSequenceEndpoint(t *testing.T) {
	env := setupServer(t)

	rec := env.do(http.MethodGet, "/api/issuers/"+env.issuer.ID.String()+"/sequence", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"last_value":0`)

	recIssue := env.do(http.MethodPost, "/api/documents", env.issueBody("tx-seq"))
	require.Equal(t, http.StatusCreated, recIssue.Code)

	rec = env.do(http.MethodGet, "/api/issuers/"+env.issuer.ID.String()+"/sequence", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"last_value":1`)
}
