package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/emissor/internal/clock"
	"github.com/smallbiznis/emissor/internal/credential"
	"github.com/smallbiznis/emissor/internal/issuancelock"
	issuerdomain "github.com/smallbiznis/emissor/internal/issuer/domain"
	"github.com/smallbiznis/emissor/internal/nfse/builder"
	nfsedomain "github.com/smallbiznis/emissor/internal/nfse/domain"
	obscontext "github.com/smallbiznis/emissor/internal/observability/context"
	"github.com/smallbiznis/emissor/internal/observability/logger"
	"github.com/smallbiznis/emissor/internal/observability/metrics"
	sequencedomain "github.com/smallbiznis/emissor/internal/sequence/domain"
	"github.com/smallbiznis/emissor/internal/tax"
	"github.com/smallbiznis/emissor/pkg/db"
	"github.com/smallbiznis/emissor/pkg/db/pagination"
	"github.com/smallbiznis/emissor/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	cancelReasonMinLen = 15
	cancelReasonMaxLen = 255
)

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	IssuerRepo  issuerdomain.Repository
	Allocator   sequencedomain.Allocator
	Gateway     nfsedomain.Gateway
	Credentials credential.Provider
	Lock        *issuancelock.Lock `optional:"true"`
	Metrics     *metrics.Metrics   `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	docrepo     repository.Repository[nfsedomain.FiscalDocument]
	issuerRepo  issuerdomain.Repository
	allocator   sequencedomain.Allocator
	gateway     nfsedomain.Gateway
	credentials credential.Provider
	lock        *issuancelock.Lock
	metrics     *metrics.Metrics
}

func NewService(p ServiceParam) nfsedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("nfse.service"),
		genID: p.GenID,
		clock: p.Clock,

		docrepo:     repository.ProvideStore[nfsedomain.FiscalDocument](p.DB),
		issuerRepo:  p.IssuerRepo,
		allocator:   p.Allocator,
		gateway:     p.Gateway,
		credentials: p.Credentials,
		lock:        p.Lock,
		metrics:     p.Metrics,
	}
}

// Issue runs the issuance pipeline for one transaction.
//
// Validation and tax computation happen before anything is allocated:
// a transaction that cannot produce a legal document must not burn an
// RPS number. The PROCESSING row and the allocated number commit in
// one transaction, so a crash in between leaves nothing half-claimed.
// Submission happens after commit; whatever the authority answers, the
// attempt stays on record.
func (s *Service) Issue(ctx context.Context, req nfsedomain.IssueRequest) (*nfsedomain.FiscalDocument, error) {
	log := logger.FromContext(ctx).Named("nfse.issue")
	trx := req.Transaction

	if err := trx.Validate(); err != nil {
		return nil, err
	}

	issuer, err := s.issuerRepo.GetByID(ctx, req.IssuerID)
	if err != nil {
		return nil, err
	}
	ctx = obscontext.WithIssuerID(ctx, issuer.ID.String())

	issWithheld := issuer.ISSWithheldDefault
	if trx.ISSWithheld != nil {
		issWithheld = *trx.ISSWithheld
	}
	serviceCode := strings.TrimSpace(trx.ServiceCode)
	if serviceCode == "" {
		serviceCode = issuer.ServiceCode
	}
	if serviceCode == "" {
		return nil, fmt.Errorf("%w: no service code on transaction or issuer", nfsedomain.ErrInvalidTransaction)
	}

	breakdown, err := tax.Compute(tax.Input{
		Gross:       trx.Gross,
		Deductions:  trx.Deductions,
		PIS:         trx.PIS,
		COFINS:      trx.COFINS,
		INSS:        trx.INSS,
		IR:          trx.IR,
		CSLL:        trx.CSLL,
		ISSWithheld: issWithheld,
	}, issuer.ISSRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nfsedomain.ErrInvalidTransaction, err)
	}

	release, acquired, err := s.lock.Acquire(ctx, issuer.ID, trx.TransactionID)
	if err != nil {
		return nil, err
	}
	defer release()
	if !acquired {
		return nil, fmt.Errorf("%w: %s", nfsedomain.ErrAlreadyIssuing, trx.TransactionID)
	}

	doc, err := s.createProcessing(ctx, issuer, &trx, breakdown, issWithheld, serviceCode)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordSequenceAllocated(ctx, issuer.ID.String())
	}

	log.Info("document processing",
		zap.String("document_id", doc.ID.String()),
		zap.String("transaction_id", trx.TransactionID),
		zap.Int64("rps_number", doc.RPSNumber),
	)

	cred, err := s.credentials.Resolve(ctx, issuer.CredentialRef)
	if err != nil {
		// No material means no submission attempt was possible; the
		// document still records the failure under its burned number.
		return s.finishError(ctx, doc, fmt.Sprintf("resolve credential: %v", err), "credential", "")
	}

	result := s.gateway.Submit(ctx, nfsedomain.SubmitRequest{
		Envelope:    []byte(doc.OutboundXML),
		CityCode:    issuer.CityCode,
		Environment: issuer.Environment,
		Credential:  cred,
	})
	if s.metrics != nil {
		s.metrics.RecordGatewayOutcome(ctx, string(result.Outcome))
	}

	switch result.Outcome {
	case nfsedomain.SubmissionAccepted:
		return s.finishIssued(ctx, doc, result)
	case nfsedomain.SubmissionRejected:
		return s.finishRejected(ctx, doc, result)
	default:
		return s.finishError(ctx, doc, result.Reason, "unreachable", result.RawResponse)
	}
}

// createProcessing allocates the next RPS number and persists the
// PROCESSING row atomically. A duplicate-key failure on the partial
// transaction index means another live document owns the transaction;
// the rollback returns the number unburned.
func (s *Service) createProcessing(
	ctx context.Context,
	issuer *issuerdomain.Issuer,
	trx *nfsedomain.FiscalTransaction,
	breakdown tax.Breakdown,
	issWithheld bool,
	serviceCode string,
) (*nfsedomain.FiscalDocument, error) {
	var doc *nfsedomain.FiscalDocument

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rpsNumber, err := s.allocator.Next(ctx, tx, issuer.ID)
		if err != nil {
			return err
		}

		envelope, err := builder.Build(builder.Input{
			Issuer:      issuer,
			Transaction: trx,
			Breakdown:   breakdown,
			RPSNumber:   rpsNumber,
			RPSSeries:   issuer.RPSSeries,
			ISSWithheld: issWithheld,
			ServiceCode: serviceCode,
			EmittedAt:   s.clock.Now(),
		})
		if err != nil {
			return err
		}

		row := s.newDocumentRow(issuer, trx, breakdown, issWithheld, serviceCode, rpsNumber, string(envelope))
		if err := tx.Create(row).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return fmt.Errorf("%w: %s", nfsedomain.ErrAlreadyIssuing, trx.TransactionID)
			}
			return err
		}
		doc = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) newDocumentRow(
	issuer *issuerdomain.Issuer,
	trx *nfsedomain.FiscalTransaction,
	breakdown tax.Breakdown,
	issWithheld bool,
	serviceCode string,
	rpsNumber int64,
	envelope string,
) *nfsedomain.FiscalDocument {
	row := &nfsedomain.FiscalDocument{
		ID:            s.genID.Generate(),
		IssuerID:      issuer.ID,
		TransactionID: trx.TransactionID,
		RPSNumber:     rpsNumber,
		RPSSeries:     issuer.RPSSeries,
		Status:        nfsedomain.DocumentStatusProcessing,

		GrossAmount:    trx.Gross.Round(2),
		Deductions:     trx.Deductions.Round(2),
		BaseAmount:     breakdown.Base,
		ISSRate:        breakdown.Rate,
		ISSAmount:      breakdown.ISS,
		NetAmount:      breakdown.Net,
		ISSWithheld:    issWithheld,
		PISWithheld:    trx.PIS.Round(2),
		COFINSWithheld: trx.COFINS.Round(2),
		INSSWithheld:   trx.INSS.Round(2),
		IRWithheld:     trx.IR.Round(2),
		CSLLWithheld:   trx.CSLL.Round(2),
		ServiceCode:    serviceCode,
		CNAECode:       issuer.CNAECode,
		Description:    trx.Description,

		OutboundXML: envelope,
		Metadata:    datatypes.JSONMap(trx.Metadata),
		CreatedAt:   s.clock.Now(),
	}
	if row.Metadata == nil {
		row.Metadata = datatypes.JSONMap{}
	}

	if r := trx.Recipient; r != nil {
		row.RecipientTaxID = r.TaxID
		row.RecipientName = r.Name
		if r.Email != "" {
			row.RecipientEmail = &r.Email
		}
		if a := r.Address; a != nil {
			row.RecipientStreet = &a.Street
			row.RecipientNumber = &a.Number
			row.RecipientDistrict = &a.District
			row.RecipientCityCode = &a.CityCode
			row.RecipientState = &a.State
			row.RecipientZip = &a.Zip
		}
	}
	return row
}

func (s *Service) finishIssued(ctx context.Context, doc *nfsedomain.FiscalDocument, result nfsedomain.SubmitResult) (*nfsedomain.FiscalDocument, error) {
	now := s.clock.Now()
	updates := map[string]interface{}{
		"status":            nfsedomain.DocumentStatusIssued,
		"authority_number":  result.AuthorityNumber,
		"verification_code": result.VerificationCode,
		"inbound_response":  result.RawResponse,
		"issued_at":         now,
	}
	if result.DocumentURL != "" {
		updates["document_url"] = result.DocumentURL
	}
	if err := s.transition(ctx, doc.ID, nfsedomain.DocumentStatusProcessing, updates); err != nil {
		return nil, err
	}

	doc.Status = nfsedomain.DocumentStatusIssued
	doc.AuthorityNumber = &result.AuthorityNumber
	doc.VerificationCode = &result.VerificationCode
	doc.InboundResponse = &result.RawResponse
	if result.DocumentURL != "" {
		doc.DocumentURL = &result.DocumentURL
	}
	doc.IssuedAt = &now

	if s.metrics != nil {
		s.metrics.RecordIssued(ctx, doc.IssuerID.String())
	}
	s.log.Info("document issued",
		zap.String("document_id", doc.ID.String()),
		zap.String("authority_number", result.AuthorityNumber),
	)
	return doc, nil
}

func (s *Service) finishRejected(ctx context.Context, doc *nfsedomain.FiscalDocument, result nfsedomain.SubmitResult) (*nfsedomain.FiscalDocument, error) {
	updates := map[string]interface{}{
		"status":           nfsedomain.DocumentStatusError,
		"error_message":    result.Reason,
		"inbound_response": result.RawResponse,
	}
	if err := s.transition(ctx, doc.ID, nfsedomain.DocumentStatusProcessing, updates); err != nil {
		return nil, err
	}

	doc.Status = nfsedomain.DocumentStatusError
	doc.ErrorMessage = &result.Reason
	doc.InboundResponse = &result.RawResponse

	if s.metrics != nil {
		s.metrics.RecordErrored(ctx, doc.IssuerID.String(), "rejected")
	}
	s.log.Warn("document rejected",
		zap.String("document_id", doc.ID.String()),
		zap.String("reason", result.Reason),
	)
	return doc, nil
}

func (s *Service) finishError(ctx context.Context, doc *nfsedomain.FiscalDocument, message, reason, rawResponse string) (*nfsedomain.FiscalDocument, error) {
	updates := map[string]interface{}{
		"status":        nfsedomain.DocumentStatusError,
		"error_message": message,
	}
	if rawResponse != "" {
		updates["inbound_response"] = rawResponse
	}
	if err := s.transition(ctx, doc.ID, nfsedomain.DocumentStatusProcessing, updates); err != nil {
		return nil, err
	}

	doc.Status = nfsedomain.DocumentStatusError
	doc.ErrorMessage = &message
	if rawResponse != "" {
		doc.InboundResponse = &rawResponse
	}

	if s.metrics != nil {
		s.metrics.RecordErrored(ctx, doc.IssuerID.String(), reason)
	}
	s.log.Warn("document errored",
		zap.String("document_id", doc.ID.String()),
		zap.String("error", message),
	)
	return doc, nil
}

// transition applies a guarded status change. The WHERE clause on the
// current status makes concurrent writers lose cleanly instead of
// clobbering a terminal state.
func (s *Service) transition(ctx context.Context, id snowflake.ID, from nfsedomain.DocumentStatus, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).
		Model(&nfsedomain.FiscalDocument{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: document %s left %s", nfsedomain.ErrInvalidState, id, from)
	}
	return nil
}

// Cancel voids an issued document. Only ISSUED documents may be
// cancelled; the reason is mandatory and length-bounded because it
// goes on the fiscal record.
func (s *Service) Cancel(ctx context.Context, req nfsedomain.CancelRequest) (*nfsedomain.FiscalDocument, error) {
	reason := strings.TrimSpace(req.Reason)
	if len(reason) < cancelReasonMinLen || len(reason) > cancelReasonMaxLen {
		return nil, fmt.Errorf("%w: reason must be between %d and %d characters",
			nfsedomain.ErrInvalidReason, cancelReasonMinLen, cancelReasonMaxLen)
	}

	doc, err := s.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != nfsedomain.DocumentStatusIssued {
		return nil, fmt.Errorf("%w: cannot cancel a %s document", nfsedomain.ErrInvalidState, doc.Status)
	}

	now := s.clock.Now()
	if err := s.transition(ctx, doc.ID, nfsedomain.DocumentStatusIssued, map[string]interface{}{
		"status":        nfsedomain.DocumentStatusCancelled,
		"cancel_reason": reason,
		"cancelled_at":  now,
	}); err != nil {
		return nil, err
	}

	doc.Status = nfsedomain.DocumentStatusCancelled
	doc.CancelReason = &reason
	doc.CancelledAt = &now

	if s.metrics != nil {
		s.metrics.RecordCancelled(ctx, doc.IssuerID.String())
	}
	s.log.Info("document cancelled", zap.String("document_id", doc.ID.String()))
	return doc, nil
}

func (s *Service) GetDocument(ctx context.Context, id snowflake.ID) (*nfsedomain.FiscalDocument, error) {
	doc, err := s.docrepo.FindOne(ctx, &nfsedomain.FiscalDocument{ID: id})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s", nfsedomain.ErrNotFound, id)
	}
	return doc, nil
}

// ListDocuments pages through an issuer's history, newest first. The
// cursor is the last document id of the previous page.
func (s *Service) ListDocuments(ctx context.Context, req nfsedomain.ListRequest) (*nfsedomain.ListResult, error) {
	limit := req.Pagination.PageSize
	if limit <= 0 {
		limit = 10
	}
	if limit > 250 {
		limit = 250
	}

	query := s.db.WithContext(ctx).Model(&nfsedomain.FiscalDocument{})
	if req.IssuerID != 0 {
		query = query.Where("issuer_id = ?", req.IssuerID)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.TransactionID != "" {
		query = query.Where("transaction_id = ?", req.TransactionID)
	}
	if token := strings.TrimSpace(req.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, fmt.Errorf("%w: bad page token", nfsedomain.ErrInvalidTransaction)
		}
		lastID, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad page token", nfsedomain.ErrInvalidTransaction)
		}
		query = query.Where("id < ?", lastID)
	}

	var docs []*nfsedomain.FiscalDocument
	if err := query.Order("id DESC").Limit(limit + 1).Find(&docs).Error; err != nil {
		return nil, err
	}

	pageInfo := pagination.BuildCursorPageInfo(docs, int32(limit), func(d *nfsedomain.FiscalDocument) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        d.ID.String(),
			CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		return token
	})
	if len(docs) > limit {
		docs = docs[:limit]
	}

	return &nfsedomain.ListResult{Documents: docs, PageInfo: pageInfo}, nil
}
