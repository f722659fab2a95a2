package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	nfsedomain "github.com/smallbiznis/emissor/internal/nfse/domain"
	"github.com/smallbiznis/emissor/pkg/db/pagination"
)

type issueDocumentRequest struct {
	IssuerID    string                       `json:"issuer_id" binding:"required"`
	Transaction nfsedomain.FiscalTransaction `json:"transaction" binding:"required"`
}

type documentResponse struct {
	ID               string                    `json:"id"`
	IssuerID         string                    `json:"issuer_id"`
	TransactionID    string                    `json:"transaction_id"`
	Status           nfsedomain.DocumentStatus `json:"status"`
	RPSNumber        int64                     `json:"rps_number"`
	RPSSeries        string                    `json:"rps_series"`
	GrossAmount      string                    `json:"gross_amount"`
	Deductions       string                    `json:"deductions"`
	BaseAmount       string                    `json:"base_amount"`
	ISSRate          string                    `json:"iss_rate"`
	ISSAmount        string                    `json:"iss_amount"`
	NetAmount        string                    `json:"net_amount"`
	ISSWithheld      bool                      `json:"iss_withheld"`
	ServiceCode      string                    `json:"service_code"`
	Description      string                    `json:"description"`
	AuthorityNumber  *string                   `json:"authority_number,omitempty"`
	VerificationCode *string                   `json:"verification_code,omitempty"`
	DocumentURL      *string                   `json:"document_url,omitempty"`
	ErrorMessage     *string                   `json:"error_message,omitempty"`
	CancelReason     *string                   `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time                 `json:"created_at"`
	IssuedAt         *time.Time                `json:"issued_at,omitempty"`
	CancelledAt      *time.Time                `json:"cancelled_at,omitempty"`
}

type listDocumentsQuery struct {
	IssuerID      string `form:"issuer_id"`
	Status        string `form:"status"`
	TransactionID string `form:"transaction_id"`
	pagination.Pagination
}

type listDocumentsResponse struct {
	Documents []documentResponse   `json:"documents"`
	PageInfo  *pagination.PageInfo `json:"page_info"`
}

type cancelDocumentRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func toDocumentResponse(d *nfsedomain.FiscalDocument) documentResponse {
	return documentResponse{
		ID:               d.ID.String(),
		IssuerID:         d.IssuerID.String(),
		TransactionID:    d.TransactionID,
		Status:           d.Status,
		RPSNumber:        d.RPSNumber,
		RPSSeries:        d.RPSSeries,
		GrossAmount:      d.GrossAmount.StringFixed(2),
		Deductions:       d.Deductions.StringFixed(2),
		BaseAmount:       d.BaseAmount.StringFixed(2),
		ISSRate:          d.ISSRate.StringFixed(4),
		ISSAmount:        d.ISSAmount.StringFixed(2),
		NetAmount:        d.NetAmount.StringFixed(2),
		ISSWithheld:      d.ISSWithheld,
		ServiceCode:      d.ServiceCode,
		Description:      d.Description,
		AuthorityNumber:  d.AuthorityNumber,
		VerificationCode: d.VerificationCode,
		DocumentURL:      d.DocumentURL,
		ErrorMessage:     d.ErrorMessage,
		CancelReason:     d.CancelReason,
		CreatedAt:        d.CreatedAt,
		IssuedAt:         d.IssuedAt,
		CancelledAt:      d.CancelledAt,
	}
}

// issueDocument handles POST /api/documents. An ISSUED document comes
// back 201; an ERROR document comes back 200 because the attempt itself
// is on record and retryable.
func (s *Server) issueDocument(c *gin.Context) {
	var req issueDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}

	issuerID, err := parseID(req.IssuerID)
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: issuer_id must be numeric", ErrInvalidRequest))
		return
	}

	doc, err := s.nfseSvc.Issue(c.Request.Context(), nfsedomain.IssueRequest{
		IssuerID:    issuerID,
		Transaction: req.Transaction,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if doc.Status == nfsedomain.DocumentStatusIssued {
		status = http.StatusCreated
	}
	c.JSON(status, toDocumentResponse(doc))
}

func (s *Server) getDocument(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: document id must be numeric", ErrInvalidRequest))
		return
	}

	doc, err := s.nfseSvc.GetDocument(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

// getDocumentXML returns the envelope exactly as it was submitted.
func (s *Server) getDocumentXML(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: document id must be numeric", ErrInvalidRequest))
		return
	}

	doc, err := s.nfseSvc.GetDocument(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(doc.OutboundXML))
}

func (s *Server) listDocuments(c *gin.Context) {
	var query listDocumentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}

	req := nfsedomain.ListRequest{
		Status:        nfsedomain.DocumentStatus(query.Status),
		TransactionID: query.TransactionID,
		Pagination:    query.Pagination,
	}
	if query.IssuerID != "" {
		issuerID, err := parseID(query.IssuerID)
		if err != nil {
			AbortWithError(c, fmt.Errorf("%w: issuer_id must be numeric", ErrInvalidRequest))
			return
		}
		req.IssuerID = issuerID
	}

	res, err := s.nfseSvc.ListDocuments(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := listDocumentsResponse{
		Documents: make([]documentResponse, 0, len(res.Documents)),
		PageInfo:  res.PageInfo,
	}
	for _, doc := range res.Documents {
		out.Documents = append(out.Documents, toDocumentResponse(doc))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) cancelDocument(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: document id must be numeric", ErrInvalidRequest))
		return
	}

	var req cancelDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}

	doc, err := s.nfseSvc.Cancel(c.Request.Context(), nfsedomain.CancelRequest{
		DocumentID: id,
		Reason:     req.Reason,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

func (s *Server) getSequence(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: issuer id must be numeric", ErrInvalidRequest))
		return
	}

	current, err := s.allocator.Current(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"issuer_id":  id.String(),
		"last_value": current,
	})
}

func parseID(raw string) (snowflake.ID, error) {
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return snowflake.ID(parsed), nil
}
