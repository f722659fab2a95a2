package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/emissor/pkg/db/pagination"
)

// IssueRequest asks for a fiscal document covering one transaction.
type IssueRequest struct {
	IssuerID    snowflake.ID
	Transaction FiscalTransaction
}

// CancelRequest voids an issued document. Reason must be between 15
// and 255 characters after trimming.
type CancelRequest struct {
	DocumentID snowflake.ID
	Reason     string
}

// ListRequest filters the document history of one issuer.
type ListRequest struct {
	IssuerID      snowflake.ID
	Status        DocumentStatus
	TransactionID string
	Pagination    pagination.Pagination
}

// ListResult is one page of documents plus the cursor to the next.
type ListResult struct {
	Documents []*FiscalDocument
	PageInfo  *pagination.PageInfo
}

// Service drives the issuance lifecycle.
type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*FiscalDocument, error)
	Cancel(ctx context.Context, req CancelRequest) (*FiscalDocument, error)
	GetDocument(ctx context.Context, id snowflake.ID) (*FiscalDocument, error)
	ListDocuments(ctx context.Context, req ListRequest) (*ListResult, error)
}
