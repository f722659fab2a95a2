package domain

import "errors"

var (
	ErrNotFound           = errors.New("document_not_found")
	ErrInvalidTransaction = errors.New("invalid_transaction")
	ErrAlreadyIssuing     = errors.New("transaction_already_issuing")
	ErrInvalidState       = errors.New("invalid_document_state")
	ErrInvalidReason      = errors.New("invalid_cancel_reason")
)
