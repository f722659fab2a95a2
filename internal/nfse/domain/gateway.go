package domain

import (
	"context"

	"github.com/smallbiznis/emissor/internal/credential"
	issuerdomain "github.com/smallbiznis/emissor/internal/issuer/domain"
)

// SubmissionOutcome classifies the authority's answer to a submission.
type SubmissionOutcome string

const (
	// SubmissionAccepted means the authority issued the document.
	SubmissionAccepted SubmissionOutcome = "ACCEPTED"
	// SubmissionRejected means the authority refused the envelope with
	// a structured reason.
	SubmissionRejected SubmissionOutcome = "REJECTED"
	// SubmissionUnreachable means no authoritative answer arrived:
	// timeout, connection failure, or an unparseable reply.
	SubmissionUnreachable SubmissionOutcome = "UNREACHABLE"
)

// SubmitRequest carries one envelope to the municipal gateway.
type SubmitRequest struct {
	Envelope    []byte
	CityCode    string
	Environment issuerdomain.Environment
	Credential  credential.Credential
}

// SubmitResult is the gateway's classification of the reply. Transport
// failures surface as OutcomeUnreachable with the failure in Reason,
// not as an error: the caller must record the attempt either way.
type SubmitResult struct {
	Outcome          SubmissionOutcome
	AuthorityNumber  string
	VerificationCode string
	DocumentURL      string
	Reason           string
	RawResponse      string
}

// Gateway submits envelopes to a municipal authority endpoint.
type Gateway interface {
	Submit(ctx context.Context, req SubmitRequest) SubmitResult
}
