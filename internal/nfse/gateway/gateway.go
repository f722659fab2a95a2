// Package gateway submits NFS-e envelopes to municipal authorities.
package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/smallbiznis/emissor/internal/authority"
	appconfig "github.com/smallbiznis/emissor/internal/config"
	"github.com/smallbiznis/emissor/internal/credential"
	"github.com/smallbiznis/emissor/internal/nfse/domain"
	"github.com/smallbiznis/emissor/internal/observability/logger"
	"go.uber.org/zap"
)

// responseBodyLimit caps how much of an authority reply we read and
// persist. Municipal gateways occasionally return error pages.
const responseBodyLimit = 1 << 20

type httpGateway struct {
	client   *http.Client
	registry *authority.Registry
}

// NewHTTPGateway builds the production gateway. The timeout covers the
// whole exchange; a submission that outlives it is UNREACHABLE, never
// an assumed success.
func NewHTTPGateway(cfg appconfig.Config, registry *authority.Registry) domain.Gateway {
	return &httpGateway{
		client:   &http.Client{Timeout: cfg.GatewayTimeout},
		registry: registry,
	}
}

func (g *httpGateway) Submit(ctx context.Context, req domain.SubmitRequest) domain.SubmitResult {
	log := logger.FromContext(ctx)

	url, err := g.registry.Resolve(req.CityCode, req.Environment)
	if err != nil {
		return unreachable(fmt.Sprintf("resolve endpoint: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Envelope))
	if err != nil {
		return unreachable(fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/xml; charset=utf-8")

	client := g.client
	if len(req.Credential.CertificatePEM) > 0 {
		transport, err := clientCertTransport(req.Credential)
		if err != nil {
			log.Warn("client certificate unusable, submitting without mTLS",
				zap.String("city_code", req.CityCode),
				zap.Error(err),
			)
		} else {
			client = &http.Client{Timeout: g.client.Timeout, Transport: transport}
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		log.Warn("authority unreachable",
			zap.String("city_code", req.CityCode),
			zap.Error(err),
		)
		return unreachable(fmt.Sprintf("submit: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return unreachable(fmt.Sprintf("read response: %v", err))
	}

	result := classify(resp.StatusCode, body)
	log.Info("authority response",
		zap.String("city_code", req.CityCode),
		zap.Int("status_code", resp.StatusCode),
		zap.String("outcome", string(result.Outcome)),
	)
	return result
}

// clientCertTransport builds an mTLS transport from a PEM bundle that
// carries both the certificate and an unencrypted key. An encrypted key
// fails here; the caller falls back to the plain client and logs it.
func clientCertTransport(cred credential.Credential) (*http.Transport, error) {
	pair, err := tls.X509KeyPair(cred.CertificatePEM, cred.CertificatePEM)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	return &http.Transport{
		TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{pair}},
	}, nil
}

type authorityResponse struct {
	XMLName          xml.Name        `xml:"GerarNfseResposta"`
	Number           string          `xml:"ListaNfse>CompNfse>Nfse>InfNfse>Numero"`
	VerificationCode string          `xml:"ListaNfse>CompNfse>Nfse>InfNfse>CodigoVerificacao"`
	DocumentURL      string          `xml:"ListaNfse>CompNfse>Nfse>InfNfse>OutrasInformacoes"`
	Messages         []returnMessage `xml:"ListaMensagemRetorno>MensagemRetorno"`
}

type returnMessage struct {
	Code    string `xml:"Codigo"`
	Message string `xml:"Mensagem"`
}

// classify maps an authority reply to an outcome. A rejection needs a
// parseable message list; anything else that is not a clean acceptance
// counts as UNREACHABLE so the caller records an error instead of
// guessing.
func classify(statusCode int, body []byte) domain.SubmitResult {
	raw := string(body)

	var parsed authorityResponse
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return domain.SubmitResult{
			Outcome:     domain.SubmissionUnreachable,
			Reason:      fmt.Sprintf("unparseable response (http %d)", statusCode),
			RawResponse: raw,
		}
	}

	if parsed.Number != "" {
		return domain.SubmitResult{
			Outcome:          domain.SubmissionAccepted,
			AuthorityNumber:  parsed.Number,
			VerificationCode: parsed.VerificationCode,
			DocumentURL:      strings.TrimSpace(parsed.DocumentURL),
			RawResponse:      raw,
		}
	}

	if len(parsed.Messages) > 0 {
		reasons := make([]string, 0, len(parsed.Messages))
		for _, m := range parsed.Messages {
			reasons = append(reasons, fmt.Sprintf("%s: %s", m.Code, m.Message))
		}
		return domain.SubmitResult{
			Outcome:     domain.SubmissionRejected,
			Reason:      strings.Join(reasons, "; "),
			RawResponse: raw,
		}
	}

	return domain.SubmitResult{
		Outcome:     domain.SubmissionUnreachable,
		Reason:      fmt.Sprintf("response carried neither a document nor messages (http %d)", statusCode),
		RawResponse: raw,
	}
}

func unreachable(reason string) domain.SubmitResult {
	return domain.SubmitResult{Outcome: domain.SubmissionUnreachable, Reason: reason}
}
