// Package context carries request-scoped observability identifiers.
package context

import "context"

type requestIDKey struct{}
type issuerIDKey struct{}

// WithRequestID stores the request id on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id, or empty when absent.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithIssuerID stores the issuer scope on the context.
func WithIssuerID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, issuerIDKey{}, id)
}

// IssuerIDFromContext returns the issuer scope, or empty when absent.
func IssuerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(issuerIDKey{}).(string); ok {
		return v
	}
	return ""
}
