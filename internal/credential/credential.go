// Package credential loads authority signing material for issuers.
package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrNotFound = errors.New("credential_not_found")

// Credential is the material presented to a municipal authority on
// submission. Passphrase never appears in logs or serialized forms.
type Credential struct {
	CertificatePEM []byte
	Passphrase     string
}

// String keeps the passphrase out of %v formatting and log fields.
func (c Credential) String() string {
	return fmt.Sprintf("credential(cert=%dB, passphrase=***)", len(c.CertificatePEM))
}

// Provider resolves an issuer's credential reference to its material.
type Provider interface {
	Resolve(ctx context.Context, ref string) (Credential, error)
}

// EnvFileProvider reads references of the form "file:<path>" (PEM on
// disk, passphrase in EMISSOR_CERT_PASSPHRASE) or "env:<NAME>" (PEM in
// the named variable, passphrase in <NAME>_PASSPHRASE).
type EnvFileProvider struct{}

func NewEnvFileProvider() Provider { return &EnvFileProvider{} }

func (p *EnvFileProvider) Resolve(ctx context.Context, ref string) (Credential, error) {
	switch {
	case ref == "":
		return Credential{}, ErrNotFound
	case strings.HasPrefix(ref, "file:"):
		pem, err := os.ReadFile(strings.TrimPrefix(ref, "file:"))
		if err != nil {
			return Credential{}, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return Credential{CertificatePEM: pem, Passphrase: os.Getenv("EMISSOR_CERT_PASSPHRASE")}, nil
	case strings.HasPrefix(ref, "env:"):
		name := strings.TrimPrefix(ref, "env:")
		pem, ok := os.LookupEnv(name)
		if !ok {
			return Credential{}, ErrNotFound
		}
		return Credential{CertificatePEM: []byte(pem), Passphrase: os.Getenv(name + "_PASSPHRASE")}, nil
	default:
		return Credential{}, fmt.Errorf("%w: unknown scheme in %q", ErrNotFound, scheme(ref))
	}
}

func scheme(ref string) string {
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		return ref[:i]
	}
	return ref
}
