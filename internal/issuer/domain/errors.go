package domain

import "errors"

var (
	ErrNotFound = errors.New("issuer_not_found")
)
