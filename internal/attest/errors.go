package attest

import "github.com/pkg/errors"

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrMalformedCertificate = errors.New("malformed certificate")
)
