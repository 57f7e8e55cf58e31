package attest

import (
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// certificateSchema lists what a caller-supplied certificate mapping must carry
// before it is trusted enough to decode. Timestamps arrive as JSON numbers from
// most clients and as decimal strings from some.
var certificateSchema = map[string]any{
	"type":     "object",
	"required": []any{"hash", "timestamp", "proof"},
	"properties": map[string]any{
		"hash":  map[string]any{"type": "string", "minLength": 1},
		"proof": map[string]any{"type": "string", "minLength": 1},
		"timestamp": map[string]any{
			"anyOf": []any{
				map[string]any{"type": "integer"},
				map[string]any{"type": "string", "pattern": "^-?(0|[1-9][0-9]*)$"},
			},
		},
		"certificate_id": map[string]any{"type": "string"},
		"model":          map[string]any{"type": "string"},
		"version":        map[string]any{"type": "string"},
	},
}

var compiledCertificateSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(certificateSchema))
})

// DecodeCertificate validates and decodes an untrusted certificate mapping.
// Every failure wraps ErrMalformedCertificate.
func DecodeCertificate(raw map[string]any) (Certificate, error) {
	if raw == nil {
		return Certificate{}, errors.Wrap(ErrMalformedCertificate, "certificate is missing")
	}
	schema, err := compiledCertificateSchema()
	if err != nil {
		return Certificate{}, errors.Wrap(err, "compile certificate schema")
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return Certificate{}, errors.Wrap(ErrMalformedCertificate, err.Error())
	}
	if !result.Valid() {
		var b strings.Builder
		for _, e := range result.Errors() {
			if b.Len() > 0 {
				b.WriteString("; ")
			}
			b.WriteString(e.String())
		}
		return Certificate{}, errors.Wrap(ErrMalformedCertificate, b.String())
	}

	var cert Certificate
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &cert,
	})
	if err != nil {
		return Certificate{}, errors.Wrap(err, "build certificate decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return Certificate{}, errors.Wrap(ErrMalformedCertificate, err.Error())
	}
	return cert, nil
}

// VerifyMap checks a certificate received as a loosely typed mapping, as it
// arrives inside a JSON request body. Decoding problems are reported with a
// fixed reason; the decoder's own text goes to Result.Detail.
func (e *Engine) VerifyMap(t Translation, raw map[string]any) Result {
	cert, err := DecodeCertificate(raw)
	if err != nil {
		return malformed(reasonInvalidFields, err)
	}
	return e.Verify(t, cert)
}
