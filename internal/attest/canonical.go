package attest

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// CanonicalPayload is the full tuple covered by the digest: the translation
// plus the model and scheme version the engine is configured with.
//
// Layout, every field as a 4-byte little-endian length followed by UTF-8 bytes:
//
//	4 + a   source text
//	4 + b   target text
//	4 + c   source language
//	4 + d   target language
//	4 + e   model
//	4 + f   version
type CanonicalPayload struct {
	Translation
	Model   string
	Version string
}

// Bytes returns the canonical encoding. Two payloads encode to the same bytes
// only when all six fields are equal.
func (p CanonicalPayload) Bytes() ([]byte, error) {
	fields := [...]struct {
		name  string
		value string
	}{
		{"source text", p.SourceText},
		{"target text", p.TargetText},
		{"source language", p.SourceLang},
		{"target language", p.TargetLang},
		{"model", p.Model},
		{"version", p.Version},
	}

	size := 0
	for _, f := range fields {
		if uint64(len(f.value)) > math.MaxUint32 {
			return nil, errors.Wrapf(ErrInvalidInput, "%s exceeds %d bytes", f.name, uint64(math.MaxUint32))
		}
		size += 4 + len(f.value)
	}

	buf := bytes.NewBuffer(make([]byte, 0, size))
	var prefix [4]byte
	for _, f := range fields {
		binary.LittleEndian.PutUint32(prefix[:], uint32(len(f.value)))
		buf.Write(prefix[:])
		buf.WriteString(f.value)
	}
	return buf.Bytes(), nil
}
