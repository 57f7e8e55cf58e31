package attest

import (
	"crypto/hmac"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	ProofPrefix         = "zisk_v1_"
	CertificateIDPrefix = "ZK-"

	certificateIDLength = 12
)

// Config fixes the engine at process start. Secret is never echoed back in
// any certificate or result.
type Config struct {
	Secret  string
	Model   string
	Version string
	// MaxAge bounds the age of a certificate at verification time. Zero means
	// certificates never expire.
	MaxAge time.Duration
	Now    func() time.Time
}

// Engine produces and checks translation certificates. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	secret  []byte
	model   string
	version string
	maxAge  time.Duration
	now     func() time.Time
}

func New(cfg Config) (*Engine, error) {
	if cfg.Secret == "" {
		return nil, errors.New("attest: shared secret is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("attest: model identifier is required")
	}
	if cfg.Version == "" {
		return nil, errors.New("attest: scheme version is required")
	}
	if cfg.MaxAge < 0 {
		return nil, errors.Errorf("attest: negative max age %s", cfg.MaxAge)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		secret:  []byte(cfg.Secret),
		model:   cfg.Model,
		version: cfg.Version,
		maxAge:  cfg.MaxAge,
		now:     cfg.Now,
	}, nil
}

func (e *Engine) Model() string   { return e.model }
func (e *Engine) Version() string { return e.version }

// NewPayload builds a Translation from possibly absent request fields. Texts
// may be empty but not absent; language codes must be non-empty.
func NewPayload(sourceText, targetText *string, sourceLang, targetLang string) (Translation, error) {
	if sourceText == nil {
		return Translation{}, errors.Wrap(ErrInvalidInput, "source text is required")
	}
	if targetText == nil {
		return Translation{}, errors.Wrap(ErrInvalidInput, "target text is required")
	}
	t := Translation{
		SourceText: *sourceText,
		TargetText: *targetText,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}
	if err := t.validate(); err != nil {
		return Translation{}, err
	}
	return t, nil
}

func (t Translation) validate() error {
	if t.SourceLang == "" {
		return errors.Wrap(ErrInvalidInput, "source language is required")
	}
	if t.TargetLang == "" {
		return errors.Wrap(ErrInvalidInput, "target language is required")
	}
	return nil
}

// Digest returns the hex SHA-256 of the canonical payload for t under this
// engine's model and version.
func (e *Engine) Digest(t Translation) (string, error) {
	payload := CanonicalPayload{Translation: t, Model: e.model, Version: e.version}
	raw, err := payload.Bytes()
	if err != nil {
		return "", err
	}
	return hashBytes(raw), nil
}

// Attest issues a certificate for t stamped with the current time.
func (e *Engine) Attest(t Translation) (Certificate, error) {
	if err := t.validate(); err != nil {
		return Certificate{}, err
	}
	digest, err := e.Digest(t)
	if err != nil {
		return Certificate{}, err
	}
	timestamp := e.now().UnixMilli()
	signature := e.sign(digest, timestamp)

	return Certificate{
		CertificateID: CertificateIDPrefix + strings.ToUpper(signature[:certificateIDLength]),
		ProofToken:    ProofPrefix + signature,
		Hash:          digest,
		Timestamp:     timestamp,
		Model:         e.model,
		Version:       e.version,
	}, nil
}

// Verify recomputes the digest of t and the expected proof token for cert.
// A hash mismatch is reported before a signature mismatch.
func (e *Engine) Verify(t Translation, cert Certificate) Result {
	if cert.Hash == "" || cert.ProofToken == "" {
		return malformed(reasonMissingFields, nil)
	}
	digest, err := e.Digest(t)
	if err != nil {
		return malformed(reasonUnencodable, err)
	}
	if !hmac.Equal([]byte(digest), []byte(cert.Hash)) {
		return rejected(OutcomeHashMismatch, MessageHashMismatch)
	}
	expected := ProofPrefix + e.sign(digest, cert.Timestamp)
	if !hmac.Equal([]byte(expected), []byte(cert.ProofToken)) {
		return rejected(OutcomeSignatureMismatch, MessageSignatureMismatch)
	}
	if e.expired(cert.Timestamp) {
		return rejected(OutcomeExpired, MessageExpired)
	}
	return verified()
}

// sign binds digest and timestamp to the shared secret:
// sha256(digest_hex "|" timestamp "|" secret).
func (e *Engine) sign(digest string, timestamp int64) string {
	return hashBytes(
		[]byte(digest),
		[]byte("|"+strconv.FormatInt(timestamp, 10)+"|"),
		e.secret,
	)
}

func (e *Engine) expired(timestamp int64) bool {
	if e.maxAge <= 0 {
		return false
	}
	issued := time.UnixMilli(timestamp)
	now := e.now()
	return issued.Before(now.Add(-e.maxAge)) || issued.After(now.Add(e.maxAge))
}
