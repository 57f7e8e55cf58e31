package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrUnavailable = errors.New("translator unavailable")

// Output is a finished translation as returned by the provider.
type Output struct {
	Text     string
	Duration time.Duration
}

// Translator is the external machine-translation provider.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (Output, error)
}

type Config struct {
	URL         string
	Timeout     time.Duration
	MaxElapsed  time.Duration
	HTTPClient  *http.Client
	MaxInterval time.Duration
	Logger      *zap.Logger
}

// Client talks to a translation provider over HTTP JSON.
type Client struct {
	url         string
	http        *http.Client
	log         *zap.Logger
	maxElapsed  time.Duration
	maxInterval time.Duration
}

type request struct {
	Text       string `json:"text"`
	SourceLang string `json:"src_lang"`
	TargetLang string `json:"tgt_lang"`
}

type response struct {
	TranslatedText *string `json:"translated_text"`
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.Wrap(ErrUnavailable, "translator url is not configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 2 * cfg.Timeout
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		url:         cfg.URL,
		http:        cfg.HTTPClient,
		log:         cfg.Logger,
		maxElapsed:  cfg.MaxElapsed,
		maxInterval: cfg.MaxInterval,
	}, nil
}

// Translate posts the text to the provider, retrying transport errors and 5xx
// answers with exponential backoff until ctx ends or the retry budget runs out.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (Output, error) {
	body, err := json.Marshal(request{Text: text, SourceLang: sourceLang, TargetLang: targetLang})
	if err != nil {
		return Output{}, errors.Wrap(err, "encode translation request")
	}

	start := time.Now()
	var out string
	operation := func() error {
		translated, err := c.post(ctx, body)
		if err != nil {
			return err
		}
		out = translated
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.maxElapsed
	policy.MaxInterval = c.maxInterval
	notify := func(err error, wait time.Duration) {
		c.log.Warn("translation attempt failed", zap.Error(err), zap.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		c.log.Error("translation failed", zap.Error(err))
		return Output{}, errors.Wrap(ErrUnavailable, "translation provider failed")
	}
	return Output{Text: out, Duration: time.Since(start)}, nil
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", errors.Errorf("provider returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", backoff.Permanent(errors.Errorf("provider returned %d: %s", resp.StatusCode, bytes.TrimSpace(payload)))
	}

	var decoded response
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", backoff.Permanent(errors.Wrap(err, "decode provider response"))
	}
	if decoded.TranslatedText == nil {
		return "", backoff.Permanent(errors.New("provider response lacks translated_text"))
	}
	return *decoded.TranslatedText, nil
}
