package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"translation_assurance/internal/attest"
	"translation_assurance/internal/ledger"
	"translation_assurance/internal/policy"
	"translation_assurance/internal/ratelimit"
	"translation_assurance/internal/translate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubTranslator struct {
	out string
	err error
}

func (s stubTranslator) Translate(_ context.Context, _, _, _ string) (translate.Output, error) {
	return translate.Output{Text: s.out, Duration: 15 * time.Millisecond}, s.err
}

func newEngine(t *testing.T) *attest.Engine {
	t.Helper()
	engine, err := attest.New(attest.Config{Secret: "secret", Model: "m1", Version: "v1"})
	require.NoError(t, err)
	return engine
}

func newTestServer(t *testing.T, mutate func(*Deps)) (*Server, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.Open(t.TempDir(), 2)
	require.NoError(t, err)
	deps := Deps{
		Engine:     newEngine(t),
		Ledger:     l,
		Translator: stubTranslator{out: "Hello world"},
	}
	if mutate != nil {
		mutate(&deps)
	}
	s, err := New(deps)
	require.NoError(t, err)
	return s, l
}

func do(t *testing.T, s *Server, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func attestBody() map[string]any {
	return map[string]any{
		"src_text": "Hola mundo",
		"tgt_text": "Hello world",
		"src_lang": "spa_Latn",
		"tgt_lang": "eng_Latn",
	}
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "m1", body["model"])
	assert.NotEmpty(t, w.Header().Get(headerRequestID))
}

func TestAttestThenVerify(t *testing.T) {
	s, l := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/attest", attestBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cert := decode[map[string]any](t, w)
	for _, key := range []string{"certificate_id", "proof", "hash", "timestamp", "model", "version"} {
		require.Contains(t, cert, key)
	}

	verifyBody := attestBody()
	verifyBody["proof_data"] = cert
	w = do(t, s, http.MethodPost, "/verify", verifyBody)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, verifyResponse{Success: true, Message: attest.MessageVerified}, decode[verifyResponse](t, w))

	verifyBody["tgt_text"] = "Hello world!"
	w = do(t, s, http.MethodPost, "/verify", verifyBody)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[verifyResponse](t, w)
	require.False(t, res.Success)
	require.Equal(t, attest.MessageHashMismatch, res.Message)

	rec, err := l.Find(cert["certificate_id"].(string))
	require.NoError(t, err)
	require.Equal(t, channelAttest, rec.Entry.Channel)
	require.Equal(t, cert["hash"], rec.Entry.Hash)
}

func TestAttestRejectsAbsentText(t *testing.T) {
	s, _ := newTestServer(t, nil)
	body := attestBody()
	delete(body, "tgt_text")

	w := do(t, s, http.MethodPost, "/attest", body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_INPUT", decode[errorResponse](t, w).Code)

	body = attestBody()
	body["tgt_text"] = ""
	w = do(t, s, http.MethodPost, "/attest", body)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAttestRequiresSignatureWhenConfigured(t *testing.T) {
	s, _ := newTestServer(t, func(d *Deps) { d.ClientSecret = "client" })
	raw, err := json.Marshal(attestBody())
	require.NoError(t, err)

	w := do(t, s, http.MethodPost, "/attest", raw)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodPost, "/attest", raw, headerSignature, "sha256="+signBody(raw, "wrong"))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodPost, "/attest", raw, headerSignature, "sha256="+signBody(raw, "client"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestVerifyMalformedCertificateIsAVerdict(t *testing.T) {
	s, _ := newTestServer(t, nil)
	body := attestBody()
	body["proof_data"] = map[string]any{"hash": "abc"}

	w := do(t, s, http.MethodPost, "/verify", body)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[verifyResponse](t, w)
	require.False(t, res.Success)
	require.Contains(t, res.Message, "Malformed certificate")

	delete(body, "proof_data")
	w = do(t, s, http.MethodPost, "/verify", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, decode[verifyResponse](t, w).Success)
}

func TestVerifyInvalidJSON(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := do(t, s, http.MethodPost, "/verify", []byte("{"))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTranslateVerifiedMode(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/translate", map[string]any{
		"text":          "Hola mundo",
		"src_lang":      "spa_Latn",
		"tgt_lang":      "eng_Latn",
		"verified_mode": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[translationResponse](t, w)
	require.Equal(t, "Hello world", resp.TranslatedText)
	require.Equal(t, int64(15), resp.TimeMS)
	require.NotNil(t, resp.Verification)

	res := newEngine(t).Verify(attest.Translation{
		SourceText: "Hola mundo",
		TargetText: "Hello world",
		SourceLang: "spa_Latn",
		TargetLang: "eng_Latn",
	}, *resp.Verification)
	require.True(t, res.Success)

	w = do(t, s, http.MethodPost, "/translate", map[string]any{
		"text":     "Hola mundo",
		"src_lang": "spa_Latn",
		"tgt_lang": "eng_Latn",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Nil(t, decode[translationResponse](t, w).Verification)
}

func TestTranslateWithoutProvider(t *testing.T) {
	s, _ := newTestServer(t, func(d *Deps) { d.Translator = nil })
	w := do(t, s, http.MethodPost, "/translate", map[string]any{"text": "x", "src_lang": "a", "tgt_lang": "b"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTranslateProviderFailure(t *testing.T) {
	s, _ := newTestServer(t, func(d *Deps) {
		d.Translator = stubTranslator{err: translate.ErrUnavailable}
	})
	w := do(t, s, http.MethodPost, "/translate", map[string]any{"text": "x", "src_lang": "a", "tgt_lang": "b"})
	require.Equal(t, http.StatusBadGateway, w.Code)
}

func TestPolicyDeniesLanguagePair(t *testing.T) {
	pol, err := policy.New(policy.Policy{Rules: []policy.Rule{
		{ID: "es-en", Effect: "allow", SourceLangs: []string{"spa_Latn"}, TargetLangs: []string{"eng_Latn"}},
	}})
	require.NoError(t, err)
	s, _ := newTestServer(t, func(d *Deps) { d.Policy = pol })

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/attest", attestBody()).Code)

	body := attestBody()
	body["src_lang"] = "fra_Latn"
	w := do(t, s, http.MethodPost, "/attest", body)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "POLICY_DENIED", decode[errorResponse](t, w).Code)
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(d *Deps) {
		d.Limiter = ratelimit.NewMemory(ratelimit.MemoryConfig{})
		d.RateLimitRequests = 1
		d.RateLimitWindow = time.Minute
	})

	w := do(t, s, http.MethodPost, "/attest", attestBody())
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "0", w.Header().Get("RateLimit-Remaining"))

	w = do(t, s, http.MethodPost, "/attest", attestBody())
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	// routes are limited independently
	verifyBody := attestBody()
	verifyBody["proof_data"] = map[string]any{}
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/verify", verifyBody).Code)
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	s, _ := newTestServer(t, func(d *Deps) {
		d.Limiter = ratelimit.NewMemory(ratelimit.MemoryConfig{})
		d.RateLimitRequests = 1
	})

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		w := do(t, s, http.MethodPost, "/attest", attestBody(), "X-Forwarded-For", fmt.Sprintf("1.2.3.%d", i))
		codes = append(codes, w.Code)
	}
	require.Equal(t, http.StatusOK, codes[0])
	for _, code := range codes[1:] {
		require.Equal(t, http.StatusTooManyRequests, code)
	}
}

func TestRateLimitHonoursTrustedProxy(t *testing.T) {
	s, _ := newTestServer(t, func(d *Deps) {
		d.Limiter = ratelimit.NewMemory(ratelimit.MemoryConfig{})
		d.RateLimitRequests = 1
		d.TrustedProxies = []string{"192.0.2.0/24"}
	})

	for i := 0; i < 3; i++ {
		w := do(t, s, http.MethodPost, "/attest", attestBody(), "X-Forwarded-For", fmt.Sprintf("1.2.3.%d", i))
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := do(t, s, http.MethodPost, "/attest", attestBody(), "X-Forwarded-For", "1.2.3.0")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitFullLimiterRejects(t *testing.T) {
	s, _ := newTestServer(t, func(d *Deps) {
		d.Limiter = ratelimit.NewMemory(ratelimit.MemoryConfig{MaxKeys: 1})
		d.RateLimitRequests = 5
	})

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/attest", attestBody()).Code)
	// a second route needs a second key
	verifyBody := attestBody()
	verifyBody["proof_data"] = map[string]any{}
	require.Equal(t, http.StatusTooManyRequests, do(t, s, http.MethodPost, "/verify", verifyBody).Code)
}

func TestNewRejectsBadTrustedProxy(t *testing.T) {
	_, err := New(Deps{Engine: newEngine(t), TrustedProxies: []string{"not-an-ip"}})
	require.Error(t, err)
}

func TestLedgerEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)
	var ids []string
	for i := 0; i < 3; i++ {
		w := do(t, s, http.MethodPost, "/attest", attestBody())
		require.Equal(t, http.StatusOK, w.Code)
		ids = append(ids, decode[attest.Certificate](t, w).CertificateID)
	}

	w := do(t, s, http.MethodGet, "/ledger/verify", nil)
	require.Equal(t, http.StatusOK, w.Code)
	verify := decode[struct {
		OK     bool          `json:"ok"`
		Report ledger.Report `json:"report"`
	}](t, w)
	require.True(t, verify.OK)
	require.Equal(t, int64(3), verify.Report.Total)
	require.Equal(t, 1, verify.Report.RootsChecked)

	w = do(t, s, http.MethodGet, "/ledger/certificates?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Items []ledger.Record `json:"items"`
	}](t, w)
	require.Len(t, list.Items, 2)

	w = do(t, s, http.MethodGet, "/ledger/certificates/"+ids[0], nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/ledger/certificates/ZK-MISSING", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodGet, "/ledger/root/latest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	root := decode[map[string]any](t, w)
	require.NotNil(t, root["last_root"])
	require.NotEmpty(t, root["current_root"])
}

func TestVerifySignatureHeader(t *testing.T) {
	body := []byte(`{"a":1}`)
	sig := signBody(body, "k")
	require.True(t, verifySignature(body, "sha256="+sig, "k"))
	require.False(t, verifySignature(body, sig, "k"))
	require.False(t, verifySignature(body, "sha256=", "k"))
	require.False(t, verifySignature(body, "sha256="+sig, ""))
}
