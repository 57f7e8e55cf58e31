package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"translation_assurance/internal/attest"
	"translation_assurance/internal/ledger"
	"translation_assurance/internal/logging"
	"translation_assurance/internal/policy"
)

const (
	channelTranslate = "translate"
	channelAttest    = "attest"
)

type translationRequest struct {
	Text         *string `json:"text"`
	SourceLang   string  `json:"src_lang"`
	TargetLang   string  `json:"tgt_lang"`
	VerifiedMode bool    `json:"verified_mode"`
}

type translationResponse struct {
	TranslatedText string              `json:"translated_text"`
	TimeMS         int64               `json:"time_ms"`
	Verification   *attest.Certificate `json:"verification"`
}

type attestRequest struct {
	SourceText *string `json:"src_text"`
	TargetText *string `json:"tgt_text"`
	SourceLang string  `json:"src_lang"`
	TargetLang string  `json:"tgt_lang"`
}

type verifyRequest struct {
	SourceText string         `json:"src_text"`
	TargetText string         `json:"tgt_text"`
	SourceLang string         `json:"src_lang"`
	TargetLang string         `json:"tgt_lang"`
	ProofData  map[string]any `json:"proof_data"`
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"model":      s.engine.Model(),
		"version":    s.engine.Version(),
		"translator": s.translator != nil,
		"ledger":     s.ledger != nil,
	})
}

func (s *Server) translate(c *gin.Context) {
	var req translationRequest
	if _, ok := readJSON(c, &req); !ok {
		return
	}
	if s.translator == nil {
		writeErrorCode(c, http.StatusServiceUnavailable, "TRANSLATOR_UNAVAILABLE", "no translation provider configured")
		return
	}
	if req.Text == nil {
		writeError(c, errors.Wrap(attest.ErrInvalidInput, "text is required"))
		return
	}
	if req.SourceLang == "" || req.TargetLang == "" {
		writeError(c, errors.Wrap(attest.ErrInvalidInput, "src_lang and tgt_lang are required"))
		return
	}
	actions := []string{policy.ActionTranslate}
	if req.VerifiedMode {
		actions = append(actions, policy.ActionAttest)
	}
	for _, action := range actions {
		if err := s.policy.Check(s.policyInput(action, req.SourceLang, req.TargetLang, *req.Text)); err != nil {
			writeError(c, err)
			return
		}
	}

	out, err := s.translator.Translate(c.Request.Context(), *req.Text, req.SourceLang, req.TargetLang)
	if err != nil {
		s.log.Error("translation failed", zap.Error(err))
		writeError(c, err)
		return
	}
	resp := translationResponse{
		TranslatedText: out.Text,
		TimeMS:         out.Duration.Milliseconds(),
	}
	if req.VerifiedMode {
		cert, err := s.issue(c, attest.Translation{
			SourceText: *req.Text,
			TargetText: out.Text,
			SourceLang: req.SourceLang,
			TargetLang: req.TargetLang,
		}, channelTranslate)
		if err != nil {
			writeError(c, err)
			return
		}
		resp.Verification = &cert
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) attest(c *gin.Context) {
	var req attestRequest
	body, ok := readJSON(c, &req)
	if !ok {
		return
	}
	if s.clientSecret != "" && !verifySignature(body, c.GetHeader(headerSignature), s.clientSecret) {
		logging.Security(s.log, "attest request signature rejected", zap.String("client_ip", c.ClientIP()))
		writeErrorCode(c, http.StatusUnauthorized, "INVALID_SIGNATURE", "invalid signature")
		return
	}
	tr, err := attest.NewPayload(req.SourceText, req.TargetText, req.SourceLang, req.TargetLang)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.policy.Check(s.policyInput(policy.ActionAttest, tr.SourceLang, tr.TargetLang, tr.SourceText)); err != nil {
		writeError(c, err)
		return
	}
	cert, err := s.issue(c, tr, channelAttest)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cert)
}

// verify always answers 200 with a verdict once the body parses; a forged or
// altered certificate is a normal outcome here.
func (s *Server) verify(c *gin.Context) {
	var req verifyRequest
	if _, ok := readJSON(c, &req); !ok {
		return
	}
	res := s.engine.VerifyMap(attest.Translation{
		SourceText: req.SourceText,
		TargetText: req.TargetText,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
	}, req.ProofData)
	if !res.Success {
		fields := []zap.Field{
			zap.String("outcome", string(res.Outcome)),
			zap.String("client_ip", c.ClientIP()),
		}
		if res.Detail != "" {
			fields = append(fields, zap.String("detail", res.Detail))
		}
		logging.Security(s.log, "verification rejected", fields...)
	}
	c.JSON(http.StatusOK, verifyResponse{Success: res.Success, Message: res.Reason})
}

func (s *Server) latestRoot(c *gin.Context) {
	last, err := s.ledger.LastRoot()
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "LEDGER_READ", "root read failed")
		return
	}
	current, err := s.ledger.CurrentBatchRoot()
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "LEDGER_READ", "current root failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"last_root":       last,
		"current_root":    current,
		"batch_size":      s.ledger.BatchSize(),
		"server_time_utc": time.Now().UTC(),
	})
}

func (s *Server) verifyLedger(c *gin.Context) {
	report := ledger.Verify(s.ledger.Dir(), s.ledger.BatchSize())
	status := http.StatusOK
	if !report.OK {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"ok": report.OK, "report": report})
}

func (s *Server) listCertificates(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	items, err := s.ledger.Recent(limit)
	if err != nil {
		writeErrorCode(c, http.StatusInternalServerError, "LEDGER_READ", "ledger read failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "items": items})
}

func (s *Server) getCertificate(c *gin.Context) {
	rec, err := s.ledger.Find(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "record": rec})
}

// issue attests tr and records the certificate in the ledger when one is
// configured. A failed record append fails the request so no unrecorded
// certificate leaves the service. A pending batch root does not.
func (s *Server) issue(c *gin.Context, tr attest.Translation, channel string) (attest.Certificate, error) {
	cert, err := s.engine.Attest(tr)
	if err != nil {
		return attest.Certificate{}, err
	}
	if s.ledger != nil {
		rec, _, err := s.ledger.Append(ledger.Entry{
			CertificateID: cert.CertificateID,
			Hash:          cert.Hash,
			IssuedAt:      cert.Timestamp,
			Model:         cert.Model,
			Version:       cert.Version,
			SourceLang:    tr.SourceLang,
			TargetLang:    tr.TargetLang,
			Channel:       channel,
		})
		switch {
		case errors.Is(err, ledger.ErrRootPending):
			s.log.Warn("ledger batch root pending", zap.String("certificate_id", cert.CertificateID), zap.Error(err))
		case err != nil:
			s.log.Error("ledger append failed", zap.String("certificate_id", cert.CertificateID), zap.Error(err))
			return attest.Certificate{}, errors.Wrap(err, "record certificate")
		}
		s.log.Debug("certificate recorded", zap.Int64("index", rec.Index))
	}
	s.log.Info("certificate issued",
		zap.String("certificate_id", cert.CertificateID),
		zap.String("channel", channel),
		zap.String("src_lang", tr.SourceLang),
		zap.String("tgt_lang", tr.TargetLang),
		zap.String("request_id", c.GetString("request_id")),
	)
	return cert, nil
}

func (s *Server) policyInput(action, sourceLang, targetLang, text string) policy.Input {
	return policy.Input{
		Action:     action,
		SourceLang: sourceLang,
		TargetLang: targetLang,
		Context: map[string]any{
			"chars": utf8.RuneCountInString(text),
			"model": s.engine.Model(),
		},
	}
}

// readJSON reads a bounded body and decodes it into v, keeping numbers
// exact. It returns the raw body for signature checks.
func readJSON(c *gin.Context, v any) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_BODY", "invalid body")
		return nil, false
	}
	if len(body) > maxBodyBytes {
		writeErrorCode(c, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large")
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return nil, false
	}
	return body, true
}
