package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// verifySignature checks an "sha256=<hex hmac of body>" header against secret.
func verifySignature(body []byte, header, secret string) bool {
	if header == "" || secret == "" {
		return false
	}
	provided, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok || provided == "" {
		return false
	}
	return hmac.Equal([]byte(signBody(body, secret)), []byte(strings.ToLower(provided)))
}

func signBody(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
