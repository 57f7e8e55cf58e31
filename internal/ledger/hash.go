package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// recordHash chains a record: sha256(prev_hash "|" index "|" stable_json(entry)).
func recordHash(prevHash string, index int64, entry Entry) (string, error) {
	payload, err := StableJSON(entry)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte("|" + strconv.FormatInt(index, 10) + "|"))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}
