package ledger

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

// MerkleRoot computes a binary Merkle root over hex record hashes. An odd node
// is paired with itself.
func MerkleRoot(hashes []string) (string, error) {
	if len(hashes) == 0 {
		return "", nil
	}
	level := make([][]byte, 0, len(hashes))
	for i, h := range hashes {
		b, err := hex.DecodeString(h)
		if err != nil {
			return "", errors.Wrapf(err, "decode leaf %d", i)
		}
		level = append(level, b)
	}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			sum := sha256.Sum256(append(append([]byte{}, level[i]...), right...))
			next = append(next, sum[:])
		}
		level = next
	}
	return hex.EncodeToString(level[0]), nil
}
