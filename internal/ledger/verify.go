package ledger

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// Verify re-walks the ledger in dir, checking indices, the hash chain and
// every sealed batch root. It never returns an error; problems land in the
// report.
func Verify(dir string, batchSize int) Report {
	report := Report{OK: true}
	fail := func(format string, args ...any) {
		report.OK = false
		report.Errors = append(report.Errors, fmt.Sprintf(format, args...))
	}

	roots, err := readRoots(filepath.Join(dir, RootsFile))
	if err != nil {
		fail("read roots: %v", err)
		return report
	}

	var (
		rootIndex     int
		currentBatch  []string
		expectedPrev  string
		expectedIndex int64
	)
	err = scanLines(filepath.Join(dir, CertificatesFile), func(line []byte) error {
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			fail("decode record: %v", err)
			return nil
		}
		expectedIndex++
		if rec.Index != expectedIndex {
			fail("index mismatch at %d", rec.Index)
		}
		if rec.PrevHash != expectedPrev {
			fail("prev_hash mismatch at %d", rec.Index)
		}
		computed, err := recordHash(rec.PrevHash, rec.Index, rec.Entry)
		if err != nil {
			fail("stable json: %v", err)
			return nil
		}
		if computed != rec.Hash {
			fail("hash mismatch at %d", rec.Index)
		}
		expectedPrev = rec.Hash
		report.Total++
		report.LastIndex = rec.Index
		report.LastHash = rec.Hash

		currentBatch = append(currentBatch, rec.Hash)
		if batchSize <= 0 || len(currentBatch) < batchSize {
			return nil
		}
		defer func() { currentBatch = nil }()
		if rootIndex >= len(roots) {
			fail("missing root record for batch ending %d", rec.Index)
			return nil
		}
		root, err := MerkleRoot(currentBatch)
		if err != nil {
			fail("merkle root: %v", err)
			return nil
		}
		if roots[rootIndex].RootHash != root {
			fail("root mismatch for batch ending %d", rec.Index)
		}
		report.RootsChecked++
		rootIndex++
		return nil
	})
	if err != nil {
		fail("scan: %v", err)
	}
	return report
}
