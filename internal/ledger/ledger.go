package ledger

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	CertificatesFile = "certificates.log"
	RootsFile        = "roots.log"

	maxLineSize = 5 * 1024 * 1024
)

var (
	ErrNotFound = errors.New("certificate not found")
	// ErrRootPending reports a record that was appended while its batch root
	// could not be written. The batch is sealed again on the next append.
	ErrRootPending = errors.New("batch root pending")
)

// Ledger is an append-only, hash-chained log of issued certificates with a
// Merkle root written after every batchSize records.
type Ledger struct {
	mu          sync.Mutex
	dir         string
	recordsPath string
	rootsPath   string
	batchSize   int
	now         func() time.Time
	lastIndex   int64
	lastHash    string
	batchHashes []string
	batchStart  int64
}

func Open(dir string, batchSize int) (*Ledger, error) {
	if dir == "" {
		dir = "./data"
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create ledger dir")
	}
	l := &Ledger{
		dir:         dir,
		recordsPath: filepath.Join(dir, CertificatesFile),
		rootsPath:   filepath.Join(dir, RootsFile),
		batchSize:   batchSize,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if err := l.loadState(); err != nil {
		return nil, errors.Wrap(err, "load ledger state")
	}
	if _, err := l.sealBatches(); err != nil {
		return nil, errors.Wrap(err, "seal pending batches")
	}
	return l, nil
}

func (l *Ledger) Dir() string    { return l.dir }
func (l *Ledger) BatchSize() int { return l.batchSize }

// Append records entry and returns the new record and, when the batch filled
// up, the root that closed it.
func (l *Ledger) Append(entry Entry) (Record, *RootRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	index := l.lastIndex + 1
	hash, err := recordHash(l.lastHash, index, entry)
	if err != nil {
		return Record{}, nil, err
	}
	rec := Record{
		Index:      index,
		RecordedAt: l.now(),
		Entry:      entry,
		PrevHash:   l.lastHash,
		Hash:       hash,
	}
	if err := appendJSONLine(l.recordsPath, rec); err != nil {
		return Record{}, nil, errors.Wrap(err, "append record")
	}

	l.lastIndex = rec.Index
	l.lastHash = rec.Hash
	if len(l.batchHashes) == 0 {
		l.batchStart = rec.Index
	}
	l.batchHashes = append(l.batchHashes, rec.Hash)

	root, err := l.sealBatches()
	if err != nil {
		return rec, root, errors.Wrap(ErrRootPending, err.Error())
	}
	return rec, root, nil
}

// sealBatches writes a root for every full batch still pending and returns the
// last one written. A batch whose root fails to write stays pending.
func (l *Ledger) sealBatches() (*RootRecord, error) {
	var last *RootRecord
	for len(l.batchHashes) >= l.batchSize {
		rootHash, err := MerkleRoot(l.batchHashes[:l.batchSize])
		if err != nil {
			return last, err
		}
		root := RootRecord{
			FromIndex: l.batchStart,
			ToIndex:   l.batchStart + int64(l.batchSize) - 1,
			RootHash:  rootHash,
			CreatedAt: l.now(),
		}
		if err := appendJSONLine(l.rootsPath, root); err != nil {
			return last, errors.Wrap(err, "append root")
		}
		l.batchHashes = append([]string(nil), l.batchHashes[l.batchSize:]...)
		l.batchStart = root.ToIndex + 1
		if len(l.batchHashes) == 0 {
			l.batchStart = 0
		}
		last = &root
	}
	return last, nil
}

func (l *Ledger) LastRoot() (*RootRecord, error) {
	roots, err := readRoots(l.rootsPath)
	if err != nil || len(roots) == 0 {
		return nil, err
	}
	return &roots[len(roots)-1], nil
}

// CurrentBatchRoot is the Merkle root of the records not yet sealed by a root.
func (l *Ledger) CurrentBatchRoot() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return MerkleRoot(l.batchHashes)
}

// Recent returns up to limit of the newest records, oldest first.
func (l *Ledger) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	items := make([]Record, 0, limit)
	err := scanRecords(l.recordsPath, func(rec Record) error {
		items = append(items, rec)
		if len(items) > limit {
			items = items[len(items)-limit:]
		}
		return nil
	})
	return items, err
}

// Find returns the record of the certificate with the given display id.
func (l *Ledger) Find(certificateID string) (Record, error) {
	var found *Record
	err := scanRecords(l.recordsPath, func(rec Record) error {
		if rec.Entry.CertificateID == certificateID {
			r := rec
			found = &r
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	if found == nil {
		return Record{}, ErrNotFound
	}
	return *found, nil
}

func (l *Ledger) loadState() error {
	lastRoot, err := readRoots(l.rootsPath)
	if err != nil {
		return err
	}
	var sealed int64
	if len(lastRoot) > 0 {
		sealed = lastRoot[len(lastRoot)-1].ToIndex
	}
	return scanRecords(l.recordsPath, func(rec Record) error {
		l.lastIndex = rec.Index
		l.lastHash = rec.Hash
		if rec.Index > sealed {
			if l.batchStart == 0 {
				l.batchStart = rec.Index
			}
			l.batchHashes = append(l.batchHashes, rec.Hash)
		}
		return nil
	})
}

func scanRecords(path string, fn func(Record) error) error {
	return scanLines(path, func(line []byte) error {
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return errors.Wrap(err, "decode record")
		}
		return fn(rec)
	})
}

func readRoots(path string) ([]RootRecord, error) {
	out := []RootRecord{}
	err := scanLines(path, func(line []byte) error {
		var rec RootRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return errors.Wrap(err, "decode root")
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func scanLines(path string, fn func([]byte) error) error {
	file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func appendJSONLine(path string, v any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
