package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/pixelparty/pixelbot/pixelbot/config"
	"github.com/pixelparty/pixelbot/pixelbot/ledger"
)

// ErrNoSnapshot is returned by LoadSnapshot when no primary snapshot exists
// yet. Callers start from an empty ledger in that case.
var ErrNoSnapshot = errors.New("no snapshot found")

// Store writes zstd-compressed JSON snapshots of the ledger document. Writes
// are serialized under their own lock so durable I/O never blocks gameplay
// mutations happening under the ledger's lock.
type Store struct {
	dir       string
	backupDir string
	mirror    *Mirror

	mu sync.Mutex
}

func New(dir, backupDir string, mirror *Mirror) *Store {
	return &Store{
		dir:       dir,
		backupDir: backupDir,
		mirror:    mirror,
	}
}

func (s *Store) snapshotPath() string {
	return filepath.Join(s.dir, config.SnapshotFile)
}

// WriteSnapshot persists the document to the primary snapshot location. The
// write goes through a temp file and rename so a crash mid-write never
// corrupts the previous snapshot.
func (s *Store) WriteSnapshot(doc *ledger.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeCompressed(s.snapshotPath(), doc)
}

// LoadSnapshot reads and migrates the primary snapshot.
func (s *Store) LoadSnapshot() (*ledger.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := readCompressed(s.snapshotPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}
	doc, err := ledger.MigrateDocument(data)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate snapshot: %w", err)
	}
	return doc, nil
}

func writeCompressed(path string, doc *ledger.Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	enc, err := zstd.NewWriter(bw)
	if err != nil {
		tmp.Close()
		return err
	}
	if err := json.NewEncoder(enc).Encode(doc); err != nil {
		enc.Close()
		tmp.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readCompressed(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	return data, nil
}
