package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// CommitEntry is one line of the commit journal.
type CommitEntry struct {
	Height  int64       `json:"height"`
	Time    int64       `json:"time"` // unix ms
	Txs     int         `json:"txs"`
	AppHash common.Hash `json:"appHash"`
}

// WAL journals committed blocks outside the database, one JSON line per
// block, so a head can be cross-checked after a crash.
type WAL interface {
	Append(e CommitEntry) error
}

type NopWAL struct{}

func NewNopWAL() *NopWAL                   { return &NopWAL{} }
func (w *NopWAL) Append(CommitEntry) error { return nil }

type FileWAL struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileWAL(path string) (*FileWAL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create wal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	return &FileWAL{f: f}, nil
}

func (w *FileWAL) Append(e CommitEntry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append wal height %d: %w", e.Height, err)
	}
	return nil
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// LastCommit returns the final complete entry of the journal at path, false
// if the file is missing or empty. A torn last line is skipped.
func LastCommit(path string) (CommitEntry, bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return CommitEntry{}, false, nil
	}
	if err != nil {
		return CommitEntry{}, false, err
	}
	defer f.Close()

	var (
		last  CommitEntry
		found bool
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e CommitEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		last, found = e, true
	}
	return last, found, sc.Err()
}

var _ WAL = (*NopWAL)(nil)
var _ WAL = (*FileWAL)(nil)
