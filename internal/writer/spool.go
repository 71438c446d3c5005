package writer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/homelab/ha-ingestor/internal/tsdb"
)

// spool is the append-only failed-batch file a Writer falls back to when a
// batch ends in a retriable failure: its retries ran out, or the flush
// context (the shutdown grace period) expired. Entries are replayed on next
// start.
type spool struct {
	mu   sync.Mutex
	path string
}

func openSpool(path string) (*spool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}
	return &spool{path: path}, nil
}

// Append writes one batch as a JSON line. Safe for concurrent use of one
// spool value; the lock is not shared with other spool values opened on the
// same path.
func (s *spool) Append(b tsdb.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening spool file: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal spooled batch: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending to spool file: %w", err)
	}
	return nil
}

// Replay reads every spooled batch and removes the spool file on success.
// Batches that fail replay via writeFn are re-spooled.
func Replay(path string, writeFn func(tsdb.Batch) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading spool file: %w", err)
	}

	s, err := openSpool(path)
	if err != nil {
		return err
	}

	var failed []tsdb.Batch
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var b tsdb.Batch
		if err := dec.Decode(&b); err != nil {
			break
		}
		if err := writeFn(b); err != nil {
			failed = append(failed, b)
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing replayed spool file: %w", err)
	}
	for _, b := range failed {
		if err := s.Append(b); err != nil {
			return err
		}
	}
	return nil
}
