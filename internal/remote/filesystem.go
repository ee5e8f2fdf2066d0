package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"clocktrack/internal/encryption"
	"clocktrack/internal/model"
	"clocktrack/internal/tracker"
)

// FileSystemSubmitter delivers records into an outbox directory that another
// process (a file shipper, an rsync job) forwards to the backend:
//
//	<root>/
//	  shift/
//	    <key>.json     (one file per record version, sealed by the encryptor)
//	  gps_point/
//	  gps_gap/
//	  diagnostic_event/
type FileSystemSubmitter struct {
	root     string
	maxBatch int
	enc      tracker.Encryptor
}

// NewFileSystemSubmitter creates the outbox layout under root.
func NewFileSystemSubmitter(root string, maxBatch int, enc tracker.Encryptor) (*FileSystemSubmitter, error) {
	for _, t := range model.RecordTypes {
		if err := os.MkdirAll(filepath.Join(root, string(t)), 0755); err != nil {
			return nil, fmt.Errorf("failed to create outbox directory: %w", err)
		}
	}
	if enc == nil {
		enc = encryption.NewPlainEncryptor()
	}
	return &FileSystemSubmitter{root: root, maxBatch: batchLimit(maxBatch), enc: enc}, nil
}

// Limits returns the configured batch limit.
func (s *FileSystemSubmitter) Limits(context.Context) (tracker.Limits, error) {
	return tracker.Limits{MaxBatchSize: s.maxBatch}, nil
}

// Submit writes each record to its own file. A record whose file already
// exists is a duplicate.
func (s *FileSystemSubmitter) Submit(ctx context.Context, batch tracker.Batch) (tracker.BatchResult, error) {
	dir := filepath.Join(s.root, string(batch.Type))
	if _, err := os.Stat(dir); err != nil {
		return tracker.BatchResult{}, StatusError(400, fmt.Sprintf("unknown record type %q", batch.Type))
	}

	results := make([]tracker.RecordResult, 0, len(batch.Records))
	for _, r := range batch.Records {
		if err := ctx.Err(); err != nil {
			return tracker.BatchResult{}, err
		}
		if !json.Valid(r.Payload) {
			results = append(results, Rejected(r.ID, "invalid_payload", "payload is not valid JSON"))
			continue
		}

		destPath := filepath.Join(dir, fileName(r.Key))
		if _, err := os.Stat(destPath); err == nil {
			results = append(results, tracker.RecordResult{ID: r.ID, Outcome: tracker.OutcomeDuplicate})
			continue
		}

		sealed, err := encryption.Seal(s.enc, r.Payload)
		if err != nil {
			return tracker.BatchResult{}, fmt.Errorf("sealing %s %s: %w", batch.Type, r.ID, err)
		}
		if err := writeFile(destPath, bytes.NewReader(sealed), int64(len(sealed))); err != nil {
			return tracker.BatchResult{}, TransportError("write outbox", err)
		}
		results = append(results, tracker.RecordResult{ID: r.ID, Outcome: tracker.OutcomeInserted})
	}
	return tally(results), nil
}

// Ping verifies that the outbox directories are accessible.
func (s *FileSystemSubmitter) Ping(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return TransportError("outbox root not accessible", err)
	}
	if !info.IsDir() {
		return TransportError("ping", fmt.Errorf("outbox root is not a directory: %s", s.root))
	}
	return nil
}

// Read returns the sealed contents of a delivered record.
func (s *FileSystemSubmitter) Read(t model.RecordType, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, string(t), fileName(key)))
	if err != nil {
		return nil, fmt.Errorf("reading outbox record: %w", err)
	}
	return data, nil
}

func fileName(key string) string {
	return strings.ReplaceAll(key, string(filepath.Separator), "_") + ".json"
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ tracker.Submitter = (*FileSystemSubmitter)(nil)
