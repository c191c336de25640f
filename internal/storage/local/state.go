package local

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JakeFAU/jobfeed-publisher/internal/identity"
	"github.com/JakeFAU/jobfeed-publisher/internal/storage"
)

// CheckpointStore keeps the next page to fetch in a small text file.
type CheckpointStore struct {
	path string
}

// NewCheckpointStore returns a store writing to dir/name. The directory is
// created when missing.
func NewCheckpointStore(dir, name string) (*CheckpointStore, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("checkpoint file name is required")
	}
	if err := ensureWritableDir(dir); err != nil {
		return nil, err
	}
	return &CheckpointStore{path: filepath.Join(dir, name)}, nil
}

// Path returns the checkpoint file location.
func (s *CheckpointStore) Path() string {
	return s.path
}

// Load returns the stored page. A missing or empty file means page 0.
func (s *CheckpointStore) Load(context.Context) (int, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return 0, nil
	}
	page, err := strconv.Atoi(text)
	if err != nil || page < 0 {
		return 0, fmt.Errorf("%w: %q in %s", storage.ErrInvalidCheckpoint, text, s.path)
	}
	return page, nil
}

// Save replaces the file atomically through a temp file and rename.
func (s *CheckpointStore) Save(_ context.Context, page int) error {
	if page < 0 {
		return fmt.Errorf("checkpoint page must be non-negative, got %d", page)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".checkpoint-*")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	if _, err := tmp.WriteString(strconv.Itoa(page)); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// ProcessedLog is a newline-delimited identity file that is only ever
// appended to.
type ProcessedLog struct {
	path string
}

// NewProcessedLog returns a log backed by dir/name.
func NewProcessedLog(dir, name string) (*ProcessedLog, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("processed file name is required")
	}
	if err := ensureWritableDir(dir); err != nil {
		return nil, err
	}
	return &ProcessedLog{path: filepath.Join(dir, name)}, nil
}

// Path returns the log file location.
func (l *ProcessedLog) Path() string {
	return l.path
}

// LoadAll reads every non-blank line. A missing file is an empty log.
func (l *ProcessedLog) LoadAll(context.Context) ([]identity.JobIdentity, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open processed log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var ids []identity.JobIdentity
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ids = append(ids, identity.JobIdentity(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read processed log: %w", err)
	}
	return ids, nil
}

// Append writes id on its own line. A file whose last line lacks a newline
// is terminated first.
func (l *ProcessedLog) Append(_ context.Context, id identity.JobIdentity) error {
	if strings.TrimSpace(string(id)) == "" {
		return fmt.Errorf("identity is required")
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open processed log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var line bytes.Buffer
	needsNewline, err := missingTrailingNewline(f)
	if err != nil {
		return err
	}
	if needsNewline {
		line.WriteByte('\n')
	}
	line.WriteString(string(id))
	line.WriteByte('\n')
	if _, err := f.Write(line.Bytes()); err != nil {
		return fmt.Errorf("append processed log: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync processed log: %w", err)
	}
	return nil
}

func missingTrailingNewline(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat processed log: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read processed log tail: %w", err)
	}
	return last[0] != '\n', nil
}
