package events

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"assessflow/internal/logging"
)

const archiveFile = "events.jsonl"

// Archive appends events to a JSONL journal.
type Archive struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	file afero.File
}

// OpenArchive opens (or creates) the journal under dir.
func OpenArchive(fsys afero.Fs, dir string, logger *slog.Logger) (*Archive, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create event archive dir: %w", err)
	}
	path := filepath.Join(dir, archiveFile)
	file, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event archive: %w", err)
	}
	return &Archive{fs: fsys, path: path, file: file, logger: logging.NewComponentLogger(logger, "event-archive")}, nil
}

// Path returns the journal location.
func (a *Archive) Path() string {
	return a.path
}

// Append writes evt as a single JSON line. Write failures are logged, never
// propagated to the publisher.
func (a *Archive) Append(evt Event) {
	if a == nil {
		return
	}
	line, err := json.Marshal(evt)
	if err != nil {
		a.logger.Warn("event archive encode failed",
			logging.String(logging.FieldEventType, "archive_encode_failed"),
			logging.String(logging.FieldErrorHint, "event payload must be JSON-serializable"),
			logging.String(logging.FieldImpact, "event missing from archive"),
			logging.Error(err),
		)
		return
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return
	}
	if _, err := a.file.Write(line); err != nil {
		a.logger.Warn("event archive write failed",
			logging.String(logging.FieldEventType, "archive_write_failed"),
			logging.String(logging.FieldErrorHint, "check disk space and permissions for log_dir"),
			logging.String(logging.FieldImpact, "event missing from archive"),
			logging.String("path", a.path),
			logging.Error(err),
		)
	}
}

// ReadSince replays archived events with sequence greater than since.
// A limit of zero returns everything.
func (a *Archive) ReadSince(since uint64, limit int) ([]Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := a.fs.Open(a.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event archive: %w", err)
	}
	defer file.Close()

	var out []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return out, fmt.Errorf("decode event archive: %w", err)
		}
		if evt.Sequence <= since {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("scan event archive: %w", err)
	}
	return out, nil
}

// Close flushes and closes the journal.
func (a *Archive) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
