package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Pipeline stages recorded in the error log.
const (
	StageExtract    = "extract"
	StageSynthesize = "synthesize"
	StageEmbed      = "embed"
)

var errorColumns = []string{"pdf_filename", "stage", "error", "at"}

// ErrorEntry is one logged failure.
type ErrorEntry struct {
	Filename string
	Stage    string
	Message  string
	At       time.Time
}

// ErrorLog appends per-document failures to a CSV so a long run can be
// audited afterwards. Every Record is flushed immediately; a crashed run
// keeps everything logged up to the crash.
type ErrorLog struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// OpenErrorLog opens the log for appending, writing the header if the file
// is new.
func OpenErrorLog(path string) (*ErrorLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create error log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error log %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat error log: %w", err)
	}
	l := &ErrorLog{f: f, w: csv.NewWriter(f)}
	if st.Size() == 0 {
		if err := l.w.Write(errorColumns); err != nil {
			f.Close()
			return nil, fmt.Errorf("write error log header: %w", err)
		}
		l.w.Flush()
		if err := l.w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flush error log header: %w", err)
		}
	}
	return l, nil
}

// Record appends one failure row.
func (l *ErrorLog) Record(filename, stage, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row := []string{filename, stage, message, time.Now().UTC().Format(time.RFC3339)}
	if err := l.w.Write(row); err != nil {
		return fmt.Errorf("append error log row: %w", err)
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return fmt.Errorf("flush error log: %w", err)
	}
	return nil
}

func (l *ErrorLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.f.Close()
		return fmt.Errorf("flush error log: %w", err)
	}
	return l.f.Close()
}

// ReadErrorLog loads all logged failures. A missing log means a clean run.
func ReadErrorLog(path string) ([]ErrorEntry, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open error log %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(errorColumns)
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read error log header: %w", err)
	}

	var entries []ErrorEntry
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read error log row: %w", err)
		}
		at, _ := time.Parse(time.RFC3339, row[3])
		entries = append(entries, ErrorEntry{Filename: row[0], Stage: row[1], Message: row[2], At: at})
	}
	return entries, nil
}
