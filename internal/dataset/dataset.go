package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"manual-rag/internal/manual"
)

var (
	// ErrSchemaMismatch is returned when a dataset file does not carry the
	// expected header. The column set is fixed; changing it breaks every
	// consumer of the file.
	ErrSchemaMismatch = errors.New("dataset schema mismatch")

	// ErrAlreadyEmbedded guards against embedding the same row twice.
	ErrAlreadyEmbedded = errors.New("record already carries an embedding")
)

// columns is the fixed dataset schema, in file order.
var columns = []string{
	"pdf_filename",
	"description",
	"section_name",
	"subsection_name",
	"subsection_pdf_page_number",
	"query",
	"embeddings",
}

// Sink appends chunk rows to the dataset CSV. It is safe for concurrent
// use; one Append call writes its rows contiguously, so rows generated
// from a single subsection stay in generation order.
type Sink struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// OpenSink opens the dataset for appending, creating it (and its header)
// if needed. An existing file must carry the expected header.
func OpenSink(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dataset dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat dataset %s: %w", path, err)
	}

	s := &Sink{f: f, w: csv.NewWriter(f)}
	if st.Size() == 0 {
		if err := s.w.Write(columns); err != nil {
			f.Close()
			return nil, fmt.Errorf("write dataset header: %w", err)
		}
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			f.Close()
			return nil, fmt.Errorf("flush dataset header: %w", err)
		}
	} else if err := verifyHeader(path); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Append writes the given records as consecutive rows and flushes them to
// disk before returning.
func (s *Sink) Append(records ...manual.ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		row, err := recordRow(r)
		if err != nil {
			return err
		}
		if err := s.w.Write(row); err != nil {
			return fmt.Errorf("append dataset row: %w", err)
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush dataset rows: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.f.Close()
		return fmt.Errorf("flush dataset: %w", err)
	}
	return s.f.Close()
}

func recordRow(r manual.ChunkRecord) ([]string, error) {
	cell := ""
	if r.Embedded() {
		var err error
		cell, err = marshalVector(r.Embedding)
		if err != nil {
			return nil, err
		}
	}
	return []string{
		r.PDFFilename,
		r.Description,
		r.SectionName,
		r.SubsectionName,
		strconv.Itoa(r.Page),
		r.Query,
		cell,
	}, nil
}

// marshalVector renders an embedding as a JSON float array, the one cell
// format both readers and the loader understand. Absent embeddings are the
// empty string, never a zero vector.
func marshalVector(v []float32) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode embedding: %w", err)
	}
	return string(b), nil
}

func parseVector(cell string) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal([]byte(cell), &v); err != nil {
		return nil, fmt.Errorf("decode embedding cell: %w", err)
	}
	return v, nil
}
