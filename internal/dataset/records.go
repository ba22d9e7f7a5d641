package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"manual-rag/internal/manual"
)

// Read loads every row of the dataset. Rows are returned in file order, so
// a row's slice index is stable between a Read and a later
// AttachEmbeddings over the unchanged file.
func Read(path string) ([]manual.ChunkRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(columns)

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read dataset header: %w", err)
	}
	if !slices.Equal(header, columns) {
		return nil, fmt.Errorf("%s has header %v: %w", path, header, ErrSchemaMismatch)
	}

	var records []manual.ChunkRecord
	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dataset row: %w", err)
		}
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("dataset %s line %d: %w", path, line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(row []string) (manual.ChunkRecord, error) {
	page, err := strconv.Atoi(row[4])
	if err != nil {
		return manual.ChunkRecord{}, fmt.Errorf("page %q: %w", row[4], err)
	}
	rec, err := manual.NewChunkRecord(row[0], row[1], row[2], row[3], page, row[5])
	if err != nil {
		return manual.ChunkRecord{}, err
	}
	if row[6] != "" {
		vec, err := parseVector(row[6])
		if err != nil {
			return manual.ChunkRecord{}, err
		}
		if err := manual.ValidateEmbedding(vec); err != nil {
			return manual.ChunkRecord{}, err
		}
		rec.Embedding = vec
	}
	return rec, nil
}

// Documents returns the row count per document in the dataset. A missing
// file is an empty dataset.
func Documents(path string) (map[string]int, error) {
	records, err := Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.PDFFilename]++
	}
	return counts, nil
}

// RemoveDocuments strips every row belonging to the named documents,
// rewriting the file atomically. Re-ingesting a document removes its old
// rows first so the dataset never holds two generations of the same
// manual.
func RemoveDocuments(path string, names map[string]bool) (int, error) {
	records, err := Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	kept := records[:0]
	removed := 0
	for _, r := range records {
		if names[r.PDFFilename] {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := writeAll(path, kept); err != nil {
		return 0, err
	}
	return removed, nil
}

// AttachEmbeddings sets the embedding cell of the given rows, keyed by the
// row index a previous Read returned. A row that already carries a vector
// is refused; failed batches stay empty and are retried on the next run.
func AttachEmbeddings(path string, vectors map[int][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	records, err := Read(path)
	if err != nil {
		return err
	}
	for row, vec := range vectors {
		if row < 0 || row >= len(records) {
			return fmt.Errorf("attach embeddings: row %d outside dataset of %d rows", row, len(records))
		}
		if records[row].Embedded() {
			return fmt.Errorf("row %d: %w", row, ErrAlreadyEmbedded)
		}
		if err := manual.ValidateEmbedding(vec); err != nil {
			return fmt.Errorf("row %d: %w", row, err)
		}
		records[row].Embedding = vec
	}
	return writeAll(path, records)
}

// writeAll rewrites the dataset via a temp file in the same directory and
// an atomic rename, so a crash never leaves a half-written dataset.
func writeAll(path string, records []manual.ChunkRecord) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".chunks-*.csv")
	if err != nil {
		return fmt.Errorf("create temp dataset: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(columns); err != nil {
		tmp.Close()
		return fmt.Errorf("write dataset header: %w", err)
	}
	for _, r := range records {
		row, err := recordRow(r)
		if err != nil {
			tmp.Close()
			return err
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("write dataset row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp dataset: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace dataset: %w", err)
	}
	return nil
}

// verifyHeader checks an existing file before the sink appends to it.
func verifyHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(columns)
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read dataset header: %w", err)
	}
	if !slices.Equal(header, columns) {
		return fmt.Errorf("%s has header %v: %w", path, header, ErrSchemaMismatch)
	}
	return nil
}
