// Package corpus scans the manual directory and pins every PDF to a stable
// numeric filename. Numbers are assigned once, persisted in a mapping file,
// and reused on every later scan so dataset rows stay valid as the corpus
// grows.
package corpus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"manual-rag/internal/manual"
)

// maxDocuments is fixed by the three-digit canonical name format.
const maxDocuments = 999

// Entry is one corpus document: the canonical numeric name used everywhere
// downstream, plus where the file actually lives.
type Entry struct {
	Filename     string // canonical name, "001.pdf"
	OriginalName string // name the file has on disk
	Path         string
}

// Mapping persists canonical name assignments across runs. Keys are
// canonical names, values the original file names they were assigned to.
type Mapping map[string]string

// LoadMapping reads a mapping file written by SaveMapping. A missing file
// yields an empty mapping: the first scan starts numbering from 001.
func LoadMapping(path string) (Mapping, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Mapping{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open mapping %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	if _, err := r.Read(); err != nil { // header
		if errors.Is(err, io.EOF) {
			return Mapping{}, nil
		}
		return nil, fmt.Errorf("read mapping header: %w", err)
	}

	m := Mapping{}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read mapping row: %w", err)
		}
		if !manual.IsNumericName(row[0]) {
			return nil, fmt.Errorf("mapping row %q: %w", row[0], manual.ErrBadFilename)
		}
		m[row[0]] = row[1]
	}
	return m, nil
}

// SaveMapping writes the mapping sorted by canonical name so diffs stay
// readable.
func SaveMapping(path string, m Mapping) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create mapping dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create mapping %s: %w", path, err)
	}
	defer f.Close()

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	w := csv.NewWriter(f)
	if err := w.Write([]string{"pdf_filename", "original_name"}); err != nil {
		return fmt.Errorf("write mapping header: %w", err)
	}
	for _, name := range names {
		if err := w.Write([]string{name, m[name]}); err != nil {
			return fmt.Errorf("write mapping row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush mapping: %w", err)
	}
	return f.Close()
}

// Scan lists the PDFs under dir and returns them with canonical names,
// assigning fresh numbers to files the mapping has not seen. The mapping is
// updated in place; callers persist it with SaveMapping after a scan.
func Scan(dir string, m Mapping) ([]Entry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus dir %s: %w", dir, err)
	}

	var files []string
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), ".pdf") {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)

	reverse := make(map[string]string, len(m))
	for canonical, original := range m {
		reverse[original] = canonical
	}
	next := highestAssigned(m) + 1

	entries := make([]Entry, 0, len(files))
	for _, name := range files {
		var canonical string
		switch {
		case manual.IsNumericName(name):
			// Already canonical on disk. Keep any recorded original name.
			canonical = name
			if _, ok := m[name]; !ok {
				m[name] = name
			}
		case reverse[name] != "":
			canonical = reverse[name]
		default:
			if next > maxDocuments {
				return nil, fmt.Errorf("corpus exceeds %d documents", maxDocuments)
			}
			canonical = manual.FormatName(next)
			for m[canonical] != "" { // skip numbers taken by on-disk canonical files
				next++
				if next > maxDocuments {
					return nil, fmt.Errorf("corpus exceeds %d documents", maxDocuments)
				}
				canonical = manual.FormatName(next)
			}
			m[canonical] = name
			next++
		}
		entries = append(entries, Entry{
			Filename:     canonical,
			OriginalName: m[canonical],
			Path:         filepath.Join(dir, name),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Filename < entries[j].Filename })
	return entries, nil
}

// highestAssigned returns the largest number the mapping has handed out, so
// new assignments continue the sequence instead of reusing freed numbers.
func highestAssigned(m Mapping) int {
	high := 0
	for name := range m {
		n, err := strconv.Atoi(strings.TrimSuffix(name, ".pdf"))
		if err == nil && n > high {
			high = n
		}
	}
	return high
}
