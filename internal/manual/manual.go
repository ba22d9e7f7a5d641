package manual

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// EmbeddingDimension is the vector size every stored and queried embedding
// must have. Both supported embedding models are requested at this size.
const EmbeddingDimension = 768

var (
	ErrPageOutOfRange    = errors.New("subsection page outside document bounds")
	ErrEmptyQuery        = errors.New("empty query text")
	ErrBadFilename       = errors.New("not a numeric pdf filename")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

var numericName = regexp.MustCompile(`^\d{3}\.pdf$`)

// Document is one manual in the corpus, identified by its numeric filename.
type Document struct {
	Filename     string // canonical numeric name: "001.pdf"
	OriginalName string // name the source file had before numbering, if different
	PageCount    int
	Description  string // short synthesized summary, one per document
	Sections     []Section
}

// Section is a top-level division of a manual.
type Section struct {
	Name        string
	Subsections []Subsection
}

// Subsection is the retrieval unit: a named span of text anchored to the
// page where it starts.
type Subsection struct {
	Name string
	Page int // 1-based page where the subsection starts
	Text string
}

// NewSubsection validates the page anchor against the document's page count.
// A subsection whose starting page cannot be placed inside the document is
// rejected rather than defaulted.
func NewSubsection(name string, page, pageCount int, text string) (Subsection, error) {
	if page < 1 || page > pageCount {
		return Subsection{}, fmt.Errorf("subsection %q: page %d of %d: %w", name, page, pageCount, ErrPageOutOfRange)
	}
	return Subsection{Name: name, Page: page, Text: text}, nil
}

// ChunkRecord is one row of the retrieval dataset: a synthesized query tied
// back to the subsection it was generated from. Embedding stays nil until
// the record has been through the embedding stage.
type ChunkRecord struct {
	PDFFilename    string
	Description    string
	SectionName    string
	SubsectionName string
	Page           int // subsection starting page in the PDF
	Query          string
	Embedding      []float32
}

// NewChunkRecord validates the identity fields a row must carry. The
// embedding is attached later and is the only field that ever changes.
func NewChunkRecord(filename, description, section, subsection string, page int, query string) (ChunkRecord, error) {
	if !numericName.MatchString(filename) {
		return ChunkRecord{}, fmt.Errorf("%q: %w", filename, ErrBadFilename)
	}
	if strings.TrimSpace(query) == "" {
		return ChunkRecord{}, ErrEmptyQuery
	}
	if page < 1 {
		return ChunkRecord{}, fmt.Errorf("row for %q: page %d: %w", filename, page, ErrPageOutOfRange)
	}
	return ChunkRecord{
		PDFFilename:    filename,
		Description:    description,
		SectionName:    section,
		SubsectionName: subsection,
		Page:           page,
		Query:          strings.TrimSpace(query),
	}, nil
}

// EmbeddingText is the string actually embedded for a record: the document
// description prepended to the query.
func (r ChunkRecord) EmbeddingText() string {
	if r.Description == "" {
		return r.Query
	}
	return r.Description + " " + r.Query
}

// Embedded reports whether the record carries a vector.
func (r ChunkRecord) Embedded() bool { return len(r.Embedding) > 0 }

// Result is one deduplicated retrieval hit: the best-scoring chunk of a
// document for a query.
type Result struct {
	Filename       string
	Page           int
	SectionName    string
	SubsectionName string
	Query          string  // the stored query that matched
	Score          float64 // cosine similarity in [-1, 1]
}

// ValidateEmbedding rejects vectors that are not exactly EmbeddingDimension
// wide. Every store and every attach path checks this before accepting data.
func ValidateEmbedding(v []float32) error {
	if len(v) != EmbeddingDimension {
		return fmt.Errorf("got %d dimensions, want %d: %w", len(v), EmbeddingDimension, ErrDimensionMismatch)
	}
	return nil
}

// IsNumericName reports whether name is a canonical corpus filename ("042.pdf").
func IsNumericName(name string) bool { return numericName.MatchString(name) }

// FormatName renders a corpus index as a canonical filename.
func FormatName(n int) string { return fmt.Sprintf("%03d.pdf", n) }
