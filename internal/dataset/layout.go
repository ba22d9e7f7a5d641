// Package dataset owns the on-disk artifacts of an indexing run: the chunk
// CSV every stage appends to, the embedding manifest pinned next to it, the
// corpus name mapping and the per-document error log.
package dataset

import "path/filepath"

// Layout fixes where the artifacts live under one data directory so every
// stage and both binaries agree on paths.
type Layout struct {
	Dir string
}

func NewLayout(dir string) Layout { return Layout{Dir: dir} }

// Chunks is the dataset CSV, one row per synthesized query.
func (l Layout) Chunks() string { return filepath.Join(l.Dir, "chunks.csv") }

// Mapping records canonical numeric name assignments.
func (l Layout) Mapping() string { return filepath.Join(l.Dir, "mapping.csv") }

// Manifest pins the embedding model, task type and dimension used for the
// dataset.
func (l Layout) Manifest() string { return filepath.Join(l.Dir, "manifest.json") }

// Errors is the append-only per-document failure log.
func (l Layout) Errors() string { return filepath.Join(l.Dir, "errors.csv") }
