package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrModelMismatch is returned when the embedder a command was configured
// with does not match the model the dataset was embedded with. Mixing
// vector spaces produces meaningless similarities, so both the embed and
// the query path refuse to proceed.
var ErrModelMismatch = errors.New("dataset embedded with a different model")

// Manifest pins the embedding parameters of a dataset. It is written next
// to the chunk CSV the first time embeddings are attached.
type Manifest struct {
	Model     string `json:"model"`
	TaskType  string `json:"task_type"`
	Dimension int    `json:"dimension"`
}

// ReadManifest loads a manifest. Callers distinguish a missing manifest
// (no embeddings attached yet) with errors.Is(err, fs.ErrNotExist).
func ReadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return m, nil
}

// WriteManifest persists the manifest.
func WriteManifest(path string, m Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

// Verify checks an embedder's parameters against the manifest.
func (m Manifest) Verify(model, taskType string, dimension int) error {
	if m.Model != model || m.TaskType != taskType || m.Dimension != dimension {
		return fmt.Errorf("manifest pins %s/%s/%d, embedder provides %s/%s/%d: %w",
			m.Model, m.TaskType, m.Dimension, model, taskType, dimension, ErrModelMismatch)
	}
	return nil
}
