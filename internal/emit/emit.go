// Package emit renders retrieval results as the display commands the
// agent/transport layer consumes. It carries no conversational state; the
// command names a document and a page, nothing more.
package emit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"manual-rag/internal/manual"
)

// CommandName identifies the document-display instruction.
const CommandName = "show_document"

// ErrNothingToEmit is returned when a batch emit receives no results.
var ErrNothingToEmit = errors.New("nothing to emit")

// Command is the single-document display instruction.
type Command struct {
	Command  string `json:"command"`
	Filename string `json:"filename"`
	Page     int    `json:"page"`
}

// Candidate is one entry in the ranked list of a batch command.
type Candidate struct {
	Filename   string `json:"filename"`
	PageNumber int    `json:"page_number"`
}

// BatchCommand carries the full ranked candidate list, best match first.
type BatchCommand struct {
	Command string      `json:"command"`
	Params  []Candidate `json:"params"`
}

// FromResult maps a retrieval result to a display command.
func FromResult(r manual.Result) Command {
	return Command{
		Command:  CommandName,
		Filename: r.Filename,
		Page:     r.Page,
	}
}

// FromResults maps ranked retrieval results to the batch command form.
// Result order is preserved.
func FromResults(results []manual.Result) BatchCommand {
	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, Candidate{
			Filename:   r.Filename,
			PageNumber: r.Page,
		})
	}
	return BatchCommand{Command: CommandName, Params: candidates}
}

// Emitter writes display commands as newline-delimited JSON.
type Emitter struct {
	enc *json.Encoder
}

// NewEmitter wraps a writer, typically stdout or a transport pipe.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{enc: json.NewEncoder(w)}
}

// Emit writes the single-document command for the best match.
func (e *Emitter) Emit(r manual.Result) error {
	if err := e.enc.Encode(FromResult(r)); err != nil {
		return fmt.Errorf("emit command: %w", err)
	}
	return nil
}

// EmitBatch writes the ranked batch command. Emitting an empty result set
// is a caller bug: searches that find nothing report that instead of
// producing an empty command.
func (e *Emitter) EmitBatch(results []manual.Result) error {
	if len(results) == 0 {
		return ErrNothingToEmit
	}
	if err := e.enc.Encode(FromResults(results)); err != nil {
		return fmt.Errorf("emit batch command: %w", err)
	}
	return nil
}
