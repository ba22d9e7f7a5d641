// Package pipeline orchestrates dataset construction: numbering the corpus,
// extracting sections, synthesizing queries into the chunk dataset and
// filling in embeddings.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"manual-rag/internal/corpus"
	"manual-rag/internal/dataset"
	"manual-rag/internal/manual"
	"manual-rag/internal/synthesis"
)

const (
	DefaultTarget   = 50
	DefaultWorkers  = 10
	DefaultLanguage = "Japanese"
)

// errSinkFailed marks a dataset write failure. Unlike a bad document it
// aborts the whole run: once the sink cannot persist rows, continuing
// would silently lose work.
var errSinkFailed = errors.New("dataset write failed")

// Extractor turns a PDF file into sections. Satisfied by section.Extractor.
type Extractor interface {
	ExtractFile(path string) ([]manual.Section, int, error)
}

// Config tunes an ingest run.
type Config struct {
	CorpusDir string
	Target    int // queries per subsection
	Language  string
	Workers   int
}

// FailedDoc is a document the run could not ingest.
type FailedDoc struct {
	Filename string
	Reason   string
}

// IngestResult contains statistics about an ingest run.
type IngestResult struct {
	TotalDocuments int
	Indexed        int
	Skipped        int
	FailedDocs     []FailedDoc
	TotalRows      int
	Shortfalls     int
	Duration       time.Duration
}

// Pipeline drives the ingest and embedding stages over one dataset layout.
type Pipeline struct {
	layout    dataset.Layout
	extractor Extractor
	generator synthesis.Generator
	cfg       Config
	logger    *slog.Logger
}

// New creates a pipeline. Zero config values fall back to the defaults.
func New(layout dataset.Layout, extractor Extractor, generator synthesis.Generator, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.Target < 1 {
		cfg.Target = DefaultTarget
	}
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		layout:    layout,
		extractor: extractor,
		generator: generator,
		cfg:       cfg,
		logger:    logger,
	}
}

// Ingest scans the corpus directory and turns every target document into
// dataset rows. Without replace, documents already present in the dataset
// are skipped; with replace, their rows are removed and rebuilt. One
// document's failure never stops the others.
func (p *Pipeline) Ingest(ctx context.Context, replace bool) (*IngestResult, error) {
	start := time.Now()
	result := &IngestResult{}

	// 1. Number the corpus and persist the name mapping.
	mapping, err := corpus.LoadMapping(p.layout.Mapping())
	if err != nil {
		return nil, fmt.Errorf("load mapping: %w", err)
	}
	entries, err := corpus.Scan(p.cfg.CorpusDir, mapping)
	if err != nil {
		return nil, fmt.Errorf("scan corpus: %w", err)
	}
	if err := corpus.SaveMapping(p.layout.Mapping(), mapping); err != nil {
		return nil, fmt.Errorf("save mapping: %w", err)
	}
	result.TotalDocuments = len(entries)
	p.logger.Info("corpus scanned", "documents", len(entries), "dir", p.cfg.CorpusDir)

	// 2. Decide which documents this run covers.
	var targets []corpus.Entry
	if replace {
		names := make(map[string]bool, len(entries))
		for _, e := range entries {
			names[e.Filename] = true
		}
		removed, err := dataset.RemoveDocuments(p.layout.Chunks(), names)
		if err != nil {
			return nil, fmt.Errorf("remove existing chunks: %w", err)
		}
		if removed > 0 {
			p.logger.Info("dropped existing chunks for re-ingest", "rows", removed)
		}
		targets = entries
	} else {
		existing, err := dataset.Documents(p.layout.Chunks())
		if err != nil {
			return nil, fmt.Errorf("read dataset: %w", err)
		}
		for _, e := range entries {
			if _, ok := existing[e.Filename]; ok {
				result.Skipped++
				continue
			}
			targets = append(targets, e)
		}
	}
	if len(targets) == 0 {
		result.Duration = time.Since(start)
		p.logger.Info("nothing to ingest", "skipped", result.Skipped)
		return result, nil
	}

	// 3. Open the sink and the error log.
	errlog, err := dataset.OpenErrorLog(p.layout.Errors())
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}
	defer errlog.Close()
	sink, err := dataset.OpenSink(p.layout.Chunks())
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer sink.Close()

	// 4. Fan documents out to the worker pool.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan corpus.Entry, len(targets))
	for _, e := range targets {
		work <- e
	}
	close(work)

	type outcome struct {
		filename   string
		rows       int
		shortfalls int
		err        error
	}
	events := make(chan outcome)
	var wg sync.WaitGroup
	workers := min(p.cfg.Workers, len(targets))
	p.logger.Info("ingest starting", "documents", len(targets), "skipped", result.Skipped, "workers", workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range work {
				if runCtx.Err() != nil {
					return
				}
				rows, shortfalls, err := p.processDocument(runCtx, entry, errlog, sink)
				events <- outcome{filename: entry.Filename, rows: rows, shortfalls: shortfalls, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(events)
	}()

	// One owner for the counters and the failure list.
	var fatalErr error
	for ev := range events {
		if ev.err != nil {
			if errors.Is(ev.err, errSinkFailed) && fatalErr == nil {
				fatalErr = ev.err
				cancel()
			}
			p.logger.Warn("document failed", "filename", ev.filename, "error", ev.err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Filename: ev.filename, Reason: ev.err.Error()})
			continue
		}
		result.Indexed++
		result.TotalRows += ev.rows
		result.Shortfalls += ev.shortfalls
	}
	result.Duration = time.Since(start)
	if fatalErr != nil {
		return result, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	p.logger.Info("ingest complete",
		"indexed", result.Indexed,
		"skipped", result.Skipped,
		"failed", len(result.FailedDocs),
		"rows", result.TotalRows,
		"shortfalls", result.Shortfalls,
		"duration", result.Duration)
	return result, nil
}

// processDocument extracts one document and writes its query rows. Returns
// the rows written and the number of subsections that fell short of the
// target count.
func (p *Pipeline) processDocument(ctx context.Context, entry corpus.Entry, errlog *dataset.ErrorLog, sink *dataset.Sink) (int, int, error) {
	sections, pages, err := p.extractor.ExtractFile(entry.Path)
	if err != nil {
		p.recordError(errlog, entry.Filename, dataset.StageExtract, err.Error())
		return 0, 0, fmt.Errorf("extract: %w", err)
	}
	p.logger.Debug("document extracted", "filename", entry.Filename, "pages", pages, "sections", len(sections))

	description, err := p.generator.Describe(ctx, synthesis.DescribeRequest{
		DocumentName: entry.OriginalName,
		Excerpt:      leadingText(sections),
		Language:     p.cfg.Language,
	})
	if err != nil {
		// A missing description weakens the embedding text but does not
		// block the document.
		p.logger.Warn("description failed, continuing without", "filename", entry.Filename, "error", err)
		p.recordError(errlog, entry.Filename, dataset.StageSynthesize, fmt.Sprintf("describe: %v", err))
		description = ""
	}

	doc := manual.Document{
		Filename:     entry.Filename,
		OriginalName: entry.OriginalName,
		PageCount:    pages,
		Description:  description,
		Sections:     sections,
	}
	return p.synthesizeRows(ctx, doc, errlog, sink)
}

// synthesizeRows walks the document's subsections, generates queries for
// each and appends the resulting rows to the sink.
func (p *Pipeline) synthesizeRows(ctx context.Context, doc manual.Document, errlog *dataset.ErrorLog, sink *dataset.Sink) (int, int, error) {
	rows, shortfalls := 0, 0
	for _, sec := range doc.Sections {
		for _, sub := range sec.Subsections {
			if err := ctx.Err(); err != nil {
				return rows, shortfalls, err
			}
			queries, err := p.generator.Queries(ctx, synthesis.QueryRequest{
				DocumentName:   doc.OriginalName,
				Description:    doc.Description,
				SectionName:    sec.Name,
				SubsectionName: sub.Name,
				Text:           sub.Text,
				Language:       p.cfg.Language,
				Count:          p.cfg.Target,
			})
			if err != nil {
				p.logger.Warn("query synthesis failed", "filename", doc.Filename, "subsection", sub.Name, "error", err)
				p.recordError(errlog, doc.Filename, dataset.StageSynthesize, fmt.Sprintf("%s / %s: %v", sec.Name, sub.Name, err))
				shortfalls++
				continue
			}
			queries = synthesis.Dedupe(queries)
			if len(queries) > p.cfg.Target {
				queries = queries[:p.cfg.Target]
			}
			if len(queries) < p.cfg.Target {
				p.recordError(errlog, doc.Filename, dataset.StageSynthesize,
					fmt.Sprintf("%s / %s: generated %d of %d queries", sec.Name, sub.Name, len(queries), p.cfg.Target))
				shortfalls++
			}
			if len(queries) == 0 {
				continue
			}

			records := make([]manual.ChunkRecord, 0, len(queries))
			for _, q := range queries {
				rec, err := manual.NewChunkRecord(doc.Filename, doc.Description, sec.Name, sub.Name, sub.Page, q)
				if err != nil {
					p.recordError(errlog, doc.Filename, dataset.StageSynthesize, fmt.Sprintf("%s / %s: %v", sec.Name, sub.Name, err))
					continue
				}
				records = append(records, rec)
			}
			if err := sink.Append(records...); err != nil {
				return rows, shortfalls, fmt.Errorf("%w: %v", errSinkFailed, err)
			}
			rows += len(records)
		}
	}
	p.logger.Info("document ingested", "filename", doc.Filename, "rows", rows)
	return rows, shortfalls, nil
}

// recordError appends to the error log. The log never blocks the pipeline,
// so write failures degrade to a warning.
func (p *Pipeline) recordError(errlog *dataset.ErrorLog, filename, stage, message string) {
	if err := errlog.Record(filename, stage, message); err != nil {
		p.logger.Warn("error log write failed", "filename", filename, "error", err)
	}
}

// leadingText joins subsection texts into an excerpt for the description
// prompt. The prompt builder trims to its own rune budget; this only bounds
// what crosses the call.
func leadingText(sections []manual.Section) string {
	const maxBytes = 1 << 14
	var b strings.Builder
	for _, sec := range sections {
		for _, sub := range sec.Subsections {
			if b.Len() > maxBytes {
				return b.String()
			}
			if sub.Text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(sub.Text)
		}
	}
	return b.String()
}
