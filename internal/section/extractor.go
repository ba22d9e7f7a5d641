package section

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"manual-rag/internal/manual"
)

// FallbackSection names the single unit synthesized when a document carries
// no recognizable headings. The whole text becomes one subsection anchored
// at page 1.
const FallbackSection = "全体"

// maxHeadingRunes rejects long lines that merely start with a number.
// Headings in appliance manuals are short.
const maxHeadingRunes = 80

const (
	markNone = iota
	markSection
	markSubsection
)

var (
	// "1.2 タイトル", "3.1.4 Title", dotted depth of two or more. Section
	// numbers in these manuals never exceed two digits; longer digit runs
	// are years or measurements.
	subsectionNumbered = regexp.MustCompile(`^\d{1,2}(?:\.\d{1,3})+[.)\s　]*\S.*$`)
	// "第2節 タイトル"
	subsectionKanji = regexp.MustCompile(`^第\s*\d+\s*節[\s　]*\S.*$`)
	// "3. タイトル", "3) タイトル", "3 タイトル"
	sectionNumbered = regexp.MustCompile(`^\d{1,2}(?:[.)][\s　]*|[\s　]+)\S.*$`)
	// "第2章 タイトル", "第1部 タイトル"
	sectionKanji = regexp.MustCompile(`^第\s*\d+\s*[章部][\s　]*\S.*$`)

	// table-of-contents leader: "はじめに ........ 3"
	tocLeader = regexp.MustCompile(`[.．…・]{3,}[\s　]*\d+$`)
)

// sentenceEnders rule a line out as a heading: headings do not end in
// sentence punctuation.
const sentenceEnders = "。．、？！?!,"

// Extractor splits per-page text into sections and subsections from
// numbered heading lines.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

// ExtractFile reads a PDF and extracts its sections in one step.
func (e *Extractor) ExtractFile(path string) ([]manual.Section, int, error) {
	pages, err := ReadPages(path)
	if err != nil {
		return nil, 0, err
	}
	secs, err := e.Extract(pages)
	if err != nil {
		return nil, 0, err
	}
	return secs, len(pages), nil
}

// Extract walks the pages line by line. A subsection heading opens a new
// subsection anchored at the page it appears on; a section heading opens a
// new section. Body text accumulates under the innermost open unit. A
// document without any headings collapses to a single fallback unit.
func (e *Extractor) Extract(pages []PageText) ([]manual.Section, error) {
	pageCount := len(pages)
	if pageCount == 0 {
		return nil, fmt.Errorf("document has no pages: %w", ErrCorruptDocument)
	}

	var b builder
	for _, page := range pages {
		for _, raw := range strings.Split(page.Text, "\n") {
			line := strings.TrimSpace(raw)
			if line == "" {
				continue
			}
			switch classify(line) {
			case markSubsection:
				b.startSubsection(line, page.Number)
			case markSection:
				b.startSection(line, page.Number)
			default:
				b.text(line)
			}
		}
	}

	secs, err := b.finish(pageCount)
	if err != nil {
		return nil, err
	}
	if len(secs) > 0 {
		return secs, nil
	}

	// No headings anywhere: expose the whole document as one unit.
	var all []string
	for _, page := range pages {
		if t := strings.TrimSpace(page.Text); t != "" {
			all = append(all, t)
		}
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("document has no extractable text: %w", ErrCorruptDocument)
	}
	sub, err := manual.NewSubsection(FallbackSection, 1, pageCount, strings.Join(all, "\n"))
	if err != nil {
		return nil, err
	}
	return []manual.Section{{Name: FallbackSection, Subsections: []manual.Subsection{sub}}}, nil
}

// classify decides whether a trimmed line is a heading. Matching runs on a
// digit-normalized copy; callers keep the original line as the name.
func classify(line string) int {
	if utf8.RuneCountInString(line) > maxHeadingRunes {
		return markNone
	}
	norm := normalizeWidths(line)
	if tocLeader.MatchString(norm) {
		return markNone
	}
	if strings.ContainsAny(lastRune(norm), sentenceEnders) {
		return markNone
	}
	switch {
	case subsectionKanji.MatchString(norm), subsectionNumbered.MatchString(norm):
		return markSubsection
	case sectionKanji.MatchString(norm), sectionNumbered.MatchString(norm):
		return markSection
	}
	return markNone
}

// normalizeWidths folds full-width digits and punctuation to ASCII so one
// set of patterns covers both typographic conventions.
func normalizeWidths(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '０' && r <= '９':
			return '0' + (r - '０')
		case r == '．':
			return '.'
		case r == '（':
			return '('
		case r == '）':
			return ')'
		}
		return r
	}, s)
}

func lastRune(s string) string {
	if s == "" {
		return ""
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return string(r)
}

// builder accumulates sections as heading lines arrive. Text before the
// first heading of the document is front matter and is dropped; text
// between a section heading and its first subsection is prepended to that
// subsection.
type builder struct {
	done []sectionAcc
	cur  *sectionAcc
}

type sectionAcc struct {
	name string
	page int
	pre  []string
	subs []subAcc
}

type subAcc struct {
	name  string
	page  int
	lines []string
}

func (b *builder) startSection(name string, page int) {
	b.closeSection()
	b.cur = &sectionAcc{name: name, page: page}
}

func (b *builder) startSubsection(name string, page int) {
	if b.cur == nil {
		b.cur = &sectionAcc{name: FallbackSection, page: page}
	}
	b.cur.subs = append(b.cur.subs, subAcc{name: name, page: page})
}

func (b *builder) text(line string) {
	if b.cur == nil {
		return
	}
	if n := len(b.cur.subs); n > 0 {
		b.cur.subs[n-1].lines = append(b.cur.subs[n-1].lines, line)
		return
	}
	b.cur.pre = append(b.cur.pre, line)
}

func (b *builder) closeSection() {
	if b.cur != nil {
		b.done = append(b.done, *b.cur)
		b.cur = nil
	}
}

func (b *builder) finish(pageCount int) ([]manual.Section, error) {
	b.closeSection()
	var out []manual.Section
	for _, sec := range b.done {
		ms := manual.Section{Name: sec.name}
		if len(sec.subs) == 0 {
			// Section without explicit subsections: the section itself is
			// the retrieval unit.
			if len(sec.pre) == 0 {
				continue
			}
			sub, err := manual.NewSubsection(sec.name, sec.page, pageCount, strings.Join(sec.pre, "\n"))
			if err != nil {
				return nil, err
			}
			ms.Subsections = []manual.Subsection{sub}
		} else {
			for i, sa := range sec.subs {
				text := strings.Join(sa.lines, "\n")
				if i == 0 && len(sec.pre) > 0 {
					text = strings.Join(sec.pre, "\n") + "\n" + text
				}
				sub, err := manual.NewSubsection(sa.name, sa.page, pageCount, text)
				if err != nil {
					return nil, err
				}
				ms.Subsections = append(ms.Subsections, sub)
			}
		}
		out = append(out, ms)
	}
	return out, nil
}
