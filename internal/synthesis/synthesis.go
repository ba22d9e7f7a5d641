// Package synthesis generates the retrieval dataset's question side: short
// document descriptions and, per subsection, the user questions that
// subsection answers. Generation runs against a ranked list of models with
// retry and fallback.
package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Rune budgets keep prompts inside model context windows. Subsection text
// beyond the budget is cut, not summarized.
const (
	maxSubsectionRunes = 8000
	maxExcerptRunes    = 4000
)

// QueryRequest describes one subsection to synthesize questions for.
type QueryRequest struct {
	DocumentName   string // original file name, shown to the model as context
	Description    string // document description, if already synthesized
	SectionName    string
	SubsectionName string
	Text           string
	Language       string
	Count          int
}

// DescribeRequest asks for a short description of a whole document.
type DescribeRequest struct {
	DocumentName string
	Excerpt      string // leading document text
	Language     string
}

// Generator produces queries and descriptions. Implementations are a
// single model; Chain composes them with fallback.
type Generator interface {
	Name() string
	Queries(ctx context.Context, req QueryRequest) ([]string, error)
	Describe(ctx context.Context, req DescribeRequest) (string, error)
}

// Dedupe trims whitespace, drops empty strings and removes exact
// duplicates, keeping first-seen order.
func Dedupe(queries []string) []string {
	seen := make(map[string]bool, len(queries))
	var out []string
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

func buildQueriesPrompt(req QueryRequest) string {
	var desc string
	if req.Description != "" {
		desc = fmt.Sprintf("Document description: %s\n", req.Description)
	}
	return fmt.Sprintf(`You are building a retrieval dataset for an appliance manual.

Manual file: %s
%sSection: %s
Subsection: %s

Subsection text:
%s

Write %d distinct questions in %s that a user of this appliance might ask
when the answer is found in this subsection. Vary phrasing and vocabulary;
cover how-to, troubleshooting and specification angles. Do not number the
questions.

Respond with JSON in the form {"queries": ["question", ...]}.`,
		req.DocumentName, desc, req.SectionName, req.SubsectionName,
		truncateRunes(req.Text, maxSubsectionRunes), req.Count, req.Language)
}

func buildDescribePrompt(req DescribeRequest) string {
	return fmt.Sprintf(`The following is the beginning of an appliance manual.

Manual file: %s

Text:
%s

Describe what appliance this manual covers, in %s, in under 10 words.

Respond with JSON in the form {"description": "..."}.`,
		req.DocumentName, truncateRunes(req.Excerpt, maxExcerptRunes), req.Language)
}

func parseQueriesResponse(raw []byte) ([]string, error) {
	var out struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse queries response: %w", err)
	}
	if len(out.Queries) == 0 {
		return nil, errors.New("response contained no queries")
	}
	return out.Queries, nil
}

func parseDescribeResponse(raw []byte) (string, error) {
	var out struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("parse description response: %w", err)
	}
	desc := strings.TrimSpace(out.Description)
	if desc == "" {
		return "", errors.New("response contained no description")
	}
	return desc, nil
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
