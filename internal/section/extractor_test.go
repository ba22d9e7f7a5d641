package section

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractNumberedHeadings(t *testing.T) {
	pages := []PageText{
		{Number: 1, Text: "取扱説明書\n1. 安全上のご注意\n1.1 設置について\n水平な場所に設置してください。\n1.2 電源について\n専用コンセントを使用してください。"},
		{Number: 2, Text: "2. 使い方\n2.1 運転の開始\n運転ボタンを押します。"},
	}

	secs, err := NewExtractor().Extract(pages)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(secs) != 2 {
		t.Fatalf("got %d sections, want 2: %+v", len(secs), secs)
	}
	if secs[0].Name != "1. 安全上のご注意" {
		t.Errorf("section name = %q", secs[0].Name)
	}
	if len(secs[0].Subsections) != 2 {
		t.Fatalf("section 1 has %d subsections, want 2", len(secs[0].Subsections))
	}
	sub := secs[0].Subsections[1]
	if sub.Name != "1.2 電源について" || sub.Page != 1 {
		t.Errorf("subsection = %q page %d", sub.Name, sub.Page)
	}
	if !strings.Contains(sub.Text, "専用コンセント") {
		t.Errorf("subsection text = %q", sub.Text)
	}
	if got := secs[1].Subsections[0].Page; got != 2 {
		t.Errorf("page anchor = %d, want 2", got)
	}
}

func TestExtractKanjiHeadings(t *testing.T) {
	pages := []PageText{
		{Number: 1, Text: "第1章 準備\n第1節 付属品の確認\n付属品がそろっているか確認します。"},
		{Number: 2, Text: "第2章 お手入れ\nフィルターは月に一度洗ってください。"},
	}

	secs, err := NewExtractor().Extract(pages)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(secs) != 2 {
		t.Fatalf("got %d sections: %+v", len(secs), secs)
	}
	if secs[0].Name != "第1章 準備" {
		t.Errorf("section name = %q", secs[0].Name)
	}
	if secs[0].Subsections[0].Name != "第1節 付属品の確認" {
		t.Errorf("subsection name = %q", secs[0].Subsections[0].Name)
	}
	// a section without explicit subsections becomes its own unit
	got := secs[1].Subsections
	if len(got) != 1 || got[0].Name != "第2章 お手入れ" || got[0].Page != 2 {
		t.Errorf("implicit subsection = %+v", got)
	}
}

func TestExtractFullWidthDigits(t *testing.T) {
	pages := []PageText{
		{Number: 1, Text: "１．安全のために\n１．１　警告表示\n必ずお守りください。"},
	}
	secs, err := NewExtractor().Extract(pages)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(secs) != 1 || len(secs[0].Subsections) != 1 {
		t.Fatalf("sections = %+v", secs)
	}
	if secs[0].Subsections[0].Name != "１．１　警告表示" {
		t.Errorf("subsection keeps original typography: %q", secs[0].Subsections[0].Name)
	}
}

func TestExtractNoHeadingsFallsBack(t *testing.T) {
	pages := []PageText{
		{Number: 1, Text: "このたびはお買い上げいただきありがとうございます。"},
		{Number: 2, Text: "ご使用前にこの説明書をよくお読みください。"},
	}
	secs, err := NewExtractor().Extract(pages)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(secs) != 1 {
		t.Fatalf("got %d sections, want 1", len(secs))
	}
	sub := secs[0].Subsections[0]
	if secs[0].Name != FallbackSection || sub.Name != FallbackSection {
		t.Errorf("fallback names = %q / %q", secs[0].Name, sub.Name)
	}
	if sub.Page != 1 {
		t.Errorf("fallback page = %d, want 1", sub.Page)
	}
	if !strings.Contains(sub.Text, "お読みください") {
		t.Errorf("fallback text truncated: %q", sub.Text)
	}
}

func TestExtractSubsectionBeforeAnySection(t *testing.T) {
	pages := []PageText{
		{Number: 1, Text: "1.1 各部のなまえ\n本体とリモコンがあります。"},
	}
	secs, err := NewExtractor().Extract(pages)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(secs) != 1 || secs[0].Name != FallbackSection {
		t.Fatalf("sections = %+v", secs)
	}
	if secs[0].Subsections[0].Name != "1.1 各部のなまえ" {
		t.Errorf("subsection = %+v", secs[0].Subsections[0])
	}
}

func TestExtractSectionPreambleJoinsFirstSubsection(t *testing.T) {
	pages := []PageText{
		{Number: 1, Text: "1. 設置\nこの章では設置手順を説明します。\n1.1 設置場所\n直射日光を避けてください。"},
	}
	secs, err := NewExtractor().Extract(pages)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	text := secs[0].Subsections[0].Text
	if !strings.Contains(text, "設置手順を説明します") || !strings.Contains(text, "直射日光") {
		t.Errorf("preamble not carried into first subsection: %q", text)
	}
}

func TestExtractIgnoresTOCLeaders(t *testing.T) {
	pages := []PageText{
		{Number: 1, Text: "もくじ\n1. 安全上のご注意 ........ 3\n2. 使い方 ........ 7"},
		{Number: 3, Text: "1. 安全上のご注意\n必ずお読みください。"},
	}
	secs, err := NewExtractor().Extract(pages)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(secs) != 1 {
		t.Fatalf("TOC entries produced sections: %+v", secs)
	}
	if got := secs[0].Subsections[0].Page; got != 3 {
		t.Errorf("section anchored at %d, want body page 3", got)
	}
}

func TestExtractEmptyDocument(t *testing.T) {
	if _, err := NewExtractor().Extract(nil); !errors.Is(err, ErrCorruptDocument) {
		t.Errorf("nil pages: err = %v", err)
	}
	blank := []PageText{{Number: 1, Text: "  \n "}}
	if _, err := NewExtractor().Extract(blank); !errors.Is(err, ErrCorruptDocument) {
		t.Errorf("blank pages: err = %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		line string
		want int
	}{
		{"1. はじめに", markSection},
		{"12 仕様", markSection},
		{"第3章 困ったときは", markSection},
		{"2.4 タイマー予約", markSubsection},
		{"3.1.2 フィルター清掃", markSubsection},
		{"第2節 リモコン", markSubsection},
		{"１．２　お手入れ", markSubsection},
		{"水平な場所に設置してください。", markNone},
		{"1.5 合まで入れられます。", markNone},       // ends like a sentence
		{"2020 年モデル", markNone},             // four digits read as a year
		{"1. 安全上のご注意 ........ 3", markNone}, // TOC leader
		{strings.Repeat("あ", 90) + " 1. x", markNone},
	}
	for _, tc := range cases {
		if got := classify(tc.line); got != tc.want {
			t.Errorf("classify(%q) = %d, want %d", tc.line, got, tc.want)
		}
	}
}

func TestReadPagesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("not really a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPages(path); !errors.Is(err, ErrCorruptDocument) {
		t.Errorf("ReadPages on garbage: err = %v", err)
	}
}

func TestReadPagesMissingFile(t *testing.T) {
	_, err := ReadPages(filepath.Join(t.TempDir(), "absent.pdf"))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrCorruptDocument) {
		t.Errorf("missing file should not be reported as corrupt: %v", err)
	}
}
