package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/kakunin/internal/extract"
	"github.com/hyperjump/kakunin/internal/fileid"
	"github.com/hyperjump/kakunin/internal/models"
	"github.com/xuri/excelize/v2"
)

type mapSink struct {
	mu   sync.Mutex
	docs map[string]*models.Document
	puts int
}

func newMapSink() *mapSink {
	return &mapSink{docs: make(map[string]*models.Document)}
}

func (s *mapSink) PutDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	s.puts++
	return nil
}

func (s *mapSink) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return doc, nil
}

func (s *mapSink) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return models.ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".pdf", []string{"pdf"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

func mustAbs(path string) string {
	a, err := filepath.Abs(path)
	if err != nil {
		panic(err)
	}
	return a
}

func TestIndexDocument(t *testing.T) {
	sink := newMapSink()
	idx := NewIndexer(sink, nil)
	ctx := context.Background()

	doc, err := idx.IndexDocument(ctx, &models.DocumentInput{ID: "policy-1", Content: "  Flood damage\n\n is excluded. "})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Content != "Flood damage is excluded." {
		t.Errorf("content not normalised: %q", doc.Content)
	}

	generated, err := idx.IndexDocument(ctx, &models.DocumentInput{Content: "Theft is covered."})
	if err != nil {
		t.Fatal(err)
	}
	if generated.ID == "" {
		t.Error("expected a generated id")
	}
	if len(sink.docs) != 2 {
		t.Errorf("stored %d documents, want 2", len(sink.docs))
	}
}

func TestIndexDocument_rejectsInvalid(t *testing.T) {
	idx := NewIndexer(newMapSink(), nil)
	ctx := context.Background()

	if _, err := idx.IndexDocument(ctx, &models.DocumentInput{ID: "x", Content: "   "}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("empty content: got %v", err)
	}
	if _, err := idx.IndexDocument(ctx, &models.DocumentInput{ID: "a#b", Content: "text"}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("id with '#': got %v", err)
	}
}

func TestIndexFile_createAndUpdate(t *testing.T) {
	dir := t.TempDir()
	sink := newMapSink()
	idx := NewIndexer(sink, nil)
	ctx := context.Background()

	fPath := filepath.Join(dir, "policy.txt")
	if err := os.WriteFile(fPath, []byte("Section 4.2 covers flood damage."), 0600); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexFile(ctx, fPath, []string{".txt", ".md"}); err != nil {
		t.Fatal(err)
	}
	docID := fileid.FileDocID(mustAbs(fPath))
	doc, err := sink.GetDocument(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "policy.txt" || doc.Content != "Section 4.2 covers flood damage." {
		t.Errorf("unexpected doc: title=%q content=%q", doc.Title, doc.Content)
	}
	if doc.Metadata["source_path"] != mustAbs(fPath) {
		t.Errorf("metadata source_path: got %v", doc.Metadata["source_path"])
	}

	if err := os.WriteFile(fPath, []byte("Section 4.2 excludes flood damage entirely."), 0600); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexFile(ctx, fPath, []string{".txt"}); err != nil {
		t.Fatal(err)
	}
	doc2, err := sink.GetDocument(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if doc2.Content != "Section 4.2 excludes flood damage entirely." {
		t.Errorf("after update: content=%q", doc2.Content)
	}
}

func TestIndexFile_skipsUnchanged(t *testing.T) {
	dir := t.TempDir()
	sink := newMapSink()
	idx := NewIndexer(sink, nil)
	ctx := context.Background()

	fPath := filepath.Join(dir, "policy.md")
	if err := os.WriteFile(fPath, []byte("Theft is covered."), 0600); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexFile(ctx, fPath, nil); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexFile(ctx, fPath, nil); err != nil {
		t.Fatal(err)
	}
	if sink.puts != 1 {
		t.Errorf("puts = %d, want 1 (second call should be skipped)", sink.puts)
	}
}

func TestIndexFile_extensionFiltered(t *testing.T) {
	dir := t.TempDir()
	idx := NewIndexer(newMapSink(), nil)

	fPath := filepath.Join(dir, "script.sh")
	if err := os.WriteFile(fPath, []byte("#!/bin/bash"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexFile(context.Background(), fPath, []string{".txt", ".md"}); err == nil {
		t.Error("expected error for disallowed extension")
	}
}

func TestIndexFile_deleteByPath(t *testing.T) {
	dir := t.TempDir()
	sink := newMapSink()
	idx := NewIndexer(sink, nil)
	ctx := context.Background()

	fPath := filepath.Join(dir, "note.md")
	if err := os.WriteFile(fPath, []byte("Note content."), 0600); err != nil {
		t.Fatal(err)
	}
	if err := idx.IndexFile(ctx, fPath, nil); err != nil {
		t.Fatal(err)
	}
	if err := idx.DeleteFile(ctx, fPath); err != nil {
		t.Fatal(err)
	}
	if _, err := sink.GetDocument(ctx, fileid.FileDocID(mustAbs(fPath))); err == nil {
		t.Error("document should be deleted")
	}
}

func TestIndexFile_notRegularFile(t *testing.T) {
	dir := t.TempDir()
	idx := NewIndexer(newMapSink(), nil)
	if err := idx.IndexFile(context.Background(), dir, nil); err == nil {
		t.Error("expected error for directory")
	}
}

func TestIndexFile_nonexistent(t *testing.T) {
	dir := t.TempDir()
	idx := NewIndexer(newMapSink(), nil)
	if err := idx.IndexFile(context.Background(), filepath.Join(dir, "missing.txt"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIndexFile_excelWithExtractor(t *testing.T) {
	dir := t.TempDir()
	sink := newMapSink()
	idx := NewIndexer(sink, extract.NewExtractor())

	fPath := filepath.Join(dir, "schedule.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Deductible schedule")
	if err := f.SaveAs(fPath); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	ctx := context.Background()
	if err := idx.IndexFile(ctx, fPath, []string{".xlsx", ".txt"}); err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	doc, err := sink.GetDocument(ctx, fileid.FileDocID(mustAbs(fPath)))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "schedule.xlsx" || doc.Content != "Deductible schedule" {
		t.Errorf("unexpected doc: title=%q content=%q", doc.Title, doc.Content)
	}
}

func TestIndexDirectory(t *testing.T) {
	dir := t.TempDir()
	idx := NewIndexer(newMapSink(), nil)

	sub := filepath.Join(dir, "riders")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		filepath.Join(dir, "home.txt"):  "home policy",
		filepath.Join(dir, "motor.txt"): "motor policy",
		filepath.Join(sub, "flood.txt"): "flood rider",
		filepath.Join(dir, "notes.xyz"): "skip",
	}
	for p, body := range files {
		if err := os.WriteFile(p, []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
	}

	n, err := idx.IndexDirectory(context.Background(), dir, []string{".txt"})
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	if n != 3 {
		t.Errorf("IndexDirectory: indexed %d files, want 3", n)
	}
}
