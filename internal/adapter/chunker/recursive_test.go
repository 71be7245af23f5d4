package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"nexqa/internal/domain"
)

// reassemble joins chunks back into the source by dropping the overlapped
// prefix of every chunk after the first.
func reassemble(chunks []domain.Chunk) string {
	var b strings.Builder
	for _, ch := range chunks {
		runes := []rune(ch.Text)
		b.WriteString(string(runes[ch.Overlap:]))
	}
	return b.String()
}

func mustChunker(t *testing.T, size, overlap int) *RecursiveChunker {
	t.Helper()
	c, err := NewRecursiveChunker(size, overlap)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func checkInvariants(t *testing.T, text string, chunks []domain.Chunk, size, overlap int) {
	t.Helper()
	for i, ch := range chunks {
		if n := utf8.RuneCountInString(ch.Text); n > size {
			t.Errorf("chunk %d has %d runes, limit %d", i, n, size)
		}
		if ch.Seq != i {
			t.Errorf("chunk %d has Seq %d", i, ch.Seq)
		}
		if ch.Overlap > overlap {
			t.Errorf("chunk %d overlap %d exceeds %d", i, ch.Overlap, overlap)
		}
		if i == 0 && ch.Overlap != 0 {
			t.Errorf("first chunk must not overlap, got %d", ch.Overlap)
		}
		if i > 0 && ch.Start != chunks[i-1].End-ch.Overlap {
			t.Errorf("chunk %d starts at %d, previous ends at %d with overlap %d", i, ch.Start, chunks[i-1].End, ch.Overlap)
		}
		if got := string([]rune(text)[ch.Start:ch.End]); got != ch.Text {
			t.Errorf("chunk %d span does not match its text", i)
		}
	}
	if got := reassemble(chunks); got != text {
		t.Errorf("reassembled text differs from source:\n got %q\nwant %q", got, text)
	}
}

func TestRecursiveChunkerScenario(t *testing.T) {
	c := mustChunker(t, 800, 100)
	text := strings.Repeat("word ", 400) // 2000 characters

	doc := domain.Document{ID: "doc1", UserID: "u1", Source: "/tmp/notes.txt", Kind: domain.SourceFile, Text: text}
	chunks, err := c.Chunk(doc)
	if err != nil {
		t.Fatal(err)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	wantSpans := [][2]int{{0, 800}, {700, 1500}, {1400, 2000}}
	for i, span := range wantSpans {
		if chunks[i].Start != span[0] || chunks[i].End != span[1] {
			t.Errorf("chunk %d: expected span %v, got [%d %d]", i, span, chunks[i].Start, chunks[i].End)
		}
	}
	checkInvariants(t, text, chunks, 800, 100)

	again, _ := c.Chunk(doc)
	for i := range chunks {
		if chunks[i].ID != again[i].ID {
			t.Errorf("chunk ids are not deterministic at %d", i)
		}
	}
}

func TestRecursiveChunkerHardCut(t *testing.T) {
	c := mustChunker(t, 800, 100)
	text := strings.Repeat("x", 2000)

	chunks, err := c.Chunk(domain.Document{ID: "d", Text: text})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Overlap != 100 {
			t.Errorf("chunk %d: expected overlap 100, got %d", i, chunks[i].Overlap)
		}
	}
	checkInvariants(t, text, chunks, 800, 100)
}

func TestRecursiveChunkerPrefersParagraphs(t *testing.T) {
	c := mustChunker(t, 60, 10)
	para1 := "First paragraph talks about login. It has two sentences."
	para2 := "Second paragraph covers logout."
	text := para1 + "\n\n" + para2

	chunks, err := c.Chunk(domain.Document{ID: "d", Text: text})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Text, para1) {
		t.Errorf("first chunk should hold the first paragraph, got %q", chunks[0].Text)
	}
	if !strings.HasSuffix(chunks[1].Text, para2) {
		t.Errorf("second chunk should end with the second paragraph, got %q", chunks[1].Text)
	}
	checkInvariants(t, text, chunks, 60, 10)
}

func TestRecursiveChunkerMixedText(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("The checkout flow validates the cart total before payment. ")
		if i%3 == 0 {
			b.WriteString("Does the coupon apply?\n")
		}
		if i%7 == 0 {
			b.WriteString("Ünïcödé line with émphasis!\n\n")
		}
		b.WriteString(strings.Repeat("z", i*9))
		b.WriteString(" ")
	}
	text := b.String()

	for _, cfg := range [][2]int{{800, 100}, {120, 30}, {50, 0}, {10, 9}} {
		c := mustChunker(t, cfg[0], cfg[1])
		chunks, err := c.Chunk(domain.Document{ID: "d", Text: text})
		if err != nil {
			t.Fatal(err)
		}
		checkInvariants(t, text, chunks, cfg[0], cfg[1])
	}
}

func TestRecursiveChunkerSmallAndEmpty(t *testing.T) {
	c := mustChunker(t, 800, 100)

	chunks, err := c.Chunk(domain.Document{ID: "d", Text: ""})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for empty text, got %d", len(chunks))
	}

	chunks, _ = c.Chunk(domain.Document{ID: "d", Text: "short"})
	if len(chunks) != 1 || chunks[0].Text != "short" {
		t.Errorf("expected a single chunk, got %v", chunks)
	}
}

func TestRecursiveChunkerMetadata(t *testing.T) {
	c := mustChunker(t, 800, 100)

	file, _ := c.Chunk(domain.Document{ID: "d1", UserID: "alice", Source: "/docs/spec.txt", Kind: domain.SourceFile, Text: "hello"})
	if got := file[0].Metadata[domain.MetaFileName]; got != "spec.txt" {
		t.Errorf("expected file_name spec.txt, got %q", got)
	}
	if got := file[0].Metadata[domain.MetaUserID]; got != "alice" {
		t.Errorf("expected user_id alice, got %q", got)
	}

	url, _ := c.Chunk(domain.Document{ID: "d2", UserID: "alice", Source: "https://example.com/a", Kind: domain.SourceURL, Text: "hello"})
	if got := url[0].Metadata[domain.MetaURL]; got != "https://example.com/a" {
		t.Errorf("expected url metadata, got %q", got)
	}
	if _, ok := url[0].Metadata[domain.MetaFileName]; ok {
		t.Error("url documents should not carry file_name")
	}
}

func TestNewRecursiveChunkerValidation(t *testing.T) {
	if _, err := NewRecursiveChunker(100, 100); err == nil {
		t.Error("expected error for overlap == size")
	}
	if _, err := NewRecursiveChunker(0, 0); err == nil {
		t.Error("expected error for zero size")
	}
	_, err := NewRecursiveChunker(100, -1)
	if domain.KindOf(err) != domain.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}

	c, err := NewRecursiveChunker(5, 0, WithSeparators([]string{";"}))
	if err != nil {
		t.Fatal(err)
	}
	chunks, _ := c.Chunk(domain.Document{ID: "d", Text: "ab;cd;efghijk"})
	checkInvariants(t, "ab;cd;efghijk", chunks, 5, 0)
}
