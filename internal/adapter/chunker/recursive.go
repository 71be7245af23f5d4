package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"nexqa/internal/domain"
)

// DefaultSeparators are tried from coarse to fine. The empty separator cuts
// between runes and always succeeds.
var DefaultSeparators = []string{"\n\n", "\n", ".", "?", "!", " ", ""}

// RecursiveChunker splits text on the coarsest separator that occurs, recursing
// into fragments that are still longer than the chunk size, then merges the
// fragments into overlapping chunks. Lengths are counted in runes.
type RecursiveChunker struct {
	size       int
	overlap    int
	separators []string
}

// Option configures a RecursiveChunker.
type Option func(*RecursiveChunker)

// WithSeparators replaces the separator list. An empty separator is appended
// when missing so splitting always terminates.
func WithSeparators(seps []string) Option {
	return func(c *RecursiveChunker) {
		c.separators = append([]string(nil), seps...)
	}
}

func NewRecursiveChunker(size, overlap int, opts ...Option) (*RecursiveChunker, error) {
	if size <= 0 {
		return nil, domain.Errorf(domain.KindValidation, "new chunker", "chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, domain.Errorf(domain.KindValidation, "new chunker",
			"chunk overlap (%d) must be in [0, %d)", overlap, size)
	}

	c := &RecursiveChunker{
		size:       size,
		overlap:    overlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}
	if n := len(c.separators); n == 0 || c.separators[n-1] != "" {
		c.separators = append(c.separators, "")
	}
	return c, nil
}

func (c *RecursiveChunker) Chunk(doc domain.Document) ([]domain.Chunk, error) {
	if doc.Text == "" {
		return nil, nil
	}
	return c.merge(doc, c.split(doc.Text, c.separators)), nil
}

// split returns fragments of at most c.size runes whose concatenation is text.
func (c *RecursiveChunker) split(text string, seps []string) []string {
	if utf8.RuneCountInString(text) <= c.size {
		return []string{text}
	}

	for i, sep := range seps {
		if sep == "" {
			break
		}
		if !strings.Contains(text, sep) {
			continue
		}

		var out []string
		for _, part := range strings.SplitAfter(text, sep) {
			if part == "" {
				continue
			}
			if utf8.RuneCountInString(part) <= c.size {
				out = append(out, part)
			} else {
				out = append(out, c.split(part, seps[i+1:])...)
			}
		}
		return out
	}

	out := make([]string, 0, utf8.RuneCountInString(text))
	for _, r := range text {
		out = append(out, string(r))
	}
	return out
}

type fragment struct {
	text  string
	runes int
}

// merge packs fragments greedily. When a chunk is full, the next one starts
// with as many trailing fragments as fit in the overlap budget.
func (c *RecursiveChunker) merge(doc domain.Document, parts []string) []domain.Chunk {
	var (
		chunks  []domain.Chunk
		window  []fragment
		total   int
		offset  int
		prevEnd int
	)

	emit := func() {
		var b strings.Builder
		for _, f := range window {
			b.WriteString(f.text)
		}
		end := offset + total
		overlap := 0
		if len(chunks) > 0 {
			overlap = prevEnd - offset
		}
		chunks = append(chunks, c.newChunk(doc, len(chunks), b.String(), offset, end, overlap))
		prevEnd = end
	}

	for _, p := range parts {
		f := fragment{text: p, runes: utf8.RuneCountInString(p)}
		if len(window) > 0 && total+f.runes > c.size {
			emit()
			for len(window) > 0 && (total > c.overlap || total+f.runes > c.size) {
				total -= window[0].runes
				offset += window[0].runes
				window = window[1:]
			}
		}
		window = append(window, f)
		total += f.runes
	}
	if len(window) > 0 {
		emit()
	}

	return chunks
}

func (c *RecursiveChunker) newChunk(doc domain.Document, seq int, text string, start, end, overlap int) domain.Chunk {
	meta := map[string]string{
		domain.MetaUserID:     doc.UserID,
		domain.MetaDocumentID: doc.ID,
		domain.MetaChunkIndex: strconv.Itoa(seq),
	}
	if doc.Kind == domain.SourceURL {
		meta[domain.MetaURL] = doc.Source
	} else {
		meta[domain.MetaFileName] = filepath.Base(doc.Source)
	}

	return domain.Chunk{
		ID:       generateChunkID(doc.ID, seq, start, end),
		DocID:    doc.ID,
		Seq:      seq,
		Text:     text,
		Start:    start,
		End:      end,
		Overlap:  overlap,
		Metadata: meta,
	}
}

func generateChunkID(docID string, seq, start, end int) string {
	data := fmt.Sprintf("%s:%d:%d-%d", docID, seq, start, end)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:8])
}
