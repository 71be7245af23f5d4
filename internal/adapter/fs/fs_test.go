package fs

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexqa/internal/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestWalker(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "spec.md"), "# Login")
	writeFile(t, filepath.Join(root, "docs", "notes.txt"), "notes")
	writeFile(t, filepath.Join(root, "docs", "image.png"), "png")
	writeFile(t, filepath.Join(root, ".git", "HEAD.txt"), "ref")
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "readme.md"), "pkg")

	w := NewWalker([]string{"**/*.md", "**/*.txt"}, []string{"**/.git/**", "**/node_modules/**"})
	files, err := w.Walk(root)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		r, err := filepath.Rel(root, f.Path)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
		assert.Positive(t, f.Size)
	}
	sort.Strings(rel)
	assert.Equal(t, []string{"docs/notes.txt", "spec.md"}, rel)

	assert.True(t, w.Match("a/b/c.md"))
	assert.False(t, w.Match("node_modules/x.md"))
}

func TestWalker_SingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	writeFile(t, path, "%PDF")

	files, err := NewWalker([]string{"**/*.md"}, nil).Walk(path)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, path, files[0].Path)

	_, err = NewWalker(nil, nil).Walk(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestPlainTextExtractor(t *testing.T) {
	dir := t.TempDir()
	e := NewPlainTextExtractor()

	md := filepath.Join(dir, "Spec.MD")
	writeFile(t, md, "\xef\xbb\xbf# Checkout\nPay by card.")
	text, err := e.Extract(md)
	require.NoError(t, err)
	assert.Equal(t, "# Checkout\nPay by card.", text)

	pdf := filepath.Join(dir, "spec.pdf")
	writeFile(t, pdf, "%PDF-1.7")
	assert.False(t, e.Supports(pdf))
	_, err = e.Extract(pdf)
	assert.ErrorIs(t, err, domain.ErrUnsupportedDocument)

	bin := filepath.Join(dir, "data.csv")
	writeFile(t, bin, "a,b\x00c")
	_, err = e.Extract(bin)
	assert.ErrorIs(t, err, domain.ErrUnsupportedDocument)

	latin := filepath.Join(dir, "legacy.txt")
	writeFile(t, latin, "caf\xe9")
	text, err = e.Extract(latin)
	require.NoError(t, err)
	assert.Equal(t, "caf�", text)

	_, err = e.Extract(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}
