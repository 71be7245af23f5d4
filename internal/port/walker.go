package port

type FileWalker interface {
	Walk(root string) ([]FileInfo, error)
}

type FileInfo struct {
	Path    string
	ModTime int64
	Size    int64
}

// TextExtractor turns a file on disk into plain text.
type TextExtractor interface {
	// Supports reports whether files with this extension can be extracted.
	Supports(path string) bool

	Extract(path string) (string, error)
}
