package domain

import "time"

// SourceKind tells whether a document came from a file or a URL.
type SourceKind string

const (
	SourceFile SourceKind = "file"
	SourceURL  SourceKind = "url"
)

// Document is the extracted text of one uploaded file or URL.
type Document struct {
	ID         string
	UserID     string
	Source     string
	Kind       SourceKind
	Text       string
	IngestedAt time.Time
}

// Chunk is an ordered fragment of a document's text.
// Start and End are rune offsets into the document text; Overlap is the
// number of leading runes shared with the previous chunk.
type Chunk struct {
	ID       string
	DocID    string
	Seq      int
	Text     string
	Start    int
	End      int
	Overlap  int
	Metadata map[string]string
}

// Metadata keys stored with every chunk.
const (
	MetaFileName   = "file_name"
	MetaURL        = "url"
	MetaUserID     = "user_id"
	MetaDocumentID = "document_id"
	MetaChunkIndex = "chunk_index"
)

// ScoredChunk is one entry of a retrieval or re-ranking result.
// Seq is the insertion sequence inside the collection, used as tie-break.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
	Seq   uint64
}

// CollectionKey scopes a vector collection to one user and one embedding provider.
type CollectionKey struct {
	UserID     string
	ProviderID string
}

func (k CollectionKey) String() string {
	return k.UserID + "/" + k.ProviderID
}

// CollectionInfo describes a persisted collection.
type CollectionInfo struct {
	Key       CollectionKey
	Dimension int
	Documents int
	Chunks    int
	CreatedAt time.Time
}

// DocumentSummary is the document-level view returned by listings.
type DocumentSummary struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Source     string     `json:"source"`
	Kind       SourceKind `json:"kind"`
	ProviderID string     `json:"provider"`
	Chunks     int        `json:"chunks"`
	IngestedAt time.Time  `json:"ingested_at"`
}

// Mode selects the generation backend for a query.
type Mode string

const (
	ModeDefault Mode = ""
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// QueryRequest is a single stateless question to the pipeline.
type QueryRequest struct {
	Query        string
	Type         QueryType
	TopK         int
	UseReranking bool
	// Temperature is provider-specific when nil.
	Temperature *float64
	Stream      bool
	Mode        Mode
	UserID      string
	// Timeout overrides the per-type generation budget when positive.
	Timeout time.Duration
}

// PromptContext is the rendered prompt pair plus the context block it embeds.
type PromptContext struct {
	Type    QueryType
	System  string
	User    string
	Context string
}

// Source attributes part of an answer to a stored chunk.
type Source struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Answer is the assembled response handed back to callers.
type Answer struct {
	Response  string   `json:"response"`
	Type      string   `json:"type"`
	Sources   []Source `json:"sources"`
	LatencyMS int64    `json:"latency_ms"`
	RequestID string   `json:"request_id,omitempty"`
	Model     string   `json:"model,omitempty"`
	Mode      Mode     `json:"mode,omitempty"`
}

// StreamEvent is one delivery of a token stream. The final event has Done
// set; a failed stream ends with an event carrying Err.
type StreamEvent struct {
	Token string
	Done  bool
	Err   error
}
