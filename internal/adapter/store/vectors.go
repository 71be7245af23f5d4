package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"nexqa/internal/domain"
	"nexqa/internal/port"
)

// Candidate is a scored vector before its chunk payload is loaded.
type Candidate struct {
	ID    string
	Seq   uint64
	Score float64
}

// Rank orders candidates by non-increasing score, breaking ties by insertion
// sequence, and keeps the first k.
func Rank(candidates []Candidate, k int) []Candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Seq < candidates[j].Seq
	})
	if k >= 0 && k < len(candidates) {
		candidates = candidates[:k]
	}
	return candidates
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RecordDimension returns the shared dimension of records, rejecting empty
// batches and batches that mix dimensions.
func RecordDimension(op string, records []port.VectorRecord) (int, error) {
	if len(records) == 0 {
		return 0, domain.Errorf(domain.KindValidation, op, "no vectors to store")
	}
	dim := len(records[0].Vector)
	if dim == 0 {
		return 0, domain.Errorf(domain.KindValidation, op, "empty vector for chunk %s", records[0].Chunk.ID)
	}
	for _, r := range records[1:] {
		if len(r.Vector) != dim {
			return 0, domain.Errorf(domain.KindDimensionMismatch, op,
				"batch mixes dimensions %d and %d", dim, len(r.Vector))
		}
	}
	return dim, nil
}

// MismatchError reports a collection whose recorded dimension conflicts with
// incoming vectors.
func MismatchError(op, providerID string, have, got int) error {
	return domain.Errorf(domain.KindDimensionMismatch, op,
		"collection for provider %s holds %d-dimensional vectors, got %d; reset the collection and re-ingest",
		providerID, have, got)
}

// NotFoundError reports a collection that was never written.
func NotFoundError(op string, key domain.CollectionKey) error {
	return domain.Errorf(domain.KindCollectionNotFound, op, "no collection for user %q and provider %q", key.UserID, key.ProviderID)
}

// encodeVector packs a sequence number and little-endian float32s.
func encodeVector(seq uint64, v []float32) []byte {
	buf := make([]byte, 8+len(v)*4)
	binary.BigEndian.PutUint64(buf, seq)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[8+i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) (uint64, []float32, error) {
	if len(data) < 8 || (len(data)-8)%4 != 0 {
		return 0, nil, fmt.Errorf("corrupt vector record of %d bytes", len(data))
	}
	seq := binary.BigEndian.Uint64(data)
	floats := make([]float32, (len(data)-8)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[8+i*4:]))
	}
	return seq, floats, nil
}

func encodeFloats(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloats(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector blob of %d bytes", len(data))
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats, nil
}
