package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

type Chunk struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	SequenceIndex int       `json:"sequence_index"`
	Text          string    `json:"text"`
	Embedding     []float32 `json:"embedding,omitempty"`
}

func ChunkID(documentID string, sequenceIndex int) string {
	return fmt.Sprintf("%s:%d", documentID, sequenceIndex)
}

// ParseChunkID splits a chunk id into its document id and sequence index.
func ParseChunkID(id string) (string, int, bool) {
	idx := strings.LastIndex(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", 0, false
	}
	seq, err := strconv.Atoi(id[idx+1:])
	if err != nil || seq < 0 {
		return "", 0, false
	}
	return id[:idx], seq, true
}

// BuildChunks numbers texts from zero for the given document.
func BuildChunks(documentID string, texts []string, vectors [][]float32) []Chunk {
	out := make([]Chunk, 0, len(texts))
	for i, text := range texts {
		chunk := Chunk{
			ID:            ChunkID(documentID, i),
			DocumentID:    documentID,
			SequenceIndex: i,
			Text:          text,
		}
		if i < len(vectors) {
			chunk.Embedding = vectors[i]
		}
		out = append(out, chunk)
	}
	return out
}

// Gapless reports whether chunks are numbered 0..n-1 without holes or repeats.
func Gapless(chunks []Chunk) bool {
	seen := make([]bool, len(chunks))
	for _, c := range chunks {
		if c.SequenceIndex < 0 || c.SequenceIndex >= len(chunks) || seen[c.SequenceIndex] {
			return false
		}
		seen[c.SequenceIndex] = true
	}
	return true
}

type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// SortScored orders hits by descending score; equal scores prefer earlier content.
func SortScored(hits []ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.SequenceIndex < hits[j].Chunk.SequenceIndex
	})
}

func TopK(hits []ScoredChunk, k int) []ScoredChunk {
	SortScored(hits)
	if k > 0 && len(hits) > k {
		return hits[:k]
	}
	return hits
}

// CosineSimilarity returns 0 for mismatched or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
