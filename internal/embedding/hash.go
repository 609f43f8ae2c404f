package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)

// HashEmbedder is an offline embedder using signed feature hashing over
// lowercase word unigrams and bigrams. Vectors are L2-normalized and never zero.
type HashEmbedder struct {
	dimension int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{dimension: dimension}
}

func (h *HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return h.embed(text), nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	vec := make([]float64, h.dimension)
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	norm := 0.0
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, h.dimension)
	if norm == 0 {
		// no tokens, or every feature cancelled out
		out[bucket(text, h.dimension)] = 1
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (h *HashEmbedder) add(vec []float64, feature string, weight float64) {
	sum := fnv.New64a()
	_, _ = sum.Write([]byte(feature))
	v := sum.Sum64()
	idx := int(v % uint64(h.dimension))
	if v>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func bucket(s string, dimension int) int {
	sum := fnv.New32a()
	_, _ = sum.Write([]byte(s))
	return int(sum.Sum32() % uint32(dimension))
}
