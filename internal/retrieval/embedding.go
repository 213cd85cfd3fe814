package retrieval

import (
	"hash/fnv"
	"math"
	"strings"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(text string) Vector
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// HashingEmbedder maps text to a fixed-size vector by feature-hashing token
// unigrams and bigrams. It needs no model files or network access, and the
// same text always produces the same vector, which keeps search results
// reproducible for a fixed index snapshot.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates an embedder with the given dimensionality.
// Zero or negative dims falls back to 256.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashingEmbedder{dims: dims}
}

func (e *HashingEmbedder) Dims() int { return e.dims }

func (e *HashingEmbedder) Embed(text string) Vector {
	vec := make(Vector, e.dims)
	tokens := tokenize(text)
	for i, tok := range tokens {
		e.add(vec, tok)
		if i+1 < len(tokens) {
			e.add(vec, tok+" "+tokens[i+1])
		}
	}
	return normalize(vec)
}

func (e *HashingEmbedder) add(vec Vector, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dims))
	// Highest bit decides the sign so hash collisions tend to cancel out.
	if sum&(1<<63) != 0 {
		vec[idx] -= 1
	} else {
		vec[idx] += 1
	}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

func normalize(vec Vector) Vector {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
