// Package matcher provides the embedding-based candidate search over the
// reference corpus.
package matcher

import (
	"hash/fnv"
	"math"
	"strings"
)

// Dim is the embedding dimensionality. The corpus builder and the query path
// must agree on it.
const Dim = 256

const ngramSize = 3

// Embed maps text into a fixed-dimension vector by hashing character n-grams.
// The output is L2-normalized, so the dot product of two embeddings is their
// cosine similarity. Deterministic across runs and platforms.
func Embed(text string) []float64 {
	vec := make([]float64, Dim)

	s := normalizeText(text)
	if s == "" {
		return vec
	}

	runes := []rune(s)
	if len(runes) < ngramSize {
		bumpToken(vec, string(runes))
	} else {
		for i := 0; i+ngramSize <= len(runes); i++ {
			bumpToken(vec, string(runes[i:i+ngramSize]))
		}
	}

	// Word-level tokens sharpen matches on postal codes and place names.
	for _, tok := range strings.Fields(s) {
		bumpToken(vec, "w:"+tok)
	}

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum > 0 {
		inv := 1 / math.Sqrt(sum)
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func bumpToken(vec []float64, tok string) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tok))
	vec[h.Sum32()%Dim]++
}

func normalizeText(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Cosine returns the cosine similarity of two equal-length vectors. For
// Embed outputs this is just the dot product.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
