package matcher

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmbed_Deterministic(t *testing.T) {
	a := Embed("12 MG Road, Bengaluru 560001")
	b := Embed("12 MG Road, Bengaluru 560001")
	assert.Equal(t, a, b)
}

func TestEmbed_Normalized(t *testing.T) {
	v := Embed("Whitefield Main Road, Bengaluru")
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-9)
}

func TestEmbed_EmptyIsZero(t *testing.T) {
	v := Embed("   ")
	for _, x := range v {
		assert.Zero(t, x)
	}
}

func TestEmbed_CaseAndPunctuationInsensitive(t *testing.T) {
	a := Embed("12, MG Road -- Bengaluru")
	b := Embed("12 mg road bengaluru")
	assert.InDelta(t, 1.0, Cosine(a, b), 1e-9)
}

func TestEmbed_SimilarCloserThanDifferent(t *testing.T) {
	query := Embed("12 MG Road Bengaluru 560001")
	near := Embed("14 MG Road Bengaluru 560001")
	far := Embed("5 Mount Road Chennai 600001")

	assert.Greater(t, Cosine(query, near), Cosine(query, far))
}

func TestEmbed_ShortInput(t *testing.T) {
	v := Embed("ab")
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-9)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 0}, []float64{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Zero(t, Cosine([]float64{1, 0}, []float64{1}))
	assert.Zero(t, Cosine(nil, nil))
	assert.Zero(t, Cosine([]float64{0, 0}, []float64{1, 1}))
}
