package index

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	if got := CosineSimilarity(a, b); math.Abs(float64(got)-1) > 1e-6 {
		t.Fatalf("identical vectors similarity = %v, want 1", got)
	}

	c := []float32{0, 1, 0}
	if got := CosineSimilarity(a, c); math.Abs(float64(got)) > 1e-6 {
		t.Fatalf("orthogonal vectors similarity = %v, want 0", got)
	}

	if got := CosineSimilarity(a, []float32{1, 2}); got != 0 {
		t.Fatalf("mismatched lengths similarity = %v, want 0", got)
	}
}

func TestNormalize(t *testing.T) {
	vec := Normalize([]float32{3, 4})
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Fatalf("normalized norm^2 = %v, want 1", sum)
	}

	zero := Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatalf("zero vector changed by Normalize")
	}
}
