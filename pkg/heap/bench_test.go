package heap

import (
	"math/rand"
	"testing"
)

func BenchmarkInsert(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	h := New[int, int]()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Insert(rng.Int(), i)
	}
}

func BenchmarkInsertPopMax(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	h := New[int, int]()
	for i := 0; i < 1024; i++ {
		h.Insert(rng.Int(), i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Insert(rng.Int(), i)
		h.PopMax()
	}
}
