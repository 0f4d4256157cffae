package textutil_test

import (
	"testing"

	"github.com/knoguchi/vidqa/internal/textutil"
	"github.com/stretchr/testify/assert"
)

func TestWordSet(t *testing.T) {
	set := textutil.WordSet("  Alpha beta\tALPHA\ngamma, ")

	assert.Len(t, set, 3)
	assert.Contains(t, set, "alpha")
	assert.Contains(t, set, "beta")
	assert.Contains(t, set, "gamma,")
	assert.Empty(t, textutil.WordSet("   "))
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{name: "identical", a: "hello world", b: "world hello", expected: 1},
		{name: "disjoint", a: "hello world", b: "foo bar", expected: 0},
		{name: "partial", a: "hello world test", b: "hello world example", expected: 0.5},
		{name: "left empty", a: "", b: "foo", expected: 0},
		{name: "both empty", a: "", b: " ", expected: 0},
		{name: "case insensitive", a: "Hello", b: "hELLO", expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, textutil.Jaccard(textutil.WordSet(tt.a), textutil.WordSet(tt.b)), 1e-9)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héll", textutil.Truncate("héllo", 4))
	assert.Equal(t, "héllo", textutil.Truncate("héllo", 10))
	assert.Equal(t, "", textutil.Truncate("héllo", 0))
	assert.Equal(t, 5, textutil.Len("héllo"))
}
