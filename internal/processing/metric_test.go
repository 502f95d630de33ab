// internal/processing/metric_test.go
package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMutualCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		want int
	}{
		{"full phrase", "John Doe and 12 other mutual connections", 12},
		{"no leading name", "12 other mutual connections", 12},
		{"plain mutual", "5 mutual connections", 5},
		{"singular", "1 mutual connection", 1},
		{"shared variant", "8 shared connections", 8},
		{"bare mutual", "3 mutual", 3},
		{"loose connections", "42 connections", 42},
		{"case insensitive", "Jane and 7 OTHER MUTUAL CONNECTIONS", 7},
		{"embedded in card text", "Jane Smith\nSoftware Engineer at Acme\nJohn and 9 other mutual connections\nConnect", 9},
		{"zero count", "0 mutual connections", 0},
		{"no number", "No mutual connections", 0},
		{"unrelated text", "Works at Initech", 0},
		{"empty", "", 0},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ParseMutualCount(tc.text))
		})
	}
}

func TestParseMutualCount_MostSpecificPatternWins(t *testing.T) {
	t.Parallel()

	// "500+ connections" in the headline must not shadow the mutual count.
	text := "Jane Smith\n500 connections\nand 6 other mutual connections"
	assert.Equal(t, 6, ParseMutualCount(text))
}
