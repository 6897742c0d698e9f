package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternToInt(t *testing.T) {
	tests := []struct {
		pattern string
		want    int
	}{
		{"+--+-", 18},
		{"-----", 0},
		{"+++++", 31},
		{"----+", 1},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got, err := PatternToInt(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.pattern, IntToPattern(tt.want))
		})
	}
}

func TestPatternToIntRejectsGarbage(t *testing.T) {
	for _, pattern := range []string{"", "+-x-+", "10010"} {
		_, err := PatternToInt(pattern)
		assert.Error(t, err, pattern)
	}
}

func TestIntToPatternKeepsFiveGlyphs(t *testing.T) {
	assert.Equal(t, "----+", IntToPattern(33))
	assert.Len(t, IntToPattern(0), 5)
}
