package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want float64
	}{
		{"ntsc fraction", "30000/1001", 29.97002997002997},
		{"pal fraction", "25/1", 25},
		{"bare number", "30", 30},
		{"empty", "", 0},
		{"garbage", "x", 0},
		{"zero denominator", "1/0", 0},
		{"garbage numerator", "a/1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, parseFramerate(tt.in), 1e-9)
		})
	}
}

func TestErrTail(t *testing.T) {
	assert.Equal(t, "", errTail(nil))
	assert.Equal(t, "", errTail([]byte("  \n ")))
	assert.Equal(t, "a; b", errTail([]byte("a\nb\n")))
	assert.Equal(t, "3; 4; 5; 6", errTail([]byte("1\n2\n3\n4\n5\n6")))
}
