package mathhelp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBetweenInc(t *testing.T) {
	tests := []struct {
		name    string
		f, p, q float64
		want    bool
	}{
		{name: "inside", f: 1, p: 0, q: 2, want: true},
		{name: "on lower edge", f: 0, p: 0, q: 2, want: true},
		{name: "on upper edge", f: 2, p: 0, q: 2, want: true},
		{name: "reversed interval", f: 1, p: 2, q: 0, want: true},
		{name: "outside", f: 3, p: 0, q: 2, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BetweenInc(tt.f, tt.p, tt.q))
		})
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, Clamp(-3, 0, 10))
	assert.Equal(t, 10, Clamp(12, 0, 10))
	assert.Equal(t, 4.5, Clamp(4.5, 0, 10))
}

func TestEuclidianMod(t *testing.T) {
	assert.Equal(t, 1, EuclidianMod(-1, 2))
	assert.Equal(t, 0, EuclidianMod(4, 2))
	assert.Equal(t, 4, EuclidianMod(-1, 5))
	assert.Equal(t, 1, Bool2int(true))
	assert.Equal(t, 0, Bool2int(false))
}
