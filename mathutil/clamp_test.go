package mathutil_test

import (
	"fmt"
	"testing"

	"github.com/xeptore/albumshelf/mathutil"
)

func TestClamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v, lo, hi, expected int
	}{
		{0, 0, 4, 0},
		{-1, 0, 4, 0},
		{5, 0, 4, 4},
		{2, 0, 4, 2},
		{3, 0, -1, 0},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("v=%d,lo=%d,hi=%d", test.v, test.lo, test.hi), func(t *testing.T) {
			t.Parallel()

			actual := mathutil.Clamp(test.v, test.lo, test.hi)
			if actual != test.expected {
				t.Errorf("expected %d, got %d", test.expected, actual)
			}
		})
	}
}
