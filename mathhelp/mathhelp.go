package mathhelp

import "golang.org/x/exp/constraints"

// BetweenInc reports whether f lies in the closed interval spanned by p and q (in any order).
func BetweenInc[T constraints.Integer | constraints.Float](f, p, q T) bool {
	if p <= q {
		return p <= f && f <= q
	}
	return q <= f && f <= p
}

// Clamp limits v to [lo, hi].
func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func Bool2int(b bool) int {
	if b {
		return 1
	}
	return 0
}

// EuclidianMod returns the least non-negative remainder for a positive m.
func EuclidianMod(d, m int) int {
	r := d % m
	if (r < 0 && m > 0) || (r > 0 && m < 0) {
		return r + m
	}
	return r
}
