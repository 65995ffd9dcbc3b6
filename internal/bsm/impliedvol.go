package bsm

import "math"

const (
	ivTol      = 1e-7
	ivSigmaMin = 1e-6
	ivSigmaMax = 8.0
)

// ImpliedVolNewton solves for sigma via Newton-Raphson from x0 = 0.30.
// Returns false when the inputs are degenerate, vega collapses, or the
// iteration budget runs out without converging.
func ImpliedVolNewton(target, s, k, t, r float64, isCall bool) (float64, bool) {
	if target <= 0 || s <= 0 || k <= 0 || t <= 0 {
		return 0, false
	}
	sigma := 0.30
	for i := 0; i < 20; i++ {
		diff := Price(s, k, t, r, sigma, isCall) - target
		if math.Abs(diff) < ivTol {
			return sigma, true
		}
		d1, _, ok := D1D2(s, k, t, r, sigma)
		if !ok {
			return 0, false
		}
		vega := s * NormPDF(d1) * math.Sqrt(t) // per share, per 1.00 vol
		if vega <= 1e-10 {
			return 0, false
		}
		sigma -= diff / vega
		if sigma <= ivSigmaMin {
			sigma = ivSigmaMin
		} else if sigma > ivSigmaMax {
			sigma = ivSigmaMax
		}
	}
	return 0, false
}

// ImpliedVolBisect solves for sigma by bisection on [0.01, 1.0], doubling
// the upper bracket up to 8.0 until it prices at or above the target.
// After the iteration budget it returns the bracket midpoint.
func ImpliedVolBisect(target, s, k, t, r float64, isCall bool) (float64, bool) {
	if target <= 0 || s <= 0 || k <= 0 || t <= 0 {
		return 0, false
	}
	lo, hi := 0.01, 1.0
	if target < Price(s, k, t, r, lo, isCall) {
		return 0, false
	}
	pHi := Price(s, k, t, r, hi, isCall)
	for pHi < target && hi < ivSigmaMax {
		hi *= 2.0
		pHi = Price(s, k, t, r, hi, isCall)
	}
	if pHi < target {
		return 0, false
	}

	a, b := lo, hi
	for i := 0; i < 60; i++ {
		m := 0.5 * (a + b)
		pm := Price(s, k, t, r, m, isCall)
		if math.Abs(pm-target) < ivTol {
			return m, true
		}
		if pm < target {
			a = m
		} else {
			b = m
		}
	}
	return 0.5 * (a + b), true
}
