// Package bsm implements Black-Scholes pricing, greeks, implied vol
// solving and scenario P&L grids for US equity options (no dividends,
// contract multiplier 100).
package bsm

import "math"

var sqrt2Pi = math.Sqrt(2.0 * math.Pi)

// NormCDF is the standard normal CDF.
func NormCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}

// NormPDF is the standard normal density.
func NormPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / sqrt2Pi
}

// D1D2 returns the Black-Scholes d1 and d2 terms. Degenerate inputs
// (non-positive S, K, T or sigma) return (0, 0, false).
func D1D2(s, k, t, r, sigma float64) (d1, d2 float64, ok bool) {
	if s <= 0 || k <= 0 || t <= 0 || sigma <= 0 {
		return 0, 0, false
	}
	vsqrt := sigma * math.Sqrt(t)
	d1 = (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / vsqrt
	return d1, d1 - vsqrt, true
}

// Price is the Black-Scholes price per share. Expired or zero-vol inputs
// collapse to intrinsic value.
func Price(s, k, t, r, sigma float64, isCall bool) float64 {
	if t <= 0 || sigma <= 0 {
		return intrinsic(s, k, isCall)
	}
	d1, d2, ok := D1D2(s, k, t, r, sigma)
	if !ok {
		return intrinsic(s, k, isCall)
	}
	df := math.Exp(-r * t)
	if isCall {
		return s*NormCDF(d1) - k*df*NormCDF(d2)
	}
	return k*df*NormCDF(-d2) - s*NormCDF(-d1)
}

func intrinsic(s, k float64, isCall bool) float64 {
	if isCall {
		return math.Max(0, s-k)
	}
	return math.Max(0, k-s)
}
