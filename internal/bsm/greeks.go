package bsm

import "math"

// ContractMultiplier is the US equity option share multiplier.
const ContractMultiplier = 100.0

// Greeks are per-contract sensitivities with the 100x multiplier applied.
// Delta and gamma are in share equivalents, vega is dollars per 1.00 vol
// (not per vol point), theta is dollars per year.
type Greeks struct {
	Delta float64
	Gamma float64
	Vega  float64
	Theta float64
}

// PerContract computes per-contract greeks. When the option is expired or
// the vol input is degenerate it falls back to an intrinsic-side delta of
// +-100 with zero gamma, vega and theta.
func PerContract(s, k, t, r, sigma float64, isCall bool) Greeks {
	if t <= 0 || sigma <= 0 {
		var delta float64
		if isCall && s > k {
			delta = ContractMultiplier
		} else if !isCall && s < k {
			delta = -ContractMultiplier
		}
		return Greeks{Delta: delta}
	}

	d1, d2, ok := D1D2(s, k, t, r, sigma)
	if !ok {
		return Greeks{}
	}
	pdf1 := NormPDF(d1)
	df := math.Exp(-r * t)

	g := Greeks{
		Gamma: ContractMultiplier * pdf1 / (s * sigma * math.Sqrt(t)),
		Vega:  ContractMultiplier * s * pdf1 * math.Sqrt(t),
	}
	decay := -(s * pdf1 * sigma) / (2.0 * math.Sqrt(t))
	if isCall {
		g.Delta = ContractMultiplier * NormCDF(d1)
		g.Theta = ContractMultiplier * (decay - r*k*df*NormCDF(d2))
	} else {
		g.Delta = ContractMultiplier * (NormCDF(d1) - 1.0)
		g.Theta = ContractMultiplier * (decay + r*k*df*NormCDF(-d2))
	}
	return g
}
