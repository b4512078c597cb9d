package util

import "math"

// CompanionCoeff is the backward Euler derivative coefficient used by the
// device companion models: dx/dt ~ CompanionCoeff(dt)*(x - xPrev).
func CompanionCoeff(dt float64) float64 {
	if dt <= 0 {
		return 0
	}
	return 1 / dt
}

// GeneralizedAlpha holds the Chung-Hulbert parameters derived from the spectral
// radius at infinity.
type GeneralizedAlpha struct {
	Rho    float64
	AlphaM float64
	AlphaF float64
	Gamma  float64
	Beta   float64
}

// GeneralizedAlphaCoeffs maps rho in [0, 1] to the method parameters. Values
// outside the range are clamped.
func GeneralizedAlphaCoeffs(rho float64) GeneralizedAlpha {
	rho = Clamp(rho, 0.0, 1.0)
	am := (2*rho - 1) / (rho + 1)
	af := rho / (rho + 1)
	gamma := 0.5 - am + af
	beta := 0.25 * math.Pow(1-am+af, 2)

	return GeneralizedAlpha{
		Rho:    rho,
		AlphaM: am,
		AlphaF: af,
		Gamma:  gamma,
		Beta:   beta,
	}
}

// Predict extrapolates one entry over a step h from value, velocity and
// acceleration.
func (g GeneralizedAlpha) Predict(x, v, a, h float64) float64 {
	return x + h*v + h*h*(0.5-g.Beta)*a
}
