package rlcm

import "math"

const (
	besselEps     = 1e-16
	besselMaxIter = 10000
	eulerGamma    = 0.5772156649015329
)

// BesselK returns the modified Bessel function of the second kind K_ν(x) for
// ν >= 0 and x > 0. It returns +Inf at x == 0 and NaN for x < 0 or ν < 0.
//
// K_μ and K_{μ+1} with |μ| <= 1/2 come from Temme's series for x < 2 and
// Steed's continued fraction otherwise; forward recurrence then reaches ν.
func BesselK(nu, x float64) float64 {
	switch {
	case x < 0 || nu < 0 || math.IsNaN(x) || math.IsNaN(nu):
		return math.NaN()
	case x == 0:
		return math.Inf(1)
	case math.IsInf(x, 1):
		return 0
	}

	nl := int(nu + 0.5)
	mu := nu - float64(nl)
	mu2 := mu * mu
	xi := 1 / x
	xi2 := 2 * xi

	var kmu, k1 float64
	if x < 2 {
		x2 := 0.5 * x
		pimu := math.Pi * mu
		fact := 1.0
		if math.Abs(pimu) >= besselEps {
			fact = pimu / math.Sin(pimu)
		}
		d := -math.Log(x2)
		e := mu * d
		fact2 := 1.0
		if math.Abs(e) >= besselEps {
			fact2 = math.Sinh(e) / e
		}
		gam1, gam2, gampl, gammi := temmeGammas(mu)
		ff := fact * (gam1*math.Cosh(e) + gam2*fact2*d)
		sum := ff
		e = math.Exp(e)
		p := 0.5 * e / gampl
		q := 0.5 / (e * gammi)
		c := 1.0
		d = x2 * x2
		sum1 := p
		for i := 1; i <= besselMaxIter; i++ {
			fi := float64(i)
			ff = (fi*ff + p + q) / (fi*fi - mu2)
			c *= d / fi
			p /= fi - mu
			q /= fi + mu
			del := c * ff
			sum += del
			sum1 += c * (p - fi*ff)
			if math.Abs(del) < math.Abs(sum)*besselEps {
				break
			}
		}
		kmu = sum
		k1 = sum1 * xi2
	} else {
		b := 2 * (1 + x)
		d := 1 / b
		h := d
		delh := d
		q1, q2 := 0.0, 1.0
		a1 := 0.25 - mu2
		q := a1
		c := a1
		a := -a1
		s := 1 + q*delh
		for i := 2; i <= besselMaxIter; i++ {
			fi := float64(i)
			a -= 2 * (fi - 1)
			c = -a * c / fi
			qnew := (q1 - b*q2) / a
			q1, q2 = q2, qnew
			q += c * qnew
			b += 2
			d = 1 / (b + a*d)
			delh = (b*d - 1) * delh
			h += delh
			dels := q * delh
			s += dels
			if math.Abs(dels/s) < besselEps {
				break
			}
		}
		h *= a1
		kmu = math.Sqrt(math.Pi/(2*x)) * math.Exp(-x) / s
		k1 = kmu * (mu + x + 0.5 - h) * xi
	}

	for i := 1; i <= nl; i++ {
		next := (mu+float64(i))*xi2*k1 + kmu
		kmu, k1 = k1, next
	}
	return kmu
}

// temmeGammas returns, for |mu| <= 1/2,
//
//	gam1 = (1/Γ(1-μ) - 1/Γ(1+μ)) / (2μ)
//	gam2 = (1/Γ(1-μ) + 1/Γ(1+μ)) / 2
//
// together with 1/Γ(1+μ) and 1/Γ(1-μ). Small μ uses the Taylor series of
// 1/Γ(1+μ) to avoid cancellation in gam1.
func temmeGammas(mu float64) (gam1, gam2, gampl, gammi float64) {
	if math.Abs(mu) > 1e-2 {
		gampl = 1 / math.Gamma(1+mu)
		gammi = 1 / math.Gamma(1-mu)
		gam1 = (gammi - gampl) / (2 * mu)
		gam2 = (gammi + gampl) / 2
		return gam1, gam2, gampl, gammi
	}
	// 1/Γ(1+μ) = 1 + γμ + c3 μ² + c4 μ³ + c5 μ⁴ + c6 μ⁵ + c7 μ⁶ + c8 μ⁷ + ...
	const (
		c3 = -0.6558780715202538
		c4 = -0.0420026350340952
		c5 = 0.1665386113822915
		c6 = -0.0421977345555443
		c7 = -0.0096219715278770
		c8 = 0.0072189432466630
	)
	m2 := mu * mu
	gam1 = -(eulerGamma + m2*(c4+m2*(c6+m2*c8)))
	gam2 = 1 + m2*(c3+m2*(c5+m2*c7))
	gampl = gam2 - mu*gam1
	gammi = gam2 + mu*gam1
	return gam1, gam2, gampl, gammi
}
