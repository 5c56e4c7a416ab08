package rlcm

import (
	"fmt"
	"math"
)

// Kernel evaluates a covariance between two points. Implementations must be
// safe for concurrent use; the built-in kernels are immutable values.
type Kernel interface {
	Eval(a, b []float64) float64
}

// KernelFunc adapts a plain function into a Kernel.
type KernelFunc func(a, b []float64) float64

func (f KernelFunc) Eval(a, b []float64) float64 { return f(a, b) }

// WithNugget returns a kernel that adds nugget to k(a, b) when a and b are the
// same point (identical coordinates).
func WithNugget(k Kernel, nugget float64) Kernel {
	return nuggetKernel{k: k, nugget: nugget}
}

type nuggetKernel struct {
	k      Kernel
	nugget float64
}

func (n nuggetKernel) Eval(a, b []float64) float64 {
	v := n.k.Eval(a, b)
	if samePoint(a, b) {
		v += n.nugget
	}
	return v
}

// Matern is the isotropic Matérn covariance
//
//	k(r) = s * 2^(1-ν)/Γ(ν) * (√(2ν) r/ℓ)^ν * K_ν(√(2ν) r/ℓ),  k(0) = s
//
// with r the Euclidean distance. ν = 0.5, 1.5 and 2.5 use closed forms.
type Matern struct {
	Scale       float64
	Nu          float64
	LengthScale float64
}

// NewMatern validates the parameters and returns a Matern kernel.
func NewMatern(scale, nu, lengthScale float64) (Matern, error) {
	if !(scale > 0) || !(nu > 0) || !(lengthScale > 0) {
		return Matern{}, fmt.Errorf("%w: matern needs scale, nu, length scale > 0, got %g, %g, %g",
			ErrBadConfig, scale, nu, lengthScale)
	}
	return Matern{Scale: scale, Nu: nu, LengthScale: lengthScale}, nil
}

func (m Matern) Eval(a, b []float64) float64 {
	r := math.Sqrt(sumOfSquares(a, b)) / m.LengthScale
	if r == 0 {
		return m.Scale
	}
	switch m.Nu {
	case 0.5:
		return m.Scale * math.Exp(-r)
	case 1.5:
		z := math.Sqrt(3) * r
		return m.Scale * (1 + z) * math.Exp(-z)
	case 2.5:
		z := math.Sqrt(5) * r
		return m.Scale * (1 + z + z*z/3) * math.Exp(-z)
	}
	z := math.Sqrt(2*m.Nu) * r
	lg, _ := math.Lgamma(m.Nu)
	// Work in logs: z^ν and 1/Γ(ν) overflow for large ν long before the product does.
	v := math.Exp((1-m.Nu)*math.Ln2-lg+m.Nu*math.Log(z)) * BesselK(m.Nu, z)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return m.Scale * v
}

// Gaussian is the squared-exponential covariance k(r) = s * exp(-r²/(2ℓ²)).
type Gaussian struct {
	Scale       float64
	LengthScale float64
}

func (g Gaussian) Eval(a, b []float64) float64 {
	return g.Scale * math.Exp(-sumOfSquares(a, b)/(2*g.LengthScale*g.LengthScale))
}

// Chi2 is the chi-squared kernel for non-negative features
//
//	k(x, y) = s * Σ 2 x_i y_i / (x_i + y_i)
//
// with terms where x_i + y_i = 0 contributing 0.
type Chi2 struct {
	Scale float64
}

func (c Chi2) Eval(a, b []float64) float64 {
	var sum float64
	for i := range a {
		if d := a[i] + b[i]; d != 0 {
			sum += 2 * a[i] * b[i] / d
		}
	}
	return c.Scale * sum
}

func sumOfSquares(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Family builds kernels from hyperparameter vectors. It is the unit the grid
// search and Fisher computation vary over.
type Family interface {
	Name() string
	// ParamNames lists the hyperparameters in vector order.
	ParamNames() []string
	// Kernel returns the kernel for params. It returns ErrParamCount when
	// len(params) != len(ParamNames()).
	Kernel(params []float64) (Kernel, error)
}

func checkParamCount(f Family, params []float64) error {
	if want := len(f.ParamNames()); len(params) != want {
		return fmt.Errorf("%w: %s wants %d, got %d", ErrParamCount, f.Name(), want, len(params))
	}
	return nil
}

// MaternFamily parameterizes Matern by (alpha, ell, nu) with scale 10^alpha.
type MaternFamily struct{}

func (MaternFamily) Name() string         { return "matern" }
func (MaternFamily) ParamNames() []string { return []string{"alpha", "ell", "nu"} }

func (f MaternFamily) Kernel(params []float64) (Kernel, error) {
	if err := checkParamCount(f, params); err != nil {
		return nil, err
	}
	return NewMatern(math.Pow(10, params[0]), params[2], params[1])
}

// GaussianFamily parameterizes Gaussian by (alpha, ell) with scale 10^alpha.
type GaussianFamily struct{}

func (GaussianFamily) Name() string         { return "gaussian" }
func (GaussianFamily) ParamNames() []string { return []string{"alpha", "ell"} }

func (f GaussianFamily) Kernel(params []float64) (Kernel, error) {
	if err := checkParamCount(f, params); err != nil {
		return nil, err
	}
	if !(params[1] > 0) {
		return nil, fmt.Errorf("%w: gaussian length scale must be > 0, got %g", ErrBadConfig, params[1])
	}
	return Gaussian{Scale: math.Pow(10, params[0]), LengthScale: params[1]}, nil
}

// Chi2Family parameterizes Chi2 by (alpha) with scale 10^alpha.
type Chi2Family struct{}

func (Chi2Family) Name() string         { return "chi2" }
func (Chi2Family) ParamNames() []string { return []string{"alpha"} }

func (f Chi2Family) Kernel(params []float64) (Kernel, error) {
	if err := checkParamCount(f, params); err != nil {
		return nil, err
	}
	return Chi2{Scale: math.Pow(10, params[0])}, nil
}

// FamilyByName returns the built-in family with the given name.
func FamilyByName(name string) (Family, error) {
	switch name {
	case "matern":
		return MaternFamily{}, nil
	case "gaussian":
		return GaussianFamily{}, nil
	case "chi2":
		return Chi2Family{}, nil
	}
	return nil, fmt.Errorf("%w: unknown kernel family %q", ErrBadConfig, name)
}
