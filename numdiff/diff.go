package numdiff

import (
	"errors"
	"math"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use the second order accuracy central difference.
	Central
)

// Jacobian estimates the M×N Jacobian of a vector function by finite differences.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
type Jacobian struct {
	N, M int
	// Function of which to estimate the derivatives.
	// The argument x passed to this function is an n-vector.
	// The result is store in an m-vector y.
	Func func(x, y []float64)
	// Finite difference method to use.
	Method Method
	// Relative step size used to compute absolute step size.
	// The default absolute step size is h = eps * sign(x0) * max(1, abs(x0)) with eps selected by Method.
	// Otherwise, absolute step size is computed as h = RelStep * sign(x0) * abs(x0).
	RelStep float64
	// Absolute step size to use. The RelStep is used when AbsStep is not provide.
	// For Central method the sign of AbsStep is ignored.
	AbsStep float64
	diffCtx
}

type diffCtx struct {
	f0, fx  []float64
	absStep []float64
}

// Check the parameters and initialize the scratch buffers.
func (jc *Jacobian) Check(x0, jac []float64) (err error) {

	switch {
	case jc.N <= 0 || jc.M <= 0:
		err = errors.New("negative dimensions")
	case jc.Method != Forward && jc.Method != Central:
		err = errors.New("unknown method")
	case jc.Func == nil:
		err = errors.New("object function is required")
	case jc.N != len(x0):
		err = errors.New("invalid x0 dimensions")
	case jc.N*jc.M != len(jac):
		err = errors.New("invalid jacobian dimensions")
	}
	if err != nil {
		return
	}

	if len(jc.f0) != jc.M || len(jc.fx) != jc.M*(int(jc.Method)+1) {
		jc.f0 = make([]float64, jc.M)
		jc.fx = make([]float64, jc.M*(int(jc.Method)+1))
	}
	if len(jc.absStep) != jc.N {
		jc.absStep = make([]float64, jc.N)
	}
	return
}

// Diff calculate approximation of the row-major Jacobian by finite differences.
// The x0 is perturbed in place and restored before returning.
func (jc *Jacobian) Diff(x0, jac []float64) error {

	if err := jc.Check(x0, jac); err != nil {
		return err
	}

	jc.absoluteStep(x0)

	if jc.Method == Central {
		jc.approxCentral(x0, jac)
	} else {
		jc.approxForward(x0, jac)
	}
	return nil
}

func (jc *Jacobian) absoluteStep(x0 []float64) {
	h := jc.absStep
	if len(h) != len(x0) {
		panic("bound check error")
	}

	var eps float64
	switch jc.Method {
	case Forward:
		eps = sqrtEps
	case Central:
		eps = cubeEps
	default:
		panic("unknown method")
	}

	abs, rel := jc.AbsStep, jc.RelStep
	for i, v := range x0 {
		s := abs
		if s == 0 && rel != 0 {
			s = math.Copysign(rel, v) * math.Abs(v)
		}
		if s == 0 || (v+s)-v == 0 {
			s = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
		}
		if jc.Method == Central {
			s = math.Abs(s)
		}
		h[i] = s
	}
}

func (jc *Jacobian) approxForward(x0, jac []float64) {

	f0, fx, h, n := jc.f0, jc.fx, jc.absStep, jc.N
	if len(h) != len(x0) || len(f0) != len(fx) {
		panic("bound check error")
	}

	fun := jc.Func
	fun(x0, f0)
	for i, s := range h {
		t := x0[i]
		x0[i] = t + s
		// the representable step may differ from s
		d := 1.0 / (x0[i] - t)
		fun(x0, fx)
		for j := range f0 {
			jac[i+j*n] = (fx[j] - f0[j]) * d
		}
		x0[i] = t
	}
}

func (jc *Jacobian) approxCentral(x0, jac []float64) {

	h, n, m := jc.absStep, jc.N, jc.M
	f1, f2 := jc.fx[:m], jc.fx[m:]
	if len(h) != len(x0) || len(f1) != len(f2) {
		panic("bound check error")
	}

	fun := jc.Func
	for i, s := range h {
		x := x0[i]
		d := 1.0 / (2 * s)
		x0[i] = x - s
		fun(x0, f1)
		x0[i] = x + s
		fun(x0, f2)
		for j := range f1 {
			jac[i+j*n] = (f2[j] - f1[j]) * d
		}
		x0[i] = x
	}
}

// Gradient estimates the gradient of a scalar function by finite differences.
type Gradient struct {
	N int
	// Function of which to estimate the gradient.
	Func    func(x []float64) float64
	Method  Method
	RelStep float64
	AbsStep float64
	jac     Jacobian
}

// Diff calculate approximation of the gradient by finite differences.
func (gr *Gradient) Diff(x0, grad []float64) error {
	if gr.Func == nil {
		return errors.New("object function is required")
	}
	jc := &gr.jac
	if jc.Func == nil {
		fun := gr.Func
		jc.Func = func(x, y []float64) { y[0] = fun(x) }
	}
	jc.N, jc.M = gr.N, 1
	jc.Method, jc.RelStep, jc.AbsStep = gr.Method, gr.RelStep, gr.AbsStep
	return jc.Diff(x0, grad)
}
