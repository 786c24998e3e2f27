// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lm implements the Levenberg-Marquardt method for min ½‖𝒇(𝐱)‖².
//
// Each step solves the dampened normal equations
//
//	(𝐉ᵀ𝐉 + μ𝐃)Δ𝐱 = -𝐉ᵀ𝒇
//
// and μ is updated with the gain ratio rule of K. Madsen, H. B. Nielsen and O. Tingleff,
// "Methods for Non-Linear Least Squares Problems", 2nd ed., 2004.
package lm

import (
	"fmt"
	"math"

	"github.com/curioloop/nlsq/core"
	"github.com/curioloop/nlsq/linsolve"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type mode int

const (
	modeInit mode = iota
	// derivatives at 𝐱 are stale
	modeEvaluate
	// the last step was rejected, retry with a larger μ
	modeStep
	modeDone
)

// Solver is a Levenberg-Marquardt least-squares solver.
type Solver struct {
	config Config
	fn     core.ResidualJacobian
	linear linsolve.Solver
	log    *core.Logger

	ftol, gtol float64
	n, m       int

	mode     mode
	x, cand  []float64
	g, negG  []float64
	dx       []float64
	scale    []float64 // diagonal of 𝐃
	r, rCand []float64
	jacData  []float64
	jac      *mat.Dense
	b        *mat.SymDense // 𝐉ᵀ𝐉
	damped   *mat.SymDense // 𝐉ᵀ𝐉 + μ𝐃

	fx    float64
	fPrev float64
	step  float64 // ‖Δ𝐱‖₂ of the last accepted step
	mu    float64
	nu    float64
	floor float64
	gnorm float64

	iter      int
	reject    int
	converged bool
	warning   string
	err       error
}

// New creates a solver for the residual function fn.
func New(fn core.ResidualJacobian, config Config) (*Solver, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: residual function is required", core.ErrConfig)
	}
	if err := config.Check(); err != nil {
		return nil, err
	}
	return &Solver{config: config, fn: fn, linear: &linsolve.Cholesky{}}, nil
}

// SetLinearSolver replaces the Cholesky solver of the dampened system.
func (s *Solver) SetLinearSolver(linear linsolve.Solver) { s.linear = linear }

// SetVerbose sets the logger. A nil logger is silent.
func (s *Solver) SetVerbose(log *core.Logger) { s.log = log }

func (s *Solver) resize() {
	n, m := s.fn.NumParams(), s.fn.NumResiduals()
	if n == s.n && m == s.m {
		return
	}
	s.n, s.m = n, m
	s.x = make([]float64, n)
	s.cand = make([]float64, n)
	s.g = make([]float64, n)
	s.negG = make([]float64, n)
	s.dx = make([]float64, n)
	s.scale = make([]float64, n)
	s.r = make([]float64, m)
	s.rCand = make([]float64, m)
	s.jacData = make([]float64, m*n)
	s.jac = mat.NewDense(m, n, s.jacData)
	s.b = mat.NewSymDense(n, nil)
	s.damped = mat.NewSymDense(n, nil)
}

// Initialize starts a new optimization at x0.
//
// With 𝐠 evaluated at the latest accepted point and Δ𝐱 the step that reached it,
// the solver converges once ‖𝐠‖∞ ≤ gtol or either
//
//	|Δf| ≤ gtol and ‖Δ𝐱‖₂·‖𝐠‖∞ ≤ gtol          (absolute)
//	|Δf| ≤ ftol·|f| and ‖Δ𝐱‖₂·‖𝐠‖∞ ≤ ftol·|f|  (relative)
func (s *Solver) Initialize(x0 []float64, ftol, gtol float64) error {
	n := s.fn.NumParams()
	switch {
	case len(x0) != n:
		return fmt.Errorf("%w: expect %d parameters, got %d", core.ErrDimension, n, len(x0))
	case !(ftol >= 0) || !(gtol >= 0):
		return fmt.Errorf("%w: tolerance must not less than 0", core.ErrConfig)
	}

	s.resize()
	copy(s.x, x0)
	s.ftol, s.gtol = ftol, gtol
	s.mu, s.nu = s.config.DampeningInitial, 2
	s.iter, s.reject = 0, 0
	s.converged, s.warning, s.err = false, "", nil
	s.mode = modeEvaluate

	s.fPrev, s.step = 0, 0
	s.fx = s.cost(s.x)
	s.r, s.rCand = s.rCand, s.r
	if !core.Finite(s.fx) {
		_, err := s.fail(fmt.Errorf("%w: initial cost is %v", core.ErrNumericalInstability, s.fx))
		return err
	}

	if s.log.Enable(core.LogIter) {
		s.log.Log("LEVENBERG-MARQUARDT  N = %d  M = %d  dampening = %v\n", s.n, s.m, s.config.Dampening)
		s.log.Log("  iter       cost         |g|          mu\n")
	}
	return nil
}

func (s *Solver) cost(x []float64) float64 {
	s.fn.SetInput(x)
	s.fn.ComputeResiduals(s.rCand)
	return 0.5 * floats.Dot(s.rCand, s.rCand)
}

// Iterate tries one step. When the previous step was accepted the derivatives
// are first evaluated at the new point and the convergence tests applied.
func (s *Solver) Iterate() (bool, error) {
	switch s.mode {
	case modeInit:
		return true, core.ErrNotInitialized
	case modeEvaluate:
		s.iter++
		s.derivatives()
		if s.converge() {
			return s.finish(true, "")
		}
		return s.computeStep()
	case modeStep:
		s.iter++
		return s.computeStep()
	case modeDone:
		return true, s.err
	default:
		panic("unknown solver mode")
	}
}

// derivatives computes 𝐁 = 𝐉ᵀ𝐉 and 𝐠 = 𝐉ᵀ𝒇 at 𝐱.
func (s *Solver) derivatives() {
	s.fn.SetInput(s.x)
	s.fn.ComputeJacobian(s.jacData)

	s.b.SymOuterK(1, s.jac.T())
	gv := mat.NewVecDense(s.n, s.g)
	gv.MulVec(s.jac.T(), mat.NewVecDense(s.m, s.r))
	floats.ScaleTo(s.negG, -1, s.g)

	var maxDiag float64
	for i := 0; i < s.n; i++ {
		d := s.b.At(i, i)
		maxDiag = math.Max(maxDiag, d)
		switch s.config.Dampening {
		case DampenIdentity:
			s.scale[i] = 1
		case DampenDiagonal:
			s.scale[i] = math.Min(math.Max(d, s.config.DiagonalMin), s.config.DiagonalMax)
		}
	}
	s.floor = core.Epsilon * maxDiag
	s.mu = math.Max(s.mu, s.floor)

	s.gnorm = floats.Norm(s.g, math.Inf(1))
}

func (s *Solver) converge() bool {
	if s.gnorm <= s.gtol {
		return true
	}
	df := math.Abs(s.fx - s.fPrev)
	sg := s.step * s.gnorm
	if df <= s.gtol && sg <= s.gtol {
		return true
	}
	tol := s.ftol * math.Abs(s.fx)
	return df <= tol && sg <= tol
}

// solve finds Δ𝐱 for the current μ, raising μ tenfold while the system is singular.
func (s *Solver) solve() error {
	for retry := 1; ; retry++ {
		if !core.Finite(s.mu) {
			return fmt.Errorf("%w: dampening is %v", core.ErrNumericalInstability, s.mu)
		}
		s.damped.CopySym(s.b)
		for i := 0; i < s.n; i++ {
			s.damped.SetSym(i, i, s.b.At(i, i)+s.mu*s.scale[i])
		}
		if s.linear.SetA(s.damped) && s.linear.Solve(s.negG, s.dx) && s.linear.Quality() >= core.Epsilon {
			return nil
		}
		if retry >= s.config.MaxDampeningRetries {
			return fmt.Errorf("%w: dampening %v after %d attempts", core.ErrSingularSystem, s.mu, retry)
		}
		if s.log.Enable(core.LogTrace) {
			s.log.Log("  singular system  mu = %.3e\n", s.mu)
		}
		s.mu *= 10
	}
}

func (s *Solver) computeStep() (bool, error) {
	if err := s.solve(); err != nil {
		return s.fail(err)
	}
	if floats.HasNaN(s.dx) || math.IsInf(floats.Norm(s.dx, math.Inf(1)), 0) {
		return s.fail(fmt.Errorf("%w: step is not finite", core.ErrNumericalInstability))
	}

	floats.AddTo(s.cand, s.x, s.dx)
	floats.SubTo(s.dx, s.cand, s.x) // the step actually taken
	fCand := s.cost(s.cand)
	if math.IsNaN(fCand) {
		return s.fail(fmt.Errorf("%w: candidate cost is NaN", core.ErrNumericalInstability))
	}

	// L(0) - L(Δ𝐱) = ½Δ𝐱ᵀ(μ𝐃Δ𝐱 - 𝐠)
	var dDx float64
	for i, v := range s.dx {
		dDx += s.scale[i] * v * v
	}
	predicted := 0.5 * (s.mu*dDx - floats.Dot(s.dx, s.g))
	actual := s.fx - fCand

	if !(predicted > 0 && actual >= 0) {
		s.reject++
		if s.log.Enable(core.LogTrace) {
			s.log.Log("  reject step  cost = %.5e  mu = %.3e\n", fCand, s.mu)
		}
		s.mu *= s.nu
		s.nu *= 2
		if !core.Finite(s.mu) {
			return s.fail(fmt.Errorf("%w: dampening is %v", core.ErrNumericalInstability, s.mu))
		}
		s.mode = modeStep
		return false, nil
	}

	ratio := actual / predicted
	c := 2*ratio - 1
	s.mu = math.Max(s.mu*math.Max(1.0/3, 1-c*c*c), s.floor)
	s.nu = 2

	s.fPrev, s.fx = s.fx, fCand
	s.step = floats.Norm(s.dx, 2)
	s.x, s.cand = s.cand, s.x
	s.r, s.rCand = s.rCand, s.r
	s.mode = modeEvaluate

	if s.log.Every(s.iter) {
		s.log.Log(" %5d  %12.5e  %10.3e  %10.3e\n", s.iter, s.fx, s.gnorm, s.mu)
	}
	if s.log.Enable(core.LogVerbose) {
		s.log.Vector("X", s.x)
	}
	return false, nil
}

func (s *Solver) finish(converged bool, warning string) (bool, error) {
	s.mode = modeDone
	s.converged, s.warning = converged, warning
	if s.log.Enable(core.LogLast) {
		s.log.Log("LEVENBERG-MARQUARDT EXIT  iter = %d  rejected = %d  cost = %.5e  |g| = %.3e  converged = %t\n",
			s.iter, s.reject, s.fx, s.gnorm, converged)
		if warning != "" {
			s.log.Log("  warning: %s\n", warning)
		}
	}
	return true, s.err
}

func (s *Solver) fail(err error) (bool, error) {
	s.err = err
	return s.finish(false, err.Error())
}

// IsConverged reports whether a convergence test was met.
func (s *Solver) IsConverged() bool {
	return s.converged
}

// Warning returns why the solver stopped without converging, or "".
func (s *Solver) Warning() string {
	return s.warning
}

// Parameters returns the current point 𝐱.
func (s *Solver) Parameters() []float64 {
	return s.x
}

// FunctionValue returns the cost at the current point.
func (s *Solver) FunctionValue() float64 {
	return s.fx
}

// Iterations returns the number of iterations performed.
func (s *Solver) Iterations() int {
	return s.iter
}

// Dampening returns the current μ.
func (s *Solver) Dampening() float64 { return s.mu }
