// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bfgs minimizes a differentiable cost with the quasi-Newton method of
// Broyden, Fletcher, Goldfarb and Shanno.
//
// The inverse Hessian approximation 𝐇 is updated after every line search with
//
//	𝐇⁺ = 𝐇 + ρ²(𝐬ᵀ𝐲 + 𝐲ᵀ𝐇𝐲)𝐬𝐬ᵀ - ρ(𝐇𝐲𝐬ᵀ + 𝐬𝐲ᵀ𝐇),  ρ = 1/𝐲ᵀ𝐬
//
// where 𝐬 = 𝐱ₖ₊₁ - 𝐱ₖ and 𝐲 = 𝐠ₖ₊₁ - 𝐠ₖ. A line search satisfying the strong Wolfe
// conditions guarantees 𝐲ᵀ𝐬 > 0 so that 𝐇 stays positive definite.
package bfgs

import (
	"fmt"
	"math"

	"github.com/curioloop/nlsq/core"
	"github.com/curioloop/nlsq/linesearch"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

type mode int

const (
	modeInit mode = iota
	modeComputeDirection
	modeLineSearch
	modeDone
)

// lineFunction restricts the cost to φ(α) = f(𝐱 + α𝐝).
type lineFunction struct {
	fn    core.ScalarGradient
	x, d  []float64
	cand  []float64
	grad  []float64
	alpha float64
	valid bool // grad holds the gradient at alpha
}

func (l *lineFunction) SetInput(alpha float64) {
	l.alpha, l.valid = alpha, false
	floats.AddScaledTo(l.cand, l.x, alpha, l.d)
	l.fn.SetInput(l.cand)
}

func (l *lineFunction) ComputeFunction() float64 {
	return l.fn.ComputeFunction()
}

func (l *lineFunction) ComputeDerivative() float64 {
	l.fn.ComputeGradient(l.grad)
	l.valid = true
	return floats.Dot(l.grad, l.d)
}

// Solver is a BFGS minimizer.
type Solver struct {
	config Config
	fn     core.ScalarGradient
	search linesearch.LineSearch
	line   lineFunction
	log    *core.Logger

	ftol, gtol float64
	n          int

	mode     mode
	x, cand  []float64
	g, gCand []float64
	d        []float64
	s, y     []float64
	hy       []float64
	h        *mat.SymDense

	fx      float64
	gnorm   float64
	first   bool
	iter    int
	skipped int
	resets  int

	converged bool
	warning   string
	err       error
}

// New creates a solver for the cost fn.
func New(fn core.ScalarGradient, config Config) (*Solver, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: objective function is required", core.ErrConfig)
	}
	if err := config.Check(); err != nil {
		return nil, err
	}
	search, err := config.newLineSearch()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrConfig, err)
	}
	s := &Solver{config: config, fn: fn, search: search}
	s.line.fn = fn
	search.SetFunction(&s.line)
	return s, nil
}

// SetVerbose sets the logger. A nil logger is silent.
func (s *Solver) SetVerbose(log *core.Logger) { s.log = log }

func (s *Solver) resize() {
	n := s.fn.NumParams()
	if n == s.n {
		return
	}
	s.n = n
	s.x = make([]float64, n)
	s.cand = make([]float64, n)
	s.g = make([]float64, n)
	s.gCand = make([]float64, n)
	s.d = make([]float64, n)
	s.s = make([]float64, n)
	s.y = make([]float64, n)
	s.hy = make([]float64, n)
	s.h = mat.NewSymDense(n, nil)
}

// Initialize starts a new optimization at x0.
//
// The solver converges once ‖𝐠‖∞ ≤ gtol, or after a line search once |Δf| ≤ ftol·|fₖ|.
func (s *Solver) Initialize(x0 []float64, ftol, gtol float64) error {
	n := s.fn.NumParams()
	switch {
	case len(x0) != n:
		return fmt.Errorf("%w: expect %d parameters, got %d", core.ErrDimension, n, len(x0))
	case s.config.InitialInverseHessian != nil && s.config.InitialInverseHessian.SymmetricDim() != n:
		return fmt.Errorf("%w: initial inverse Hessian is not %d×%d", core.ErrDimension, n, n)
	case !(ftol >= 0) || !(gtol >= 0):
		return fmt.Errorf("%w: tolerance must not less than 0", core.ErrConfig)
	}

	s.resize()
	copy(s.x, x0)
	s.ftol, s.gtol = ftol, gtol
	s.resetHessian(false)
	s.first = true
	s.iter, s.skipped, s.resets = 0, 0, 0
	s.converged, s.warning, s.err = false, "", nil
	s.mode = modeComputeDirection

	s.fn.SetInput(s.x)
	s.fx = s.fn.ComputeFunction()
	s.fn.ComputeGradient(s.g)
	if !core.Finite(s.fx) || floats.HasNaN(s.g) {
		_, err := s.fail(fmt.Errorf("%w: initial cost is %v", core.ErrNumericalInstability, s.fx))
		return err
	}

	if s.log.Enable(core.LogIter) {
		s.log.Log("BFGS  N = %d  line search = %v\n", n, s.config.LineSearch)
		s.log.Log("  iter       cost         |g|        step\n")
	}
	return nil
}

func (s *Solver) resetHessian(identity bool) {
	if h0 := s.config.InitialInverseHessian; h0 != nil && !identity {
		s.h.CopySym(h0)
		return
	}
	s.h.Zero()
	for i := 0; i < s.n; i++ {
		s.h.SetSym(i, i, 1)
	}
}

// Iterate either computes a search direction or advances the line search by one trial.
func (s *Solver) Iterate() (bool, error) {
	switch s.mode {
	case modeInit:
		return true, core.ErrNotInitialized
	case modeComputeDirection:
		s.iter++
		return s.computeDirection()
	case modeLineSearch:
		return s.lineSearch()
	case modeDone:
		return true, s.err
	default:
		panic("unknown solver mode")
	}
}

func (s *Solver) computeDirection() (bool, error) {
	if !s.first {
		s.update()
	}

	s.gnorm = floats.Norm(s.g, math.Inf(1))
	if !core.Finite(s.gnorm) {
		return s.fail(fmt.Errorf("%w: gradient is not finite", core.ErrNumericalInstability))
	}
	if s.gnorm <= s.gtol {
		return s.finish(true, "")
	}

	s.direction()
	dg := floats.Dot(s.d, s.g)
	if !(dg < 0) {
		s.resets++
		if s.log.Enable(core.LogTrace) {
			s.log.Log("  not a descent direction, reset inverse Hessian\n")
		}
		s.resetHessian(false)
		s.direction()
		if dg = floats.Dot(s.d, s.g); !(dg < 0) && s.config.InitialInverseHessian != nil {
			// 𝐇₀ itself is not positive definite along 𝐠
			s.resetHessian(true)
			s.direction()
			dg = floats.Dot(s.d, s.g)
		}
		if !(dg < 0) {
			return s.fail(fmt.Errorf("%w: no descent direction", core.ErrNumericalInstability))
		}
	}

	alpha := 1.0
	if s.first {
		alpha = math.Min(1, 1/floats.Norm(s.d, math.Inf(1)))
	}

	s.line.x, s.line.d = s.x, s.d
	s.line.cand, s.line.grad = s.cand, s.gCand
	if err := s.search.Init(s.fx, dg, alpha, 0, math.MaxFloat64); err != nil {
		return s.fail(fmt.Errorf("%w: %w", core.ErrLineSearchFailure, err))
	}
	s.mode = modeLineSearch
	return false, nil
}

// direction computes 𝐝 = -𝐇𝐠.
func (s *Solver) direction() {
	dv := mat.NewVecDense(s.n, s.d)
	dv.MulVec(s.h, mat.NewVecDense(s.n, s.g))
	floats.Scale(-1, s.d)
}

func (s *Solver) update() {
	ys := floats.Dot(s.y, s.s)
	if ys <= core.Epsilon*floats.Norm(s.y, 2)*floats.Norm(s.s, 2) {
		s.skipped++
		if s.log.Enable(core.LogTrace) {
			s.log.Log("  skip update  ys = %.3e\n", ys)
		}
		return
	}
	rho := 1 / ys
	hy := mat.NewVecDense(s.n, s.hy)
	hy.MulVec(s.h, mat.NewVecDense(s.n, s.y))
	yHy := floats.Dot(s.y, s.hy)

	sv := mat.NewVecDense(s.n, s.s)
	s.h.SymRankOne(s.h, rho*rho*(ys+yHy), sv)
	s.h.RankTwo(s.h, -rho, hy, sv)
}

func (s *Solver) lineSearch() (bool, error) {
	done, err := s.search.Iterate()
	if err != nil {
		return s.fail(fmt.Errorf("%w: %w", core.ErrLineSearchFailure, err))
	}
	if !done {
		return false, nil
	}
	if !s.search.Converged() {
		return s.fail(fmt.Errorf("%w: %s", core.ErrLineSearchFailure, s.search.Warning()))
	}

	alpha := s.search.Step()
	if s.line.alpha != alpha {
		s.line.SetInput(alpha)
	}
	if !s.line.valid {
		s.line.ComputeDerivative()
	}
	fCand := s.search.Value()
	if !core.Finite(fCand) || floats.HasNaN(s.gCand) {
		return s.fail(fmt.Errorf("%w: candidate cost is %v", core.ErrNumericalInstability, fCand))
	}

	floats.SubTo(s.s, s.cand, s.x)
	floats.SubTo(s.y, s.gCand, s.g)

	fPrev := s.fx
	s.x, s.cand = s.cand, s.x
	s.g, s.gCand = s.gCand, s.g
	s.fx = fCand
	s.first = false
	s.mode = modeComputeDirection

	if s.log.Every(s.iter) {
		s.log.Log(" %5d  %12.5e  %10.3e  %10.3e\n", s.iter, s.fx, s.gnorm, alpha)
	}
	if s.log.Enable(core.LogVerbose) {
		s.log.Vector("X", s.x)
	}

	if math.Abs(fPrev-s.fx) <= s.ftol*math.Abs(fPrev) {
		return s.finish(true, "")
	}
	return false, nil
}

func (s *Solver) finish(converged bool, warning string) (bool, error) {
	s.mode = modeDone
	s.converged, s.warning = converged, warning
	if s.log.Enable(core.LogLast) {
		s.log.Log("BFGS EXIT  iter = %d  skipped updates = %d  cost = %.5e  |g| = %.3e  converged = %t\n",
			s.iter, s.skipped, s.fx, s.gnorm, converged)
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

// SkippedUpdates returns how many inverse Hessian updates were skipped for lack of curvature.
func (s *Solver) SkippedUpdates() int { return s.skipped }

// Resets returns how many times the inverse Hessian was reset because
// -𝐇𝐠 was not a descent direction.
func (s *Solver) Resets() int { return s.resets }
