// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trustregion minimizes a cost by repeatedly solving the quadratic model
//
//	m(𝐩) = F(𝐱) + 𝐠ᵀ𝐩 + ½𝐩ᵀ𝐁𝐩
//
// inside a ball of radius Δ around 𝐱. The radius grows when the model predicts the
// actual reduction well and shrinks when it does not.
//
// Two models are available: the Gauss-Newton model of a least-squares problem
// (𝐁 = 𝐉ᵀ𝐉) and a quasi-Newton model of a general cost (𝐁 from BFGS updates).
package trustregion

import (
	"errors"
	"fmt"
	"math"

	"github.com/curioloop/nlsq/core"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Config specifies the trust region radius control.
type Config struct {
	// RegionInitial is the radius of the first step.
	// A non-positive value takes the first step unbounded and then uses its length.
	RegionInitial float64 `yaml:"regionInitial"`
	// RegionMaximum bounds the radius growth.
	RegionMaximum float64 `yaml:"regionMaximum"`
}

// DefaultConfig picks the initial radius automatically.
func DefaultConfig() Config {
	return Config{RegionInitial: -1, RegionMaximum: math.MaxFloat64}
}

// Check validates the configuration.
func (c *Config) Check() (err error) {
	switch {
	case math.IsNaN(c.RegionInitial):
		err = errors.New("initial region must be a number")
	case !(c.RegionMaximum > 0):
		err = errors.New("maximum region must greater than 0")
	case c.RegionInitial > c.RegionMaximum:
		err = errors.New("initial region must not greater than maximum region")
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", core.ErrConfig, err)
	}
	return
}

type mode int

const (
	modeInit mode = iota
	// derivatives at 𝐱 are stale, evaluate them before the next step
	modeEvaluate
	// the last step was rejected, retry at the new radius
	modeStep
	modeDone
)

// Solver is the trust region loop shared by all models and step strategies.
type Solver struct {
	config Config
	model  model
	step   Step
	log    *core.Logger

	ftol, gtol float64

	mode    mode
	x, cand []float64
	g, dx   []float64
	b       *mat.SymDense
	fx      float64
	fCand   float64
	radius  float64
	auto    bool
	iter    int
	reject  int
	gnorm   float64

	converged bool
	warning   string
	err       error
}

// NewLeastSquares creates a solver for min ½‖𝒇(𝐱)‖².
func NewLeastSquares(fn core.ResidualJacobian, step Step, config Config) (*Solver, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: residual function is required", core.ErrConfig)
	}
	return newSolver(&leastSquares{fn: fn}, step, config)
}

// NewMinimization creates a solver for min f(𝐱) that approximates the Hessian with BFGS updates.
func NewMinimization(fn core.ScalarGradient, step Step, config Config) (*Solver, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: objective function is required", core.ErrConfig)
	}
	return newSolver(&minimization{fn: fn}, step, config)
}

func newSolver(m model, step Step, config Config) (*Solver, error) {
	if step == nil {
		return nil, fmt.Errorf("%w: step strategy is required", core.ErrConfig)
	}
	if err := config.Check(); err != nil {
		return nil, err
	}
	return &Solver{config: config, model: m, step: step}, nil
}

// SetVerbose sets the logger. A nil logger is silent.
func (s *Solver) SetVerbose(log *core.Logger) { s.log = log }

// Initialize starts a new optimization at x0 with the relative cost tolerance ftol
// and the absolute gradient tolerance gtol.
func (s *Solver) Initialize(x0 []float64, ftol, gtol float64) error {
	n := s.model.numParams()
	switch {
	case len(x0) != n:
		return fmt.Errorf("%w: expect %d parameters, got %d", core.ErrDimension, n, len(x0))
	case !(ftol >= 0) || !(gtol >= 0):
		return fmt.Errorf("%w: tolerance must not less than 0", core.ErrConfig)
	}

	if len(s.x) != n {
		s.x = make([]float64, n)
		s.cand = make([]float64, n)
		s.g = make([]float64, n)
		s.dx = make([]float64, n)
		s.b = mat.NewSymDense(n, nil)
	}
	s.model.resize()
	s.step.Init(n)

	copy(s.x, x0)
	s.ftol, s.gtol = ftol, gtol
	s.iter, s.reject = 0, 0
	s.converged, s.warning, s.err = false, "", nil

	s.auto = s.config.RegionInitial <= 0
	if s.auto {
		s.radius = math.Inf(1)
	} else {
		s.radius = s.config.RegionInitial
	}

	s.fx = s.model.cost(s.x)
	s.model.accept()
	s.mode = modeEvaluate
	if !core.Finite(s.fx) {
		_, err := s.fail(fmt.Errorf("%w: initial cost is %v", core.ErrNumericalInstability, s.fx))
		return err
	}

	if s.log.Enable(core.LogIter) {
		s.log.Log("TRUST REGION  N = %d  radius = %.3e\n", n, s.radius)
		s.log.Log("  iter       cost         |g|        radius   ratio\n")
	}
	return nil
}

// Iterate evaluates the derivatives after an accepted step, then tries one step
// at the current radius.
func (s *Solver) Iterate() (bool, error) {
	switch s.mode {
	case modeInit:
		return true, core.ErrNotInitialized
	case modeEvaluate:
		s.iter++
		s.model.derivatives(s.x, s.g, s.b, s.step)
		s.gnorm = floats.Norm(s.g, math.Inf(1))
		if !core.Finite(s.gnorm) {
			return s.fail(fmt.Errorf("%w: gradient is not finite", core.ErrNumericalInstability))
		}
		if s.gnorm <= s.gtol {
			return s.finish(true, "")
		}
		s.step.SetInputs(s.x, s.g, s.b, s.fx)
		return s.considerStep()
	case modeStep:
		s.iter++
		return s.considerStep()
	case modeDone:
		return true, s.err
	default:
		panic("unknown solver mode")
	}
}

// considerStep computes a step at the current radius and accepts or rejects the candidate.
func (s *Solver) considerStep() (bool, error) {
	s.step.ComputeStep(s.radius, s.dx)
	stepLen := floats.Norm(s.dx, 2)
	if s.auto && !core.Finite(stepLen) {
		// no curvature along the gradient: an unbounded step goes to infinity
		s.radius = math.Max(1, floats.Norm(s.x, 2))
		s.step.ComputeStep(s.radius, s.dx)
		stepLen = floats.Norm(s.dx, 2)
	}
	if !core.Finite(stepLen) {
		return s.fail(fmt.Errorf("%w: step is not finite", core.ErrNumericalInstability))
	}
	if s.auto {
		s.auto = false
		if stepLen > 0 {
			s.radius = math.Min(stepLen, s.config.RegionMaximum)
		} else {
			s.radius = math.Min(1, s.config.RegionMaximum)
		}
		if stepLen > s.radius {
			s.step.ComputeStep(s.radius, s.dx)
			stepLen = floats.Norm(s.dx, 2)
		}
	}

	floats.AddTo(s.cand, s.x, s.dx)
	s.fCand = s.model.cost(s.cand)
	if math.IsNaN(s.fCand) {
		return s.fail(fmt.Errorf("%w: candidate cost is NaN", core.ErrNumericalInstability))
	}

	predicted := s.step.PredictedReduction()
	actual := s.fx - s.fCand
	if !core.Finite(predicted) {
		return s.fail(fmt.Errorf("%w: predicted reduction is %v", core.ErrNumericalInstability, predicted))
	}

	var ratio float64
	switch {
	case math.IsInf(s.fCand, 1):
		ratio = math.Inf(-1)
	case predicted == 0 || actual == 0:
		ratio = 1
	default:
		ratio = actual / predicted
	}

	if ratio < 0.25 {
		s.radius *= 0.5
	} else if ratio > 0.75 && s.step.IsMaxStep() {
		s.radius = math.Min(math.Max(s.radius, 3*stepLen), s.config.RegionMaximum)
	}

	if !(ratio > 0) {
		s.reject++
		if s.log.Enable(core.LogTrace) {
			s.log.Log("  reject step  cost = %.5e  predicted = %.3e  actual = %.3e\n", s.fCand, predicted, actual)
		}
		if s.radius < core.Epsilon*math.Max(1, floats.Norm(s.x, 2)) {
			return s.finish(false, "trust region radius collapsed")
		}
		s.mode = modeStep
		return false, nil
	}

	fPrev := s.fx
	s.x, s.cand = s.cand, s.x
	s.fx = s.fCand
	s.model.accept()
	s.mode = modeEvaluate

	if s.log.Every(s.iter) {
		s.log.Log(" %5d  %12.5e  %10.3e  %10.3e  %6.3f\n", s.iter, s.fx, s.gnorm, s.radius, ratio)
	}
	if s.log.Enable(core.LogVerbose) {
		s.log.Vector("X", s.x)
	}

	if math.Abs(fPrev-s.fx) <= s.ftol*math.Max(math.Abs(s.fx), math.Abs(fPrev)) {
		return s.finish(true, "")
	}
	return false, nil
}

func (s *Solver) finish(converged bool, warning string) (bool, error) {
	s.mode = modeDone
	s.converged, s.warning = converged, warning
	if s.log.Enable(core.LogLast) {
		s.log.Log("TRUST REGION EXIT  iter = %d  rejected = %d  cost = %.5e  |g| = %.3e  converged = %t\n",
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

// Radius returns the current trust region radius.
func (s *Solver) Radius() float64 { return s.radius }
