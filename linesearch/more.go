// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linesearch

import (
	"errors"
	"math"
)

const (
	p5         = 0.5
	p66        = 0.66
	xTrapLower = 1.1
	xTrapUpper = 4.0
)

// More94Config holds the tolerances of the Moré-Thuente search.
type More94Config struct {
	// FTol is a non-negative tolerance for the sufficient decrease condition.
	FTol float64 `yaml:"ftol"`
	// GTol is a non-negative tolerance for the curvature condition.
	GTol float64 `yaml:"gtol"`
	// XTol is a non-negative relative tolerance for an acceptable step.
	// The search exits with a warning if the relative width of the interval is less than XTol.
	XTol float64 `yaml:"xtol"`
	// MaxIterations bounds the number of function evaluations.
	MaxIterations int `yaml:"maxIterations"`
}

// DefaultMore94 returns the settings used by L-BFGS-B.
func DefaultMore94() More94Config {
	return More94Config{FTol: 1e-3, GTol: 0.9, XTol: 0.1, MaxIterations: 20}
}

// Check validates the configuration.
func (c *More94Config) Check() (err error) {
	switch {
	case c.FTol < 0:
		err = errors.New("linesearch: ftol must not less than 0")
	case c.GTol < 0:
		err = errors.New("linesearch: gtol must not less than 0")
	case c.XTol < 0:
		err = errors.New("linesearch: xtol must not less than 0")
	case c.MaxIterations <= 0:
		err = errors.New("linesearch: max iteration must greater than 0")
	}
	return
}

// sample is a trial step with its function value and derivative.
type sample struct {
	stp, f, g float64
}

type moreStage int

const (
	stageArmijo moreStage = iota + 1
	stageWolfe
	stageDone
)

// More94 finds a step that satisfies the strong Wolfe conditions following
// J. J. Moré and D. J. Thuente, "Line search algorithms with guaranteed
// sufficient decrease", ACM TOMS 20 (1994). (MINPACK-2 dcsrch)
//
// Each iteration updates an interval with endpoints x and y.
// The interval is initially chosen so that it contains a minimizer of the modified function:
//
//	ψ(α) = φ(α) - φ(0) - 𝚏𝚝𝚘𝚕·α·φ′(0)
//
// If ψ(α) ≤ 0 and φ′(α) ≥ 0 for some step, then the interval is chosen so that it contains a minimizer of φ.
//
// If no step can be found that satisfies both conditions, the search stops with a warning.
// In this case the step only satisfies the sufficient decrease condition.
type More94 struct {
	More94Config
	fn Function

	stage   moreStage
	bracket bool
	first   sample
	x, y    sample
	stp     float64
	fp, gp  float64
	lower   float64
	upper   float64
	width   [2]float64
	bound   [2]float64
	evals   int

	converged bool
	warning   string
}

// NewMore94 creates the search with the given configuration.
func NewMore94(config More94Config) (*More94, error) {
	if err := config.Check(); err != nil {
		return nil, err
	}
	return &More94{More94Config: config, stage: stageDone}, nil
}

// SetFunction sets φ.
func (s *More94) SetFunction(fn Function) { s.fn = fn }

// Init starts a search from φ(0) = f0 with φ′(0) = g0 and the first trial alpha.
func (s *More94) Init(f0, g0, alpha, stepMin, stepMax float64) error {
	switch {
	case s.fn == nil:
		return ErrNoFunction
	case !(g0 < 0):
		return ErrNotDescent
	case !(stepMin >= 0 && stepMax >= stepMin) || alpha < stepMin || alpha > stepMax:
		return ErrBadStep
	}

	s.lower, s.upper = stepMin, stepMax
	s.bracket = false
	s.stage = stageArmijo
	s.first = sample{0, f0, g0}
	s.width[0] = stepMax - stepMin
	s.width[1] = s.width[0] / p5

	s.x, s.y = s.first, s.first
	s.bound[0] = 0
	s.bound[1] = alpha + xTrapUpper*alpha

	s.stp, s.fp, s.gp = alpha, f0, g0
	s.evals = 0
	s.converged = false
	s.warning = ""
	return nil
}

// Step returns the last trial step.
func (s *More94) Step() float64 {
	return s.stp
}

// Value returns φ at the last trial step.
func (s *More94) Value() float64 {
	return s.fp
}

// Converged reports whether the last step satisfies the strong Wolfe conditions.
func (s *More94) Converged() bool {
	return s.converged
}

// Warning returns why the search stopped without converging, or "".
func (s *More94) Warning() string {
	return s.warning
}

func (s *More94) finish(converged bool, warning string) (bool, error) {
	s.converged, s.warning = converged, warning
	s.stage = stageDone
	return true, nil
}

// Iterate evaluates one trial step.
func (s *More94) Iterate() (bool, error) {
	if s.stage == stageDone {
		return true, nil
	}

	s.fn.SetInput(s.stp)
	s.fp = s.fn.ComputeFunction()
	s.gp = s.fn.ComputeDerivative()
	s.evals++

	f, g, stp := s.fp, s.gp, s.stp
	if math.IsNaN(f) || math.IsNaN(g) {
		return s.finish(false, "function value is NaN")
	}

	// Test for convergence or warnings
	gTest := s.FTol * s.first.g
	fTest := s.first.f + stp*gTest

	stpMin, stpMax := s.bound[0], s.bound[1]
	switch {
	case f <= fTest && math.Abs(g) <= s.GTol*(-s.first.g):
		return s.finish(true, "")
	case s.bracket && (stp <= stpMin || stp >= stpMax):
		return s.finish(false, "rounding errors prevent progress")
	case s.bracket && stpMax-stpMin <= s.XTol*stpMax:
		return s.finish(false, "xtol test satisfied")
	case stp == s.upper && f <= fTest && g <= gTest:
		return s.finish(false, "step at the upper bound")
	case stp == s.lower && (f > fTest || g >= gTest):
		return s.finish(false, "step at the lower bound")
	case s.evals >= s.MaxIterations:
		return s.finish(false, "too many function evaluations")
	}

	if s.stage == stageArmijo && f <= fTest && g >= 0 {
		s.stage = stageWolfe
	}

	if s.stage == stageArmijo && f <= s.x.f && f > fTest {
		// Use the modified function ψ to predict the step.
		mx := sample{s.x.stp, s.x.f - s.x.stp*gTest, s.x.g - gTest}
		my := sample{s.y.stp, s.y.f - s.y.stp*gTest, s.y.g - gTest}
		cstep(&mx, &my, &stp, f-stp*gTest, g-gTest, &s.bracket, s.bound)
		s.x = sample{mx.stp, mx.f + mx.stp*gTest, mx.g + gTest}
		s.y = sample{my.stp, my.f + my.stp*gTest, my.g + gTest}
	} else {
		cstep(&s.x, &s.y, &stp, f, g, &s.bracket, s.bound)
	}

	// Decide if a bisection step is needed.
	if s.bracket {
		if math.Abs(s.y.stp-s.x.stp) >= p66*s.width[1] {
			stp = s.x.stp + p5*(s.y.stp-s.x.stp)
		}
		s.width[1] = s.width[0]
		s.width[0] = math.Abs(s.y.stp - s.x.stp)
	}

	if s.bracket {
		stpMin = math.Min(s.x.stp, s.y.stp)
		stpMax = math.Max(s.x.stp, s.y.stp)
	} else {
		stpMin = stp + xTrapLower*(stp-s.x.stp)
		stpMax = stp + xTrapUpper*(stp-s.x.stp)
	}
	s.bound[0], s.bound[1] = stpMin, stpMax

	stp = math.Min(math.Max(stp, s.lower), s.upper)

	if s.bracket && (stp <= stpMin || stp >= stpMax || stpMax-stpMin <= s.XTol*stpMax) {
		stp = s.x.stp
	}
	s.stp = stp
	return false, nil
}

// cstep (dcstep) computes a safeguarded step and updates the interval that
// contains a step satisfying the sufficient decrease and curvature conditions.
//
// x holds the step with the least function value; its derivative must be negative
// in the direction of the step. If bracket is set then a minimizer has been bracketed
// in the interval with endpoints x and y, and the current stp lies inside it.
// fp and dp are the function value and derivative at stp. On exit stp is the new trial step.
func cstep(x, y *sample, stp *float64, fp, dp float64, bracket *bool, bound [2]float64) {

	var gamma, p, q, r, s, stpc, stpf, stpq, theta float64

	stpmin, stpmax := bound[0], bound[1]
	sgnd := dp * (x.g / math.Abs(x.g))

	switch {
	case fp > x.f:
		// A higher function value. The minimum is bracketed.
		// If the cubic step is closer to x than the quadratic step, the cubic step is taken,
		// otherwise the average of the cubic and quadratic steps is taken.
		theta = 3*(x.f-fp)/(*stp-x.stp) + x.g + dp
		s = math.Max(math.Max(math.Abs(theta), math.Abs(x.g)), math.Abs(dp))
		gamma = s * math.Sqrt((theta/s)*(theta/s)-(x.g/s)*(dp/s))
		if *stp < x.stp {
			gamma = -gamma
		}
		p = (gamma - x.g) + theta
		q = ((gamma - x.g) + gamma) + dp
		r = p / q
		stpc = x.stp + r*(*stp-x.stp)
		stpq = x.stp + ((x.g/((x.f-fp)/(*stp-x.stp)+x.g))/2)*(*stp-x.stp)
		if math.Abs(stpc-x.stp) < math.Abs(stpq-x.stp) {
			stpf = stpc
		} else {
			stpf = stpc + (stpq-stpc)/2
		}
		*bracket = true

	case sgnd < 0:
		// A lower function value and derivatives of opposite sign. The minimum is bracketed.
		// If the cubic step is farther from stp than the secant step, the cubic step is taken,
		// otherwise the secant step is taken.
		theta = 3*(x.f-fp)/(*stp-x.stp) + x.g + dp
		s = math.Max(math.Max(math.Abs(theta), math.Abs(x.g)), math.Abs(dp))
		gamma = s * math.Sqrt((theta/s)*(theta/s)-(x.g/s)*(dp/s))
		if *stp > x.stp {
			gamma = -gamma
		}
		p = (gamma - dp) + theta
		q = ((gamma - dp) + gamma) + x.g
		r = p / q
		stpc = *stp + r*(x.stp-*stp)
		stpq = *stp + (dp/(dp-x.g))*(x.stp-*stp)
		if math.Abs(stpc-*stp) > math.Abs(stpq-*stp) {
			stpf = stpc
		} else {
			stpf = stpq
		}
		*bracket = true

	case math.Abs(dp) < math.Abs(x.g):
		// A lower function value, derivatives of the same sign, and the magnitude of the derivative decreases.
		// The cubic step is computed only if the cubic tends to infinity in the direction of the step
		// or if the minimum of the cubic is beyond stp. Otherwise the cubic step is defined to be the secant step.
		theta = 3*(x.f-fp)/(*stp-x.stp) + x.g + dp
		s = math.Max(math.Max(math.Abs(theta), math.Abs(x.g)), math.Abs(dp))
		// gamma = 0 only arises if the cubic does not tend to infinity in the direction of the step.
		gamma = s * math.Sqrt(math.Max(0, (theta/s)*(theta/s)-(x.g/s)*(dp/s)))
		if *stp > x.stp {
			gamma = -gamma
		}
		p = (gamma - dp) + theta
		q = (gamma + (x.g - dp)) + gamma
		r = p / q
		if r < 0 && gamma != 0 {
			stpc = *stp + r*(x.stp-*stp)
		} else if *stp > x.stp {
			stpc = stpmax
		} else {
			stpc = stpmin
		}
		stpq = *stp + (dp/(dp-x.g))*(x.stp-*stp)
		if *bracket {
			// Take the step closer to stp, but stay within the interval.
			if math.Abs(stpc-*stp) < math.Abs(stpq-*stp) {
				stpf = stpc
			} else {
				stpf = stpq
			}
			if *stp > x.stp {
				stpf = math.Min(*stp+p66*(y.stp-*stp), stpf)
			} else {
				stpf = math.Max(*stp+p66*(y.stp-*stp), stpf)
			}
		} else {
			// Take the step farther from stp, limited to [stpmin, stpmax].
			if math.Abs(stpc-*stp) > math.Abs(stpq-*stp) {
				stpf = stpc
			} else {
				stpf = stpq
			}
			stpf = math.Max(stpmin, math.Min(stpmax, stpf))
		}

	default:
		// A lower function value, derivatives of the same sign, and the magnitude of the derivative does not decrease.
		// If the minimum is not bracketed, the step is either stpmin or stpmax, otherwise the cubic step is taken.
		if *bracket {
			theta = 3*(fp-y.f)/(y.stp-*stp) + y.g + dp
			s = math.Max(math.Max(math.Abs(theta), math.Abs(y.g)), math.Abs(dp))
			gamma = s * math.Sqrt((theta/s)*(theta/s)-(y.g/s)*(dp/s))
			if *stp > y.stp {
				gamma = -gamma
			}
			p = (gamma - dp) + theta
			q = ((gamma - dp) + gamma) + y.g
			r = p / q
			stpc = *stp + r*(y.stp-*stp)
			stpf = stpc
		} else if *stp > x.stp {
			stpf = stpmax
		} else {
			stpf = stpmin
		}
	}

	// Update the interval which contains a minimizer.
	if fp > x.f {
		*y = sample{*stp, fp, dp}
	} else {
		if sgnd < 0 {
			*y = *x
		}
		*x = sample{*stp, fp, dp}
	}

	*stp = stpf
}
