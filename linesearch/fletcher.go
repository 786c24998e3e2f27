// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linesearch

import (
	"errors"
	"math"
)

// Fletcher86Config holds the tolerances of the bracket and section search.
type Fletcher86Config struct {
	// FTol is the sufficient decrease tolerance, 0 < FTol < ½.
	FTol float64 `yaml:"ftol"`
	// GTol is the curvature tolerance, FTol < GTol < 1.
	GTol float64 `yaml:"gtol"`
	// FMin is a lower bound on φ. Reaching it stops the search.
	FMin float64 `yaml:"fmin"`
	// T1 limits extrapolation to α + T1·(α - α₋₁), T1 > 1.
	T1 float64 `yaml:"t1"`
	// T2 and T3 keep the sectioning step inside [lo + T2·w, hi - T3·w], 0 < T2 < T3 ≤ ½.
	T2 float64 `yaml:"t2"`
	T3 float64 `yaml:"t3"`
	// TolStep stops sectioning once |(lo - α)·φ′(α)| falls below it.
	TolStep float64 `yaml:"tolStep"`
	// MaxIterations bounds the number of sectioning iterations.
	MaxIterations int `yaml:"maxIterations"`
}

// DefaultFletcher86 returns the settings recommended by Fletcher.
func DefaultFletcher86() Fletcher86Config {
	return Fletcher86Config{
		FTol:          1e-3,
		GTol:          0.9,
		FMin:          -math.MaxFloat64,
		T1:            9,
		T2:            0.1,
		T3:            0.5,
		TolStep:       math.Nextafter(1, 2) - 1,
		MaxIterations: 20,
	}
}

// Check validates the configuration.
func (c *Fletcher86Config) Check() (err error) {
	switch {
	case !(c.FTol > 0 && c.FTol < 0.5):
		err = errors.New("linesearch: ftol must in (0, 0.5)")
	case !(c.GTol > c.FTol && c.GTol < 1):
		err = errors.New("linesearch: gtol must in (ftol, 1)")
	case !(c.T1 > 1):
		err = errors.New("linesearch: t1 must greater than 1")
	case !(c.T2 > 0 && c.T2 < c.T3 && c.T3 <= 0.5):
		err = errors.New("linesearch: must satisfy 0 < t2 < t3 <= 0.5")
	case c.TolStep < 0:
		err = errors.New("linesearch: step tolerance must not less than 0")
	case c.MaxIterations <= 0:
		err = errors.New("linesearch: max iteration must greater than 0")
	}
	return
}

type fletcherMode int

const (
	fletcherBracket fletcherMode = iota
	fletcherSection
	fletcherDone
)

// Fletcher86 is the bracket and section line search from
// R. Fletcher, "Practical Methods of Optimization", 2nd ed., 1987.
//
// The bracket phase extrapolates until an interval known to contain
// an acceptable step is found; the section phase shrinks that interval with
// safeguarded cubic or quadratic interpolation.
type Fletcher86 struct {
	Fletcher86Config
	fn   Function
	mode fletcherMode

	f0, g0   float64
	min, max float64

	// current and previous trial
	stp, fp, gp    float64
	prev, fpr, gpr float64

	// sectioning interval, lo always satisfies sufficient decrease
	lo, flo, glo float64
	hi, fhi, ghi float64

	sections  int
	converged bool
	warning   string
}

// NewFletcher86 creates the search with the given configuration.
func NewFletcher86(config Fletcher86Config) (*Fletcher86, error) {
	if err := config.Check(); err != nil {
		return nil, err
	}
	return &Fletcher86{Fletcher86Config: config, mode: fletcherDone}, nil
}

// SetFunction sets φ.
func (s *Fletcher86) SetFunction(fn Function) { s.fn = fn }

// Init starts a search from φ(0) = f0 with φ′(0) = g0 and the first trial alpha.
func (s *Fletcher86) Init(f0, g0, alpha, stepMin, stepMax float64) error {
	switch {
	case s.fn == nil:
		return ErrNoFunction
	case !(g0 < 0):
		return ErrNotDescent
	case !(stepMin >= 0 && stepMax > stepMin && alpha > 0):
		return ErrBadStep
	}

	s.f0, s.g0 = f0, g0
	s.min, s.max = stepMin, stepMax
	// the step beyond which φ certainly falls below FMin
	if mu := (s.FMin - f0) / (s.FTol * g0); mu > 0 && mu < s.max {
		s.max = mu
	}
	s.stp = math.Min(math.Max(alpha, s.min), s.max)
	s.fp, s.gp = f0, g0
	s.prev, s.fpr, s.gpr = 0, f0, g0
	s.sections = 0
	s.converged = false
	s.warning = ""
	s.mode = fletcherBracket
	return nil
}

// Iterate evaluates one trial step.
func (s *Fletcher86) Iterate() (bool, error) {
	switch s.mode {
	case fletcherBracket:
		return s.bracket(), nil
	case fletcherSection:
		return s.section(), nil
	case fletcherDone:
		return true, nil
	default:
		panic("unknown line search mode")
	}
}

// Step returns the last trial step.
func (s *Fletcher86) Step() float64 {
	return s.stp
}

// Value returns φ at the last trial step.
func (s *Fletcher86) Value() float64 {
	return s.fp
}

// Converged reports whether the last step satisfies the search conditions.
func (s *Fletcher86) Converged() bool {
	return s.converged
}

// Warning returns why the search stopped without converging, or "".
func (s *Fletcher86) Warning() string {
	return s.warning
}

func (s *Fletcher86) sufficient() bool { return s.fp <= s.f0+s.FTol*s.stp*s.g0 }
func (s *Fletcher86) curvature() bool  { return math.Abs(s.gp) <= -s.GTol*s.g0 }

func (s *Fletcher86) finish(converged bool, warning string) bool {
	s.converged, s.warning = converged, warning
	s.mode = fletcherDone
	return true
}

func (s *Fletcher86) evaluate() {
	s.fn.SetInput(s.stp)
	s.fp = s.fn.ComputeFunction()
	s.gp = math.NaN()
}

func (s *Fletcher86) bracket() bool {
	s.evaluate()

	if math.IsNaN(s.fp) {
		return s.finish(false, "function value is NaN")
	}
	if s.fp <= s.FMin {
		return s.finish(true, "")
	}

	if !s.sufficient() || s.fp >= s.fpr {
		s.toSection(s.prev, s.fpr, s.gpr, s.stp, s.fp, s.gp)
		return false
	}

	s.gp = s.fn.ComputeDerivative()
	if s.curvature() {
		return s.finish(true, "")
	}
	if s.gp >= 0 {
		s.toSection(s.stp, s.fp, s.gp, s.prev, s.fpr, s.gpr)
		return false
	}

	if s.stp >= s.max {
		return s.finish(false, "step reached the maximum")
	}

	var next float64
	if s.max <= 2*s.stp-s.prev {
		next = s.max
	} else {
		next = interpolate(s.prev, s.fpr, s.gpr, s.stp, s.fp, s.gp,
			2*s.stp-s.prev, math.Min(s.max, s.stp+s.T1*(s.stp-s.prev)))
	}
	s.prev, s.fpr, s.gpr = s.stp, s.fp, s.gp
	s.stp = next
	return false
}

func (s *Fletcher86) toSection(lo, flo, glo, hi, fhi, ghi float64) {
	s.lo, s.flo, s.glo = lo, flo, glo
	s.hi, s.fhi, s.ghi = hi, fhi, ghi
	s.mode = fletcherSection
}

func (s *Fletcher86) section() bool {
	w := s.hi - s.lo
	s.stp = interpolate(s.lo, s.flo, s.glo, s.hi, s.fhi, s.ghi, s.lo+s.T2*w, s.hi-s.T3*w)
	s.evaluate()

	if math.IsNaN(s.fp) {
		return s.finish(false, "function value is NaN")
	}

	if !s.sufficient() || s.fp >= s.flo {
		s.hi, s.fhi, s.ghi = s.stp, s.fp, s.gp
	} else {
		s.gp = s.fn.ComputeDerivative()
		if s.curvature() {
			return s.finish(true, "")
		}
		if s.gp*(s.hi-s.lo) >= 0 {
			s.hi, s.fhi, s.ghi = s.lo, s.flo, s.glo
		}
		if math.Abs((s.lo-s.stp)*s.gp) <= s.TolStep {
			return s.finish(false, "no progress within rounding error")
		}
		s.lo, s.flo, s.glo = s.stp, s.fp, s.gp
	}

	if s.sections++; s.sections >= s.MaxIterations {
		return s.finish(false, "too many section iterations, small step")
	}
	if math.Abs(s.hi-s.lo) <= s.TolStep*math.Max(s.lo, s.hi) {
		return s.finish(false, "section interval too small")
	}
	return false
}
