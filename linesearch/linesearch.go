// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package linesearch finds a step α along a descent direction that satisfies
// the strong Wolfe conditions:
//   - sufficient decrease condition: φ(α) ≤ φ(0) + 𝚏𝚝𝚘𝚕·α·φ′(0)
//   - curvature condition: |φ′(α)| ≤ 𝚐𝚝𝚘𝚕·|φ′(0)|
//
// Searches are driven one function evaluation at a time through Iterate.
package linesearch

import (
	"errors"
	"math"
)

var (
	ErrNotDescent = errors.New("linesearch: initial derivative is not negative")
	ErrBadStep    = errors.New("linesearch: invalid step bounds")
	ErrNoFunction = errors.New("linesearch: function is required")
)

// Function is the restriction φ(α) = f(x + α·d) of the objective to a line.
type Function interface {
	// SetInput sets the step at which the following calls are evaluated.
	SetInput(alpha float64)
	// ComputeFunction returns φ(α).
	ComputeFunction() float64
	// ComputeDerivative returns φ′(α). It is only called after ComputeFunction at the same α.
	ComputeDerivative() float64
}

// LineSearch is a one dimensional minimizer along a descent direction.
type LineSearch interface {
	SetFunction(fn Function)
	// Init starts a search with φ(0) = f0, φ′(0) = g0 and the first trial step alpha,
	// restricting steps to [stepMin, stepMax].
	Init(f0, g0, alpha, stepMin, stepMax float64) error
	// Iterate evaluates φ at one trial step. It returns done when the search terminated.
	Iterate() (done bool, err error)
	// Step returns the current step.
	Step() float64
	// Value returns φ(Step()).
	Value() float64
	// Converged reports whether Step satisfies the strong Wolfe conditions.
	Converged() bool
	// Warning describes why the search stopped without converging.
	Warning() string
}

// quadratic returns the minimizer of the quadratic interpolating φ(a) = fa, φ′(a) = ga and φ(b) = fb.
// NaN is returned when the quadratic has no minimum.
func quadratic(a, fa, ga, b, fb float64) float64 {
	d := b - a
	den := 2 * (fb - fa - ga*d)
	if den <= 0 {
		return math.NaN()
	}
	return a - ga*d*d/den
}

// cubic returns the minimizer of the cubic interpolating φ and φ′ at a and b.
// NaN is returned when the cubic has no minimum.
func cubic(a, fa, ga, b, fb, gb float64) float64 {
	d1 := ga + gb - 3*(fa-fb)/(a-b)
	disc := d1*d1 - ga*gb
	if disc < 0 {
		return math.NaN()
	}
	d2 := math.Copysign(math.Sqrt(disc), b-a)
	den := gb - ga + 2*d2
	if den == 0 {
		return math.NaN()
	}
	return b - (b-a)*(gb+d2-d1)/den
}

// interpolate estimates the minimizer from the samples at a and b and clamps it into [lo, hi].
// The derivative at a must be known; a NaN gb falls back to quadratic interpolation.
func interpolate(a, fa, ga, b, fb, gb, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	var stp float64
	if math.IsNaN(gb) {
		stp = quadratic(a, fa, ga, b, fb)
	} else if stp = cubic(a, fa, ga, b, fb, gb); math.IsNaN(stp) {
		stp = quadratic(a, fa, ga, b, fb)
	}
	switch {
	case math.IsNaN(stp):
		stp = lo + 0.5*(hi-lo)
	case stp < lo:
		stp = lo
	case stp > hi:
		stp = hi
	}
	return stp
}
