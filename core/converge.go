// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"errors"
	"fmt"
	"math"
)

// Epsilon is the machine epsilon of float64.
var Epsilon = math.Nextafter(1, 2) - 1

// ConfigConverge specifies the stopping criteria shared by all solvers.
type ConfigConverge struct {
	// Relative tolerance on the change of the cost:
	//   |fₖ - fₖ₊₁| ≤ 𝚏𝚝𝚘𝚕 × 𝚖𝚊𝚡(|fₖ|,|fₖ₊₁|)
	FTol float64 `yaml:"ftol"`
	// Absolute tolerance on the gradient:
	//   ‖ gₖ ‖∞ ≤ 𝚐𝚝𝚘𝚕
	GTol float64 `yaml:"gtol"`
	// The iteration stop when the number of calls to Iterate exceeds limit.
	MaxIterations int `yaml:"maxIterations"`
}

// DefaultConverge returns the tolerances used when none are specified.
func DefaultConverge() ConfigConverge {
	return ConfigConverge{FTol: 1e-12, GTol: 1e-12, MaxIterations: 500}
}

// Check validates the stopping criteria.
func (c *ConfigConverge) Check() (err error) {
	switch {
	case math.IsNaN(c.FTol) || c.FTol < 0:
		err = errors.New("function tolerance must not less than 0")
	case math.IsNaN(c.GTol) || c.GTol < 0:
		err = errors.New("gradient tolerance must not less than 0")
	case c.MaxIterations <= 0:
		err = errors.New("max iteration must greater than 0")
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return
}

// Iterative is a solver driven one step at a time by its caller.
// The caller controls pacing and may stop at any time by no longer calling Iterate.
type Iterative interface {
	// Iterate performs one step of the solver state machine.
	// It returns done once the solver has terminated, either by convergence or failure.
	// Calling Iterate after termination returns the same outcome without side effects.
	Iterate() (done bool, err error)
	// IsConverged reports whether a tolerance test has been satisfied.
	IsConverged() bool
	// Warning describes why the solver stopped without converging.
	Warning() string
	// Parameters returns the current estimate. The slice is owned by the solver.
	Parameters() []float64
	// FunctionValue returns the cost at Parameters.
	FunctionValue() float64
	// Iterations returns the number of calls to Iterate that did work.
	Iterations() int
}

// Process calls Iterate until the solver terminates or maxIterations is reached.
// It reports whether the solver converged.
func Process(it Iterative, maxIterations int) (converged bool, err error) {
	for i := 0; i < maxIterations; i++ {
		var done bool
		if done, err = it.Iterate(); done || err != nil {
			break
		}
	}
	return it.IsConverged(), err
}

// Finite reports whether every element is neither NaN nor Inf.
func Finite(v ...float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
