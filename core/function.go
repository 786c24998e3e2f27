// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"errors"
	"fmt"

	"github.com/curioloop/nlsq/numdiff"
)

// ResidualJacobian is a vector function 𝒇(𝐱) : ℝⁿ → ℝᵐ together with its Jacobian.
// The least-squares cost minimized is ½‖𝒇(𝐱)‖².
type ResidualJacobian interface {
	// NumParams returns n, the number of parameters.
	NumParams() int
	// NumResiduals returns m, the number of residuals.
	NumResiduals() int
	// SetInput specifies the location at which the following calls are evaluated.
	SetInput(x []float64)
	// ComputeResiduals writes the m residuals into out.
	ComputeResiduals(out []float64)
	// ComputeJacobian writes the m×n Jacobian into out in row-major order.
	ComputeJacobian(out []float64)
}

// ScalarGradient is a differentiable function 𝒇(𝐱) : ℝⁿ → ℝ.
type ScalarGradient interface {
	NumParams() int
	SetInput(x []float64)
	ComputeFunction() float64
	ComputeGradient(out []float64)
}

// LeastSquares adapts plain functions to ResidualJacobian.
// When Jacobian is nil it is approximated by finite differences.
type LeastSquares struct {
	N, M     int
	Residual func(x, r []float64)
	Jacobian func(x, jac []float64)
	Diff     numdiff.Method
	x        []float64
	approx   *numdiff.Jacobian
}

// Check validates the adapter.
func (ls *LeastSquares) Check() (err error) {
	switch {
	case ls.N <= 0:
		err = errors.New("problem dimension must greater than 0")
	case ls.M <= 0:
		err = errors.New("residual number must greater than 0")
	case ls.Residual == nil:
		err = errors.New("residual function is required")
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return
}

// NumParams returns n.
func (ls *LeastSquares) NumParams() int {
	return ls.N
}

// NumResiduals returns m.
func (ls *LeastSquares) NumResiduals() int {
	return ls.M
}

// SetInput sets the point where residuals and Jacobian are evaluated.
func (ls *LeastSquares) SetInput(x []float64) {
	if len(ls.x) != len(x) {
		ls.x = make([]float64, len(x))
	}
	copy(ls.x, x)
}

// ComputeResiduals writes 𝒇(𝐱) into out.
func (ls *LeastSquares) ComputeResiduals(out []float64) {
	ls.Residual(ls.x, out)
}

// ComputeJacobian writes the row-major m×n Jacobian into out.
func (ls *LeastSquares) ComputeJacobian(out []float64) {
	if ls.Jacobian != nil {
		ls.Jacobian(ls.x, out)
		return
	}
	if ls.approx == nil {
		ls.approx = &numdiff.Jacobian{N: ls.N, M: ls.M, Func: ls.Residual, Method: ls.Diff}
	}
	if err := ls.approx.Diff(ls.x, out); err != nil {
		panic(err)
	}
}

// Minimization adapts plain functions to ScalarGradient.
// When Gradient is nil it is approximated by finite differences.
type Minimization struct {
	N        int
	Func     func(x []float64) float64
	Gradient func(x, g []float64)
	Diff     numdiff.Method
	x        []float64
	approx   *numdiff.Gradient
}

// Check validates the adapter.
func (mz *Minimization) Check() (err error) {
	switch {
	case mz.N <= 0:
		err = errors.New("problem dimension must greater than 0")
	case mz.Func == nil:
		err = errors.New("objective function is required")
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return
}

// NumParams returns n.
func (mz *Minimization) NumParams() int {
	return mz.N
}

// SetInput sets the point where cost and gradient are evaluated.
func (mz *Minimization) SetInput(x []float64) {
	if len(mz.x) != len(x) {
		mz.x = make([]float64, len(x))
	}
	copy(mz.x, x)
}

// ComputeFunction returns f(𝐱).
func (mz *Minimization) ComputeFunction() float64 {
	return mz.Func(mz.x)
}

// ComputeGradient writes ∇f(𝐱) into out.
func (mz *Minimization) ComputeGradient(out []float64) {
	if mz.Gradient != nil {
		mz.Gradient(mz.x, out)
		return
	}
	if mz.approx == nil {
		mz.approx = &numdiff.Gradient{N: mz.N, Func: mz.Func, Method: mz.Diff}
	}
	if err := mz.approx.Diff(mz.x, out); err != nil {
		panic(err)
	}
}
