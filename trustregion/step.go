// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trustregion

import (
	"math"

	"github.com/curioloop/nlsq/core"
	"github.com/curioloop/nlsq/linsolve"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Step approximately solves the trust region subproblem
//
//	min  m(𝐩) = 𝐠ᵀ𝐩 + ½𝐩ᵀ𝐁𝐩   s.t.  ‖𝐩‖ ≤ Δ
type Step interface {
	// Init sizes the scratch for n parameters.
	Init(n int)
	// SetInputs specifies the model at 𝐱. The slices and 𝐁 are owned by the caller
	// and stay unchanged until the next call.
	SetInputs(x, g []float64, b *mat.SymDense, fx float64)
	// ComputeStep writes a step bounded by radius into step.
	ComputeStep(radius float64, step []float64)
	// PredictedReduction returns m(0) - m(𝐩) of the last step.
	PredictedReduction() float64
	// IsMaxStep reports whether the last step touched the region boundary.
	IsMaxStep() bool
}

// LeastSquaresStep is a Step that can use the Jacobian directly instead of 𝐁 = 𝐉ᵀ𝐉.
type LeastSquaresStep interface {
	Step
	// SetJacobian specifies the m×n Jacobian and residuals at the point given to SetInputs.
	SetJacobian(jac mat.Matrix, residuals []float64)
}

// cauchyPoint holds the steepest descent model along -𝐠.
type cauchyPoint struct {
	g     []float64
	gnorm float64 // ‖𝐠‖
	gBg   float64 // 𝐠ᵀ𝐁𝐠
}

func (c *cauchyPoint) set(g []float64, b *mat.SymDense) {
	c.g = g
	c.gnorm = floats.Norm(g, 2)
	vg := mat.NewVecDense(len(g), g)
	c.gBg = mat.Inner(vg, b, vg)
}

// length returns ‖𝐡ᶜ‖ of the unconstrained minimizer along -𝐠, or +Inf without positive curvature.
func (c *cauchyPoint) length() float64 {
	if c.gBg <= 0 {
		return math.Inf(1)
	}
	return c.gnorm * c.gnorm * c.gnorm / c.gBg
}

// step writes -dist·𝐠 and returns the reduction dist·‖𝐠‖² - ½dist²·𝐠ᵀ𝐁𝐠.
func (c *cauchyPoint) step(dist float64, step []float64) float64 {
	floats.ScaleTo(step, -dist, c.g)
	return dist*c.gnorm*c.gnorm - 0.5*dist*dist*c.gBg
}

// compute is the Cauchy step bounded by radius.
func (c *cauchyPoint) compute(radius float64, step []float64) (predicted float64, maxStep bool) {
	if c.gnorm == 0 {
		for i := range step {
			step[i] = 0
		}
		return 0, false
	}
	if c.length() >= radius {
		return c.step(radius/c.gnorm, step), true
	}
	return c.step(c.gnorm*c.gnorm/c.gBg, step), false
}

// Cauchy takes the minimizer of the model along the steepest descent direction.
// It converges slowly but never needs to solve a linear system.
type Cauchy struct {
	cp        cauchyPoint
	predicted float64
	maxStep   bool
}

// Init is a no-op, the Cauchy point needs no workspace.
func (c *Cauchy) Init(n int) {}

// SetInputs records the gradient and the model Hessian of the current point.
func (c *Cauchy) SetInputs(x, g []float64, b *mat.SymDense, fx float64) {
	c.cp.set(g, b)
}

// ComputeStep writes the Cauchy step within radius into step.
func (c *Cauchy) ComputeStep(radius float64, step []float64) {
	c.predicted, c.maxStep = c.cp.compute(radius, step)
}

// PredictedReduction returns the model decrease of the last computed step.
func (c *Cauchy) PredictedReduction() float64 {
	return c.predicted
}

// IsMaxStep reports whether the last step reached the radius.
func (c *Cauchy) IsMaxStep() bool {
	return c.maxStep
}

// Dogleg follows the piecewise linear path from the origin through
// the Cauchy point 𝐡ᶜ to the Gauss-Newton point 𝐡ᵍⁿ.
//
// 𝐡ᵍⁿ solves 𝐁𝐡 = -𝐠 with a Cholesky factorization. When LeastSquares is set and the
// Jacobian is available it solves 𝐉𝐡 = -𝒇 with a QR factorization instead, which avoids
// squaring the condition number of 𝐉.
type Dogleg struct {
	LeastSquares bool

	chol linsolve.Cholesky
	qr   linsolve.QR

	cp    cauchyPoint
	gn    []float64 // 𝐡ᵍⁿ
	hc    []float64 // 𝐡ᶜ
	d     []float64 // 𝐡ᵍⁿ - 𝐡ᶜ
	neg   []float64 // -𝐠
	negF  []float64 // -𝒇
	gnOK  bool
	gnLen float64
	gnRed float64 // G = -𝐠ᵀ𝐡ᵍⁿ

	jac       mat.Matrix
	residuals []float64

	predicted float64
	maxStep   bool
}

// Init sizes the workspace for n parameters and forgets the Jacobian.
func (d *Dogleg) Init(n int) {
	if len(d.gn) != n {
		d.gn = make([]float64, n)
		d.hc = make([]float64, n)
		d.d = make([]float64, n)
		d.neg = make([]float64, n)
	}
	d.jac, d.residuals = nil, nil
}

// SetJacobian supplies 𝐉 and 𝒇 for the QR variant. It is ignored unless LeastSquares is set.
func (d *Dogleg) SetJacobian(jac mat.Matrix, residuals []float64) {
	d.jac, d.residuals = jac, residuals
}

// SetInputs computes the Cauchy and Gauss-Newton points of the current model.
func (d *Dogleg) SetInputs(x, g []float64, b *mat.SymDense, fx float64) {
	if len(g) != len(d.gn) {
		panic("bound check error")
	}
	d.cp.set(g, b)

	if d.LeastSquares && d.jac != nil {
		if len(d.negF) != len(d.residuals) {
			d.negF = make([]float64, len(d.residuals))
		}
		floats.ScaleTo(d.negF, -1, d.residuals)
		d.gnOK = d.qr.SetA(d.jac) && d.qr.Solve(d.negF, d.gn) && d.qr.Quality() > core.Epsilon
	} else {
		floats.ScaleTo(d.neg, -1, g)
		d.gnOK = d.chol.SetA(b) && d.chol.Solve(d.neg, d.gn) && d.chol.Quality() > core.Epsilon
	}

	if d.gnOK {
		d.gnLen = floats.Norm(d.gn, 2)
		d.gnRed = -floats.Dot(g, d.gn)
		// a Gauss-Newton point that increases the model is useless
		d.gnOK = core.Finite(d.gnLen) && d.gnRed > 0
	}
}

// ComputeStep writes the dogleg step within radius into step.
func (d *Dogleg) ComputeStep(radius float64, step []float64) {
	if !d.gnOK || d.cp.gBg <= 0 {
		d.predicted, d.maxStep = d.cp.compute(radius, step)
		return
	}

	if d.gnLen <= radius {
		copy(step, d.gn)
		d.predicted, d.maxStep = 0.5*d.gnRed, false
		return
	}

	cauchyLen := d.cp.length()
	if cauchyLen >= radius {
		d.predicted, d.maxStep = d.cp.step(radius/d.cp.gnorm, step), true
		return
	}

	// ‖𝐡ᶜ + β(𝐡ᵍⁿ - 𝐡ᶜ)‖ = Δ  ⇔  aβ² + bβ + c = 0
	alpha := d.cp.gnorm * d.cp.gnorm / d.cp.gBg
	floats.ScaleTo(d.hc, -alpha, d.cp.g)
	floats.SubTo(d.d, d.gn, d.hc)
	a := floats.Dot(d.d, d.d)
	b := 2 * floats.Dot(d.hc, d.d)
	c := cauchyLen*cauchyLen - radius*radius
	sq := math.Sqrt(math.Max(0, b*b-4*a*c))

	var beta float64
	if b >= 0 {
		beta = -2 * c / (b + sq)
	} else {
		beta = (-b + sq) / (2 * a)
	}
	beta = math.Max(0, math.Min(1, beta))

	floats.AddScaledTo(step, d.hc, beta, d.d)
	d.predicted = 0.5*(1-beta)*(1-beta)*alpha*d.cp.gnorm*d.cp.gnorm + beta*(1-0.5*beta)*d.gnRed
	d.maxStep = true
}

// PredictedReduction returns the model decrease of the last computed step.
func (d *Dogleg) PredictedReduction() float64 {
	return d.predicted
}

// IsMaxStep reports whether the last step reached the radius.
func (d *Dogleg) IsMaxStep() bool {
	return d.maxStep
}
