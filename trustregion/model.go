// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trustregion

import (
	"github.com/curioloop/nlsq/core"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// model supplies the cost and the quadratic model 𝐠, 𝐁 to the solver.
type model interface {
	numParams() int
	// resize allocates the scratch for the problem dimensions.
	resize()
	// cost evaluates the cost at a candidate point.
	cost(x []float64) float64
	// accept marks the last candidate as the current point.
	accept()
	// derivatives fills 𝐠 and 𝐁 at the current point 𝐱 and hands extra inputs to the step.
	derivatives(x, g []float64, b *mat.SymDense, step Step)
}

// leastSquares is the Gauss-Newton model of F(𝐱) = ½‖𝒇(𝐱)‖²:
//
//	𝐠 = 𝐉ᵀ𝒇,  𝐁 = 𝐉ᵀ𝐉
type leastSquares struct {
	fn core.ResidualJacobian
	n  int
	m  int

	r, rCand []float64 // residuals at 𝐱 and at the candidate
	jacData  []float64
	jac      *mat.Dense
}

func (ls *leastSquares) numParams() int { return ls.fn.NumParams() }

func (ls *leastSquares) resize() {
	n, m := ls.fn.NumParams(), ls.fn.NumResiduals()
	if n == ls.n && m == ls.m {
		return
	}
	ls.n, ls.m = n, m
	ls.r = make([]float64, m)
	ls.rCand = make([]float64, m)
	ls.jacData = make([]float64, m*n)
	ls.jac = mat.NewDense(m, n, ls.jacData)
}

func (ls *leastSquares) cost(x []float64) float64 {
	ls.fn.SetInput(x)
	ls.fn.ComputeResiduals(ls.rCand)
	return 0.5 * floats.Dot(ls.rCand, ls.rCand)
}

func (ls *leastSquares) accept() {
	ls.r, ls.rCand = ls.rCand, ls.r
}

func (ls *leastSquares) derivatives(x, g []float64, b *mat.SymDense, step Step) {
	ls.fn.SetInput(x)
	ls.fn.ComputeJacobian(ls.jacData)

	b.SymOuterK(1, ls.jac.T())
	gv := mat.NewVecDense(ls.n, g)
	gv.MulVec(ls.jac.T(), mat.NewVecDense(ls.m, ls.r))

	if lss, ok := step.(LeastSquaresStep); ok {
		lss.SetJacobian(ls.jac, ls.r)
	}
}

// minimization maintains 𝐁 of a general cost with the direct BFGS update
//
//	𝐁⁺ = 𝐁 + 𝐲𝐲ᵀ/𝐲ᵀ𝐬 - 𝐁𝐬𝐬ᵀ𝐁/𝐬ᵀ𝐁𝐬
//
// where 𝐬 = 𝐱ₖ₊₁ - 𝐱ₖ and 𝐲 = 𝐠ₖ₊₁ - 𝐠ₖ. The update is skipped unless 𝐲ᵀ𝐬 is safely positive,
// which keeps 𝐁 positive definite.
type minimization struct {
	fn      core.ScalarGradient
	n       int
	first   bool
	skipped int

	xPrev, gPrev []float64
	s, y, bs     []float64
}

func (mz *minimization) numParams() int { return mz.fn.NumParams() }

func (mz *minimization) resize() {
	mz.first = true
	mz.skipped = 0
	if n := mz.fn.NumParams(); n != mz.n {
		mz.n = n
		mz.xPrev = make([]float64, n)
		mz.gPrev = make([]float64, n)
		mz.s = make([]float64, n)
		mz.y = make([]float64, n)
		mz.bs = make([]float64, n)
	}
}

func (mz *minimization) cost(x []float64) float64 {
	mz.fn.SetInput(x)
	return mz.fn.ComputeFunction()
}

func (mz *minimization) accept() {}

func (mz *minimization) derivatives(x, g []float64, b *mat.SymDense, step Step) {
	mz.fn.SetInput(x)
	mz.fn.ComputeGradient(g)

	if mz.first {
		mz.first = false
		b.Zero()
		for i := 0; i < mz.n; i++ {
			b.SetSym(i, i, 1)
		}
	} else {
		floats.SubTo(mz.s, x, mz.xPrev)
		floats.SubTo(mz.y, g, mz.gPrev)
		mz.update(b)
	}
	copy(mz.xPrev, x)
	copy(mz.gPrev, g)
}

func (mz *minimization) update(b *mat.SymDense) {
	ys := floats.Dot(mz.y, mz.s)
	if ys <= core.Epsilon*floats.Norm(mz.y, 2)*floats.Norm(mz.s, 2) {
		mz.skipped++
		return
	}
	bs := mat.NewVecDense(mz.n, mz.bs)
	bs.MulVec(b, mat.NewVecDense(mz.n, mz.s))
	sBs := floats.Dot(mz.s, mz.bs)
	if sBs <= 0 {
		mz.skipped++
		return
	}
	b.SymRankOne(b, 1/ys, mat.NewVecDense(mz.n, mz.y))
	b.SymRankOne(b, -1/sBs, bs)
}
