// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package linsolve adapts gonum factorizations to the small linear solver
// contract the optimizers depend on.
package linsolve

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Solver solves A·x = b for a matrix set once and reused for many right-hand sides.
type Solver interface {
	// SetA factorizes A. It returns false when A can not be factorized.
	SetA(a mat.Matrix) bool
	// Solve writes the solution of A·x = b into x. b and x must not overlap.
	Solve(b, x []float64) bool
	// Quality is an estimate of the reciprocal condition number of A.
	// Values near machine epsilon indicate a numerically singular system.
	Quality() float64
}

// Cholesky solves symmetric positive definite systems through 𝐀 = 𝐔ᵀ𝐔.
// Only the upper triangle of A is referenced.
type Cholesky struct {
	chol mat.Cholesky
	n    int
	ok   bool
}

// SetA factorizes a. It reports false when a is not symmetric positive definite or not finite.
func (c *Cholesky) SetA(a mat.Matrix) bool {
	c.ok = false
	sym, isSym := a.(mat.Symmetric)
	if !isSym || !finite(a) {
		return false
	}
	c.n = sym.SymmetricDim()
	c.ok = c.chol.Factorize(sym)
	return c.ok
}

// Solve writes the solution of A·x = b into x.
func (c *Cholesky) Solve(b, x []float64) bool {
	if !c.ok || len(b) != c.n || len(x) != c.n {
		return false
	}
	dst := mat.NewVecDense(c.n, x)
	return solved(c.chol.SolveVecTo(dst, mat.NewVecDense(c.n, b)), x)
}

// Quality returns the reciprocal condition number of A, 0 when not factorized.
func (c *Cholesky) Quality() float64 {
	if !c.ok {
		return 0
	}
	return 1 / c.chol.Cond()
}

// QR solves A·x = b in the least-squares sense for an m×n matrix with m ≥ n.
type QR struct {
	qr   mat.QR
	m, n int
	ok   bool
}

// SetA factorizes a. It reports false when a has fewer rows than columns or is not finite.
func (q *QR) SetA(a mat.Matrix) bool {
	q.ok = false
	m, n := a.Dims()
	if m < n || !finite(a) {
		return false
	}
	q.m, q.n = m, n
	q.qr.Factorize(a)
	q.ok = true
	return true
}

// Solve writes the least-squares solution of A·x = b into x.
func (q *QR) Solve(b, x []float64) bool {
	if !q.ok || len(b) != q.m || len(x) != q.n {
		return false
	}
	dst := mat.NewVecDense(q.n, x)
	return solved(q.qr.SolveVecTo(dst, false, mat.NewVecDense(q.m, b)), x)
}

// Quality returns the reciprocal condition number of R, 0 when not factorized.
func (q *QR) Quality() float64 {
	if !q.ok {
		return 0
	}
	return 1 / q.qr.Cond()
}

// solved accepts an ill-conditioned solution as long as it is finite;
// callers judge it through Quality.
func solved(err error, x []float64) bool {
	var cond mat.Condition
	if err != nil && !errors.As(err, &cond) {
		return false
	}
	return !floats.HasNaN(x) && !math.IsInf(floats.Norm(x, math.Inf(1)), 0)
}

func finite(a mat.Matrix) bool {
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := a.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
