// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package problems collects standard least-squares test problems
// from J. J. Moré, B. S. Garbow and K. E. Hillstrom, "Testing Unconstrained
// Optimization Software", ACM TOMS 7 (1981).
package problems

import (
	"math"
	"sort"

	"github.com/curioloop/nlsq/core"
	"github.com/curioloop/nlsq/numdiff"
)

// Problem is a residual function with its analytic Jacobian.
type Problem struct {
	Name     string
	N, M     int
	Start    []float64
	Solution []float64 // nil when the minimizer has no closed form
	Cost     float64   // ½‖𝒇‖² at the minimizer
	Residual func(x, r []float64)
	Jacobian func(x, jac []float64)
}

// LeastSquares returns the problem as a residual function.
// The analytic Jacobian is omitted when numeric is set.
func (p *Problem) LeastSquares(numeric bool) *core.LeastSquares {
	ls := &core.LeastSquares{N: p.N, M: p.M, Residual: p.Residual, Jacobian: p.Jacobian}
	if numeric {
		ls.Jacobian = nil
		ls.Diff = numdiff.Central
	}
	return ls
}

// Minimization returns the problem as the scalar cost ½‖𝒇(𝐱)‖² with gradient 𝐉ᵀ𝒇.
func (p *Problem) Minimization() *core.Minimization {
	r := make([]float64, p.M)
	jac := make([]float64, p.M*p.N)
	return &core.Minimization{
		N: p.N,
		Func: func(x []float64) float64 {
			p.Residual(x, r)
			var f float64
			for _, v := range r {
				f += v * v
			}
			return f / 2
		},
		Gradient: func(x, g []float64) {
			p.Residual(x, r)
			p.Jacobian(x, jac)
			for j := range g {
				g[j] = 0
			}
			for i, ri := range r {
				row := jac[i*p.N : (i+1)*p.N]
				for j, v := range row {
					g[j] += v * ri
				}
			}
		},
	}
}

// Rosenbrock is the banana valley 𝒇 = (10(x₂ - x₁²), 1 - x₁).
func Rosenbrock() Problem {
	return Problem{
		Name: "rosenbrock", N: 2, M: 2,
		Start:    []float64{-1.2, 1},
		Solution: []float64{1, 1},
		Residual: func(x, r []float64) {
			r[0] = 10 * (x[1] - x[0]*x[0])
			r[1] = 1 - x[0]
		},
		Jacobian: func(x, jac []float64) {
			jac[0], jac[1] = -20*x[0], 10
			jac[2], jac[3] = -1, 0
		},
	}
}

// Powell is Powell's singular function. The Jacobian is singular at the minimizer.
func Powell() Problem {
	s5, s10 := math.Sqrt(5), math.Sqrt(10)
	return Problem{
		Name: "powell", N: 4, M: 4,
		Start:    []float64{3, -1, 0, 1},
		Solution: []float64{0, 0, 0, 0},
		Residual: func(x, r []float64) {
			r[0] = x[0] + 10*x[1]
			r[1] = s5 * (x[2] - x[3])
			r[2] = (x[1] - 2*x[2]) * (x[1] - 2*x[2])
			r[3] = s10 * (x[0] - x[3]) * (x[0] - x[3])
		},
		Jacobian: func(x, jac []float64) {
			for i := range jac {
				jac[i] = 0
			}
			jac[0], jac[1] = 1, 10
			jac[6], jac[7] = s5, -s5
			d := 2 * (x[1] - 2*x[2])
			jac[9], jac[10] = d, -2*d
			e := 2 * s10 * (x[0] - x[3])
			jac[12], jac[15] = e, -e
		},
	}
}

func helixAngle(x1, x2 float64) float64 {
	switch {
	case x1 > 0:
		return math.Atan(x2/x1) / (2 * math.Pi)
	case x1 < 0:
		return math.Atan(x2/x1)/(2*math.Pi) + 0.5
	default:
		return math.Copysign(0.25, x2)
	}
}

// HelicalValley is the helical valley function of Fletcher and Powell.
func HelicalValley() Problem {
	return Problem{
		Name: "helical", N: 3, M: 3,
		Start:    []float64{-1, 0, 0},
		Solution: []float64{1, 0, 0},
		Residual: func(x, r []float64) {
			r[0] = 10 * (x[2] - 10*helixAngle(x[0], x[1]))
			r[1] = 10 * (math.Hypot(x[0], x[1]) - 1)
			r[2] = x[2]
		},
		Jacobian: func(x, jac []float64) {
			sq := x[0]*x[0] + x[1]*x[1]
			rho := math.Sqrt(sq)
			jac[0] = 100 * x[1] / (2 * math.Pi * sq)
			jac[1] = -100 * x[0] / (2 * math.Pi * sq)
			jac[2] = 10
			jac[3] = 10 * x[0] / rho
			jac[4] = 10 * x[1] / rho
			jac[5] = 0
			jac[6], jac[7], jac[8] = 0, 0, 1
		},
	}
}

var bardY = [15]float64{
	0.14, 0.18, 0.22, 0.25, 0.29, 0.32, 0.35, 0.39,
	0.37, 0.58, 0.73, 0.96, 1.34, 2.10, 4.39,
}

// Bard is a small data fitting problem with badly scaled parameters.
func Bard() Problem {
	return Problem{
		Name: "bard", N: 3, M: 15,
		Start: []float64{1, 1, 1},
		Cost:  8.21487e-3 / 2,
		Residual: func(x, r []float64) {
			for i := range bardY {
				u := float64(i + 1)
				v := 16 - u
				w := math.Min(u, v)
				r[i] = bardY[i] - (x[0] + u/(v*x[1]+w*x[2]))
			}
		},
		Jacobian: func(x, jac []float64) {
			for i := range bardY {
				u := float64(i + 1)
				v := 16 - u
				w := math.Min(u, v)
				d := v*x[1] + w*x[2]
				jac[3*i] = -1
				jac[3*i+1] = u * v / (d * d)
				jac[3*i+2] = u * w / (d * d)
			}
		},
	}
}

// Quadratic is the convex quadratic ½‖𝐑(𝐱 - 𝐜)‖² with an upper triangular 𝐑.
func Quadratic() Problem {
	R := [3][3]float64{
		{2, 1, 0},
		{0, 3, 1},
		{0, 0, 1},
	}
	c := [3]float64{1, -2, 3}
	return Problem{
		Name: "quadratic", N: 3, M: 3,
		Start:    []float64{10, 10, 10},
		Solution: c[:],
		Residual: func(x, r []float64) {
			for i := range R {
				r[i] = 0
				for j := range R[i] {
					r[i] += R[i][j] * (x[j] - c[j])
				}
			}
		},
		Jacobian: func(x, jac []float64) {
			for i := range R {
				copy(jac[3*i:3*i+3], R[i][:])
			}
		},
	}
}

// Parabola is the one dimensional ½(x - 3)².
func Parabola() Problem {
	return Problem{
		Name: "parabola", N: 1, M: 1,
		Start:    []float64{10},
		Solution: []float64{3},
		Residual: func(x, r []float64) { r[0] = x[0] - 3 },
		Jacobian: func(x, jac []float64) { jac[0] = 1 },
	}
}

var catalog = map[string]func() Problem{
	"rosenbrock": Rosenbrock,
	"powell":     Powell,
	"helical":    HelicalValley,
	"bard":       Bard,
	"quadratic":  Quadratic,
	"parabola":   Parabola,
}

// Lookup returns a fresh copy of the named problem.
func Lookup(name string) (Problem, bool) {
	if f, ok := catalog[name]; ok {
		return f(), true
	}
	return Problem{}, false
}

// Names lists the known problems in lexical order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
