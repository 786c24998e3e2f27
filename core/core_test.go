// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/curioloop/nlsq/numdiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countdown terminates after a fixed number of steps.
type countdown struct {
	left, calls int
	err         error
}

func (c *countdown) Iterate() (bool, error) {
	c.calls++
	if c.left--; c.left <= 0 {
		return true, c.err
	}
	return false, nil
}

func (c *countdown) IsConverged() bool      { return c.left <= 0 && c.err == nil }
func (c *countdown) Warning() string        { return "" }
func (c *countdown) Parameters() []float64  { return nil }
func (c *countdown) FunctionValue() float64 { return 0 }
func (c *countdown) Iterations() int        { return c.calls }

func TestProcess(t *testing.T) {
	c := &countdown{left: 3}
	converged, err := Process(c, 10)
	assert.NoError(t, err)
	assert.True(t, converged)
	assert.Equal(t, 3, c.calls)

	c = &countdown{left: 30}
	converged, err = Process(c, 10)
	assert.NoError(t, err)
	assert.False(t, converged)
	assert.Equal(t, 10, c.calls)

	c = &countdown{left: 2, err: ErrSingularSystem}
	converged, err = Process(c, 10)
	assert.ErrorIs(t, err, ErrSingularSystem)
	assert.False(t, converged)
	assert.Equal(t, 2, c.calls)
}

func TestConfigConverge(t *testing.T) {
	c := DefaultConverge()
	assert.NoError(t, c.Check())

	for _, bad := range []ConfigConverge{
		{FTol: -1, GTol: 0, MaxIterations: 1},
		{FTol: math.NaN(), GTol: 0, MaxIterations: 1},
		{FTol: 0, GTol: math.NaN(), MaxIterations: 1},
		{FTol: 0, GTol: 0, MaxIterations: 0},
	} {
		assert.ErrorIs(t, bad.Check(), ErrConfig)
	}
}

func TestLeastSquares(t *testing.T) {
	residual := func(x, r []float64) {
		r[0] = x[0] * x[1]
		r[1] = math.Sin(x[0])
		r[2] = x[1] * x[1]
	}
	jacobian := func(x, jac []float64) {
		copy(jac, []float64{x[1], x[0], math.Cos(x[0]), 0, 0, 2 * x[1]})
	}

	analytic := &LeastSquares{N: 2, M: 3, Residual: residual, Jacobian: jacobian}
	numeric := &LeastSquares{N: 2, M: 3, Residual: residual, Diff: numdiff.Central}
	require.NoError(t, analytic.Check())
	require.NoError(t, numeric.Check())

	x := []float64{0.7, -1.3}
	want, got := make([]float64, 6), make([]float64, 6)
	analytic.SetInput(x)
	analytic.ComputeJacobian(want)
	numeric.SetInput(x)
	numeric.ComputeJacobian(got)
	assert.InDeltaSlice(t, want, got, 1e-8)

	// the input is copied
	x[0] = 100
	r := make([]float64, 3)
	numeric.ComputeResiduals(r)
	assert.InDelta(t, 0.7*-1.3, r[0], 1e-15)

	assert.ErrorIs(t, (&LeastSquares{N: 2, Residual: residual}).Check(), ErrConfig)
	assert.ErrorIs(t, (&LeastSquares{N: 2, M: 3}).Check(), ErrConfig)
}

func TestMinimization(t *testing.T) {
	fn := func(x []float64) float64 { return math.Exp(x[0]) + x[0]*x[1]*x[1] }
	mz := &Minimization{N: 2, Func: fn}
	require.NoError(t, mz.Check())

	mz.SetInput([]float64{0.5, 2})
	assert.Equal(t, math.Exp(0.5)+2, mz.ComputeFunction())
	g := make([]float64, 2)
	mz.ComputeGradient(g)
	assert.InDeltaSlice(t, []float64{math.Exp(0.5) + 4, 2}, g, 1e-6)

	assert.ErrorIs(t, (&Minimization{N: 2}).Check(), ErrConfig)
	assert.ErrorIs(t, (&Minimization{Func: fn}).Check(), ErrConfig)
}

func TestLogger(t *testing.T) {
	var nop *Logger
	assert.False(t, nop.Enable(LogLast))
	assert.False(t, nop.Every(1))
	nop.Log("ignored %d", 1)

	var buf bytes.Buffer
	log := &Logger{Level: 5, Msg: &buf}
	assert.True(t, log.Enable(LogIter))
	assert.False(t, log.Enable(LogTrace))
	assert.False(t, log.Every(4))
	assert.True(t, log.Every(10))

	log.Vector("X", []float64{1, 2, 3, 4, 5, 6, 7})
	assert.Equal(t, "X = 1.00e+00 2.00e+00 3.00e+00 4.00e+00 5.00e+00 6.00e+00\n      7.00e+00\n", buf.String())

	buf.Reset()
	log.Log("100%%")
	assert.Equal(t, "100%", buf.String())
}

func TestErrorsWrap(t *testing.T) {
	err := fmt.Errorf("%w: %v", ErrConfig, errors.New("detail"))
	assert.ErrorIs(t, err, ErrConfig)
	assert.NotErrorIs(t, err, ErrDimension)

	c := ConfigConverge{FTol: -1, GTol: 0, MaxIterations: 1}
	err = c.Check()
	assert.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, ErrConfig.Error()+": function tolerance must not less than 0", err.Error())
	assert.NotContains(t, err.Error(), "\n")
}

func TestFinite(t *testing.T) {
	assert.True(t, Finite())
	assert.True(t, Finite(1, -2, 0))
	assert.False(t, Finite(1, math.NaN()))
	assert.False(t, Finite(math.Inf(-1)))
}
