// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trustregion

import (
	"bytes"
	"math"
	"testing"

	"github.com/curioloop/nlsq/core"
	"github.com/curioloop/nlsq/internal/problems"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder keeps the predicted reduction of every computed step.
type recorder struct {
	*Dogleg
	predicted []float64
}

func (r *recorder) ComputeStep(radius float64, step []float64) {
	r.Dogleg.ComputeStep(radius, step)
	r.predicted = append(r.predicted, r.Dogleg.PredictedReduction())
}

func TestConvexQuadratic(t *testing.T) {
	for _, lsq := range []bool{false, true} {
		p := problems.Quadratic()
		rec := &recorder{Dogleg: &Dogleg{LeastSquares: lsq}}
		s, err := NewLeastSquares(p.LeastSquares(false), rec, DefaultConfig())
		require.NoError(t, err)
		require.NoError(t, s.Initialize(p.Start, 1e-12, 1e-9))

		converged, err := core.Process(s, p.N+1)
		require.NoError(t, err)
		assert.True(t, converged)
		assert.LessOrEqual(t, s.Iterations(), p.N+1)
		assert.InDeltaSlice(t, p.Solution, s.Parameters(), 1e-9)
		assert.InDelta(t, 0, s.FunctionValue(), 1e-18)
		for _, v := range rec.predicted {
			assert.GreaterOrEqual(t, v, 0.0)
		}
	}
}

func TestLeastSquaresProblems(t *testing.T) {
	steps := map[string]func() Step{
		"dogleg":    func() Step { return &Dogleg{} },
		"dogleg-qr": func() Step { return &Dogleg{LeastSquares: true} },
	}
	for name, newStep := range steps {
		for _, pn := range []string{"rosenbrock", "powell", "helical", "bard"} {
			t.Run(name+"/"+pn, func(t *testing.T) {
				p, _ := problems.Lookup(pn)
				s, err := NewLeastSquares(p.LeastSquares(false), newStep(), DefaultConfig())
				require.NoError(t, err)
				require.NoError(t, s.Initialize(p.Start, 1e-12, 1e-10))

				converged, err := core.Process(s, 500)
				require.NoError(t, err)
				assert.True(t, converged, s.Warning())
				assert.InDelta(t, p.Cost, s.FunctionValue(), 1e-8)
				if pn == "powell" {
					for _, v := range s.Parameters() {
						assert.InDelta(t, 0, v, 1e-2)
					}
				} else if p.Solution != nil {
					assert.InDeltaSlice(t, p.Solution, s.Parameters(), 1e-6)
				}
			})
		}
	}
}

func TestCauchyQuadratic(t *testing.T) {
	p := problems.Quadratic()
	s, err := NewLeastSquares(p.LeastSquares(false), &Cauchy{}, Config{RegionInitial: 1, RegionMaximum: 100})
	require.NoError(t, err)
	require.NoError(t, s.Initialize(p.Start, 0, 1e-8))

	converged, err := core.Process(s, 1000)
	require.NoError(t, err)
	assert.True(t, converged)
	assert.InDeltaSlice(t, p.Solution, s.Parameters(), 1e-6)
	assert.LessOrEqual(t, s.Radius(), 100.0)
}

func TestMinimizationRosenbrock(t *testing.T) {
	p := problems.Rosenbrock()
	s, err := NewMinimization(p.Minimization(), &Dogleg{}, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, s.Initialize(p.Start, 0, 1e-8))

	converged, err := core.Process(s, 1000)
	require.NoError(t, err)
	assert.True(t, converged, s.Warning())
	assert.InDeltaSlice(t, p.Solution, s.Parameters(), 1e-4)
}

func TestRegionMaximum(t *testing.T) {
	p := problems.Rosenbrock()
	config := DefaultConfig()
	config.RegionMaximum = 0.5
	s, err := NewLeastSquares(p.LeastSquares(false), &Dogleg{}, config)
	require.NoError(t, err)
	require.NoError(t, s.Initialize(p.Start, 1e-12, 1e-8))

	done := false
	for i := 0; i < 1000 && !done; i++ {
		x := append([]float64(nil), s.Parameters()...)
		done, err = s.Iterate()
		require.NoError(t, err)
		assert.LessOrEqual(t, s.Radius(), 0.5)

		var dist float64
		for j, v := range s.Parameters() {
			dist += (v - x[j]) * (v - x[j])
		}
		assert.LessOrEqual(t, math.Sqrt(dist), 0.5*(1+1e-12), "iteration %d", i)
	}
	assert.True(t, s.IsConverged(), s.Warning())
	assert.InDeltaSlice(t, p.Solution, s.Parameters(), 1e-4)
}

func TestIdempotence(t *testing.T) {
	p := problems.Rosenbrock()
	s, err := NewLeastSquares(p.LeastSquares(true), &Dogleg{}, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, s.Initialize(p.Start, 1e-12, 1e-8))

	converged, err := core.Process(s, 200)
	require.NoError(t, err)
	require.True(t, converged)

	x := append([]float64(nil), s.Parameters()...)
	f, iter := s.FunctionValue(), s.Iterations()
	for i := 0; i < 3; i++ {
		done, err := s.Iterate()
		assert.True(t, done)
		assert.NoError(t, err)
	}
	assert.Equal(t, x, s.Parameters())
	assert.Equal(t, f, s.FunctionValue())
	assert.Equal(t, iter, s.Iterations())
	assert.True(t, s.IsConverged())
}

func TestRadiusCollapse(t *testing.T) {
	// the Jacobian has the wrong sign so every step increases the cost
	fn := &core.LeastSquares{
		N: 1, M: 1,
		Residual: func(x, r []float64) { r[0] = x[0] - 3 },
		Jacobian: func(x, jac []float64) { jac[0] = -1 },
	}
	s, err := NewLeastSquares(fn, &Dogleg{}, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, s.Initialize([]float64{10}, 1e-12, 1e-12))

	converged, err := core.Process(s, 500)
	assert.NoError(t, err)
	assert.False(t, converged)
	assert.Equal(t, "trust region radius collapsed", s.Warning())
	assert.Equal(t, []float64{10}, s.Parameters())
}

func TestErrors(t *testing.T) {
	p := problems.Parabola()

	_, err := NewLeastSquares(p.LeastSquares(false), nil, DefaultConfig())
	assert.ErrorIs(t, err, core.ErrConfig)
	_, err = NewLeastSquares(p.LeastSquares(false), &Cauchy{}, Config{RegionInitial: 10, RegionMaximum: 1})
	assert.ErrorIs(t, err, core.ErrConfig)
	_, err = NewMinimization(nil, &Cauchy{}, DefaultConfig())
	assert.ErrorIs(t, err, core.ErrConfig)

	s, err := NewLeastSquares(p.LeastSquares(false), &Dogleg{}, DefaultConfig())
	require.NoError(t, err)
	done, err := s.Iterate()
	assert.True(t, done)
	assert.ErrorIs(t, err, core.ErrNotInitialized)

	assert.ErrorIs(t, s.Initialize([]float64{1, 2}, 0, 0), core.ErrDimension)
	assert.ErrorIs(t, s.Initialize([]float64{1}, -1, 0), core.ErrConfig)

	t.Run("nan candidate", func(t *testing.T) {
		fn := &core.LeastSquares{
			N: 1, M: 1,
			Residual: func(x, r []float64) {
				r[0] = x[0] - 3
				if x[0] < 5 {
					r[0] = math.NaN()
				}
			},
			Jacobian: func(x, jac []float64) { jac[0] = 1 },
		}
		s, err := NewLeastSquares(fn, &Dogleg{}, DefaultConfig())
		require.NoError(t, err)
		require.NoError(t, s.Initialize([]float64{10}, 0, 0))

		done, err := s.Iterate()
		assert.True(t, done)
		assert.ErrorIs(t, err, core.ErrNumericalInstability)
		assert.False(t, s.IsConverged())
		assert.Equal(t, []float64{10}, s.Parameters())

		// the failure is sticky
		_, again := s.Iterate()
		assert.Equal(t, err, again)
	})

	t.Run("nan start", func(t *testing.T) {
		fn := &core.LeastSquares{N: 1, M: 1, Residual: func(x, r []float64) { r[0] = math.NaN() }}
		s, err := NewLeastSquares(fn, &Dogleg{}, DefaultConfig())
		require.NoError(t, err)
		assert.ErrorIs(t, s.Initialize([]float64{10}, 0, 0), core.ErrNumericalInstability)
	})
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	p := problems.Rosenbrock()
	s, err := NewLeastSquares(p.LeastSquares(false), &Dogleg{}, DefaultConfig())
	require.NoError(t, err)
	s.SetVerbose(&core.Logger{Level: core.LogIter, Msg: &buf})
	require.NoError(t, s.Initialize(p.Start, 1e-12, 1e-10))
	_, err = core.Process(s, 100)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "TRUST REGION  N = 2")
	assert.Contains(t, buf.String(), "TRUST REGION EXIT")
}
