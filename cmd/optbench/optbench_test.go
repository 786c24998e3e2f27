// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/curioloop/nlsq/bfgs"
	"github.com/curioloop/nlsq/core"
	"github.com/curioloop/nlsq/internal/problems"
	"github.com/curioloop/nlsq/lm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadBenchConfig(t *testing.T) {
	c, err := loadBenchConfig(strings.NewReader(`
solver: bfgs
problem: helical
numeric: true
converge:
  gtol: 1.0e-9
lm:
  dampening: diagonal
bfgs:
  lineSearch: more94
`))
	require.NoError(t, err)
	assert.Equal(t, "bfgs", c.Solver)
	assert.Equal(t, "helical", c.Problem)
	assert.True(t, c.Numeric)
	assert.Equal(t, 1e-9, c.Converge.GTol)
	// untouched fields keep their defaults
	assert.Equal(t, core.DefaultConverge().FTol, c.Converge.FTol)
	assert.Equal(t, lm.DampenDiagonal, c.LM.Dampening)
	assert.Equal(t, lm.DefaultConfig().DampeningInitial, c.LM.DampeningInitial)
	assert.Equal(t, bfgs.SearchMore94, c.BFGS.LineSearch)
	assert.NoError(t, c.Check())

	c, err = loadBenchConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, defaultBenchConfig(), c)

	_, err = loadBenchConfig(strings.NewReader("solvr: lm\n"))
	assert.Error(t, err)

	c = defaultBenchConfig()
	c.Solver = "newton"
	assert.ErrorIs(t, c.Check(), core.ErrConfig)
}

func TestRunEverySolver(t *testing.T) {
	for _, name := range solverNames {
		for _, numeric := range []bool{false, true} {
			c := defaultBenchConfig()
			c.Solver, c.Problem, c.Numeric = name, "quadratic", numeric
			c.Converge.GTol = 1e-8
			c.Converge.MaxIterations = 5000

			r, err := run(&c, io.Discard)
			require.NoError(t, err, name)
			assert.True(t, r.Converged, "%s: %s", name, r.Warning)
			assert.InDeltaSlice(t, []float64{1, -2, 3}, r.X, 1e-4, name)
		}
	}
}

func TestRunErrors(t *testing.T) {
	c := defaultBenchConfig()
	c.Problem = "unknown"
	_, err := run(&c, io.Discard)
	assert.ErrorIs(t, err, core.ErrConfig)

	c = defaultBenchConfig()
	c.Start = []float64{1, 2, 3}
	_, err = run(&c, io.Discard)
	assert.ErrorIs(t, err, core.ErrDimension)

	c = defaultBenchConfig()
	c.Converge.MaxIterations = 2
	r, err := run(&c, io.Discard)
	require.NoError(t, err)
	assert.False(t, r.Converged)
	assert.Equal(t, "stopped after 2 iterations", r.Warning)
}

func TestRunCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte("solver: cauchy\nproblem: rosenbrock\nverbose: 0\n"), 0o644))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"run", "--config", path, "--solver", "lm", "--problem", "parabola"})
	require.NoError(t, cmd.Execute())

	// the exit summary precedes the report
	text := out.String()
	assert.Contains(t, text, "LEVENBERG-MARQUARDT EXIT")
	doc := text[strings.Index(text, "problem:"):]

	var r report
	require.NoError(t, yaml.Unmarshal([]byte(doc), &r))
	assert.Equal(t, "parabola", r.Problem)
	assert.Equal(t, "lm", r.Solver)
	assert.True(t, r.Converged)
	assert.InDeltaSlice(t, []float64{3}, r.X, 1e-8)
}

func TestListCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"list"})
	require.NoError(t, cmd.Execute())

	for _, name := range problems.Names() {
		assert.Contains(t, out.String(), name)
	}
	for _, name := range solverNames {
		assert.Contains(t, out.String(), name)
	}
}
