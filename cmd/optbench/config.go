// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/curioloop/nlsq/bfgs"
	"github.com/curioloop/nlsq/core"
	"github.com/curioloop/nlsq/internal/problems"
	"github.com/curioloop/nlsq/lm"
	"github.com/curioloop/nlsq/numdiff"
	"github.com/curioloop/nlsq/trustregion"
	"gopkg.in/yaml.v3"
)

var solverNames = []string{"lm", "dogleg", "dogleg-qr", "cauchy", "tr-bfgs", "bfgs"}

// benchConfig is the content of a benchmark file.
type benchConfig struct {
	Solver  string    `yaml:"solver"`
	Problem string    `yaml:"problem"`
	Start   []float64 `yaml:"start,omitempty"`
	// Numeric replaces the analytic derivatives with central differences.
	Numeric     bool                `yaml:"numeric"`
	Verbose     core.LogLevel       `yaml:"verbose"`
	Converge    core.ConfigConverge `yaml:"converge"`
	TrustRegion trustregion.Config  `yaml:"trustRegion"`
	LM          lm.Config           `yaml:"lm"`
	BFGS        bfgs.Config         `yaml:"bfgs"`
}

func defaultBenchConfig() benchConfig {
	return benchConfig{
		Solver:      "lm",
		Problem:     "rosenbrock",
		Verbose:     core.LogNoop,
		Converge:    core.DefaultConverge(),
		TrustRegion: trustregion.DefaultConfig(),
		LM:          lm.DefaultConfig(),
		BFGS:        bfgs.DefaultConfig(),
	}
}

// loadBenchConfig overlays the YAML document in r on the defaults.
func loadBenchConfig(r io.Reader) (benchConfig, error) {
	c := defaultBenchConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

func loadBenchFile(path string) (benchConfig, error) {
	if path == "" {
		return defaultBenchConfig(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return benchConfig{}, err
	}
	defer f.Close()
	return loadBenchConfig(f)
}

func (c *benchConfig) Check() (err error) {
	switch {
	case !validSolver(c.Solver):
		err = fmt.Errorf("unknown solver %q", c.Solver)
	case c.Start != nil && len(c.Start) == 0:
		err = errors.New("start must not be empty")
	}
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfig, err)
	}
	return c.Converge.Check()
}

func validSolver(name string) bool {
	for _, s := range solverNames {
		if s == name {
			return true
		}
	}
	return false
}

// solver is implemented by every iterative solver of the module.
type solver interface {
	core.Iterative
	Initialize(x0 []float64, ftol, gtol float64) error
	SetVerbose(log *core.Logger)
}

func (c *benchConfig) newSolver(p *problems.Problem) (solver, error) {
	switch c.Solver {
	case "lm":
		return lm.New(c.leastSquares(p), c.LM)
	case "dogleg":
		return trustregion.NewLeastSquares(c.leastSquares(p), &trustregion.Dogleg{}, c.TrustRegion)
	case "dogleg-qr":
		return trustregion.NewLeastSquares(c.leastSquares(p), &trustregion.Dogleg{LeastSquares: true}, c.TrustRegion)
	case "cauchy":
		return trustregion.NewLeastSquares(c.leastSquares(p), &trustregion.Cauchy{}, c.TrustRegion)
	case "tr-bfgs":
		return trustregion.NewMinimization(c.minimization(p), &trustregion.Dogleg{}, c.TrustRegion)
	case "bfgs":
		return bfgs.New(c.minimization(p), c.BFGS)
	default:
		return nil, fmt.Errorf("%w: unknown solver %q", core.ErrConfig, c.Solver)
	}
}

func (c *benchConfig) leastSquares(p *problems.Problem) *core.LeastSquares {
	return p.LeastSquares(c.Numeric)
}

func (c *benchConfig) minimization(p *problems.Problem) *core.Minimization {
	mz := p.Minimization()
	if c.Numeric {
		mz.Gradient, mz.Diff = nil, numdiff.Central
	}
	return mz
}
