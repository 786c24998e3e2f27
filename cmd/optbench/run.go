// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/curioloop/nlsq/core"
	"github.com/curioloop/nlsq/internal/problems"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type runOpts struct {
	configFile string
	solver     string
	problem    string
	numeric    bool
	verbose    int
}

// report is the outcome of a run, printed as YAML.
type report struct {
	Problem    string    `yaml:"problem"`
	Solver     string    `yaml:"solver"`
	Converged  bool      `yaml:"converged"`
	Iterations int       `yaml:"iterations"`
	Cost       float64   `yaml:"cost"`
	X          []float64 `yaml:"x,flow"`
	Warning    string    `yaml:"warning,omitempty"`
	Error      string    `yaml:"error,omitempty"`
}

func newRunCommand() *cobra.Command {
	opts := runOpts{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a solver on a test problem",
		Long: strings.TrimSpace(`
Run a solver on a test problem and print the outcome as YAML.
Settings are read from the YAML file given by --config. Flags that are
set explicitly override the file.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadBenchFile(opts.configFile)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("solver") {
				c.Solver = opts.solver
			}
			if flags.Changed("problem") {
				c.Problem = opts.problem
			}
			if flags.Changed("numeric") {
				c.Numeric = opts.numeric
			}
			if flags.Changed("verbose") {
				c.Verbose = core.LogLevel(opts.verbose)
			}
			out := cmd.OutOrStdout()
			r, err := run(&c, out)
			if err != nil && r == nil {
				return err
			}
			if err := yaml.NewEncoder(out).Encode(r); err != nil {
				return err
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "YAML benchmark file")
	cmd.Flags().StringVarP(&opts.solver, "solver", "s", "lm", "solver, one of "+strings.Join(solverNames, ", "))
	cmd.Flags().StringVarP(&opts.problem, "problem", "p", "rosenbrock", "test problem, see the list command")
	cmd.Flags().BoolVar(&opts.numeric, "numeric", false, "approximate derivatives by central differences")
	cmd.Flags().IntVarP(&opts.verbose, "verbose", "v", int(core.LogNoop), "log level, -1 is silent")
	return cmd
}

// run solves the configured problem. The log goes to w.
// A non-nil report is returned whenever the solver started.
func run(c *benchConfig, w io.Writer) (*report, error) {
	if err := c.Check(); err != nil {
		return nil, err
	}
	p, ok := problems.Lookup(c.Problem)
	if !ok {
		return nil, fmt.Errorf("%w: unknown problem %q", core.ErrConfig, c.Problem)
	}
	x0 := p.Start
	if c.Start != nil {
		if len(c.Start) != p.N {
			return nil, fmt.Errorf("%w: problem %s has %d parameters, start has %d",
				core.ErrDimension, p.Name, p.N, len(c.Start))
		}
		x0 = c.Start
	}

	s, err := c.newSolver(&p)
	if err != nil {
		return nil, err
	}
	s.SetVerbose(&core.Logger{Level: c.Verbose, Msg: w})
	if err := s.Initialize(x0, c.Converge.FTol, c.Converge.GTol); err != nil {
		return nil, err
	}

	converged, err := core.Process(s, c.Converge.MaxIterations)
	r := &report{
		Problem:    p.Name,
		Solver:     c.Solver,
		Converged:  converged,
		Iterations: s.Iterations(),
		Cost:       s.FunctionValue(),
		X:          append([]float64(nil), s.Parameters()...),
		Warning:    s.Warning(),
	}
	if err != nil {
		r.Error = err.Error()
	} else if !converged && r.Warning == "" {
		r.Warning = fmt.Sprintf("stopped after %d iterations", c.Converge.MaxIterations)
	}
	return r, err
}
