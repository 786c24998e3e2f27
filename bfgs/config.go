// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bfgs

import (
	"errors"
	"fmt"
	"math"

	"github.com/curioloop/nlsq/core"
	"github.com/curioloop/nlsq/linesearch"
	"gonum.org/v1/gonum/mat"
)

// Search selects the line search algorithm.
type Search int

const (
	// SearchFletcher86 is the bracket and section search.
	SearchFletcher86 Search = iota
	// SearchMore94 is the Moré-Thuente search.
	SearchMore94
)

var searchNames = [...]string{
	SearchFletcher86: "fletcher86",
	SearchMore94:     "more94",
}

// String returns the YAML name of the line search.
func (s Search) String() string {
	if s >= 0 && int(s) < len(searchNames) {
		return searchNames[s]
	}
	return fmt.Sprintf("Search(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Search) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Search) UnmarshalText(text []byte) error {
	for i, name := range searchNames {
		if name == string(text) {
			*s = Search(i)
			return nil
		}
	}
	return fmt.Errorf("unknown line search %q", text)
}

// Config specifies the line search and the initial inverse Hessian.
type Config struct {
	LineSearch Search `yaml:"lineSearch"`
	// FuncMinimum is a lower bound of the cost. Reaching it stops the line search.
	FuncMinimum float64 `yaml:"funcMinimum"`
	// LineFTol is the sufficient decrease tolerance of the line search.
	LineFTol float64 `yaml:"lineFTol"`
	// LineGTol is the curvature tolerance of the line search.
	LineGTol float64 `yaml:"lineGTol"`
	// InitialInverseHessian is a symmetric positive definite 𝐇₀. The identity is used when nil.
	InitialInverseHessian *mat.SymDense `yaml:"-"`
}

// DefaultConfig returns the tolerances recommended by Fletcher.
func DefaultConfig() Config {
	return Config{
		LineSearch:  SearchFletcher86,
		FuncMinimum: -math.MaxFloat64,
		LineFTol:    1e-3,
		LineGTol:    0.9,
	}
}

// Check validates the configuration.
func (c *Config) Check() (err error) {
	switch {
	case c.LineSearch != SearchFletcher86 && c.LineSearch != SearchMore94:
		err = fmt.Errorf("unknown line search %v", c.LineSearch)
	case math.IsNaN(c.FuncMinimum):
		err = errors.New("function minimum must be a number")
	case !(c.LineFTol > 0 && c.LineFTol < 0.5):
		err = errors.New("line ftol must in (0, 0.5)")
	case !(c.LineGTol > c.LineFTol && c.LineGTol < 1):
		err = errors.New("line gtol must in (line ftol, 1)")
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", core.ErrConfig, err)
	}
	return
}

func (c *Config) newLineSearch() (linesearch.LineSearch, error) {
	switch c.LineSearch {
	case SearchFletcher86:
		lc := linesearch.DefaultFletcher86()
		lc.FTol, lc.GTol, lc.FMin = c.LineFTol, c.LineGTol, c.FuncMinimum
		return linesearch.NewFletcher86(lc)
	case SearchMore94:
		lc := linesearch.DefaultMore94()
		lc.FTol, lc.GTol = c.LineFTol, c.LineGTol
		return linesearch.NewMore94(lc)
	default:
		panic("unknown line search")
	}
}
