// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lm

import (
	"errors"
	"fmt"
	"math"

	"github.com/curioloop/nlsq/core"
)

// Dampening selects the matrix 𝐃 added to the normal equations (𝐁 + μ𝐃)Δ𝐱 = -𝐠.
type Dampening int

const (
	// DampenIdentity uses 𝐃 = 𝐈 (Levenberg).
	DampenIdentity Dampening = iota
	// DampenDiagonal uses 𝐃 = diag(𝐁) clamped into [DiagonalMin, DiagonalMax] (Marquardt).
	// It makes the step invariant to the scale of the parameters.
	DampenDiagonal
)

var dampeningNames = [...]string{
	DampenIdentity: "identity",
	DampenDiagonal: "diagonal",
}

// String returns the YAML name of the dampening.
func (d Dampening) String() string {
	if d >= 0 && int(d) < len(dampeningNames) {
		return dampeningNames[d]
	}
	return fmt.Sprintf("Dampening(%d)", int(d))
}

// MarshalText implements encoding.TextMarshaler.
func (d Dampening) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Dampening) UnmarshalText(text []byte) error {
	for i, name := range dampeningNames {
		if name == string(text) {
			*d = Dampening(i)
			return nil
		}
	}
	return fmt.Errorf("unknown dampening %q", text)
}

// Config specifies the dampening control.
type Config struct {
	// DampeningInitial is the first μ.
	DampeningInitial float64 `yaml:"dampeningInitial"`
	// Dampening selects μ·𝐈 or μ·diag(𝐁).
	Dampening Dampening `yaml:"dampening"`
	// DiagonalMin and DiagonalMax clamp diag(𝐁) when Dampening is DampenDiagonal.
	DiagonalMin float64 `yaml:"diagonalMin"`
	DiagonalMax float64 `yaml:"diagonalMax"`
	// MaxDampeningRetries bounds how many times μ is multiplied by 10 while the
	// dampened system stays unsolvable.
	MaxDampeningRetries int `yaml:"maxDampeningRetries"`
}

// DefaultConfig returns the settings used for bundle adjustment.
func DefaultConfig() Config {
	return Config{
		DampeningInitial:    1e-3,
		Dampening:           DampenIdentity,
		DiagonalMin:         1e-6,
		DiagonalMax:         1e32,
		MaxDampeningRetries: 1000,
	}
}

// Check validates the configuration.
func (c *Config) Check() (err error) {
	switch {
	case !(c.DampeningInitial >= 0) || math.IsInf(c.DampeningInitial, 0):
		err = errors.New("initial dampening must be a finite number not less than 0")
	case c.Dampening != DampenIdentity && c.Dampening != DampenDiagonal:
		err = fmt.Errorf("unknown dampening %v", c.Dampening)
	case !(c.DiagonalMin > 0 && c.DiagonalMax >= c.DiagonalMin):
		err = errors.New("must satisfy 0 < diagonal min <= diagonal max")
	case c.MaxDampeningRetries <= 0:
		err = errors.New("max dampening retries must greater than 0")
	}
	if err != nil {
		err = fmt.Errorf("%w: %v", core.ErrConfig, err)
	}
	return
}
