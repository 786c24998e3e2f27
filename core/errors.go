// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import "errors"

// Solvers wrap these sentinels with context; match them with errors.Is.
// A rejected step is ordinary control flow and never produces an error.
var (
	// ErrSingularSystem is returned when the linear system stays unsolvable after
	// the maximum dampening escalation. The last estimate is unreliable.
	ErrSingularSystem = errors.New("nlsq: singular linear system")

	// ErrLineSearchFailure is returned when the line search exhausts its budget
	// without meeting the Wolfe conditions. The last accepted iterate is kept.
	ErrLineSearchFailure = errors.New("nlsq: line search failed")

	// ErrNumericalInstability is returned when NaN or Inf shows up in the
	// dampening, the step or the candidate cost.
	ErrNumericalInstability = errors.New("nlsq: numerical instability")

	// ErrDimension signals a parameter vector that does not match the function.
	ErrDimension = errors.New("nlsq: dimension mismatch")

	// ErrNotInitialized signals Iterate called before Initialize.
	ErrNotInitialized = errors.New("nlsq: solver not initialized")

	// ErrConfig signals an invalid configuration.
	ErrConfig = errors.New("nlsq: invalid configuration")
)
