// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"fmt"
	"io"
	"os"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only the exit summary
	LogLast LogLevel = 0
	// LogIter print f, |g| and the step control every `level` iterations for any (0 < level < 99)
	LogIter LogLevel = 1
	// LogTrace print details of every iteration including rejected steps
	LogTrace LogLevel = 99
	// LogVerbose print also the parameter and gradient vectors
	LogVerbose LogLevel = 101
)

// Logger handles logging output for the solvers.
// A nil *Logger is silent. Note the writer must be thread-safe when
// shared by solvers running in different goroutines.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages, os.Stdout when nil.
}

// Enable reports whether messages of the given level are printed.
func (l *Logger) Enable(level LogLevel) bool {
	return l != nil && l.Level >= level
}

// Every reports whether the iteration line of iter should be printed.
func (l *Logger) Every(iter int) bool {
	switch {
	case !l.Enable(LogIter):
		return false
	case l.Level >= LogTrace:
		return true
	default:
		return iter%int(l.Level) == 0
	}
}

// Log writes a printf-style message regardless of the level.
func (l *Logger) Log(format string, a ...any) {
	if l == nil {
		return
	}
	w := l.Msg
	if w == nil {
		w = os.Stdout
	}
	_, _ = fmt.Fprintf(w, format, a...)
}

// Vector writes a labeled n-vector, six values per line.
func (l *Logger) Vector(label string, v []float64) {
	l.Log("%s =", label)
	for i, x := range v {
		l.Log(" %.2e", x)
		if (i+1)%6 == 0 && i+1 < len(v) {
			l.Log("\n     ")
		}
	}
	l.Log("\n")
}
