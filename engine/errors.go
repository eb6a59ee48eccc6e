package engine

import "errors"

var (
	// ErrCompileFailed wraps a non-OK compiler.Result.
	ErrCompileFailed = errors.New("engine: compile failed")
	// ErrIncompatible wraps an inspector.Incompatible verdict.
	ErrIncompatible = errors.New("engine: incompatible change")
	// ErrRuntimeModuleMissing is returned when no runtime module is
	// loaded for the requested assembly.
	ErrRuntimeModuleMissing = errors.New("engine: runtime module not loaded for assembly")
)
