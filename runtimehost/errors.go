package runtimehost

import "errors"

var (
	ErrAssemblyNotFound = errors.New("runtimehost: assembly not loaded")
	ErrTypeNotFound     = errors.New("runtimehost: type not found in module")
)
