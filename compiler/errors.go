package compiler

import "errors"

var (
	ErrNoFrontend  = errors.New("compiler: no frontend configured")
	ErrStaleResult = errors.New("compiler: result superseded by a newer request for the same source path")
	ErrQueueClosed = errors.New("compiler: driver is closed")
)
