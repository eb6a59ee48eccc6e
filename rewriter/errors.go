package rewriter

import "errors"

var (
	ErrFieldAddressUnsupported = errors.New("rewriter: field address access not supported for a missing field")
	ErrByRefLoweringUnsupported = errors.New("rewriter: dispatch lowering does not support by-ref or pointer arguments")
)
