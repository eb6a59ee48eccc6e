package inspector

import "errors"

// Static errors for the module inspector.
var (
	ErrRuntimeAssemblyMissing = errors.New("inspector: runtime assembly not found")
	ErrIncompatible           = errors.New("inspector: new image is incompatible with runtime module")
)
