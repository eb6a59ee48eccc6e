package installer

import "errors"

var (
	ErrAssemblyNotFound = errors.New("installer: runtime assembly not loaded")
	ErrDetourFailed     = errors.New("installer: detour install failed")
)
