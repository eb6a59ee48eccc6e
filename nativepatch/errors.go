package nativepatch

import "errors"

// ErrNativePatchUnsupported is returned on any platform other than
// amd64/arm64, or when the computed relative offset does not fit a
// signed 32-bit integer.
var ErrNativePatchUnsupported = errors.New("nativepatch: native code patching not supported on this platform or offset")
