package entrypoint

import "errors"

var ErrScannerAlreadyRunning = errors.New("entrypoint: scanner already running")

// ErrNoLifecycleHook is returned by LifecycleProxy.Invoke when no method
// id is registered for the requested lifecycle kind.
var ErrNoLifecycleHook = errors.New("entrypoint: no lifecycle hook registered for kind")
