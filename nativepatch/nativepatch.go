// Package nativepatch is the single, well-typed primitive confined to
// the native branch check: computing a relative branch between two
// addresses and checking that it fits the branch encoding. It writes no
// memory.
//
// It backs the one case the installer cannot solve by swapping a
// *il.Method's Body pointer: a lifecycle entry point with no host-visible
// method to overwrite at all. Everything else in the engine (detours,
// ordinary trampolines) goes through runtimehost.Host instead.
package nativepatch

import "sync"

// Patch computes the relative branch offset from entry to target and
// checks that it fits a signed 32-bit integer. It writes no branch and
// changes no page protection. platformPatch is build-tag gated per
// amd64/arm64; any other platform, or an offset that does not fit,
// returns ErrNativePatchUnsupported.
func Patch(entry, target uintptr) error {
	return platformPatch(entry, target)
}

type fallbackHandle struct {
	owner, name string
}

func (h *fallbackHandle) Release() {
	unregisterFallback(h.owner, h.name)
}

var (
	fallbackMu  sync.Mutex
	fallbackTab = map[string]func(instance any, args []any) (any, error){}
)

func fallbackKey(owner, name string) string { return owner + "::" + name }

func unregisterFallback(owner, name string) {
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	delete(fallbackTab, fallbackKey(owner, name))
}

// InstallTrampolineFallback installs a lifecycle trampoline for a method
// that does not exist as a host-visible entry point at all. There is no
// real address to branch from, so this toy runtime synthesizes one from
// the method's identity purely to exercise Patch's offset-fits-32-bits
// check; the actual forwarding is done through the registry, the same
// outcome a real native branch would produce.
func InstallTrampolineFallback(ownerFullName, methodName string, stub func(instance any, args []any) (any, error)) (interface{ Release() }, error) {
	entry := syntheticAddress(ownerFullName, methodName)
	target := syntheticAddress("$dispatcher", methodName)
	if err := Patch(entry, target); err != nil {
		return nil, err
	}

	fallbackMu.Lock()
	fallbackTab[fallbackKey(ownerFullName, methodName)] = stub
	fallbackMu.Unlock()

	return &fallbackHandle{owner: ownerFullName, name: methodName}, nil
}

// InvokeFallback calls a stub registered via InstallTrampolineFallback,
// if any. Used by the runtime host's scheduler simulation in tests.
func InvokeFallback(ownerFullName, methodName string, instance any, args []any) (any, bool, error) {
	fallbackMu.Lock()
	stub, ok := fallbackTab[fallbackKey(ownerFullName, methodName)]
	fallbackMu.Unlock()
	if !ok {
		return nil, false, nil
	}
	v, err := stub(instance, args)
	return v, true, err
}

func syntheticAddress(owner, name string) uintptr {
	h := uintptr(2166136261)
	for _, c := range owner + "::" + name {
		h ^= uintptr(c)
		h *= 16777619
	}
	// Masked to 31 bits so any two synthesized addresses are within a
	// signed 32-bit offset of each other.
	return h & 0x7fffffff
}
