//go:build arm64

package nativepatch

import "math"

// platformPatch computes entry-relative branch offset for arm64,
// constrained the same way as amd64 for this toy runtime: a signed
// 32-bit range (a real ARM64 B instruction's range is wider, but the
// spec fixes the check at 32 bits across platforms).
func platformPatch(entry, target uintptr) error {
	offset := int64(target) - int64(entry)
	if offset > math.MaxInt32 || offset < math.MinInt32 {
		return ErrNativePatchUnsupported
	}
	return nil
}
