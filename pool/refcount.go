// File: pool/refcount.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

// Release drops one reference of msg if it is reference counted; other
// values are ignored.
func Release(msg any) error {
	if rc, ok := msg.(ReferenceCounted); ok {
		return rc.Release()
	}
	return nil
}

// Retain adds one reference to msg if it is reference counted.
func Retain(msg any) error {
	if rc, ok := msg.(ReferenceCounted); ok {
		return rc.Retain()
	}
	return nil
}

// SafeRelease releases msg and swallows ownership errors; they have already
// been reported by the allocator.
func SafeRelease(msg any) {
	_ = Release(msg)
}
