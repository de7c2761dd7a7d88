// File: affinity/affinity.go
// License: Apache-2.0
//
// Pinning of the calling OS thread to one logical CPU.

package affinity

import "runtime"

// Pin locks the calling goroutine to its OS thread and binds that thread to
// cpu. The caller stays locked even when binding fails.
func Pin(cpu int) error {
	runtime.LockOSThread()
	return setAffinity(cpu)
}
