//go:build linux

// File: affinity/affinity_test.go
// License: Apache-2.0

package affinity

import (
	"runtime"
	"testing"

	"github.com/momentics/hioload-net/api"
	"github.com/stretchr/testify/assert"
)

func TestPinToAllowedCPU(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer runtime.UnlockOSThread()

		cpus, err := Current()
		if !assert.NoError(t, err) || !assert.NotEmpty(t, cpus) {
			return
		}
		if !assert.NoError(t, Pin(cpus[0])) {
			return
		}
		after, err := Current()
		assert.NoError(t, err)
		assert.Equal(t, []int{cpus[0]}, after)
	}()
	<-done
}

func TestPinRejectsNegativeCPU(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer runtime.UnlockOSThread()
		assert.ErrorIs(t, Pin(-1), api.ErrInvalidArgument)
	}()
	<-done
}
