//go:build linux

// File: affinity/affinity_linux.go
// License: Apache-2.0

package affinity

import (
	"github.com/momentics/hioload-net/api"
	"golang.org/x/sys/unix"
)

func setAffinity(cpu int) error {
	if cpu < 0 {
		return api.NewError(api.CodeInvalidArgument, "affinity: negative cpu").WithContext("cpu", cpu)
	}
	var set unix.CPUSet
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return api.OSError("sched_setaffinity", err).WithContext("cpu", cpu)
	}
	return nil
}

// Current returns the CPUs the calling thread may run on.
func Current() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, api.OSError("sched_getaffinity", err)
	}
	var cpus []int
	for i := 0; i < len(set)*64 && len(cpus) < set.Count(); i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}
