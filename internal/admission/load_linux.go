//go:build linux

package admission

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// sysinfo load averages are fixed point with SI_LOAD_SHIFT = 16.
const loadScale = 1 << 16

// HostLoad reports the 1-minute load average normalised by CPU count.
func HostLoad() (float64, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, false
	}
	cpus := runtime.NumCPU()
	if cpus <= 0 {
		return 0, false
	}
	oneMinute := float64(info.Loads[0]) / loadScale
	return oneMinute / float64(cpus) * 100, true
}
