//go:build !linux

package admission

// HostLoad is unavailable off Linux; callers fall back to slot utilisation.
func HostLoad() (float64, bool) {
	return 0, false
}
