//go:build !linux && !darwin && !windows

package resource

import "context"

const sensorRefresh = 0

// readCPUTemp has no sensor to read on this platform.
func readCPUTemp(context.Context) (float64, bool) {
	return 0, false
}
