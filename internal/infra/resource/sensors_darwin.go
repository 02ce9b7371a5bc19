//go:build darwin

package resource

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Starting a process per tick is too slow; read in the background instead.
const sensorRefresh = 5 * time.Second

// readCPUTemp shells out to osx-cpu-temp, which prints e.g. "65.0°C".
// Without the tool there is no thermal reading.
func readCPUTemp(ctx context.Context) (float64, bool) {
	out, err := exec.CommandContext(ctx, "osx-cpu-temp").Output()
	if err != nil {
		return 0, false
	}
	s := strings.TrimSuffix(strings.TrimSpace(string(out)), "°C")
	c, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return c, true
}
