//go:build linux

package resource

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const thermalRoot = "/sys/class/thermal"

// sysfs reads are cheap enough to do on every poll.
const sensorRefresh = 0

// readCPUTemp returns the hottest CPU thermal zone. Zones whose type does not
// look like a CPU sensor are ignored unless nothing else exists.
func readCPUTemp(ctx context.Context) (float64, bool) {
	return hottestZone(thermalRoot)
}

func hottestZone(root string) (float64, bool) {
	zones, _ := filepath.Glob(filepath.Join(root, "thermal_zone*"))
	var cpuMax, anyMax float64
	var cpuOK, anyOK bool
	for _, z := range zones {
		c, ok := readZone(z)
		if !ok {
			continue
		}
		if !anyOK || c > anyMax {
			anyMax, anyOK = c, true
		}
		if isCPUZone(z) && (!cpuOK || c > cpuMax) {
			cpuMax, cpuOK = c, true
		}
	}
	if cpuOK {
		return cpuMax, true
	}
	return anyMax, anyOK
}

func readZone(dir string) (float64, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "temp"))
	if err != nil {
		return 0, false
	}
	milliC, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return float64(milliC) / 1000, true
}

func isCPUZone(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, "type"))
	if err != nil {
		return false
	}
	t := strings.ToLower(strings.TrimSpace(string(data)))
	return strings.Contains(t, "cpu") || strings.Contains(t, "pkg") ||
		strings.Contains(t, "k10temp") || strings.Contains(t, "soc")
}
