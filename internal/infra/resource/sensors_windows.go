//go:build windows

package resource

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const thermalZoneQuery = `Get-CimInstance MSAcpi_ThermalZoneTemperature -Namespace root/wmi -ErrorAction SilentlyContinue | Measure-Object -Property CurrentTemperature -Maximum | Select-Object -ExpandProperty Maximum`

// Starting a process per tick is too slow; read in the background instead.
const sensorRefresh = 5 * time.Second

// readCPUTemp asks WMI for the hottest ACPI thermal zone. WMI reports tenths
// of a Kelvin.
func readCPUTemp(ctx context.Context) (float64, bool) {
	out, err := exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", thermalZoneQuery).Output()
	if err != nil {
		return 0, false
	}
	deciK, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, false
	}
	return deciK/10 - 273.15, true
}
