//go:build linux

package probe

import (
	"context"
	"os"
	"strconv"
	"strings"
)

const linuxThermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// readCPUTemperature reads the first thermal zone, which reports millidegrees
// Celsius on every Linux system this has been observed on.
func readCPUTemperature(_ context.Context) (float64, error) {
	data, err := os.ReadFile(linuxThermalZonePath)
	if err != nil {
		return 0, err
	}

	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, err
	}

	return milli / 1000.0, nil
}
