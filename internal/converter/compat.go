package converter

import (
	"slices"

	"m2mconv/internal/m2m/soft"
)

// Drivers known to work as memory-to-memory converters.
var compatibleDrivers = []string{
	"mtk-mdp",
	"pxp",
	soft.Driver,
}

// IsCompatible reports whether driver is on the known-good list. Other
// drivers may still work; the converter only warns about them.
func IsCompatible(driver string) bool {
	return slices.Contains(compatibleDrivers, driver)
}
