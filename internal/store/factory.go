package store

import (
	"fmt"
	"slices"
	"strings"
)

// drivers maps a host.driver config value to the store it opens at a path.
var drivers = map[string]func(path string) (Store, error){
	"bbolt": NewBoltStore,
	"json":  NewJSONStore,
}

// SupportedDrivers lists the accepted host.driver values. bbolt is the
// default; json keeps the whole mirror in one readable file.
var SupportedDrivers = []string{"bbolt", "json"}

// IsSupportedDriver reports whether driver names a known store, ignoring
// case and surrounding space.
func IsSupportedDriver(driver string) bool {
	return slices.Contains(SupportedDrivers, normalizeDriver(driver))
}

// NewStore opens the host run mirror for driver at path.
func NewStore(driver, path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	open, ok := drivers[normalizeDriver(driver)]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver: %q (supported: %s)", driver, strings.Join(SupportedDrivers, ", "))
	}
	return open(path)
}

func normalizeDriver(driver string) string {
	return strings.ToLower(strings.TrimSpace(driver))
}
