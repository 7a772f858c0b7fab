package taptopay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aussiebroadwan/arise/pkg/domain"
)

const (
	// MinModelMajor is the first iPhone generation with Tap to Pay (XS).
	MinModelMajor = 11

	// MinOSMajor is the minimum supported iOS major version.
	MinOSMajor = 18
)

// Platform supplies local device facts. Reading them must not prompt the user.
type Platform interface {
	DeviceModel() string
	OSVersion() string
	LocationPermission() domain.LocationPermission
	EntitlementAvailable() bool
}

// StaticPlatform is a Platform with fixed values, used by hosts that learn
// the facts from configuration.
type StaticPlatform struct {
	Model       string
	Version     string
	Location    domain.LocationPermission
	Entitlement bool
}

func (p StaticPlatform) DeviceModel() string { return p.Model }
func (p StaticPlatform) OSVersion() string   { return p.Version }
func (p StaticPlatform) LocationPermission() domain.LocationPermission {
	return p.Location
}
func (p StaticPlatform) EntitlementAvailable() bool { return p.Entitlement }

// CheckCompatibility evaluates the four local checks. It performs no I/O.
func CheckCompatibility(p Platform) domain.TapToPayCompatibility {
	var reasons []string

	model := p.DeviceModel()
	modelOK := false
	if major, ok := parseModelMajor(model); !ok {
		reasons = append(reasons, fmt.Sprintf("unsupported device model %q, an iPhone is required", model))
	} else if major < MinModelMajor {
		reasons = append(reasons, "iPhone XS or later is required")
	} else {
		modelOK = true
	}

	version := p.OSVersion()
	osOK := false
	if major, ok := parseMajorVersion(version); !ok || major < MinOSMajor {
		reasons = append(reasons, fmt.Sprintf("iOS %d or later is required (found %q)", MinOSMajor, version))
	} else {
		osOK = true
	}

	location := p.LocationPermission()
	if location == domain.LocationDenied {
		reasons = append(reasons, "location permission has been denied")
	}

	entitled := p.EntitlementAvailable()
	if !entitled {
		reasons = append(reasons, "the Tap to Pay entitlement is not available")
	}

	return domain.TapToPayCompatibility{
		DeviceModelOK:        modelOK,
		OSVersionOK:          osOK,
		LocationPermission:   location,
		EntitlementAvailable: entitled,
		IsCompatible:         len(reasons) == 0,
		Reasons:              reasons,
	}
}

// parseModelMajor parses "iPhone<major>,<minor>".
func parseModelMajor(model string) (int, bool) {
	rest, ok := strings.CutPrefix(model, "iPhone")
	if !ok {
		return 0, false
	}
	majorStr, minorStr, ok := strings.Cut(rest, ",")
	if !ok {
		return 0, false
	}
	major, err := strconv.Atoi(majorStr)
	if err != nil || major <= 0 {
		return 0, false
	}
	if _, err := strconv.Atoi(minorStr); err != nil {
		return 0, false
	}
	return major, true
}

// parseMajorVersion parses the leading component of "18.1.2".
func parseMajorVersion(version string) (int, bool) {
	majorStr, _, _ := strings.Cut(strings.TrimSpace(version), ".")
	major, err := strconv.Atoi(majorStr)
	if err != nil || major < 0 {
		return 0, false
	}
	return major, true
}
