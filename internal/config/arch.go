// Package config holds the value types a build is described with:
// architectures, Ubuntu bases, snap specs and the image configuration
// assembled from CLI flags. Everything here is immutable once parsed.
package config

import (
	"fmt"
	"runtime"

	"github.com/imamik/runner-image-builder/internal/imgerrors"
)

// Arch represents a CPU architecture an image can be built for.
type Arch string

const (
	// ArchARM64 represents the ARM64/aarch64 architecture.
	ArchARM64 Arch = "arm64"

	// ArchX64 represents the X64/AMD64 architecture.
	ArchX64 Arch = "x64"
)

// SupportedArchs lists every architecture the builder can target.
var SupportedArchs = []Arch{ArchARM64, ArchX64}

// String returns the string representation of the architecture.
func (a Arch) String() string {
	return string(a)
}

// OpenstackName returns the architecture name OpenStack image metadata
// uses for this architecture.
func (a Arch) OpenstackName() string {
	switch a {
	case ArchARM64:
		return "aarch64"
	default:
		return "x86_64"
	}
}

// UbuntuName returns the architecture name Ubuntu cloud image downloads
// are keyed by.
func (a Arch) UbuntuName() string {
	switch a {
	case ArchARM64:
		return "arm64"
	default:
		return "amd64"
	}
}

// ParseArch validates an architecture value from external input.
func ParseArch(value string) (Arch, error) {
	switch Arch(value) {
	case ArchARM64:
		return ArchARM64, nil
	case ArchX64:
		return ArchX64, nil
	default:
		return "", fmt.Errorf("%q: %w", value, imgerrors.ErrUnsupportedArchitecture)
	}
}

// HostArch reports the architecture of the running host. It is the
// single source of truth for whether this host can build at all.
func HostArch() (Arch, error) {
	return archFromGoarch(runtime.GOARCH)
}

func archFromGoarch(goarch string) (Arch, error) {
	switch goarch {
	case "arm64":
		return ArchARM64, nil
	case "amd64":
		return ArchX64, nil
	default:
		return "", fmt.Errorf("host %q: %w", goarch, imgerrors.ErrUnsupportedArchitecture)
	}
}
