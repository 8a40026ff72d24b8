package config

import (
	"fmt"
	"strings"
)

// Snap describes a snap package to install into the image.
type Snap struct {
	// Name is the snap to install.
	Name string
	// Channel is the snap channel to install from.
	Channel string
	// Classic installs the snap with classic confinement.
	Classic bool
}

// ParseSnap parses a snap spec from its colon-delimited form
// <name>:<channel>[:<classic>]. The classic field defaults to false and
// parses true only for a case-insensitive "true".
func ParseSnap(value string) (Snap, error) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 {
		return Snap{}, fmt.Errorf("snap %q should be in <name>:<channel>[:<classic>] form", value)
	}
	snap := Snap{Name: parts[0], Channel: parts[1]}
	if len(parts) > 2 {
		snap.Classic = strings.EqualFold(parts[2], "true")
	}
	return snap, nil
}

// ParseSnaps parses a list of snap specs, failing on the first invalid
// entry.
func ParseSnaps(values []string) ([]Snap, error) {
	snaps := make([]Snap, 0, len(values))
	for _, value := range values {
		snap, err := ParseSnap(value)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// String renders the snap in its canonical <name>:<channel>:<classic>
// form, suitable for embedding in provisioning scripts.
func (s Snap) String() string {
	return fmt.Sprintf("%s:%s:%t", s.Name, s.Channel, s.Classic)
}
