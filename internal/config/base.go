package config

import "fmt"

// BaseImage is the Ubuntu LTS base an image build starts from.
type BaseImage string

const (
	// BaseJammy is the 22.04 LTS base.
	BaseJammy BaseImage = "jammy"

	// BaseNoble is the 24.04 LTS base.
	BaseNoble BaseImage = "noble"
)

// versionTags maps release version tags to their codenames. Both forms
// are accepted as external input and normalize to the codename.
var versionTags = map[string]BaseImage{
	"22.04": BaseJammy,
	"24.04": BaseNoble,
}

// BaseChoices lists every accepted base image input value, codenames and
// version tags alike, for CLI help text.
var BaseChoices = []string{"jammy", "22.04", "noble", "24.04"}

// String returns the codename of the base image.
func (b BaseImage) String() string {
	return string(b)
}

// Version returns the release version tag of the base image.
func (b BaseImage) Version() string {
	switch b {
	case BaseJammy:
		return "22.04"
	default:
		return "24.04"
	}
}

// ParseBaseImage normalizes a codename or version tag to its canonical
// base image value. Feeding a parsed value's own tag back yields the
// same value.
func ParseBaseImage(tagOrName string) (BaseImage, error) {
	if base, ok := versionTags[tagOrName]; ok {
		return base, nil
	}
	switch BaseImage(tagOrName) {
	case BaseJammy:
		return BaseJammy, nil
	case BaseNoble:
		return BaseNoble, nil
	default:
		return "", fmt.Errorf("unsupported base image %q (choices: %v)", tagOrName, BaseChoices)
	}
}
