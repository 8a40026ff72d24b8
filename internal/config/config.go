package config

// ImageConfig describes one image build. It is assembled once per CLI
// invocation and read-only afterwards.
type ImageConfig struct {
	// Arch is the architecture of the target image.
	Arch Arch
	// Base is the Ubuntu base the image is built from.
	Base BaseImage
	// RunnerVersion pins the GitHub actions runner version to install.
	// Empty means resolve the latest release.
	RunnerVersion string
	// JujuChannel, when non-empty, installs Juju from the given snap
	// channel into the image (e.g. "3.1/stable").
	JujuChannel string
	// Name is the logical image name revisions are uploaded under.
	Name string
	// Snaps lists additional snaps to install into the image.
	Snaps []Snap
}

// CloudConfig holds the OpenStack-side parameters of an external
// (VM-based) build.
type CloudConfig struct {
	// CloudName selects the cloud from clouds.yaml to build in.
	CloudName string
	// Flavor is the flavor name or ID the build VM launches with.
	Flavor string
	// Network is the network name or ID the build VM attaches to.
	Network string
	// Prefix is prepended to per-build OpenStack resource names so
	// parallel builders can share one project.
	Prefix string
	// Proxy is an optional host:port proxy the build VM routes apt and
	// download traffic through.
	Proxy string
	// UploadCloudNames lists additional clouds the finished image is
	// copied to. Empty means the image stays in the build cloud only.
	UploadCloudNames []string
}

// DefaultAptPackages is the fixed apt package set every runner image
// ships with.
var DefaultAptPackages = []string{
	"build-essential",
	"docker.io",
	"gh",
	"jq",
	"npm",
	"python3-dev",
	"python3-pip",
	"python-is-python3",
	"shellcheck",
	"tar",
	"time",
	"unzip",
	"wget",
}
