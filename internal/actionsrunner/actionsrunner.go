// Package actionsrunner locates GitHub Actions runner release
// artifacts for a given architecture and version.
package actionsrunner

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/imamik/runner-image-builder/internal/config"
)

// InstallDir is where the runner tarball is unpacked inside the image.
const InstallDir = "/home/ubuntu/actions-runner"

// releasesLatestURL is a var so tests can point it at a stub server.
var releasesLatestURL = "https://github.com/actions/runner/releases/latest"

// DownloadURL is the release tarball for a runner version and
// architecture. The version carries no "v" prefix.
func DownloadURL(version string, arch config.Arch) string {
	return fmt.Sprintf(
		"https://github.com/actions/runner/releases/download/v%s/actions-runner-linux-%s-%s.tar.gz",
		version, arch, version,
	)
}

// ResolveVersion returns the given version unchanged, or the latest
// released version when it is empty. GitHub redirects the latest
// release URL to /releases/tag/v{version}, so one unfollowed request
// answers the question.
func ResolveVersion(ctx context.Context, client *http.Client, version string) (string, error) {
	if version != "" {
		return version, nil
	}
	if client == nil {
		client = http.DefaultClient
	}

	noFollow := *client
	noFollow.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releasesLatestURL, nil)
	if err != nil {
		return "", fmt.Errorf("build latest release request: %w", err)
	}
	resp, err := noFollow.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch latest runner release: %w", err)
	}
	defer resp.Body.Close()

	location := resp.Header.Get("Location")
	_, tag, ok := strings.Cut(location, "/releases/tag/v")
	if !ok || tag == "" {
		return "", fmt.Errorf("unexpected latest release redirect %q", location)
	}
	return tag, nil
}
