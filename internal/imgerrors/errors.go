// Package imgerrors defines the error taxonomy shared by the build
// pipelines and the OpenStack store.
//
// Errors fall into two families. Build errors cover the local chroot
// pipeline and the remote VM builder; every stage has its own sentinel
// and all of them wrap ErrBuildImage, so callers can match on a single
// stage with errors.Is or on the whole family. OpenStack errors cover
// the image store and server operations; ErrUnauthorized is a credential
// problem and is never worth retrying, while a bare ErrOpenstack is
// transient and safe to retry at the caller's discretion.
package imgerrors

import (
	"errors"
	"fmt"
)

// ErrBuildImage is the root of the build error family. Every stage
// sentinel below wraps it.
var ErrBuildImage = errors.New("image build failed")

func buildErr(text string) error {
	return fmt.Errorf("%s: %w", text, ErrBuildImage)
}

// Build pipeline stage sentinels.
var (
	ErrDependencyInstall        = buildErr("host dependency install")
	ErrBaseImageDownload        = buildErr("base image download")
	ErrImageResize              = buildErr("image resize")
	ErrNetworkBlockDevice       = buildErr("network block device attach")
	ErrResizePartition          = buildErr("partition resize")
	ErrImageMount               = buildErr("image mount")
	ErrYQBuild                  = buildErr("yq build")
	ErrYarnInstall              = buildErr("yarn install")
	ErrUnattendedUpgradeDisable = buildErr("unattended upgrade disable")
	ErrSystemUserConfiguration  = buildErr("system user configuration")
	ErrPermissionConfiguration  = buildErr("permission configuration")
	ErrCleanBuildState          = buildErr("build state cleanup")
	ErrImageCompress            = buildErr("image compress")
)

// ErrUnsupportedArchitecture is returned when the host or requested
// architecture is outside the supported set.
var ErrUnsupportedArchitecture = errors.New("unsupported architecture")

// ErrOpenstack is the root of the cloud interaction error family.
// It represents a transient condition unless a more specific sentinel
// below says otherwise.
var ErrOpenstack = errors.New("openstack interaction failed")

// OpenStack interaction sentinels.
var (
	ErrUnauthorized  = fmt.Errorf("unauthorized: %w", ErrOpenstack)
	ErrUploadImage   = fmt.Errorf("image upload: %w", ErrOpenstack)
	ErrImageNotFound = fmt.Errorf("image not found: %w", ErrOpenstack)
)

// IsRetryable reports whether the error represents a transient cloud
// condition. Credential failures are excluded: retrying them without
// reconfiguration cannot succeed.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return false
	}
	return errors.Is(err, ErrOpenstack)
}

// BuildError carries a pipeline stage failure together with any teardown
// failure observed while releasing build resources. The teardown failure
// is attached, never substituted: Unwrap exposes the primary cause so
// errors.Is matching on stage sentinels keeps working.
type BuildError struct {
	// Stage names the pipeline stage that failed first.
	Stage string
	// Err is the primary cause.
	Err error
	// Cleanup holds a teardown failure that happened while unwinding
	// after Err, or nil if teardown succeeded.
	Cleanup error
}

func (e *BuildError) Error() string {
	if e.Cleanup != nil {
		return fmt.Sprintf("stage %s: %v (cleanup also failed: %v)", e.Stage, e.Err, e.Cleanup)
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}
