// Package handlers implements the CLI commands. Construction of cloud
// connections and builders goes through factory variables so tests can
// swap in fakes.
package handlers

import (
	"context"

	"github.com/imamik/runner-image-builder/internal/builder"
	"github.com/imamik/runner-image-builder/internal/config"
	"github.com/imamik/runner-image-builder/internal/openstackbuilder"
	"github.com/imamik/runner-image-builder/internal/platform/openstack"
	"github.com/imamik/runner-image-builder/internal/system"
)

// localBuilder is the chroot pipeline as the handlers consume it.
type localBuilder interface {
	Setup(ctx context.Context) error
	Build(ctx context.Context, conn openstack.Connection, img config.ImageConfig, keepRevisions int) (string, error)
}

// remoteBuilder is the VM-based pipeline as the handlers consume it.
type remoteBuilder interface {
	Initialize(ctx context.Context, arch config.Arch, cloud config.CloudConfig) error
	Run(ctx context.Context, img config.ImageConfig, cloud config.CloudConfig, keepRevisions int) ([]string, error)
}

// imageBuilder is the single build operation the run command drives.
// Both pipelines satisfy it through the strategy adapters below, so the
// driver selects an instance instead of branching per mode.
type imageBuilder interface {
	Build(ctx context.Context, img config.ImageConfig) ([]string, error)
}

// localStrategy runs the chroot pipeline against one cloud and yields a
// single image id.
type localStrategy struct {
	conn          openstack.Connection
	pipeline      localBuilder
	keepRevisions int
}

func (s *localStrategy) Build(ctx context.Context, img config.ImageConfig) ([]string, error) {
	id, err := s.pipeline.Build(ctx, s.conn, img, s.keepRevisions)
	if err != nil {
		return nil, err
	}
	return []string{id}, nil
}

// remoteStrategy runs the VM-based pipeline and yields one image id per
// target cloud.
type remoteStrategy struct {
	pipeline      remoteBuilder
	cloud         config.CloudConfig
	keepRevisions int
}

func (s *remoteStrategy) Build(ctx context.Context, img config.ImageConfig) ([]string, error) {
	return s.pipeline.Run(ctx, img, s.cloud, s.keepRevisions)
}

// Factory function variables - can be replaced in tests.
var (
	determineCloud = openstack.DetermineCloud

	newConnection = func(ctx context.Context, cloudName string) (openstack.Connection, error) {
		return openstack.NewConnection(ctx, cloudName)
	}

	newLocalBuilder = func() (localBuilder, error) {
		return builder.New()
	}

	newRemoteBuilder = func(conn openstack.Connection) (remoteBuilder, error) {
		return openstackbuilder.New(conn)
	}

	// callbackRunner executes the user's callback script.
	callbackRunner system.Runner = &system.ExecRunner{}
)

// resolveArch parses the --arch flag, defaulting to the host
// architecture.
func resolveArch(value string) (config.Arch, error) {
	if value == "" {
		return config.HostArch()
	}
	return config.ParseArch(value)
}
