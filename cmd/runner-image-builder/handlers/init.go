package handlers

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/imamik/runner-image-builder/internal/config"
)

// InitOptions are the flags of the init command.
type InitOptions struct {
	Arch      string
	CloudName string
	Prefix    string
	External  bool
}

// Init prepares for image builds. Local mode installs host
// dependencies; external mode seeds base images and shared resources on
// the target cloud.
func Init(ctx context.Context, opts InitOptions) error {
	arch, err := resolveArch(opts.Arch)
	if err != nil {
		return err
	}

	if !opts.External {
		b, err := newLocalBuilder()
		if err != nil {
			return err
		}
		if err := b.Setup(ctx); err != nil {
			return err
		}
		log.Info("host ready for local image builds", "arch", arch)
		return nil
	}

	cloudName, err := determineCloud(opts.CloudName)
	if err != nil {
		return err
	}
	conn, err := newConnection(ctx, cloudName)
	if err != nil {
		return err
	}
	b, err := newRemoteBuilder(conn)
	if err != nil {
		return err
	}
	if err := b.Initialize(ctx, arch, config.CloudConfig{CloudName: cloudName, Prefix: opts.Prefix}); err != nil {
		return err
	}
	log.Info("cloud ready for external image builds", "cloud", cloudName, "arch", arch)
	return nil
}
