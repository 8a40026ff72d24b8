package handlers

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/imamik/runner-image-builder/internal/config"
)

// RunOptions are the arguments and flags of the run command.
type RunOptions struct {
	CloudName string
	ImageName string

	Arch           string
	BaseImage      string
	KeepRevisions  int
	CallbackScript string
	RunnerVersion  string
	JujuChannel    string
	Snaps          []string

	External     bool
	Flavor       string
	Network      string
	Prefix       string
	Proxy        string
	UploadClouds []string
}

// Run builds a runner image and stores it as the next revision of the
// image name. The ids of the stored image(s) are written to out and,
// when a callback script is configured, passed to it comma-joined as a
// single argument.
func Run(ctx context.Context, opts RunOptions, out io.Writer) error {
	arch, err := resolveArch(opts.Arch)
	if err != nil {
		return err
	}
	base, err := config.ParseBaseImage(opts.BaseImage)
	if err != nil {
		return err
	}
	snaps, err := config.ParseSnaps(opts.Snaps)
	if err != nil {
		return err
	}

	cloudName, err := determineCloud(opts.CloudName)
	if err != nil {
		return err
	}

	img := config.ImageConfig{
		Arch:          arch,
		Base:          base,
		RunnerVersion: opts.RunnerVersion,
		JujuChannel:   opts.JujuChannel,
		Name:          opts.ImageName,
		Snaps:         snaps,
	}

	strategy, err := selectBuilder(ctx, opts, cloudName)
	if err != nil {
		return err
	}

	ids, buildErr := strategy.Build(ctx, img)
	if len(ids) > 0 {
		if opts.External {
			fmt.Fprintf(out, "Image build success:\n%s", strings.Join(ids, ","))
		} else {
			fmt.Fprint(out, ids[0])
		}
		runCallback(ctx, opts.CallbackScript, ids)
	}
	return buildErr
}

// selectBuilder constructs the build strategy for the requested mode.
func selectBuilder(ctx context.Context, opts RunOptions, cloudName string) (imageBuilder, error) {
	conn, err := newConnection(ctx, cloudName)
	if err != nil {
		return nil, err
	}
	if !opts.External {
		pipeline, err := newLocalBuilder()
		if err != nil {
			return nil, err
		}
		return &localStrategy{conn: conn, pipeline: pipeline, keepRevisions: opts.KeepRevisions}, nil
	}

	pipeline, err := newRemoteBuilder(conn)
	if err != nil {
		return nil, err
	}
	return &remoteStrategy{
		pipeline: pipeline,
		cloud: config.CloudConfig{
			CloudName:        cloudName,
			Flavor:           opts.Flavor,
			Network:          opts.Network,
			Prefix:           opts.Prefix,
			Proxy:            opts.Proxy,
			UploadCloudNames: opts.UploadClouds,
		},
		keepRevisions: opts.KeepRevisions,
	}, nil
}

// runCallback hands the built image ids to the user's script. The
// script's exit status is logged, never acted on.
func runCallback(ctx context.Context, script string, ids []string) {
	if script == "" {
		return
	}
	joined := strings.Join(ids, ",")
	if err := callbackRunner.Run(ctx, script, joined); err != nil {
		log.Warn("callback script failed", "script", script, "err", err)
		return
	}
	log.Info("callback script succeeded", "script", script, "ids", joined)
}
