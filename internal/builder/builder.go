// Package builder runs the privileged local image build pipeline: it
// takes an Ubuntu cloud image, grows it, attaches it to a network
// block device, mounts and chroot-provisions it with the runner
// toolset, then compresses the result for upload.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/imamik/runner-image-builder/internal/actionsrunner"
	"github.com/imamik/runner-image-builder/internal/chroot"
	"github.com/imamik/runner-image-builder/internal/cloudimage"
	"github.com/imamik/runner-image-builder/internal/config"
	"github.com/imamik/runner-image-builder/internal/imgerrors"
	"github.com/imamik/runner-image-builder/internal/platform/openstack"
	"github.com/imamik/runner-image-builder/internal/store"
	"github.com/imamik/runner-image-builder/internal/system"
)

const (
	// diskSize is the resized image capacity. Runner workloads need
	// room for toolcaches and container layers.
	diskSize = "30G"

	// outputName is the compressed image file inside the scratch dir.
	outputName = "compressed.img"
)

// Builder executes local image builds. The zero value is not usable;
// construct with New.
type Builder struct {
	// Run executes host commands.
	Run system.Runner
	// Fetcher acquires base cloud images.
	Fetcher *cloudimage.Fetcher
	// HTTP resolves runner release versions.
	HTTP *http.Client
	// ScratchDir is the parent for per-build scratch directories.
	// Empty means the system temp dir.
	ScratchDir string
	// LookPath probes for host tools. Defaults to exec.LookPath.
	LookPath func(string) (string, error)

	nbd *nbdAllocator
}

// New returns a Builder wired to the host.
func New() (*Builder, error) {
	fetcher, err := cloudimage.NewFetcher()
	if err != nil {
		return nil, err
	}
	return &Builder{
		Run:     &system.ExecRunner{},
		Fetcher: fetcher,
		HTTP:    http.DefaultClient,
		nbd:     newNBDAllocator(),
	}, nil
}

// Setup prepares the host without building: it installs missing host
// tools and loads the nbd kernel module.
func (b *Builder) Setup(ctx context.Context) error {
	return ensureHostDependencies(ctx, b.Run, b.LookPath)
}

// Build runs the full pipeline and uploads the result as the next
// revision of img.Name, returning the uploaded image id.
func (b *Builder) Build(ctx context.Context, conn openstack.Connection, img config.ImageConfig, keepRevisions int) (string, error) {
	path, err := b.BuildImage(ctx, img)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(filepath.Dir(path))

	return store.Upload(ctx, conn, store.UploadOpts{
		Arch:          img.Arch,
		ImageName:     img.Name,
		ImagePath:     path,
		KeepRevisions: keepRevisions,
	})
}

// BuildImage runs the pipeline up to compression and returns the path
// of the compressed image inside its scratch directory. The caller owns
// the scratch directory once BuildImage succeeds; on failure it is
// removed here unless teardown also failed, in which case it is left
// in place and its path logged.
func (b *Builder) BuildImage(ctx context.Context, img config.ImageConfig) (string, error) {
	if b.nbd == nil {
		b.nbd = newNBDAllocator()
	}

	version, err := actionsrunner.ResolveVersion(ctx, b.HTTP, img.RunnerVersion)
	if err != nil {
		return "", fmt.Errorf("resolve runner version: %v: %w", err, imgerrors.ErrBuildImage)
	}
	img.RunnerVersion = version

	scratch, err := os.MkdirTemp(b.ScratchDir, "image-build-*")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %v: %w", err, imgerrors.ErrBuildImage)
	}

	state := &buildState{builder: b, scratch: scratch}
	path, err := b.pipeline(ctx, img, state)
	if err != nil {
		// When teardown failed the image may still be mounted under the
		// scratch dir; removing it would recurse into the mounted
		// filesystem.
		var buildErr *imgerrors.BuildError
		if errors.As(err, &buildErr) && buildErr.Cleanup != nil {
			log.Warn("leaving scratch dir in place after failed teardown", "path", scratch)
		} else {
			os.RemoveAll(scratch)
		}
		return "", err
	}
	return path, nil
}

// buildState tracks the resources a build holds so teardown can unwind
// exactly what was set up.
type buildState struct {
	builder  *Builder
	scratch  string
	image    string
	device   string
	mountDir string
	session  *chroot.Session
	mounted  bool
}

// pipeline runs the stages in order. Teardown always runs once the
// attach stage has been reached, on success before compression and on
// failure while unwinding, and a teardown failure never masks the
// primary error.
func (b *Builder) pipeline(ctx context.Context, img config.ImageConfig, state *buildState) (string, error) {
	stages := []struct {
		name string
		fn   func(context.Context, config.ImageConfig, *buildState) error
	}{
		{"setup", b.stageSetup},
		{"acquire base image", b.stageAcquire},
		{"resize image", b.stageResize},
		{"attach block device", b.stageAttach},
		{"resize partition", b.stagePartition},
		{"mount image", b.stageMount},
		{"provision", b.stageProvision},
	}
	for _, stage := range stages {
		log.Info("build stage", "stage", stage.name, "image", img.Name)
		if err := stage.fn(ctx, img, state); err != nil {
			return "", &imgerrors.BuildError{
				Stage:   stage.name,
				Err:     err,
				Cleanup: state.teardown(ctx),
			}
		}
	}

	if err := state.teardown(ctx); err != nil {
		return "", &imgerrors.BuildError{Stage: "teardown", Err: err}
	}

	log.Info("build stage", "stage", "compress", "image", img.Name)
	out := filepath.Join(state.scratch, outputName)
	if err := b.Run.Run(ctx, "qemu-img", "convert", "-f", "qcow2", "-O", "qcow2", "-c", state.image, out); err != nil {
		return "", &imgerrors.BuildError{
			Stage: "compress",
			Err:   fmt.Errorf("compress image: %v: %w", err, imgerrors.ErrImageCompress),
		}
	}
	return out, nil
}

func (b *Builder) stageSetup(ctx context.Context, _ config.ImageConfig, _ *buildState) error {
	return ensureHostDependencies(ctx, b.Run, b.LookPath)
}

// stageAcquire copies the verified cached base image into the scratch
// dir so the cache copy stays pristine across builds.
func (b *Builder) stageAcquire(ctx context.Context, img config.ImageConfig, state *buildState) error {
	cached, err := b.Fetcher.DownloadAndValidate(ctx, img.Arch, img.Base)
	if err != nil {
		return err
	}
	state.image = filepath.Join(state.scratch, "image.img")
	if err := copyFile(cached, state.image); err != nil {
		return fmt.Errorf("copy base image: %v: %w", err, imgerrors.ErrBaseImageDownload)
	}
	return nil
}

func (b *Builder) stageResize(ctx context.Context, _ config.ImageConfig, state *buildState) error {
	if err := b.Run.Run(ctx, "qemu-img", "resize", state.image, diskSize); err != nil {
		return fmt.Errorf("resize to %s: %v: %w", diskSize, err, imgerrors.ErrImageResize)
	}
	return nil
}

func (b *Builder) stageAttach(ctx context.Context, _ config.ImageConfig, state *buildState) error {
	device, err := b.nbd.Acquire()
	if err != nil {
		return err
	}
	state.device = device
	if err := b.Run.Run(ctx, "qemu-nbd", "--connect="+device, state.image); err != nil {
		return fmt.Errorf("connect %s: %v: %w", device, err, imgerrors.ErrNetworkBlockDevice)
	}
	return nil
}

func (b *Builder) stagePartition(ctx context.Context, _ config.ImageConfig, state *buildState) error {
	if err := b.Run.Run(ctx, "growpart", state.device, "1"); err != nil {
		return fmt.Errorf("grow partition on %s: %v: %w", state.device, err, imgerrors.ErrResizePartition)
	}
	if err := b.Run.Run(ctx, "resize2fs", partitionDevice(state.device)); err != nil {
		return fmt.Errorf("resize filesystem on %s: %v: %w", partitionDevice(state.device), err, imgerrors.ErrResizePartition)
	}
	return nil
}

func (b *Builder) stageMount(ctx context.Context, _ config.ImageConfig, state *buildState) error {
	state.mountDir = filepath.Join(state.scratch, "mnt")
	if err := os.MkdirAll(state.mountDir, 0o755); err != nil {
		return fmt.Errorf("create mount point: %v: %w", err, imgerrors.ErrImageMount)
	}
	if err := b.Run.Run(ctx, "mount", partitionDevice(state.device), state.mountDir); err != nil {
		return fmt.Errorf("mount %s: %v: %w", partitionDevice(state.device), err, imgerrors.ErrImageMount)
	}
	state.mounted = true

	state.session = chroot.NewSession(state.mountDir, b.Run)
	if err := state.session.Bind(ctx); err != nil {
		return fmt.Errorf("bind chroot mounts: %v: %w", err, imgerrors.ErrImageMount)
	}
	return nil
}

func (b *Builder) stageProvision(ctx context.Context, img config.ImageConfig, state *buildState) error {
	return provision(ctx, state.session, img)
}

// teardown unwinds in reverse setup order. Every step is attempted
// even after an earlier step fails; the first failure is returned
// wrapped as a build state cleanup error.
func (s *buildState) teardown(ctx context.Context) error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if s.session != nil {
		keep(s.session.Release(ctx))
		s.session = nil
	}
	if s.mounted {
		keep(s.builder.Run.Run(ctx, "sync"))
		keep(s.builder.Run.Run(ctx, "umount", s.mountDir))
		s.mounted = false
	}
	if s.device != "" {
		keep(s.builder.Run.Run(ctx, "qemu-nbd", "--disconnect", s.device))
		s.builder.nbd.Release(s.device)
		s.device = ""
	}

	if first != nil {
		return fmt.Errorf("teardown: %v: %w", first, imgerrors.ErrCleanBuildState)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
