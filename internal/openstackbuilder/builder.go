// Package openstackbuilder builds runner images on an OpenStack cloud:
// it boots a build VM from a seeded base image with a first-boot
// provisioning script, waits for the provision to finish over SSH, and
// snapshots the VM into the image store.
package openstackbuilder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/imamik/runner-image-builder/internal/actionsrunner"
	"github.com/imamik/runner-image-builder/internal/cloudimage"
	"github.com/imamik/runner-image-builder/internal/config"
	"github.com/imamik/runner-image-builder/internal/imgerrors"
	"github.com/imamik/runner-image-builder/internal/platform/openstack"
	"github.com/imamik/runner-image-builder/internal/platform/ssh"
	"github.com/imamik/runner-image-builder/internal/store"
	"github.com/imamik/runner-image-builder/internal/util/keygen"
	"github.com/imamik/runner-image-builder/internal/util/retry"
)

const (
	// securityGroupName is shared by every builder in a project, so it
	// carries a version suffix instead of a prefix.
	securityGroupName = "github-runner-image-builder-v1"

	keypairBaseName = "image-builder-ssh-key"
	keyFileName     = "builder_key"
	sshUser         = "ubuntu"

	pollAttempts = 30
	pollInterval = 30 * time.Second
)

// seedImageName is the store name base images are seeded under. Seed
// images are shared, so the name is never prefixed.
func seedImageName(base config.BaseImage, arch config.Arch) string {
	return fmt.Sprintf("image-builder-base-%s-%s", base, arch)
}

// vmName names one build VM. The prefix keeps parallel builders in a
// shared project from colliding.
func vmName(prefix string, base config.BaseImage, arch config.Arch) string {
	return fmt.Sprintf("%simage-builder-%s-%s", prefix, base, arch)
}

func keypairName(prefix string) string {
	return prefix + keypairBaseName
}

// Builder drives external image builds. Construct with New; the
// function fields are swappable for tests.
type Builder struct {
	// Conn is the build cloud connection.
	Conn openstack.Connection
	// Fetcher acquires base cloud images for seeding.
	Fetcher *cloudimage.Fetcher
	// HTTP resolves runner release versions.
	HTTP *http.Client
	// DataDir caches the builder SSH private key. Defaults to
	// ~/.local/share/runner-image-builder.
	DataDir string

	// Connect opens a connection to a named cloud for image fan-out.
	Connect func(ctx context.Context, cloudName string) (openstack.Connection, error)
	// NewCommunicator dials build VMs.
	NewCommunicator func(host, user string, privateKey []byte) (ssh.Communicator, error)

	// PollAttempts and PollInterval bound the wait for the first-boot
	// provision to finish.
	PollAttempts int
	PollInterval time.Duration
}

// New returns a Builder using conn for the build cloud.
func New(conn openstack.Connection) (*Builder, error) {
	fetcher, err := cloudimage.NewFetcher()
	if err != nil {
		return nil, err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home dir: %w", err)
	}
	return &Builder{
		Conn:    conn,
		Fetcher: fetcher,
		HTTP:    http.DefaultClient,
		DataDir: filepath.Join(home, ".local", "share", "runner-image-builder"),
		Connect: func(ctx context.Context, cloudName string) (openstack.Connection, error) {
			return openstack.NewConnection(ctx, cloudName)
		},
		NewCommunicator: func(host, user string, privateKey []byte) (ssh.Communicator, error) {
			return ssh.NewClient(host, user, privateKey)
		},
		PollAttempts: pollAttempts,
		PollInterval: pollInterval,
	}, nil
}

// Initialize seeds the base images for both Ubuntu bases and ensures
// the shared keypair and security group exist. Safe to run repeatedly
// and concurrently with other builders: existing resources are reused.
func (b *Builder) Initialize(ctx context.Context, arch config.Arch, cloud config.CloudConfig) error {
	for _, base := range []config.BaseImage{config.BaseJammy, config.BaseNoble} {
		if err := b.seedBase(ctx, arch, base); err != nil {
			return err
		}
	}

	key, err := b.builderKey(cloud.Prefix)
	if err != nil {
		return err
	}
	if err := b.Conn.EnsureKeypair(ctx, keypairName(cloud.Prefix), string(key.PublicKey)); err != nil {
		return err
	}
	return b.Conn.EnsureSecurityGroup(ctx, securityGroupName)
}

// seedBase uploads the Ubuntu cloud image for (base, arch) as the next
// seed revision, keeping only the newest.
func (b *Builder) seedBase(ctx context.Context, arch config.Arch, base config.BaseImage) error {
	path, err := b.Fetcher.DownloadAndValidate(ctx, arch, base)
	if err != nil {
		return err
	}
	name := seedImageName(base, arch)
	id, err := store.Upload(ctx, b.Conn, store.UploadOpts{
		Arch:          arch,
		ImageName:     name,
		ImagePath:     path,
		KeepRevisions: 1,
	})
	if err != nil {
		return err
	}
	log.Info("seeded base image", "name", name, "id", id)
	return nil
}

// builderKey loads the cached SSH key for this prefix, generating and
// persisting one on first use.
func (b *Builder) builderKey(prefix string) (*keygen.KeyPair, error) {
	path := filepath.Join(b.DataDir, prefix+keyFileName)

	private, err := os.ReadFile(path)
	if err == nil {
		public, err := os.ReadFile(path + ".pub")
		if err != nil {
			return nil, fmt.Errorf("read cached public key: %w", err)
		}
		return &keygen.KeyPair{PrivateKey: private, PublicKey: public}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read cached builder key: %w", err)
	}

	pair, err := keygen.GenerateRSAKeyPair(2048)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(b.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, pair.PrivateKey, 0o600); err != nil {
		return nil, fmt.Errorf("cache builder key: %w", err)
	}
	if err := os.WriteFile(path+".pub", pair.PublicKey, 0o644); err != nil {
		return nil, fmt.Errorf("cache builder public key: %w", err)
	}
	return pair, nil
}

// Run builds img on a VM and returns the ids of the stored snapshot,
// one per cloud it landed in. Per-cloud fan-out failures are collected
// and returned together with the ids that did succeed.
func (b *Builder) Run(ctx context.Context, img config.ImageConfig, cloud config.CloudConfig, keepRevisions int) ([]string, error) {
	version, err := actionsrunner.ResolveVersion(ctx, b.HTTP, img.RunnerVersion)
	if err != nil {
		return nil, fmt.Errorf("resolve runner version: %w", err)
	}
	img.RunnerVersion = version

	seedID, err := store.GetLatestBuildID(ctx, b.Conn, seedImageName(img.Base, img.Arch))
	if err != nil {
		return nil, fmt.Errorf("seed image for %s/%s missing, run init first: %w", img.Base, img.Arch, err)
	}

	key, err := b.builderKey(cloud.Prefix)
	if err != nil {
		return nil, err
	}
	if err := b.Conn.EnsureKeypair(ctx, keypairName(cloud.Prefix), string(key.PublicKey)); err != nil {
		return nil, err
	}
	if err := b.Conn.EnsureSecurityGroup(ctx, securityGroupName); err != nil {
		return nil, err
	}

	script, err := FirstBootScript(img, cloud.Proxy)
	if err != nil {
		return nil, err
	}

	server, err := b.Conn.CreateServer(ctx, openstack.ServerCreateOpts{
		Name:          vmName(cloud.Prefix, img.Base, img.Arch),
		ImageID:       seedID,
		Flavor:        cloud.Flavor,
		Network:       cloud.Network,
		KeyName:       keypairName(cloud.Prefix),
		SecurityGroup: securityGroupName,
		UserData:      script,
	})
	if err != nil {
		return nil, err
	}
	log.Info("launched build server", "name", server.Name, "id", server.ID)
	defer func() {
		if err := b.Conn.DeleteServer(ctx, server.ID); err != nil {
			log.Warn("could not delete build server", "id", server.ID, "err", err)
		}
	}()

	if err := b.waitForProvision(ctx, server.ID, key.PrivateKey); err != nil {
		return nil, err
	}

	tag, err := store.NextBuildTag(ctx, b.Conn, img.Name)
	if err != nil {
		return nil, err
	}
	snapshotID, err := b.Conn.CreateServerSnapshot(ctx, server.ID, tag)
	if err != nil {
		return nil, err
	}
	log.Info("snapshotted build server", "name", tag, "id", snapshotID)
	store.Prune(ctx, b.Conn, img.Name, keepRevisions)

	ids := []string{snapshotID}
	fanOutIDs, fanOutErr := b.fanOut(ctx, img, snapshotID, cloud.UploadCloudNames, keepRevisions)
	ids = append(ids, fanOutIDs...)
	return ids, fanOutErr
}

// waitForProvision polls the build VM over SSH until the provision
// sentinel appears or the attempts run out.
func (b *Builder) waitForProvision(ctx context.Context, serverID string, privateKey []byte) error {
	attempt := 0
	err := retry.Do(ctx, func() error {
		attempt++
		server, err := b.Conn.GetServer(ctx, serverID)
		if err != nil {
			return err
		}
		if server.Addr == "" {
			return fmt.Errorf("server %s has no address yet", serverID)
		}

		comm, err := b.NewCommunicator(server.Addr, sshUser, privateKey)
		if err != nil {
			return retry.Fatal(err)
		}
		if _, err := comm.Execute(ctx, "test -f "+sentinelPath); err != nil {
			log.Debug("provision not finished", "server", serverID, "attempt", attempt, "err", err)
			return err
		}
		return nil
	}, retry.WithMaxAttempts(b.PollAttempts), retry.WithFixedInterval(b.PollInterval))
	if err != nil {
		return fmt.Errorf("build VM provision did not complete: %v: %w", err, imgerrors.ErrBuildImage)
	}
	return nil
}

// fanOut copies the snapshot to each named cloud. Every cloud is
// attempted; failures come back joined after all are tried.
func (b *Builder) fanOut(ctx context.Context, img config.ImageConfig, snapshotID string, cloudNames []string, keepRevisions int) ([]string, error) {
	if len(cloudNames) == 0 {
		return nil, nil
	}

	tmp, err := os.CreateTemp("", "image-fanout-*.img")
	if err != nil {
		return nil, fmt.Errorf("create fan-out scratch file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := b.Conn.DownloadImage(ctx, snapshotID, tmp); err != nil {
		return nil, fmt.Errorf("download snapshot for fan-out: %w", err)
	}

	var ids []string
	var errs []error
	for _, cloudName := range cloudNames {
		id, err := b.uploadToCloud(ctx, img, tmp.Name(), cloudName, keepRevisions)
		if err != nil {
			errs = append(errs, fmt.Errorf("upload to cloud %s: %w", cloudName, err))
			continue
		}
		log.Info("uploaded image to cloud", "cloud", cloudName, "id", id)
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

func (b *Builder) uploadToCloud(ctx context.Context, img config.ImageConfig, path, cloudName string, keepRevisions int) (string, error) {
	conn, err := b.Connect(ctx, cloudName)
	if err != nil {
		return "", err
	}
	return store.Upload(ctx, conn, store.UploadOpts{
		Arch:          img.Arch,
		ImageName:     img.Name,
		ImagePath:     path,
		KeepRevisions: keepRevisions,
	})
}
