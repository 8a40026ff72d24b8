// Package store manages image revisions in OpenStack Glance. Each
// uploaded image is tagged "{name}-{N}" with N strictly increasing, and
// old revisions beyond the retention count are pruned best-effort.
package store

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/imamik/runner-image-builder/internal/config"
	"github.com/imamik/runner-image-builder/internal/imgerrors"
	"github.com/imamik/runner-image-builder/internal/platform/openstack"
)

// UploadOpts describes one image revision to store.
type UploadOpts struct {
	Arch          config.Arch
	ImageName     string
	ImagePath     string
	KeepRevisions int
}

// Upload stores the image file as the next revision of ImageName and
// prunes revisions beyond KeepRevisions. The returned id identifies the
// freshly uploaded image.
func Upload(ctx context.Context, conn openstack.Connection, opts UploadOpts) (string, error) {
	tag, err := NextBuildTag(ctx, conn, opts.ImageName)
	if err != nil {
		return "", err
	}

	f, err := os.Open(opts.ImagePath)
	if err != nil {
		return "", fmt.Errorf("open image %s: %v: %w", opts.ImagePath, err, imgerrors.ErrUploadImage)
	}
	defer f.Close()

	id, err := conn.UploadImage(ctx, openstack.UploadImageOpts{
		Name:            tag,
		DiskFormat:      "qcow2",
		ContainerFormat: "bare",
		Properties: map[string]string{
			"architecture": opts.Arch.OpenstackName(),
			"image_name":   opts.ImageName,
		},
		Source: f,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %v: %w", tag, err, imgerrors.ErrUploadImage)
	}
	log.Info("uploaded image revision", "name", tag, "id", id)

	Prune(ctx, conn, opts.ImageName, opts.KeepRevisions)
	return id, nil
}

// NextBuildTag returns the tag for the next revision of name: one past
// the highest existing revision, or "{name}-0" when none exist.
func NextBuildTag(ctx context.Context, conn openstack.Connection, name string) (string, error) {
	revs, err := listRevisions(ctx, conn, name)
	if err != nil {
		return "", err
	}
	next := 0
	if len(revs) > 0 {
		next = revs[len(revs)-1].num + 1
	}
	return fmt.Sprintf("%s-%d", name, next), nil
}

// GetLatestBuildID returns the id of the newest stored revision of
// name, or ErrImageNotFound when no revision exists.
func GetLatestBuildID(ctx context.Context, conn openstack.Connection, name string) (string, error) {
	revs, err := listRevisions(ctx, conn, name)
	if err != nil {
		return "", err
	}
	if len(revs) == 0 {
		return "", fmt.Errorf("no revisions of %s: %w", name, imgerrors.ErrImageNotFound)
	}
	return revs[len(revs)-1].id, nil
}

// Prune deletes revisions of name beyond the keep newest. Deletion
// failures are logged and skipped so a locked image never blocks a
// build that already succeeded.
func Prune(ctx context.Context, conn openstack.Connection, name string, keep int) {
	if keep < 1 {
		keep = 1
	}
	revs, err := listRevisions(ctx, conn, name)
	if err != nil {
		log.Warn("could not list revisions for pruning", "name", name, "err", err)
		return
	}
	if len(revs) <= keep {
		return
	}
	for _, rev := range revs[:len(revs)-keep] {
		if err := conn.DeleteImage(ctx, rev.id); err != nil {
			log.Warn("could not prune image revision", "id", rev.id, "revision", rev.num, "err", err)
			continue
		}
		log.Debug("pruned image revision", "name", name, "revision", rev.num)
	}
}

type revision struct {
	id  string
	num int
}

// listRevisions returns the stored revisions of name sorted by
// revision number ascending. Images that merely share the prefix but
// do not parse as "{name}-{N}" are ignored.
func listRevisions(ctx context.Context, conn openstack.Connection, name string) ([]revision, error) {
	imgs, err := conn.ListImages(ctx, name+"-")
	if err != nil {
		return nil, err
	}

	var revs []revision
	for _, img := range imgs {
		suffix, ok := strings.CutPrefix(img.Name, name+"-")
		if !ok {
			continue
		}
		num, err := strconv.Atoi(suffix)
		if err != nil || num < 0 {
			continue
		}
		revs = append(revs, revision{id: img.ID, num: num})
	}
	sort.Slice(revs, func(i, j int) bool { return revs[i].num < revs[j].num })
	return revs, nil
}
