// Package cloudimage resolves and fetches the Ubuntu cloud images the
// build pipelines start from. Downloads are verified against the
// published SHA256SUMS and published atomically, so concurrent builds
// never observe a partially written base image.
package cloudimage

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/ulikunitz/xz"

	"github.com/imamik/runner-image-builder/internal/config"
	"github.com/imamik/runner-image-builder/internal/imgerrors"
)

// DefaultMirror is the Ubuntu cloud image release endpoint.
const DefaultMirror = "https://cloud-images.ubuntu.com"

// URLs points at a base image download and its checksum manifest.
type URLs struct {
	// Image is the cloud image download URL.
	Image string
	// Checksum is the SHA256SUMS manifest covering Image.
	Checksum string
}

// imageFileName is the upstream file name for a (arch, base) pair, also
// used as the cache file name.
func imageFileName(arch config.Arch, base config.BaseImage) string {
	return fmt.Sprintf("%s-server-cloudimg-%s.img", base, arch.UbuntuName())
}

// Resolve maps an (arch, base) pair to its download and checksum URLs
// on the given mirror. An empty mirror means DefaultMirror.
func Resolve(mirror string, arch config.Arch, base config.BaseImage) URLs {
	if mirror == "" {
		mirror = DefaultMirror
	}
	dir := fmt.Sprintf("%s/%s/current", mirror, base)
	return URLs{
		Image:    fmt.Sprintf("%s/%s", dir, imageFileName(arch, base)),
		Checksum: dir + "/SHA256SUMS",
	}
}

// Fetcher downloads and caches base images.
type Fetcher struct {
	// Client is the HTTP client downloads go through.
	Client *http.Client
	// CacheDir is where verified images land. Defaults to the user
	// cache directory.
	CacheDir string
	// Mirror overrides the image mirror, mainly for tests.
	Mirror string
}

// NewFetcher returns a Fetcher with the default mirror and cache
// location.
func NewFetcher() (*Fetcher, error) {
	cache, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	return &Fetcher{
		Client:   http.DefaultClient,
		CacheDir: filepath.Join(cache, "runner-image-builder"),
	}, nil
}

// DownloadAndValidate fetches the base image for (arch, base), verifies
// it against the published checksum and returns the local path. A cached
// copy that still matches the manifest is reused without downloading.
// Safe to call concurrently for different (arch, base) pairs.
func (f *Fetcher) DownloadAndValidate(ctx context.Context, arch config.Arch, base config.BaseImage) (string, error) {
	urls := Resolve(f.Mirror, arch, base)
	name := imageFileName(arch, base)
	dest := filepath.Join(f.CacheDir, name)

	sums, err := f.publishedChecksums(ctx, urls.Checksum)
	if err != nil {
		return "", fmt.Errorf("fetch checksum manifest: %w: %w", err, imgerrors.ErrBaseImageDownload)
	}

	want, ok := sums[name]
	if !ok {
		// Some mirrors only publish the xz-compressed image.
		if wantXZ, okXZ := sums[name+".xz"]; okXZ {
			return f.fetchCompressed(ctx, urls.Image+".xz", dest+".xz", wantXZ)
		}
		return "", fmt.Errorf("no manifest entry for %s: %w", name, imgerrors.ErrBaseImageDownload)
	}

	if ok, err := fileMatchesChecksum(dest, want); err == nil && ok {
		log.Debug("reusing cached base image", "path", dest)
		return dest, nil
	}

	if err := os.MkdirAll(f.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w: %w", err, imgerrors.ErrBaseImageDownload)
	}

	if err := f.downloadVerified(ctx, urls.Image, dest, want); err != nil {
		return "", fmt.Errorf("download %s: %w: %w", urls.Image, err, imgerrors.ErrBaseImageDownload)
	}

	log.Info("downloaded base image", "arch", arch, "base", base, "path", dest)
	return dest, nil
}

// fetchCompressed downloads an xz-compressed image, verifies the
// compressed bytes against the manifest and unpacks them. The .xz file
// stays in the cache so later runs can skip the download, and a
// previously unpacked image is reused as long as the cached .xz still
// matches the manifest.
func (f *Fetcher) fetchCompressed(ctx context.Context, url, dest, want string) (string, error) {
	plain := strings.TrimSuffix(dest, ".xz")
	if ok, err := fileMatchesChecksum(dest, want); err != nil || !ok {
		if err := os.MkdirAll(f.CacheDir, 0o755); err != nil {
			return "", fmt.Errorf("create cache dir: %w: %w", err, imgerrors.ErrBaseImageDownload)
		}
		if err := f.downloadVerified(ctx, url, dest, want); err != nil {
			return "", fmt.Errorf("download %s: %w: %w", url, err, imgerrors.ErrBaseImageDownload)
		}
		log.Info("downloaded compressed base image", "path", dest)
	} else if _, statErr := os.Stat(plain); statErr == nil {
		log.Debug("reusing cached base image", "path", plain)
		return plain, nil
	}

	unpacked, err := DecompressXZ(dest)
	if err != nil {
		return "", fmt.Errorf("unpack %s: %w: %w", dest, err, imgerrors.ErrBaseImageDownload)
	}
	return unpacked, nil
}

// downloadVerified streams the image to a temporary file in the cache
// directory, checks its digest, and renames it into place only on
// success, so a concurrent reader of dest never sees partial content.
func (f *Fetcher) downloadVerified(ctx context.Context, url, dest, want string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	digest := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, digest), resp.Body); err != nil {
		return fmt.Errorf("stream image: %w", err)
	}
	if got := hex.EncodeToString(digest.Sum(nil)); got != want {
		return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// publishedChecksums pulls the SHA256SUMS manifest and returns digests
// keyed by file name.
func (f *Fetcher) publishedChecksums(ctx context.Context, url string) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	sums := map[string]string{}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		digest, file, ok := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		if !ok {
			continue
		}
		// Manifest entries are "<digest> *<name>" or "<digest>  <name>".
		sums[strings.TrimLeft(file, " *")] = digest
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return sums, nil
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return http.DefaultClient
}

func fileMatchesChecksum(path, want string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, file); err != nil {
		return false, err
	}
	return hex.EncodeToString(digest.Sum(nil)) == want, nil
}

// DecompressXZ unpacks an xz-compressed image next to src, dropping the
// .xz suffix, for mirrors that serve compressed files. The output goes
// through a temporary file in the same directory and is renamed into
// place on success, so a concurrent reader of the destination never
// sees partial content.
func DecompressXZ(src string) (string, error) {
	dest := strings.TrimSuffix(src, ".xz")
	if dest == src {
		return src, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	reader, err := xz.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("read xz stream: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, reader); err != nil {
		return "", fmt.Errorf("decompress %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", err
	}
	return dest, nil
}
