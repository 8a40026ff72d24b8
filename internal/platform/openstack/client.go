// Package openstack wraps the OpenStack API behind the narrow
// Connection interface the builders and the store consume. The real
// implementation is gophercloud-backed; tests use FakeConnection.
// Credentials come from clouds.yaml, resolved by the standard search
// order (current directory, ~/.config/openstack, /etc/openstack).
package openstack

import (
	"context"
	"io"
	"time"
)

// Image is one image record in the cloud image store.
type Image struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Server is a compute instance handle.
type Server struct {
	ID     string
	Name   string
	Status string
	// Addr is the server's reachable IP address, empty until one is
	// assigned.
	Addr string
}

// UploadImageOpts describes an image upload.
type UploadImageOpts struct {
	// Name is the full revision name the image is stored under.
	Name string
	// DiskFormat is the image disk format, e.g. "qcow2".
	DiskFormat string
	// ContainerFormat is the image container format, e.g. "bare".
	ContainerFormat string
	// Properties carries image metadata such as the architecture.
	Properties map[string]string
	// Source streams the image bytes.
	Source io.Reader
}

// ServerCreateOpts describes a build VM launch.
type ServerCreateOpts struct {
	Name string
	// ImageID is the boot image id.
	ImageID string
	// Flavor is a flavor name or id.
	Flavor string
	// Network is a network name or id.
	Network string
	// KeyName is the keypair granting SSH access.
	KeyName string
	// SecurityGroup is applied to the server.
	SecurityGroup string
	// UserData is the cloud-init payload executed on first boot.
	UserData []byte
}

// Connection is the opaque cloud capability the rest of the tool is
// written against: upload bytes as an image, list images, launch a VM,
// snapshot it. Implementations classify failures into the imgerrors
// cloud family so callers can tell credential problems from transient
// ones.
type Connection interface {
	// UploadImage creates an image record and streams its bytes.
	UploadImage(ctx context.Context, opts UploadImageOpts) (string, error)
	// ListImages returns every image whose name starts with prefix.
	ListImages(ctx context.Context, prefix string) ([]Image, error)
	// DeleteImage removes an image by id.
	DeleteImage(ctx context.Context, id string) error
	// DownloadImage streams an image's bytes into w.
	DownloadImage(ctx context.Context, id string, w io.Writer) error

	// CreateServer launches a VM.
	CreateServer(ctx context.Context, opts ServerCreateOpts) (*Server, error)
	// GetServer fetches current server state by id.
	GetServer(ctx context.Context, id string) (*Server, error)
	// DeleteServer removes a server by id.
	DeleteServer(ctx context.Context, id string) error
	// CreateServerSnapshot converts a server's disk into an image and
	// returns the image id.
	CreateServerSnapshot(ctx context.Context, serverID, name string) (string, error)

	// EnsureKeypair uploads an SSH keypair, treating an existing
	// keypair of the same name as success.
	EnsureKeypair(ctx context.Context, name, publicKey string) error
	// EnsureSecurityGroup creates the builder security group if absent,
	// tolerating concurrent creation by another process.
	EnsureSecurityGroup(ctx context.Context, name string) error
}
