package openstack

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/keypairs"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/imagedata"
	"github.com/gophercloud/gophercloud/v2/openstack/image/v2/images"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/groups"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/rules"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"github.com/gophercloud/utils/v2/openstack/clientconfig"

	"github.com/imamik/runner-image-builder/internal/util/retry"
)

// RealConnection implements Connection against live OpenStack services.
type RealConnection struct {
	image   *gophercloud.ServiceClient
	compute *gophercloud.ServiceClient
	network *gophercloud.ServiceClient
}

var _ Connection = (*RealConnection)(nil)

// NewConnection authenticates against the named cloud from clouds.yaml
// and returns a ready connection.
func NewConnection(ctx context.Context, cloudName string) (*RealConnection, error) {
	opts := &clientconfig.ClientOpts{Cloud: cloudName}

	image, err := clientconfig.NewServiceClient(ctx, "image", opts)
	if err != nil {
		return nil, classify("connect image service", err)
	}
	compute, err := clientconfig.NewServiceClient(ctx, "compute", opts)
	if err != nil {
		return nil, classify("connect compute service", err)
	}
	network, err := clientconfig.NewServiceClient(ctx, "network", opts)
	if err != nil {
		return nil, classify("connect network service", err)
	}

	return &RealConnection{image: image, compute: compute, network: network}, nil
}

// UploadImage creates the image record and streams its bytes. A record
// whose data upload failed is deleted again so no half-written revision
// lingers in the store.
func (c *RealConnection) UploadImage(ctx context.Context, opts UploadImageOpts) (string, error) {
	created, err := images.Create(ctx, c.image, images.CreateOpts{
		Name:            opts.Name,
		DiskFormat:      opts.DiskFormat,
		ContainerFormat: opts.ContainerFormat,
		Properties:      opts.Properties,
	}).Extract()
	if err != nil {
		return "", classify("create image record", err)
	}

	if err := imagedata.Upload(ctx, c.image, created.ID, opts.Source).ExtractErr(); err != nil {
		if derr := images.Delete(ctx, c.image, created.ID).ExtractErr(); derr != nil {
			return "", fmt.Errorf("%w (orphaned record %s not removed: %v)",
				classify("upload image data", err), created.ID, derr)
		}
		return "", classify("upload image data", err)
	}
	return created.ID, nil
}

// ListImages returns every image whose name starts with prefix. Glance
// filters by exact name only, so the prefix match happens client side.
func (c *RealConnection) ListImages(ctx context.Context, prefix string) ([]Image, error) {
	pages, err := images.List(c.image, images.ListOpts{}).AllPages(ctx)
	if err != nil {
		return nil, classify("list images", err)
	}
	all, err := images.ExtractImages(pages)
	if err != nil {
		return nil, classify("extract images", err)
	}

	var matched []Image
	for _, img := range all {
		if !strings.HasPrefix(img.Name, prefix) {
			continue
		}
		matched = append(matched, Image{ID: img.ID, Name: img.Name, CreatedAt: img.CreatedAt})
	}
	return matched, nil
}

// DeleteImage removes an image, retrying while the record is locked by
// an in-flight operation.
func (c *RealConnection) DeleteImage(ctx context.Context, id string) error {
	return retry.Do(ctx, func() error {
		err := images.Delete(ctx, c.image, id).ExtractErr()
		if err == nil {
			return nil
		}
		if isConflict(err) {
			return err
		}
		return retry.Fatal(classify("delete image "+id, err))
	}, retry.WithMaxAttempts(3), retry.WithDelay(2*time.Second))
}

// DownloadImage streams the image bytes into w.
func (c *RealConnection) DownloadImage(ctx context.Context, id string, w io.Writer) error {
	reader, err := imagedata.Download(ctx, c.image, id).Extract()
	if err != nil {
		return classify("download image "+id, err)
	}
	if closer, ok := reader.(io.Closer); ok {
		defer closer.Close()
	}
	if _, err := io.Copy(w, reader); err != nil {
		return classify("stream image "+id, err)
	}
	return nil
}

// CreateServer launches a build VM with the given boot image, flavor,
// network and first-boot user data.
func (c *RealConnection) CreateServer(ctx context.Context, opts ServerCreateOpts) (*Server, error) {
	flavorRef, err := c.resolveFlavor(ctx, opts.Flavor)
	if err != nil {
		return nil, err
	}
	networkID, err := c.resolveNetwork(ctx, opts.Network)
	if err != nil {
		return nil, err
	}

	base := servers.CreateOpts{
		Name:           opts.Name,
		ImageRef:       opts.ImageID,
		FlavorRef:      flavorRef,
		UserData:       opts.UserData,
		SecurityGroups: []string{opts.SecurityGroup},
		Networks:       []servers.Network{{UUID: networkID}},
	}
	withKey := keypairs.CreateOptsExt{
		CreateOptsBuilder: base,
		KeyName:           opts.KeyName,
	}

	created, err := servers.Create(ctx, c.compute, withKey, nil).Extract()
	if err != nil {
		return nil, classify("create server "+opts.Name, err)
	}
	return &Server{ID: created.ID, Name: opts.Name, Status: created.Status}, nil
}

// GetServer fetches current server state, including a reachable
// address once one is assigned.
func (c *RealConnection) GetServer(ctx context.Context, id string) (*Server, error) {
	got, err := servers.Get(ctx, c.compute, id).Extract()
	if err != nil {
		return nil, classify("get server "+id, err)
	}
	return &Server{ID: got.ID, Name: got.Name, Status: got.Status, Addr: extractAddr(got)}, nil
}

// DeleteServer removes a server, retrying while it is locked by a
// running action such as snapshot creation.
func (c *RealConnection) DeleteServer(ctx context.Context, id string) error {
	return retry.Do(ctx, func() error {
		err := servers.Delete(ctx, c.compute, id).ExtractErr()
		if err == nil {
			return nil
		}
		if isConflict(err) {
			return err
		}
		return retry.Fatal(classify("delete server "+id, err))
	}, retry.WithMaxAttempts(3), retry.WithDelay(5*time.Second))
}

// CreateServerSnapshot converts the server's disk into an image.
func (c *RealConnection) CreateServerSnapshot(ctx context.Context, serverID, name string) (string, error) {
	id, err := servers.CreateImage(ctx, c.compute, serverID, servers.CreateImageOpts{Name: name}).ExtractImageID()
	if err != nil {
		return "", classify("snapshot server "+serverID, err)
	}
	return id, nil
}

// EnsureKeypair uploads the public key, treating an existing keypair of
// the same name as success so concurrent initializations cannot trip
// over each other.
func (c *RealConnection) EnsureKeypair(ctx context.Context, name, publicKey string) error {
	_, err := keypairs.Create(ctx, c.compute, keypairs.CreateOpts{
		Name:      name,
		PublicKey: publicKey,
	}).Extract()
	if err != nil && !isConflict(err) {
		return classify("create keypair "+name, err)
	}
	return nil
}

// EnsureSecurityGroup creates the builder security group with SSH and
// ICMP ingress if it does not exist yet. Conflicts from a concurrent
// creator count as success.
func (c *RealConnection) EnsureSecurityGroup(ctx context.Context, name string) error {
	pages, err := groups.List(c.network, groups.ListOpts{Name: name}).AllPages(ctx)
	if err != nil {
		return classify("list security groups", err)
	}
	existing, err := groups.ExtractGroups(pages)
	if err != nil {
		return classify("extract security groups", err)
	}
	if len(existing) > 0 {
		return nil
	}

	created, err := groups.Create(ctx, c.network, groups.CreateOpts{
		Name:        name,
		Description: "github runner image builder build VMs",
	}).Extract()
	if err != nil {
		if isConflict(err) {
			return nil
		}
		return classify("create security group "+name, err)
	}

	ingress := []rules.CreateOpts{
		{
			Direction:      rules.DirIngress,
			EtherType:      rules.EtherType4,
			Protocol:       rules.ProtocolTCP,
			PortRangeMin:   22,
			PortRangeMax:   22,
			RemoteIPPrefix: "0.0.0.0/0",
			SecGroupID:     created.ID,
		},
		{
			Direction:      rules.DirIngress,
			EtherType:      rules.EtherType4,
			Protocol:       rules.ProtocolICMP,
			RemoteIPPrefix: "0.0.0.0/0",
			SecGroupID:     created.ID,
		},
	}
	for _, rule := range ingress {
		if _, err := rules.Create(ctx, c.network, rule).Extract(); err != nil && !isConflict(err) {
			return classify("create security group rule", err)
		}
	}
	return nil
}

// resolveFlavor turns a flavor name into its id, passing ids through
// untouched.
func (c *RealConnection) resolveFlavor(ctx context.Context, nameOrID string) (string, error) {
	pages, err := flavors.ListDetail(c.compute, flavors.ListOpts{}).AllPages(ctx)
	if err != nil {
		return "", classify("list flavors", err)
	}
	all, err := flavors.ExtractFlavors(pages)
	if err != nil {
		return "", classify("extract flavors", err)
	}
	for _, flavor := range all {
		if flavor.Name == nameOrID || flavor.ID == nameOrID {
			return flavor.ID, nil
		}
	}
	return nameOrID, nil
}

// resolveNetwork turns a network name into its id, passing ids through
// untouched.
func (c *RealConnection) resolveNetwork(ctx context.Context, nameOrID string) (string, error) {
	pages, err := networks.List(c.network, networks.ListOpts{Name: nameOrID}).AllPages(ctx)
	if err != nil {
		return "", classify("list networks", err)
	}
	all, err := networks.ExtractNetworks(pages)
	if err != nil {
		return "", classify("extract networks", err)
	}
	if len(all) > 0 {
		return all[0].ID, nil
	}
	return nameOrID, nil
}

// extractAddr digs a usable IP out of the nova address map, preferring
// floating addresses over fixed ones.
func extractAddr(server *servers.Server) string {
	var fixed string
	for _, entries := range server.Addresses {
		list, ok := entries.([]any)
		if !ok {
			continue
		}
		for _, entry := range list {
			fields, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			addr, _ := fields["addr"].(string)
			if addr == "" {
				continue
			}
			if kind, _ := fields["OS-EXT-IPS:type"].(string); kind == "floating" {
				return addr
			}
			if fixed == "" {
				fixed = addr
			}
		}
	}
	return fixed
}
