package openstack

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeImageLifecycle(t *testing.T) {
	t.Parallel()
	fake := NewFakeConnection()
	ctx := context.Background()

	id, err := fake.UploadImage(ctx, UploadImageOpts{
		Name:   "runner-jammy-x64-3",
		Source: strings.NewReader("disk bytes"),
	})
	require.NoError(t, err)

	listed, err := fake.ListImages(ctx, "runner-jammy-x64")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, id, listed[0].ID)

	none, err := fake.ListImages(ctx, "other-prefix")
	require.NoError(t, err)
	assert.Empty(t, none)

	var buf bytes.Buffer
	require.NoError(t, fake.DownloadImage(ctx, id, &buf))
	assert.Equal(t, "disk bytes", buf.String())

	require.NoError(t, fake.DeleteImage(ctx, id))
	assert.Error(t, fake.DeleteImage(ctx, id))
}

func TestFakeServerLifecycle(t *testing.T) {
	t.Parallel()
	fake := NewFakeConnection()
	ctx := context.Background()

	server, err := fake.CreateServer(ctx, ServerCreateOpts{Name: "image-builder-jammy-x64"})
	require.NoError(t, err)
	require.NotEmpty(t, server.Addr)

	snapID, err := fake.CreateServerSnapshot(ctx, server.ID, "runner-jammy-x64-1")
	require.NoError(t, err)

	listed, err := fake.ListImages(ctx, "runner-jammy-x64")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, snapID, listed[0].ID)

	require.NoError(t, fake.DeleteServer(ctx, server.ID))
	_, err = fake.GetServer(ctx, server.ID)
	assert.Error(t, err)
}

func TestFakeFuncOverride(t *testing.T) {
	t.Parallel()
	fake := NewFakeConnection()
	fake.ListImagesFunc = func(ctx context.Context, prefix string) ([]Image, error) {
		return []Image{{ID: "fixed", Name: prefix + "-9"}}, nil
	}

	listed, err := fake.ListImages(context.Background(), "seed")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "fixed", listed[0].ID)
}

func TestExtractAddrPrefersFloating(t *testing.T) {
	t.Parallel()
	server := &servers.Server{
		Addresses: map[string]any{
			"private": []any{
				map[string]any{"addr": "10.0.0.8", "OS-EXT-IPS:type": "fixed"},
				map[string]any{"addr": "203.0.113.4", "OS-EXT-IPS:type": "floating"},
			},
		},
	}
	assert.Equal(t, "203.0.113.4", extractAddr(server))

	server.Addresses = map[string]any{
		"private": []any{
			map[string]any{"addr": "10.0.0.8", "OS-EXT-IPS:type": "fixed"},
		},
	}
	assert.Equal(t, "10.0.0.8", extractAddr(server))

	server.Addresses = map[string]any{}
	assert.Empty(t, extractAddr(server))
}
