package handlers

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/runner-image-builder/internal/imgerrors"
	"github.com/imamik/runner-image-builder/internal/platform/openstack"
)

func TestLatestBuildIDPrintsBareID(t *testing.T) {
	saveAndRestoreFactories(t)
	fake := openstack.NewFakeConnection()
	fake.Images = []openstack.Image{
		{ID: "old-id", Name: "runner-jammy-x64-0"},
		{ID: "new-id", Name: "runner-jammy-x64-1"},
	}
	useFakeCloud(t, fake)

	var out bytes.Buffer
	err := LatestBuildID(context.Background(), "testcloud", "runner-jammy-x64", &out)
	require.NoError(t, err)

	// no trailing newline, scripts capture the id verbatim
	assert.Equal(t, "new-id", out.String())
}

func TestLatestBuildIDNoRevisions(t *testing.T) {
	saveAndRestoreFactories(t)
	useFakeCloud(t, openstack.NewFakeConnection())

	var out bytes.Buffer
	err := LatestBuildID(context.Background(), "testcloud", "runner-jammy-x64", &out)
	require.ErrorIs(t, err, imgerrors.ErrImageNotFound)
	assert.Empty(t, out.String())
}
