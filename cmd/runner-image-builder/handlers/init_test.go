package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/runner-image-builder/internal/config"
	"github.com/imamik/runner-image-builder/internal/platform/openstack"
)

func TestInitLocalInstallsHostDeps(t *testing.T) {
	saveAndRestoreFactories(t)
	failingCloud(t)

	local := &mockLocalBuilder{}
	useMockBuilders(local, &mockRemoteBuilder{})

	err := Init(context.Background(), InitOptions{Arch: "x64"})
	require.NoError(t, err)
	assert.Equal(t, 1, local.setupCalls)
}

func TestInitLocalSetupFailure(t *testing.T) {
	saveAndRestoreFactories(t)
	failingCloud(t)

	local := &mockLocalBuilder{setupErr: errors.New("apt broken")}
	useMockBuilders(local, &mockRemoteBuilder{})

	err := Init(context.Background(), InitOptions{Arch: "x64"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apt broken")
}

func TestInitExternalSeedsCloud(t *testing.T) {
	saveAndRestoreFactories(t)
	useFakeCloud(t, openstack.NewFakeConnection())

	remote := &mockRemoteBuilder{}
	useMockBuilders(&mockLocalBuilder{}, remote)

	err := Init(context.Background(), InitOptions{
		Arch:      "arm64",
		CloudName: "sunbeam",
		Prefix:    "ci-",
		External:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, config.ArchARM64, remote.gotArch)
	assert.Equal(t, "sunbeam", remote.gotCloud.CloudName)
	assert.Equal(t, "ci-", remote.gotCloud.Prefix)
}

func TestInitRejectsUnknownArch(t *testing.T) {
	saveAndRestoreFactories(t)
	failingCloud(t)
	useMockBuilders(&mockLocalBuilder{}, &mockRemoteBuilder{})

	err := Init(context.Background(), InitOptions{Arch: "s390x"})
	require.Error(t, err)
}
