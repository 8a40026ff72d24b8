package handlers

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/runner-image-builder/internal/config"
	"github.com/imamik/runner-image-builder/internal/platform/openstack"
)

func baseRunOptions() RunOptions {
	return RunOptions{
		CloudName:     "testcloud",
		ImageName:     "runner-jammy-x64",
		Arch:          "x64",
		BaseImage:     "jammy",
		KeepRevisions: 5,
	}
}

func TestRunLocalPrintsBareID(t *testing.T) {
	saveAndRestoreFactories(t)
	useFakeCloud(t, openstack.NewFakeConnection())
	recordCallbacks()

	local := &mockLocalBuilder{builtID: "img-0042"}
	useMockBuilders(local, &mockRemoteBuilder{})

	var out bytes.Buffer
	err := Run(context.Background(), baseRunOptions(), &out)
	require.NoError(t, err)

	// bare id, no trailing newline
	assert.Equal(t, "img-0042", out.String())
	assert.Equal(t, config.BaseJammy, local.gotImg.Base)
	assert.Equal(t, 5, local.gotKeep)
}

func TestRunLocalAcceptsVersionTag(t *testing.T) {
	saveAndRestoreFactories(t)
	useFakeCloud(t, openstack.NewFakeConnection())
	recordCallbacks()

	local := &mockLocalBuilder{builtID: "img-1"}
	useMockBuilders(local, &mockRemoteBuilder{})

	opts := baseRunOptions()
	opts.BaseImage = "24.04"

	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), opts, &out))
	assert.Equal(t, config.BaseNoble, local.gotImg.Base)
}

func TestRunLocalBuildFailure(t *testing.T) {
	saveAndRestoreFactories(t)
	useFakeCloud(t, openstack.NewFakeConnection())
	rec := recordCallbacks()

	local := &mockLocalBuilder{buildErr: errors.New("nbd exhausted")}
	useMockBuilders(local, &mockRemoteBuilder{})

	opts := baseRunOptions()
	opts.CallbackScript = "/usr/local/bin/notify"

	var out bytes.Buffer
	err := Run(context.Background(), opts, &out)
	require.Error(t, err)
	assert.Empty(t, out.String())
	assert.Empty(t, rec.Commands)
}

func TestRunExternalPrintsAllIDs(t *testing.T) {
	saveAndRestoreFactories(t)
	useFakeCloud(t, openstack.NewFakeConnection())
	recordCallbacks()

	remote := &mockRemoteBuilder{runIDs: []string{"img-1", "img-2"}}
	useMockBuilders(&mockLocalBuilder{}, remote)

	opts := baseRunOptions()
	opts.External = true
	opts.Flavor = "m1.large"
	opts.Network = "private"
	opts.Proxy = "squid:3128"
	opts.UploadClouds = []string{"staging"}

	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), opts, &out))

	assert.Equal(t, "Image build success:\nimg-1,img-2", out.String())
	assert.Equal(t, "m1.large", remote.gotCloud.Flavor)
	assert.Equal(t, "squid:3128", remote.gotCloud.Proxy)
	assert.Equal(t, []string{"staging"}, remote.gotCloud.UploadCloudNames)
}

func TestRunExternalPartialFanOutFailure(t *testing.T) {
	saveAndRestoreFactories(t)
	useFakeCloud(t, openstack.NewFakeConnection())
	rec := recordCallbacks()

	remote := &mockRemoteBuilder{
		runIDs: []string{"img-1"},
		runErr: errors.New("upload to cloud staging: auth refused"),
	}
	useMockBuilders(&mockLocalBuilder{}, remote)

	opts := baseRunOptions()
	opts.External = true
	opts.CallbackScript = "/usr/local/bin/notify"

	var out bytes.Buffer
	err := Run(context.Background(), opts, &out)
	require.Error(t, err)

	// successful ids are still reported and handed to the callback
	assert.Equal(t, "Image build success:\nimg-1", out.String())
	assert.True(t, rec.Ran("/usr/local/bin/notify img-1"))
}

func TestRunCallbackReceivesJoinedIDs(t *testing.T) {
	saveAndRestoreFactories(t)
	useFakeCloud(t, openstack.NewFakeConnection())
	rec := recordCallbacks()

	remote := &mockRemoteBuilder{runIDs: []string{"img-1", "img-2"}}
	useMockBuilders(&mockLocalBuilder{}, remote)

	opts := baseRunOptions()
	opts.External = true
	opts.CallbackScript = "/opt/publish.sh"

	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), opts, &out))
	assert.True(t, rec.Ran("/opt/publish.sh img-1,img-2"))
}

func TestRunCallbackFailureDoesNotFailBuild(t *testing.T) {
	saveAndRestoreFactories(t)
	useFakeCloud(t, openstack.NewFakeConnection())
	rec := recordCallbacks()
	rec.FailOn = map[string]error{"notify": errors.New("exit status 3")}

	local := &mockLocalBuilder{builtID: "img-1"}
	useMockBuilders(local, &mockRemoteBuilder{})

	opts := baseRunOptions()
	opts.CallbackScript = "/usr/local/bin/notify"

	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), opts, &out))
	assert.Equal(t, "img-1", out.String())
}

func TestBuildStrategiesYieldImageIDs(t *testing.T) {
	ctx := context.Background()
	img := config.ImageConfig{Name: "runner-jammy-x64"}

	local := &mockLocalBuilder{builtID: "img-9"}
	var s imageBuilder = &localStrategy{
		conn:          openstack.NewFakeConnection(),
		pipeline:      local,
		keepRevisions: 3,
	}
	ids, err := s.Build(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, []string{"img-9"}, ids)
	assert.Equal(t, 3, local.gotKeep)

	remote := &mockRemoteBuilder{runIDs: []string{"img-1", "img-2"}}
	s = &remoteStrategy{pipeline: remote, cloud: config.CloudConfig{CloudName: "testcloud"}}
	ids, err = s.Build(ctx, img)
	require.NoError(t, err)
	assert.Equal(t, []string{"img-1", "img-2"}, ids)
	assert.Equal(t, "testcloud", remote.gotCloud.CloudName)
}

func TestRunRejectsBadSnapSpec(t *testing.T) {
	saveAndRestoreFactories(t)
	failingCloud(t)
	useMockBuilders(&mockLocalBuilder{}, &mockRemoteBuilder{})

	opts := baseRunOptions()
	opts.Snaps = []string{"just-a-name"}

	var out bytes.Buffer
	err := Run(context.Background(), opts, &out)
	require.Error(t, err)
}

func TestRunRejectsBadBase(t *testing.T) {
	saveAndRestoreFactories(t)
	failingCloud(t)
	useMockBuilders(&mockLocalBuilder{}, &mockRemoteBuilder{})

	opts := baseRunOptions()
	opts.BaseImage = "trusty"

	var out bytes.Buffer
	err := Run(context.Background(), opts, &out)
	require.Error(t, err)
}
