package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/imamik/runner-image-builder/internal/config"
	"github.com/imamik/runner-image-builder/internal/platform/openstack"
	"github.com/imamik/runner-image-builder/internal/system"
)

// saveAndRestoreFactories snapshots every factory variable and restores
// it after the test.
func saveAndRestoreFactories(t *testing.T) {
	origDetermineCloud := determineCloud
	origNewConnection := newConnection
	origNewLocalBuilder := newLocalBuilder
	origNewRemoteBuilder := newRemoteBuilder
	origCallbackRunner := callbackRunner

	t.Cleanup(func() {
		determineCloud = origDetermineCloud
		newConnection = origNewConnection
		newLocalBuilder = origNewLocalBuilder
		newRemoteBuilder = origNewRemoteBuilder
		callbackRunner = origCallbackRunner
	})
}

// useFakeCloud points cloud resolution and connection at a fake.
func useFakeCloud(t *testing.T, fake *openstack.FakeConnection) {
	t.Helper()
	determineCloud = func(cloudName string) (string, error) {
		if cloudName == "" {
			return "testcloud", nil
		}
		return cloudName, nil
	}
	newConnection = func(ctx context.Context, cloudName string) (openstack.Connection, error) {
		return fake, nil
	}
}

type mockLocalBuilder struct {
	setupCalls int
	setupErr   error

	builtID  string
	buildErr error
	gotImg   config.ImageConfig
	gotKeep  int
}

func (m *mockLocalBuilder) Setup(context.Context) error {
	m.setupCalls++
	return m.setupErr
}

func (m *mockLocalBuilder) Build(_ context.Context, _ openstack.Connection, img config.ImageConfig, keepRevisions int) (string, error) {
	m.gotImg = img
	m.gotKeep = keepRevisions
	return m.builtID, m.buildErr
}

type mockRemoteBuilder struct {
	initErr  error
	gotArch  config.Arch
	gotCloud config.CloudConfig

	runIDs []string
	runErr error
	gotImg config.ImageConfig
}

func (m *mockRemoteBuilder) Initialize(_ context.Context, arch config.Arch, cloud config.CloudConfig) error {
	m.gotArch = arch
	m.gotCloud = cloud
	return m.initErr
}

func (m *mockRemoteBuilder) Run(_ context.Context, img config.ImageConfig, cloud config.CloudConfig, _ int) ([]string, error) {
	m.gotImg = img
	m.gotCloud = cloud
	return m.runIDs, m.runErr
}

func useMockBuilders(local *mockLocalBuilder, remote *mockRemoteBuilder) {
	newLocalBuilder = func() (localBuilder, error) { return local, nil }
	newRemoteBuilder = func(conn openstack.Connection) (remoteBuilder, error) { return remote, nil }
}

// failingCloud makes any cloud access blow up, proving a code path
// never reaches the cloud.
func failingCloud(t *testing.T) {
	t.Helper()
	determineCloud = func(string) (string, error) {
		return "", errors.New("cloud access not expected")
	}
	newConnection = func(context.Context, string) (openstack.Connection, error) {
		return nil, errors.New("connection not expected")
	}
}

func recordCallbacks() *system.Recorder {
	rec := &system.Recorder{}
	callbackRunner = rec
	return rec
}
