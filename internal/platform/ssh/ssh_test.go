package ssh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/runner-image-builder/internal/util/keygen"
)

func TestNewClientValidKey(t *testing.T) {
	t.Parallel()
	pair, err := keygen.GenerateRSAKeyPair(2048)
	require.NoError(t, err)

	client, err := NewClient("192.0.2.10", "ubuntu", pair.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", client.host)
	assert.Equal(t, "ubuntu", client.user)
}

func TestNewClientRejectsBadKey(t *testing.T) {
	t.Parallel()
	_, err := NewClient("192.0.2.10", "ubuntu", []byte("not a key"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse private key")
}

func TestNewClientRequiresHost(t *testing.T) {
	t.Parallel()
	pair, err := keygen.GenerateRSAKeyPair(2048)
	require.NoError(t, err)

	_, err = NewClient("", "ubuntu", pair.PrivateKey)
	require.Error(t, err)
}
