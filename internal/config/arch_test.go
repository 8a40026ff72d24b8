package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/runner-image-builder/internal/imgerrors"
)

func TestParseArch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Arch
		wantErr bool
	}{
		{input: "arm64", want: ArchARM64},
		{input: "x64", want: ArchX64},
		{input: "amd64", wantErr: true},
		{input: "riscv64", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseArch(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, imgerrors.ErrUnsupportedArchitecture)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArchNaming(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "aarch64", ArchARM64.OpenstackName())
	assert.Equal(t, "x86_64", ArchX64.OpenstackName())
	assert.Equal(t, "arm64", ArchARM64.UbuntuName())
	assert.Equal(t, "amd64", ArchX64.UbuntuName())
}

func TestArchFromGoarch(t *testing.T) {
	t.Parallel()

	arch, err := archFromGoarch("amd64")
	require.NoError(t, err)
	assert.Equal(t, ArchX64, arch)

	arch, err = archFromGoarch("arm64")
	require.NoError(t, err)
	assert.Equal(t, ArchARM64, arch)

	_, err = archFromGoarch("ppc64le")
	assert.ErrorIs(t, err, imgerrors.ErrUnsupportedArchitecture)
}
