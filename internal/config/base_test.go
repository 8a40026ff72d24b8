package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBaseImage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    BaseImage
		wantErr bool
	}{
		{input: "jammy", want: BaseJammy},
		{input: "22.04", want: BaseJammy},
		{input: "noble", want: BaseNoble},
		{input: "24.04", want: BaseNoble},
		{input: "focal", wantErr: true},
		{input: "20.04", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseBaseImage(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Codename and version tag must normalize to the same value, and a
// parsed value's own version tag must parse back to itself.
func TestParseBaseImageRoundTrip(t *testing.T) {
	t.Parallel()

	for _, base := range []BaseImage{BaseJammy, BaseNoble} {
		fromName, err := ParseBaseImage(base.String())
		require.NoError(t, err)

		fromTag, err := ParseBaseImage(base.Version())
		require.NoError(t, err)

		assert.Equal(t, base, fromName)
		assert.Equal(t, base, fromTag)

		again, err := ParseBaseImage(fromTag.Version())
		require.NoError(t, err)
		assert.Equal(t, fromTag, again)
	}
}

func TestBaseImageVersion(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "22.04", BaseJammy.Version())
	assert.Equal(t, "24.04", BaseNoble.Version())
}
