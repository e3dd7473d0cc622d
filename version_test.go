package deimos

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersionOutput(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{name: "plain", output: "Gubiq\nVersion: 4.0.1\n", want: "4.0.1"},
		{name: "suffixed", output: "Gubiq\nVersion: 4.0.1-stable-9b1c1a2\nGo Version: go1.21\n", want: "4.0.1"},
		{name: "crlf", output: "Gubiq\r\nVersion: 3.2.0-beta\r\n", want: "3.2.0"},
		{name: "single_line", output: "Gubiq", wantErr: true},
		{name: "no_separator", output: "Gubiq\nVersion 4.0.1\n", wantErr: true},
		{name: "empty_version", output: "Gubiq\nVersion: -stable\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersionOutput(tt.output)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, 0, CompareVersions("4.0.1", "4.0.1"))
	assert.Equal(t, 0, CompareVersions("v4.0.1", "4.0.1"))
	assert.Equal(t, -1, CompareVersions("4.0.0", "4.0.1"))
	assert.Equal(t, 1, CompareVersions("4.1.0", "4.0.9"))
	assert.Equal(t, 0, CompareVersions("nightly", "nightly"))
	assert.Equal(t, 1, CompareVersions("nightly", "4.0.1"))
}

func TestCompareVersionsSuffixed(t *testing.T) {
	installed, err := ParseVersionOutput("Gubiq\nVersion: 4.0.1-stable\n")
	require.NoError(t, err)
	assert.Equal(t, 0, CompareVersions(installed, "4.0.1-stable"))
	assert.Equal(t, 0, CompareVersions("4.0.1-stable", installed))
	assert.Equal(t, 0, CompareVersions("v4.0.1-rc1", "4.0.1"))
	assert.Equal(t, -1, CompareVersions(installed, "4.0.2-stable"))
	assert.Equal(t, "4.0.1", VersionCore(" v4.0.1-stable-9b1c1a2"))
}
