package deimos

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeClientScript is a stand-in client binary answering "version" like the
// real one does.
func fakeClientScript(name, version string) []byte {
	return []byte(fmt.Sprintf("#!/bin/sh\nif [ \"$1\" = \"version\" ]; then\n  printf '%s\\nVersion: %s\\nArchitecture: amd64\\n'\n  exit 0\nfi\nexit 0\n", name, version))
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// installActive writes <binDir>/<tool>-<version> and points <binDir>/<tool> at it.
func installActive(t *testing.T, binDir, tool, version string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	target := filepath.Join(binDir, tool+"-"+version)
	require.NoError(t, os.WriteFile(target, fakeClientScript("Gubiq", version), 0o755))
	require.NoError(t, os.Symlink(filepath.Base(target), filepath.Join(binDir, tool)))
	return target
}

func activeTarget(t *testing.T, binDir, tool string) string {
	t.Helper()
	target, err := os.Readlink(filepath.Join(binDir, tool))
	require.NoError(t, err)
	return target
}
