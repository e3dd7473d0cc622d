package deimos

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "deimos.pid")

	require.NoError(t, checkOrCreatePIDFile(pidFile))
	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	assert.Error(t, checkOrCreatePIDFile(pidFile), "second instance must be refused")

	removePIDFile(pidFile)
	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))
}
