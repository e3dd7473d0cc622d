package deimos

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const remoteDescriptor = `{"version":"4.0.1","url":"https://example.invalid/gubiq","md5":"abc123","sanity":["Gubiq","Version: 4.0.1"]}`

func writeLocalDescriptor(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clientBinaries.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestResolveRemote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(remoteDescriptor))
	}))
	defer server.Close()

	local := writeLocalDescriptor(t, `{"version":"3.0.0"}`)
	d, err := NewDescriptorSource(server.URL, local, time.Second).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4.0.1", d.Version)
	assert.Equal(t, "abc123", d.MD5)
	assert.Equal(t, []string{"Gubiq", "Version: 4.0.1"}, d.Sanity)
}

func TestResolveFallsBackToLocal(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "missing_version",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"message":"rate limited"}`))
			},
		},
		{
			name: "malformed_body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
		},
		{
			name: "server_error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(300 * time.Millisecond)
				_, _ = w.Write([]byte(remoteDescriptor))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			local := writeLocalDescriptor(t, `{"version":"4.0.0","url":"https://example.invalid/gubiq-4.0.0","md5":"def456","sanity":["Gubiq","Version: 4.0.0"]}`)
			d, err := NewDescriptorSource(server.URL, local, 100*time.Millisecond).Resolve(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "4.0.0", d.Version)
			assert.Equal(t, "def456", d.MD5)
		})
	}
}

func TestResolveUnresolvable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	missing := filepath.Join(t.TempDir(), "clientBinaries.json")
	_, err := NewDescriptorSource(server.URL, missing, time.Second).Resolve(context.Background())
	require.ErrorIs(t, err, ErrDescriptorUnresolvable)

	versionless := writeLocalDescriptor(t, `{"url":"https://example.invalid/gubiq"}`)
	_, err = NewDescriptorSource(server.URL, versionless, time.Second).Resolve(context.Background())
	require.ErrorIs(t, err, ErrDescriptorUnresolvable)
}
