package deimos

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Descriptor describes an available client release.
type Descriptor struct {
	Version string   `json:"version"`
	URL     string   `json:"url"`
	MD5     string   `json:"md5"`
	Sanity  []string `json:"sanity"`
	// Signature is an optional URL of a detached OpenPGP signature of the binary.
	Signature string `json:"sig,omitempty"`
}

// DescriptorSource resolves the expected release, preferring the remote
// document and falling back to a local copy.
type DescriptorSource struct {
	remoteURL string
	localPath string
	client    *http.Client
}

func NewDescriptorSource(remoteURL, localPath string, timeout time.Duration) *DescriptorSource {
	return &DescriptorSource{
		remoteURL: remoteURL,
		localPath: localPath,
		client:    &http.Client{Timeout: timeout},
	}
}

// Resolve makes one attempt at each source; there is no retry.
func (s *DescriptorSource) Resolve(ctx context.Context) (*Descriptor, error) {
	d, err := s.fetchRemote(ctx)
	if err == nil {
		return d, nil
	}
	slog.Warn("Unable to fetch latest version info; using local descriptor instead",
		slog.String("url", s.remoteURL), slog.String("err", err.Error()))
	local, lerr := s.readLocal()
	if lerr != nil {
		return nil, fmt.Errorf("%w: remote: %v; local: %v", ErrDescriptorUnresolvable, err, lerr)
	}
	return local, nil
}

func (s *DescriptorSource) fetchRemote(ctx context.Context) (*Descriptor, error) {
	if s.remoteURL == "" {
		return nil, fmt.Errorf("no remote descriptor configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.remoteURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	var d Descriptor
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	if d.Version == "" {
		return nil, fmt.Errorf("descriptor has no version")
	}
	return &d, nil
}

func (s *DescriptorSource) readLocal() (*Descriptor, error) {
	data, err := os.ReadFile(s.localPath)
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.localPath, err)
	}
	if d.Version == "" {
		return nil, fmt.Errorf("%s has no version", s.localPath)
	}
	return &d, nil
}
