package deimos

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

const DefaultUserAgent = "deimos/1.0"

type EventKind int

const (
	EventStart EventKind = iota
	EventProgress
	EventEnd
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventProgress:
		return "progress"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// DownloadEvent is one step of a download. Size is set on start (-1 when the
// server did not say), Fraction on progress, Path on end and Err on error.
type DownloadEvent struct {
	Kind     EventKind
	Size     int64
	Fraction float64
	Path     string
	Err      error
}

// Downloader retrieves a binary to local storage.
type Downloader struct {
	client    *http.Client
	userAgent string
}

func NewDownloader(client *http.Client) *Downloader {
	if client == nil {
		client = &http.Client{}
	}
	return &Downloader{client: client, userAgent: DefaultUserAgent}
}

// Fetch downloads url to destPath, reporting each step to notify. The body
// is written to destPath+".part" and renamed once complete.
func (d *Downloader) Fetch(ctx context.Context, url, destPath string, notify func(DownloadEvent)) (string, error) {
	if notify == nil {
		notify = func(DownloadEvent) {}
	}
	path, err := d.fetch(ctx, url, destPath, notify)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrDownload, err)
		notify(DownloadEvent{Kind: EventError, Err: err})
		return "", err
	}
	notify(DownloadEvent{Kind: EventEnd, Path: path})
	return path, nil
}

func (d *Downloader) fetch(ctx context.Context, url, destPath string, notify func(DownloadEvent)) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", fmt.Errorf("create dest dir: %w", err)
	}
	tmpPath := destPath + ".part"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer f.Close()

	notify(DownloadEvent{Kind: EventStart, Size: resp.ContentLength})
	pr := &progressReporter{total: resp.ContentLength, notify: notify}
	if _, err := io.Copy(f, io.TeeReader(resp.Body, pr)); err != nil {
		return "", fmt.Errorf("copy response body: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("rename temp file: %w", err)
	}
	return destPath, nil
}

// progressReporter emits a progress event each time the download crosses a
// whole percent. It never goes backwards and stays below 100 until the end
// event.
type progressReporter struct {
	total   int64
	written int64
	last    int
	notify  func(DownloadEvent)
}

func (p *progressReporter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total <= 0 {
		return len(b), nil
	}
	pct := int(p.written * 100 / p.total)
	if pct > p.last && pct < 100 {
		p.last = pct
		p.notify(DownloadEvent{Kind: EventProgress, Fraction: float64(pct) / 100})
	}
	return len(b), nil
}
