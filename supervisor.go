package deimos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type State int

const (
	StateIdle State = iota
	StateRestartPending
	StateDownloading
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRestartPending:
		return "restart_pending"
	case StateDownloading:
		return "downloading"
	default:
		return "unknown"
	}
}

type Prober interface {
	Check(ctx context.Context) error
}

type Resolver interface {
	Resolve(ctx context.Context) (*Descriptor, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url, destPath string, notify func(DownloadEvent)) (string, error)
}

// BinaryStore is the versioned binary directory and its active alias.
type BinaryStore interface {
	Active() (ActiveBinary, bool)
	InstalledVersion(ctx context.Context) (string, error)
	StagingPath(version, runID string) string
	Verify(ctx context.Context, path string, d *Descriptor, sigPath string) error
	Discard(path string)
	Promote(staged, version string) (ActiveBinary, error)
}

type ProcessLauncher interface {
	Launch(ctx context.Context) error
	Stop(ctx context.Context) error
}

type pipelineResult struct {
	runID      string
	descriptor *Descriptor
	path       string
	err        error
}

// Status is a point-in-time view of the supervisor for the control endpoint.
type Status struct {
	State         string    `json:"state"`
	Polling       bool      `json:"polling"`
	ActiveVersion string    `json:"activeVersion,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
}

// Supervisor keeps one client process reachable, installing or upgrading its
// binary when needed. All state transitions happen on the goroutine running
// Run; the download pipeline reports back over results.
type Supervisor struct {
	probe    Prober
	source   Resolver
	fetcher  Fetcher
	store    BinaryStore
	launcher ProcessLauncher

	pollInterval     time.Duration
	updateInterval   time.Duration
	downloadTimeout  time.Duration
	autoUpdate       bool
	upgradeRunning   bool
	verifySignatures bool

	state   State
	polling bool
	ticker  *time.Ticker
	results chan pipelineResult
	checks  chan string

	statusMu  sync.RWMutex
	status    Status
	startTime time.Time
}

type Option func(*Supervisor)

func WithProbe(p Prober) Option             { return func(s *Supervisor) { s.probe = p } }
func WithResolver(r Resolver) Option        { return func(s *Supervisor) { s.source = r } }
func WithFetcher(f Fetcher) Option          { return func(s *Supervisor) { s.fetcher = f } }
func WithStore(b BinaryStore) Option        { return func(s *Supervisor) { s.store = b } }
func WithLauncher(l ProcessLauncher) Option { return func(s *Supervisor) { s.launcher = l } }

// New builds a supervisor from cfg. Components not overridden by opts are
// the real network, filesystem and process implementations.
func New(cfg *Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		probe:            NewRPCProbe(cfg.RPC.Endpoint(), cfg.ProbeTimeout.Std()),
		source:           NewDescriptorSource(cfg.DescriptorURL, cfg.LocalDescriptor, cfg.ProbeTimeout.Std()),
		fetcher:          NewDownloader(nil),
		store:            NewInstaller(cfg.BinDir, cfg.Tool, cfg.Keyring, cfg.QueryTimeout.Std()),
		launcher:         NewLauncher(cfg.BinDir, cfg.Tool, cfg.RPC, cfg.ChildLog, cfg.StartGrace.Std()),
		pollInterval:     cfg.PollInterval.Std(),
		updateInterval:   cfg.UpdateInterval.Std(),
		downloadTimeout:  cfg.DownloadTimeout.Std(),
		autoUpdate:       cfg.AutoUpdateEnabled(),
		upgradeRunning:   cfg.UpgradeRunningEnabled(),
		verifySignatures: cfg.Keyring != "",
		state:            StateIdle,
		polling:          true,
		results:          make(chan pipelineResult, 1),
		checks:           make(chan string, 1),
		startTime:        time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.status = Status{State: s.state.String(), Polling: s.polling, StartedAt: s.startTime}
	return s
}

// Run performs the startup check and then drives the state machine until ctx
// is done or the download pipeline fails.
func (s *Supervisor) Run(ctx context.Context) error {
	recordState(s.state)
	s.startup(ctx)

	s.ticker = time.NewTicker(s.pollInterval)
	defer s.ticker.Stop()
	var update <-chan time.Time
	if s.autoUpdate && s.updateInterval > 0 {
		t := time.NewTicker(s.updateInterval)
		defer t.Stop()
		update = t.C
	}
	for {
		var tick <-chan time.Time
		if s.polling {
			tick = s.ticker.C
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			s.tick(ctx)
		case reason := <-s.checks:
			slog.Info("Out-of-band check", slog.String("reason", reason))
			if s.state == StateIdle {
				s.check(ctx)
			}
		case <-update:
			s.checkForUpdate(ctx)
		case res := <-s.results:
			if err := s.finish(res); err != nil {
				return err
			}
		}
	}
}

// QueueCheck requests an out-of-band health check. It never blocks; a
// request already queued absorbs this one.
func (s *Supervisor) QueueCheck(reason string) {
	select {
	case s.checks <- reason:
	default:
	}
}

func (s *Supervisor) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Supervisor) startup(ctx context.Context) {
	s.check(ctx)
	if s.autoUpdate {
		s.checkForUpdate(ctx)
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	switch s.state {
	case StateRestartPending:
		slog.Info("Restart required")
		if s.upgradeRunning {
			if err := s.launcher.Stop(ctx); err != nil {
				slog.Warn("Could not stop outdated client", slog.String("err", err.Error()))
			}
		}
		s.setState(StateIdle)
	case StateDownloading:
		slog.Debug("Download in progress; skipping health check")
	default:
		s.check(ctx)
	}
}

// check probes the client and restarts it, or installs a binary when none
// is active.
func (s *Supervisor) check(ctx context.Context) {
	if s.state == StateDownloading {
		slog.Debug("Download in progress; skipping health check")
		return
	}
	err := s.probe.Check(ctx)
	if err == nil {
		s.clearLastErr()
		return
	}
	probeFailureCounter.Inc()
	slog.Warn("Client not responding. Attempting to restart..", slog.String("err", err.Error()))

	if _, ok := s.store.Active(); ok {
		if err := s.launcher.Launch(ctx); err != nil {
			if errors.Is(err, ErrClientStarting) {
				slog.Info("Client is still starting; waiting for the next probe", slog.String("detail", err.Error()))
				s.arm()
				return
			}
			launchFailureCounter.Inc()
			slog.Error("Failed to launch client", slog.String("err", err.Error()))
			s.setLastErr(err)
			return
		}
		restartCounter.WithLabelValues("unreachable").Inc()
		s.clearLastErr()
		s.arm()
		return
	}

	slog.Error("Client binary not found", slog.String("err", ErrNoActiveBinary.Error()))
	s.disarm()
	d, err := s.source.Resolve(ctx)
	if err != nil {
		slog.Error("Cannot install client", slog.String("err", err.Error()))
		s.setLastErr(err)
		s.arm()
		return
	}
	s.startPipeline(ctx, d)
}

// checkForUpdate compares the active binary's version with the descriptor
// and starts the pipeline when they differ.
func (s *Supervisor) checkForUpdate(ctx context.Context) {
	if s.state != StateIdle {
		return
	}
	if _, ok := s.store.Active(); !ok {
		return
	}
	slog.Info("Checking for client update..")
	d, err := s.source.Resolve(ctx)
	if err != nil {
		slog.Warn("Update check failed", slog.String("err", err.Error()))
		return
	}
	installed, err := s.store.InstalledVersion(ctx)
	if err != nil {
		slog.Warn("Could not query installed version", slog.String("err", err.Error()))
		return
	}
	s.setActiveVersion(installed)
	if CompareVersions(installed, d.Version) == 0 {
		slog.Info("Client is already latest version.", slog.String("version", installed))
		return
	}
	slog.Info("A new version of the client is available",
		slog.String("installed", installed), slog.String("available", d.Version))
	s.startPipeline(ctx, d)
}

func (s *Supervisor) startPipeline(ctx context.Context, d *Descriptor) {
	s.setState(StateDownloading)
	s.disarm()
	runID := uuid.NewString()
	go func() {
		s.results <- s.pipeline(ctx, runID, d)
	}()
}

// pipeline downloads and verifies a release. It does not promote; that
// happens on the supervisor goroutine in finish.
func (s *Supervisor) pipeline(ctx context.Context, runID string, d *Descriptor) pipelineResult {
	res := pipelineResult{runID: runID, descriptor: d}
	log := slog.With(slog.String("run", runID), slog.String("version", d.Version))
	if s.downloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.downloadTimeout)
		defer cancel()
	}

	dest := s.store.StagingPath(d.Version, runID)
	res.path = dest
	path, err := s.fetcher.Fetch(ctx, d.URL, dest, progressLogger(log))
	if err != nil {
		res.err = err
		return res
	}
	var sigPath string
	if s.verifySignatures && d.Signature != "" {
		sigPath, err = s.fetcher.Fetch(ctx, d.Signature, dest+".sig", nil)
		if err != nil {
			res.err = err
			return res
		}
	}
	log.Info("Download complete. Performing sanity check..")
	if err := s.store.Verify(ctx, path, d, sigPath); err != nil {
		res.err = err
		return res
	}
	return res
}

func (s *Supervisor) finish(res pipelineResult) error {
	downloadProgress.Set(0)
	log := slog.With(slog.String("run", res.runID), slog.String("version", res.descriptor.Version))
	if res.err != nil {
		s.store.Discard(res.path)
		pipelineCounter.WithLabelValues(pipelineResultLabel(res.err)).Inc()
		log.Error("aborting..", slog.String("err", res.err.Error()))
		s.setLastErr(res.err)
		return res.err
	}
	ab, err := s.store.Promote(res.path, res.descriptor.Version)
	if err != nil {
		s.store.Discard(res.path)
		pipelineCounter.WithLabelValues(pipelineResultLabel(err)).Inc()
		log.Error("aborting..", slog.String("err", err.Error()))
		s.setLastErr(err)
		return fmt.Errorf("promote %s: %w", res.path, err)
	}
	pipelineCounter.WithLabelValues(pipelineResultLabel(nil)).Inc()
	log.Info("Client binary promoted", slog.String("active", ab.Path), slog.String("target", ab.Target))
	s.setActiveVersion(res.descriptor.Version)
	s.clearLastErr()
	s.setState(StateRestartPending)
	s.arm()
	return nil
}

func progressLogger(log *slog.Logger) func(DownloadEvent) {
	return func(ev DownloadEvent) {
		switch ev.Kind {
		case EventStart:
			log.Info("Downloading client", slog.String("size", fmt.Sprintf("%.2f MB", float64(ev.Size)/1024/1024)))
		case EventProgress:
			downloadProgress.Set(ev.Fraction)
			log.Debug("Download progress", slog.Int("percent", int(ev.Fraction*100)))
		case EventEnd:
			downloadProgress.Set(1)
		case EventError:
			log.Error("Download failed", slog.String("err", ev.Err.Error()))
		}
	}
}

func (s *Supervisor) arm() {
	s.polling = true
	if s.ticker != nil {
		s.ticker.Reset(s.pollInterval)
	}
	s.publish(func(st *Status) { st.Polling = true })
}

func (s *Supervisor) disarm() {
	s.polling = false
	s.publish(func(st *Status) { st.Polling = false })
}

func (s *Supervisor) setState(st State) {
	s.state = st
	recordState(st)
	s.publish(func(status *Status) { status.State = st.String() })
}

func (s *Supervisor) setLastErr(err error) {
	s.publish(func(st *Status) { st.LastError = err.Error() })
}

func (s *Supervisor) clearLastErr() {
	s.publish(func(st *Status) { st.LastError = "" })
}

func (s *Supervisor) setActiveVersion(v string) {
	s.publish(func(st *Status) { st.ActiveVersion = v })
}

func (s *Supervisor) publish(update func(*Status)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	update(&s.status)
}
