package deimos

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	graceTimeout = 5 * time.Second
	reapInterval = 100 * time.Millisecond
)

// Launcher starts the active client binary as a detached background process.
type Launcher struct {
	binDir     string
	tool       string
	rpc        RPCConfig
	childLog   string
	startGrace time.Duration

	mu      sync.Mutex
	lastPID int
	started time.Time
	exited  chan struct{}
}

func NewLauncher(binDir, tool string, rpc RPCConfig, childLog string, startGrace time.Duration) *Launcher {
	return &Launcher{binDir: binDir, tool: tool, rpc: rpc, childLog: childLog, startGrace: startGrace}
}

// Args is the fixed control-interface invocation.
func (l *Launcher) Args() []string {
	return []string{
		"--rpc",
		"--rpcaddr", l.rpc.Host,
		"--rpcport", strconv.Itoa(l.rpc.Port),
		"--rpcapi", strings.Join(l.rpc.APIs, ","),
	}
}

// Launch starts the client and returns once it has been spawned. It does not
// wait for the client to become reachable. A client that started less than
// startGrace ago is left alone and ErrClientStarting is returned. Older
// instances still running are taken to be hung and are stopped first.
//
// The child gets its own session and writes straight to the child log file,
// so it keeps running after the watchdog exits.
func (l *Launcher) Launch(ctx context.Context) error {
	bin, err := filepath.Abs(filepath.Join(l.binDir, l.tool))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	if _, err := os.Stat(bin); err != nil {
		return fmt.Errorf("%w: %w", ErrLaunchFailed, ErrNoActiveBinary)
	}

	pid, age, alive := l.tracked()
	if alive && age < l.startGrace {
		return fmt.Errorf("%w: pid %d launched %s ago", ErrClientStarting, pid, age.Round(time.Second))
	}
	procs, err := l.running(ctx)
	if err != nil {
		slog.Warn("Could not list client processes", slog.String("err", err.Error()))
	}
	var stale []*process.Process
	for _, p := range procs {
		if age := processAge(ctx, p); age < l.startGrace {
			return fmt.Errorf("%w: pid %d started %s ago", ErrClientStarting, p.Pid, age.Round(time.Second))
		}
		stale = append(stale, p)
	}
	if alive && !hasPID(stale, pid) {
		if p, err := process.NewProcessWithContext(ctx, int32(pid)); err == nil {
			stale = append(stale, p)
		}
	}
	if err := l.terminate(ctx, stale); err != nil {
		slog.Warn("Could not stop stale client", slog.String("err", err.Error()))
	}

	out, err := l.openChildLog()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	defer out.Close()

	cmd := exec.Command(bin, l.Args()...)
	cmd.Dir = l.binDir
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	pid = cmd.Process.Pid
	exited := make(chan struct{})
	l.mu.Lock()
	l.lastPID, l.started, l.exited = pid, time.Now(), exited
	l.mu.Unlock()

	slog.Info("Starting client", slog.Int("pid", pid), slog.String("bin", bin), slog.String("args", strings.Join(l.Args(), " ")))
	go func() {
		err := cmd.Wait()
		close(exited)
		if err != nil {
			slog.Warn("Client exited", slog.Int("pid", pid), slog.String("err", err.Error()))
			return
		}
		slog.Info("Client exited cleanly", slog.Int("pid", pid))
	}()
	return nil
}

// openChildLog returns the file the client's stdout and stderr are bound to.
// It must be a real file: a pipe would be closed when the watchdog exits.
func (l *Launcher) openChildLog() (*os.File, error) {
	if l.childLog == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(l.childLog), 0o755); err != nil {
		return nil, fmt.Errorf("create child log dir: %w", err)
	}
	return os.OpenFile(l.childLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// tracked reports the client this launcher last started, if it is still
// running.
func (l *Launcher) tracked() (pid int, age time.Duration, alive bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.exited == nil {
		return 0, 0, false
	}
	select {
	case <-l.exited:
		return 0, 0, false
	default:
	}
	return l.lastPID, time.Since(l.started), true
}

// Stop terminates every running process executing one of the tool's
// binaries from binDir, regardless of age.
func (l *Launcher) Stop(ctx context.Context) error {
	procs, err := l.running(ctx)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.exited = nil
	l.mu.Unlock()
	return l.terminate(ctx, procs)
}

// terminate sends SIGTERM to procs and SIGKILL to any still alive after
// graceTimeout.
func (l *Launcher) terminate(ctx context.Context, procs []*process.Process) error {
	for _, p := range procs {
		slog.Info("Stopping client", slog.Int("pid", int(p.Pid)))
		if err := p.TerminateWithContext(ctx); err != nil {
			slog.Warn("SIGTERM failed", slog.Int("pid", int(p.Pid)), slog.String("err", err.Error()))
		}
	}
	deadline := time.Now().Add(graceTimeout)
	for _, p := range procs {
		for {
			alive, err := p.IsRunningWithContext(ctx)
			if err != nil || !alive {
				break
			}
			if time.Now().After(deadline) {
				slog.Warn("Client did not exit in time; sending SIGKILL", slog.Int("pid", int(p.Pid)))
				_ = p.KillWithContext(ctx)
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reapInterval):
			}
		}
	}
	return nil
}

// processAge is how long p has been running. Unknown ages count as old.
func processAge(ctx context.Context, p *process.Process) time.Duration {
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return time.Duration(math.MaxInt64)
	}
	return time.Since(time.UnixMilli(ms))
}

func hasPID(procs []*process.Process, pid int) bool {
	for _, p := range procs {
		if int(p.Pid) == pid {
			return true
		}
	}
	return false
}

// running lists processes whose executable is one of the tool's files in binDir.
func (l *Launcher) running(ctx context.Context) ([]*process.Process, error) {
	dir, err := filepath.Abs(l.binDir)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	self := int32(os.Getpid())
	var matched []*process.Process
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		exe, err := p.ExeWithContext(ctx)
		if err != nil || exe == "" {
			continue
		}
		exe = strings.TrimSuffix(exe, " (deleted)")
		if filepath.Dir(exe) != dir {
			continue
		}
		if base := filepath.Base(exe); base == l.tool || strings.HasPrefix(base, l.tool+"-") {
			matched = append(matched, p)
		}
	}
	return matched, nil
}
