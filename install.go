package deimos

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// ActiveBinary is the executable currently aliased as the one to launch.
type ActiveBinary struct {
	// Path is the alias, <binDir>/<tool>.
	Path string
	// Target is the versioned file the alias points at, empty if Path is a
	// plain file.
	Target string
}

// Installer verifies downloaded binaries and promotes them to active.
type Installer struct {
	binDir       string
	tool         string
	keyringPath  string
	queryTimeout time.Duration
}

func NewInstaller(binDir, tool, keyringPath string, queryTimeout time.Duration) *Installer {
	return &Installer{
		binDir:       binDir,
		tool:         tool,
		keyringPath:  keyringPath,
		queryTimeout: queryTimeout,
	}
}

// ActivePath is the alias launched by the watchdog.
func (in *Installer) ActivePath() string {
	return filepath.Join(in.binDir, in.tool)
}

// VersionedPath is where a verified release of the given version lives.
func (in *Installer) VersionedPath(version string) string {
	return filepath.Join(in.binDir, in.tool+"-"+version)
}

// StagingPath is a per-run download location in binDir. It never names an
// existing release, so an artifact that fails verification cannot replace
// the binary the alias points at.
func (in *Installer) StagingPath(version, runID string) string {
	return filepath.Join(in.binDir, fmt.Sprintf(".%s-%s.%s", in.tool, version, runID))
}

// Discard removes a staged artifact, its signature and any partial download.
func (in *Installer) Discard(path string) {
	for _, p := range []string{path, path + ".part", path + ".sig", path + ".sig.part"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("Could not remove staged file", slog.String("file", p), slog.String("err", err.Error()))
		}
	}
}

// Active reports the active binary if the alias resolves to a regular file.
func (in *Installer) Active() (ActiveBinary, bool) {
	path := in.ActivePath()
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return ActiveBinary{}, false
	}
	ab := ActiveBinary{Path: path}
	if target, err := os.Readlink(path); err == nil {
		ab.Target = target
	}
	return ab, true
}

// InstalledVersion queries the active binary for its version token.
func (in *Installer) InstalledVersion(ctx context.Context) (string, error) {
	if _, ok := in.Active(); !ok {
		return "", ErrNoActiveBinary
	}
	out, err := in.runVersion(ctx, in.ActivePath())
	if err != nil {
		return "", err
	}
	return ParseVersionOutput(out)
}

// Verify checks a downloaded artifact against the descriptor: checksum,
// executable bit, optional detached signature, then the version query.
// Nothing here touches the active alias.
func (in *Installer) Verify(ctx context.Context, path string, d *Descriptor, sigPath string) error {
	sum, err := Checksum(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChecksumMismatch, err)
	}
	if sum != d.MD5 {
		slog.Error("checksum: fail", slog.String("want", d.MD5), slog.String("got", sum))
		return fmt.Errorf("%w: want %s, got %s", ErrChecksumMismatch, d.MD5, sum)
	}
	slog.Info("checksum: pass", slog.String("md5", sum))

	if err := MarkExecutable(path); err != nil {
		return err
	}

	if sigPath != "" && in.keyringPath != "" {
		if err := VerifySignature(in.keyringPath, path, sigPath); err != nil {
			slog.Error("signature: fail", slog.String("err", err.Error()))
			return err
		}
		slog.Info("signature: pass")
	}

	lines, err := in.QueryVersion(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSanityCheckFailed, err)
	}
	if err := checkSanity(lines, d.Sanity); err != nil {
		slog.Error("version: fail", slog.String("err", err.Error()))
		return err
	}
	slog.Info("version: pass")
	return nil
}

func checkSanity(lines, want []string) error {
	if len(want) < 2 {
		return fmt.Errorf("%w: descriptor has %d sanity line(s)", ErrSanityCheckFailed, len(want))
	}
	if len(lines) < 2 {
		return fmt.Errorf("%w: version query printed %d line(s)", ErrSanityCheckFailed, len(lines))
	}
	for i := 0; i < 2; i++ {
		if lines[i] != want[i] {
			return fmt.Errorf("%w: line %d is %q, want %q", ErrSanityCheckFailed, i+1, lines[i], want[i])
		}
	}
	return nil
}

// QueryVersion runs "<path> version" and returns its output lines.
func (in *Installer) QueryVersion(ctx context.Context, path string) ([]string, error) {
	out, err := in.runVersion(ctx, path)
	if err != nil {
		return nil, err
	}
	return VersionLines(out), nil
}

func (in *Installer) runVersion(ctx context.Context, path string) (string, error) {
	if in.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.queryTimeout)
		defer cancel()
	}
	out, err := exec.CommandContext(ctx, path, "version").Output()
	if err != nil {
		return "", fmt.Errorf("run %s version: %w", filepath.Base(path), err)
	}
	return string(out), nil
}

// Promote moves a verified staged artifact to its versioned name and
// atomically repoints the active alias at it. A new symlink is created
// beside the alias and renamed over it, so readers see either the old or the
// new target.
func (in *Installer) Promote(staged, version string) (ActiveBinary, error) {
	if filepath.Dir(staged) != filepath.Clean(in.binDir) {
		return ActiveBinary{}, fmt.Errorf("%w: %s is not in %s", ErrInstall, staged, in.binDir)
	}
	final := in.VersionedPath(version)
	if err := os.Rename(staged, final); err != nil {
		return ActiveBinary{}, fmt.Errorf("%w: move into place: %v", ErrInstall, err)
	}
	_ = os.Remove(staged + ".sig")
	target := filepath.Base(final)
	tmp := filepath.Join(in.binDir, fmt.Sprintf(".%s.%d.tmp", in.tool, time.Now().UnixNano()))
	if err := os.Symlink(target, tmp); err != nil {
		return ActiveBinary{}, fmt.Errorf("%w: create symlink: %v", ErrInstall, err)
	}
	if err := os.Rename(tmp, in.ActivePath()); err != nil {
		_ = os.Remove(tmp)
		return ActiveBinary{}, fmt.Errorf("%w: replace active alias: %v", ErrInstall, err)
	}
	return ActiveBinary{Path: in.ActivePath(), Target: target}, nil
}

// Checksum returns the hex md5 of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func MarkExecutable(path string) error {
	if err := os.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("%w: chmod %s: %v", ErrInstall, path, err)
	}
	return nil
}

// VerifySignature checks a detached OpenPGP signature (armored or binary)
// of the file at path against the keyring.
func VerifySignature(keyringPath, path, sigPath string) error {
	keyring, err := loadKeyring(keyringPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	signed, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open binary: %v", ErrSignatureInvalid, err)
	}
	defer signed.Close()
	sig, err := os.Open(sigPath)
	if err != nil {
		return fmt.Errorf("%w: open signature: %v", ErrSignatureInvalid, err)
	}
	defer sig.Close()

	if _, err = openpgp.CheckArmoredDetachedSignature(keyring, signed, sig, nil); err != nil {
		_, _ = signed.Seek(0, io.SeekStart)
		_, _ = sig.Seek(0, io.SeekStart)
		_, err = openpgp.CheckDetachedSignature(keyring, signed, sig, nil)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}

func loadKeyring(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	defer f.Close()
	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		_, _ = f.Seek(0, io.SeekStart)
		keyring, err = openpgp.ReadKeyRing(f)
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}
	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}
	return keyring, nil
}
