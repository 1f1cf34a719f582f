package fuse

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/levelfs/levelfs/pkg/utils"
)

// MountConfig contains mount-specific configuration
type MountConfig struct {
	MountPoint string
	FSName     string
	AllowOther bool
	ReadOnly   bool
	Debug      bool

	AttrTimeout     time.Duration
	EntryTimeout    time.Duration
	NegativeTimeout time.Duration

	// Options are passed to the kernel verbatim.
	Options []string
}

// DefaultMountConfig returns the standard timeouts for mountPoint.
func DefaultMountConfig(mountPoint string) MountConfig {
	return MountConfig{
		MountPoint:      mountPoint,
		FSName:          "levelfs",
		AttrTimeout:     time.Second,
		EntryTimeout:    time.Second,
		NegativeTimeout: 100 * time.Millisecond,
	}
}

// MountManager manages FUSE mount operations
type MountManager struct {
	filesystem *FileSystem
	config     MountConfig
	logger     *slog.Logger

	mu      sync.Mutex
	server  *fuse.Server
	mounted bool
	done    chan struct{}
}

// NewMountManager creates a new mount manager
func NewMountManager(filesystem *FileSystem, config MountConfig, logger *slog.Logger) *MountManager {
	if config.FSName == "" {
		config.FSName = "levelfs"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MountManager{
		filesystem: filesystem,
		config:     config,
		logger:     logger.With("component", "mount"),
	}
}

// Mount mounts the filesystem and starts serving it in the background. It
// returns once the kernel has accepted the mount.
func (m *MountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return fmt.Errorf("filesystem is already mounted")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mountPoint, err := m.validateMountPoint()
	if err != nil {
		return fmt.Errorf("invalid mount point: %w", err)
	}
	m.config.MountPoint = mountPoint

	server, err := fs.Mount(mountPoint, m.filesystem.Root(), m.buildFUSEOptions())
	if err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	m.server = server
	m.mounted = true
	m.done = make(chan struct{})
	m.logger.Info("filesystem mounted", "mount_point", mountPoint, "read_only", m.config.ReadOnly)

	done := m.done
	go func() {
		server.Wait()
		m.mu.Lock()
		m.mounted = false
		m.mu.Unlock()
		m.logger.Info("FUSE server stopped", "mount_point", mountPoint)
		close(done)
	}()

	return nil
}

// Unmount asks the kernel to detach the mount. If the mount is busy it falls
// back to a lazy unmount, which detaches now and completes when the last
// user goes away.
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	server, mounted := m.server, m.mounted
	m.mu.Unlock()

	if server == nil || !mounted {
		return fmt.Errorf("filesystem is not mounted")
	}

	m.logger.Info("unmounting filesystem", "mount_point", m.config.MountPoint)

	if err := server.Unmount(); err != nil {
		m.logger.Warn("normal unmount failed, trying lazy unmount", "error", err)
		if lazyErr := lazyUnmount(m.config.MountPoint, m.logger); lazyErr != nil {
			return fmt.Errorf("unmount failed: %w (lazy unmount also failed: %v)", err, lazyErr)
		}
	}
	return nil
}

// Replaced in tests.
var (
	detachMount = func(mountPoint string) error {
		return unix.Unmount(mountPoint, unix.MNT_DETACH)
	}
	runHelper = func(name string, args ...string) error {
		out, err := exec.Command(name, args...).CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
		}
		return nil
	}
)

// fusermountHelpers are tried in order when the process may not detach the
// mount itself.
var fusermountHelpers = []string{"fusermount", "fusermount3"}

// lazyUnmount detaches mountPoint and lets the kernel finish once it is idle.
// Without CAP_SYS_ADMIN the detach goes through the setuid fusermount helper.
func lazyUnmount(mountPoint string, logger *slog.Logger) error {
	err := detachMount(mountPoint)
	if err == nil || !errors.Is(err, unix.EPERM) {
		return err
	}

	errs := []error{err}
	for _, helper := range fusermountHelpers {
		herr := runHelper(helper, "-u", "-z", mountPoint)
		if herr == nil {
			logger.Info("lazy unmount through helper", "helper", helper, "mount_point", mountPoint)
			return nil
		}
		errs = append(errs, herr)
	}
	return errors.Join(errs...)
}

// IsMounted checks if the filesystem is currently mounted
func (m *MountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// Done is closed when the server stops, whether through Unmount or an
// external umount. It is nil before Mount.
func (m *MountManager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Wait blocks until the server stops
func (m *MountManager) Wait() {
	if done := m.Done(); done != nil {
		<-done
	}
}

// Helper methods

func (m *MountManager) validateMountPoint() (string, error) {
	mountPoint, err := utils.ValidateMountPoint(m.config.MountPoint)
	if err != nil {
		return "", err
	}

	entries, err := os.ReadDir(mountPoint)
	if err != nil {
		return "", fmt.Errorf("cannot read mount point directory: %w", err)
	}
	if len(entries) > 0 {
		m.logger.Warn("mount point is not empty", "mount_point", mountPoint)
	}

	mounted, err := isMountPoint("/proc/self/mounts", mountPoint)
	if err != nil {
		m.logger.Debug("cannot read mount table", "error", err)
	}
	if mounted {
		return "", fmt.Errorf("mount point %s is already mounted", mountPoint)
	}

	return mountPoint, nil
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	attrTimeout := m.config.AttrTimeout
	entryTimeout := m.config.EntryTimeout
	negativeTimeout := m.config.NegativeTimeout

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:        m.config.FSName,
			Name:          "levelfs",
			Debug:         m.config.Debug,
			AllowOther:    m.config.AllowOther,
			DisableXAttrs: true,
		},
		AttrTimeout:     &attrTimeout,
		EntryTimeout:    &entryTimeout,
		NegativeTimeout: &negativeTimeout,
	}

	if m.config.ReadOnly {
		opts.Options = append(opts.Options, "ro")
	}
	opts.Options = append(opts.Options, m.config.Options...)

	return opts
}

// isMountPoint reports whether mountPoint appears as a mount target in the
// mount table at table.
func isMountPoint(table, mountPoint string) (bool, error) {
	f, err := os.Open(table)
	if err != nil {
		return false, err
	}
	defer f.Close()

	mountPoint = filepath.Clean(mountPoint)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if unescapeMountField(fields[1]) == mountPoint {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// unescapeMountField decodes the octal escapes the kernel uses for spaces,
// tabs, newlines and backslashes in mount table fields.
func unescapeMountField(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			b.WriteByte((s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}
