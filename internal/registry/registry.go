// Package registry manages the per-user on-disk session registry.
//
// Each live session owns three files under a common directory:
//
//	<dir>/<name>.sock  — the daemon's listening Unix socket (0600)
//	<dir>/<name>.pid   — the daemon pid as ASCII decimal plus newline
//	<dir>/<name>.info  — newline-delimited key=value metadata
//
// The directory defaults to <temp-root>/moor-<uid>, mode 0700. Independent
// processes discover sessions by scanning it; there is no index service.
// Filesystem permissions are the only access control, so every operation
// refuses a directory that is a symlink, not a directory, or owned by a
// different uid.
package registry

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"go.mkern.dev/moor/internal/core"
)

const (
	dirPrefix  = "moor-"
	SockSuffix = ".sock"
	PidSuffix  = ".pid"
	InfoSuffix = ".info"
	LogSuffix  = ".log"

	// maxSockPath is a conservative sockaddr_un limit; 104 bytes including
	// the trailing NUL on the BSDs, 108 on Linux.
	maxSockPath = 103
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// ValidName reports whether name is an acceptable session name: 1–64 bytes
// of [A-Za-z0-9._-], and not "." or "..". Every subcommand that takes a name
// checks this before touching the registry, and Enumerate skips on-disk
// stems that fail it so a hostile file cannot appear as a session.
func ValidName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return nameRe.MatchString(name)
}

// Dir returns the registry directory for the invoking user.
func Dir() string {
	if d := core.Config.SocketDir; d != "" {
		return d
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s%d", dirPrefix, os.Getuid()))
}

// EnsureDir creates the registry directory if needed and verifies it is safe
// to use: a real directory (not a symlink), mode 0700, owned by the invoking
// uid. All registry operations fail closed when these checks fail.
func EnsureDir() (string, error) {
	dir := Dir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}

	var st unix.Stat_t
	if err := unix.Lstat(dir, &st); err != nil {
		return "", fmt.Errorf("stat session directory: %w", err)
	}
	if st.Mode&unix.S_IFMT == unix.S_IFLNK {
		return "", fmt.Errorf("session directory %s is a symlink", dir)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return "", fmt.Errorf("session directory %s is not a directory", dir)
	}
	if st.Uid != uint32(os.Getuid()) {
		return "", fmt.Errorf("session directory %s is owned by uid %d, not %d", dir, st.Uid, os.Getuid())
	}
	// MkdirAll leaves an existing directory's mode alone; tighten it.
	if st.Mode&0o777 != 0o700 {
		if err := os.Chmod(dir, 0o700); err != nil {
			return "", fmt.Errorf("chmod session directory: %w", err)
		}
	}
	return dir, nil
}

// SocketPath returns the socket path for name.
func SocketPath(name string) string { return filepath.Join(Dir(), name+SockSuffix) }

// PidPath returns the pid-file path for name.
func PidPath(name string) string { return filepath.Join(Dir(), name+PidSuffix) }

// InfoPath returns the info-file path for name.
func InfoPath(name string) string { return filepath.Join(Dir(), name+InfoSuffix) }

// LogPath returns the daemon log path for name. The log is a supplement to
// the three registry files and is removed with them by Cleanup: on clean
// shutdown, and after a crash once enumeration, create or kill cleans the
// stale session.
func LogPath(name string) string { return filepath.Join(Dir(), name+LogSuffix) }

// CheckSocketPath verifies that the socket path for name fits within the
// platform's sockaddr_un limit.
func CheckSocketPath(name string) error {
	if p := SocketPath(name); len(p) > maxSockPath {
		return fmt.Errorf("socket path too long (%d bytes): %s", len(p), p)
	}
	return nil
}

// WritePid writes the daemon pid file for name.
func WritePid(name string, pid int) error {
	return os.WriteFile(PidPath(name), []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

// ReadPid reads the daemon pid for name. Returns 0 and an error when the
// file is missing or malformed.
func ReadPid(name string) (int, error) {
	data, err := os.ReadFile(PidPath(name))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file for '%s': %w", name, err)
	}
	return pid, nil
}

// WriteInfo rewrites the info file for name. The daemon calls this on every
// client count change.
func WriteInfo(name string, pid, clients int, created int64, cmd string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", pid)
	fmt.Fprintf(&b, "clients=%d\n", clients)
	fmt.Fprintf(&b, "created=%d\n", created)
	fmt.Fprintf(&b, "cmd=%s\n", cmd)
	return os.WriteFile(InfoPath(name), []byte(b.String()), 0o600)
}

// Session is one registry record as seen by enumeration.
type Session struct {
	Name    string `json:"name"`
	Clients int    `json:"clients"`
	Created int64  `json:"created"`
	Cmd     string `json:"command"`
	Pid     int    `json:"pid"`
}

// ReadInfo parses the info file for name. Malformed lines are ignored so a
// partially written file degrades instead of failing.
func ReadInfo(name string) (Session, error) {
	s := Session{Name: name, Cmd: "bash"}
	data, err := os.ReadFile(InfoPath(name))
	if err != nil {
		return s, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if v, err := strconv.Atoi(value); err == nil {
				s.Pid = v
			}
		case "clients":
			if v, err := strconv.Atoi(value); err == nil {
				s.Clients = v
			}
		case "created":
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				s.Created = v
			}
		case "cmd":
			if value != "" {
				s.Cmd = value
			}
		}
	}
	return s, nil
}

// AlivePid reports whether pid exists and is signalable by the invoking
// user. Sessions never cross users, so EPERM counts as dead.
func AlivePid(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

// Alive reports whether a live daemon exists for name.
func Alive(name string) bool {
	pid, err := ReadPid(name)
	if err != nil {
		return false
	}
	return AlivePid(pid)
}

// Reachable reports whether the session's socket accepts a connection.
// Used by enumeration and on the create/open path, where a dead-but-listed
// socket means stale.
func Reachable(name string) bool {
	conn, err := net.DialTimeout("unix", SocketPath(name), 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Cleanup removes every registry file for name. Safe to race: each unlink is
// idempotent, and callers re-check liveness where it matters.
func Cleanup(name string) {
	os.Remove(SocketPath(name))
	os.Remove(PidPath(name))
	os.Remove(InfoPath(name))
	os.Remove(LogPath(name))
}

// Enumerate scans the registry and returns all live sessions. Stale entries
// (dead pid or unconnectable socket) have their files removed and are
// omitted. Stems that fail name validation are skipped entirely.
func Enumerate() ([]Session, error) {
	dir, err := EnsureDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read session directory: %w", err)
	}

	var sessions []Session
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), SockSuffix) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), SockSuffix)
		if !ValidName(name) {
			continue
		}
		pid, err := ReadPid(name)
		if err != nil || !AlivePid(pid) || !Reachable(name) {
			Cleanup(name)
			continue
		}
		s, _ := ReadInfo(name)
		s.Pid = pid
		sessions = append(sessions, s)
	}
	return sessions, nil
}
