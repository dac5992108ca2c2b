package session

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	"go.mkern.dev/moor/internal/registry"
)

const spawnWait = 1 * time.Second

// Create launches a detached daemon for the named session. Go cannot fork
// mid-process, so the daemon is the binary re-executed as `moor daemon
// <name>` in its own session with null stdio — the same shape every tool in
// this space uses.
//
// Create waits up to ~1 s for the socket to appear and then returns nil
// regardless: callers that need hard confirmation re-probe the registry.
func Create(name, cmdline string) error {
	if !registry.ValidName(name) {
		return fmt.Errorf("invalid session name %q", name)
	}
	if _, err := registry.EnsureDir(); err != nil {
		return err
	}
	if registry.Alive(name) {
		if registry.Reachable(name) {
			return fmt.Errorf("session '%s' already exists", name)
		}
		// Live pid with a dead socket is a broken daemon; treat as stale.
	}
	registry.Cleanup(name)
	if err := registry.CheckSocketPath(name); err != nil {
		return err
	}

	exe := os.Getenv("MOOR_BIN")
	if exe == "" {
		var err error
		exe, err = os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
	}

	args := []string{"daemon", name}
	if cmdline != "" {
		args = append(args, cmdline)
	}

	cmd := exec.Command(exe, args...)
	// Nil stdio descriptors become /dev/null; Setsid detaches from the
	// controlling terminal so the daemon survives the caller.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}
	go cmd.Wait()

	if !waitForSocket(name, spawnWait) {
		slog.Warn("daemon socket did not appear in time", "name", name)
	}
	return nil
}

// waitForSocket watches the registry directory for the session socket,
// falling back to a 50 ms poll when no watcher is available.
func waitForSocket(name string, timeout time.Duration) bool {
	socketPath := registry.SocketPath(name)

	// A nil channel never fires in the select below, so a failed watcher
	// silently degrades to the poll tick.
	var watchEvents <-chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if watcher.Add(registry.Dir()) == nil {
			watchEvents = watcher.Events
		}
	}

	deadline := time.After(timeout)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		if _, err := os.Stat(socketPath); err == nil {
			return true
		}
		select {
		case <-watchEvents:
		case <-tick.C:
		case <-deadline:
			return false
		}
	}
}

// Open attaches to the named session, creating it first if no live daemon
// exists. Stale registry files are cleaned on the way.
func Open(name, cmdline string) (int, error) {
	if !registry.ValidName(name) {
		return 1, fmt.Errorf("invalid session name %q", name)
	}
	if _, err := registry.EnsureDir(); err != nil {
		return 1, err
	}

	if registry.Alive(name) && registry.Reachable(name) {
		return Attach(name)
	}
	if _, err := os.Stat(registry.SocketPath(name)); err == nil {
		registry.Cleanup(name)
	}
	if err := Create(name, cmdline); err != nil {
		return 1, err
	}
	time.Sleep(100 * time.Millisecond)
	return Attach(name)
}

// Kill terminates the named session's daemon, escalating SIGTERM → SIGKILL,
// and cleans the registry. Killing an unknown or already-dead session is an
// error but still leaves the registry clean.
func Kill(name string) error {
	if !registry.ValidName(name) {
		return fmt.Errorf("invalid session name %q", name)
	}
	if _, err := registry.EnsureDir(); err != nil {
		return err
	}

	pid, err := registry.ReadPid(name)
	if err != nil || !registry.AlivePid(pid) {
		registry.Cleanup(name)
		return fmt.Errorf("no session '%s'", name)
	}

	unix.Kill(pid, unix.SIGTERM)
	for i := 0; i < 10; i++ {
		time.Sleep(100 * time.Millisecond)
		if !registry.AlivePid(pid) {
			break
		}
	}
	if registry.AlivePid(pid) {
		unix.Kill(pid, unix.SIGKILL)
	}

	registry.Cleanup(name)
	return nil
}
