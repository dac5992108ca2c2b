// Package session implements both halves of a moor session: the daemon that
// owns the PTY and the client that attaches a terminal to it.
//
// Architecture of a running daemon:
//
//	child shell ◄── PTY slave
//	      PTY master
//	        │
//	  readLoop ── broadcast ──► client sockets (DATA frames)
//	        ▲
//	  per-client readers (DATA / WINCH / DETACH frames)
//
// One goroutine accepts connections, one drains the PTY and broadcasts, one
// per client decodes its frames, and one waits on the child. The client set
// is guarded by a single mutex; broadcast writes happen sequentially under
// it, so every client sees DATA in PTY production order. A client that
// cannot be written to within a second is detached rather than allowed to
// back-pressure the PTY.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/lmittmann/tint"
	"golang.org/x/sys/unix"

	"go.mkern.dev/moor/internal/core"
	"go.mkern.dev/moor/internal/db"
	"go.mkern.dev/moor/internal/protocol"
	"go.mkern.dev/moor/internal/registry"
)

const (
	// readBufSize bounds a single PTY read and therefore a single DATA frame.
	readBufSize = 8192

	helloTimeout  = 2 * time.Second
	clientTimeout = 30 * time.Second
	writeTimeout  = 1 * time.Second
)

// Daemon is one session: a PTY-wrapped child shell plus the socket its
// clients attach to.
type Daemon struct {
	name    string
	cmdline string // originating command; empty means a plain shell
	created time.Time

	ptmx     *os.File
	cmd      *exec.Cmd
	listener net.Listener
	events   *db.DB // nil when history is disabled or unavailable

	mu      sync.Mutex
	clients map[net.Conn]struct{}

	exitOnce  sync.Once
	exitCode  int
	childDone chan struct{}
}

// NewDaemon returns a daemon for the named session. cmdline is the command
// string passed to the shell with -c, or empty for an interactive shell.
func NewDaemon(name, cmdline string) *Daemon {
	return &Daemon{
		name:      name,
		cmdline:   cmdline,
		created:   time.Now(),
		clients:   make(map[net.Conn]struct{}),
		childDone: make(chan struct{}),
	}
}

// Run owns the whole daemon lifecycle and blocks until the session ends.
// It returns the child's exit code, which the caller uses as the process
// exit status.
func (d *Daemon) Run() int {
	if !registry.ValidName(d.name) {
		fmt.Fprintf(os.Stderr, "invalid session name %q\n", d.name)
		return 1
	}
	if _, err := registry.EnsureDir(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if registry.Alive(d.name) {
		fmt.Fprintf(os.Stderr, "session '%s' already exists\n", d.name)
		return 1
	}
	registry.Cleanup(d.name)
	if err := registry.CheckSocketPath(d.name); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	d.setupLogging()

	if err := d.startChild(); err != nil {
		slog.Error("start child", "error", err)
		if isExecFailure(err) {
			// The conventional not-executable status. Unlike a forked
			// child, Go surfaces the exec error before the listener or
			// registry files exist, so there is no client to notify.
			return 127
		}
		return 1
	}

	socketPath := registry.SocketPath(d.name)
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		slog.Error("listen", "path", socketPath, "error", err)
		d.terminateChild()
		return 1
	}
	d.listener = listener
	os.Chmod(socketPath, 0o600)

	if err := registry.WritePid(d.name, os.Getpid()); err != nil {
		slog.Error("write pid file", "error", err)
	}
	d.writeInfo(0)

	if core.Config.History {
		if events, err := db.Open(db.Path()); err == nil {
			d.events = events
			d.events.LogSessionEvent(d.name, "created", d.cmdline)
		} else {
			slog.Warn("event store unavailable", "error", err)
		}
	}

	slog.Info("session started", "name", d.name, "pid", os.Getpid(), "child", d.cmd.Process.Pid)

	// SIGTERM/SIGINT end the session by terminating the child; the waiter
	// then unwinds the rest. The runtime already ignores SIGPIPE on
	// sockets, so a dead client cannot kill the daemon.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigChan
		slog.Info("terminating on signal", "signal", sig)
		d.terminateChild()
	}()

	// Child waiter: captures the exit code exactly once.
	go func() {
		waitErr := d.cmd.Wait()
		d.recordExit(exitStatus(waitErr))
		close(d.childDone)
	}()

	go d.acceptLoop()

	d.readLoop()

	// PTY EOF without a dead child (or a read error) still ends the
	// session; make sure the child is gone before reporting.
	d.terminateChild()
	<-d.childDone

	d.shutdown()
	return d.exitCode
}

// startChild allocates the PTY and starts the shell. The shell is $SHELL
// (or the configured override) falling back to /bin/bash, invoked as a
// login shell, with -c <cmd> when a command string was supplied.
func (d *Daemon) startChild() error {
	shell := core.Config.Shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/bash"
	}

	args := []string{"-l"}
	if d.cmdline != "" {
		args = append(args, "-c", d.cmdline)
	}

	cmd := exec.Command(shell, args...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	// Size is provisional; the first HELLO overwrites it.
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 80, Rows: 24})
	if err != nil {
		return fmt.Errorf("pty start: %w", err)
	}
	d.ptmx = ptmx
	d.cmd = cmd
	return nil
}

// setupLogging points slog at the per-session log file; the daemon's stderr
// is /dev/null once spawned.
func (d *Daemon) setupLogging() {
	f, err := os.OpenFile(registry.LogPath(d.name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(f, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.DateTime,
			NoColor:    true,
		}),
	))
}

// readLoop drains the PTY master and broadcasts each chunk to every
// attached client. It returns when the PTY reports EOF or a non-retryable
// error, which on Linux is how child exit manifests (EIO).
func (d *Daemon) readLoop() {
	buf := make([]byte, readBufSize)
	for {
		n, err := d.ptmx.Read(buf)
		if n > 0 {
			d.broadcast(buf[:n])
		}
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				continue
			}
			return
		}
	}
}

// broadcast sends one DATA frame to every client. The lock is held across
// the whole pass so each client receives chunks in PTY production order.
// Clients that cannot be written within writeTimeout are dropped.
func (d *Daemon) broadcast(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var doomed []net.Conn
	for conn := range d.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := protocol.WriteData(conn, data); err != nil {
			doomed = append(doomed, conn)
		}
	}
	for _, conn := range doomed {
		delete(d.clients, conn)
		conn.Close()
		if d.events != nil {
			d.events.LogSessionEvent(d.name, "client_dropped", "write stalled or failed")
		}
	}
	if len(doomed) > 0 {
		d.writeInfoLocked()
	}
}

func (d *Daemon) acceptLoop() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			return // listener closed, shutdown in progress
		}
		go d.handleClient(conn)
	}
}

// handleClient performs the HELLO handshake and then forwards the client's
// frames to the PTY until it detaches, hangs up, or misbehaves.
func (d *Daemon) handleClient(conn net.Conn) {
	d.mu.Lock()
	full := len(d.clients) >= core.Config.MaxClients
	d.mu.Unlock()
	if full {
		conn.Close()
		return
	}

	// The handshake: exactly one HELLO, within helloTimeout, carrying the
	// client's window size. Anything else rejects the attachment before it
	// is ever counted.
	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	msgType, payload, err := protocol.ReadMessage(conn)
	if err != nil || msgType != protocol.MsgHello {
		conn.Close()
		return
	}
	cols, rows, err := protocol.ParseWinsize(payload)
	if err != nil {
		conn.Close()
		return
	}
	d.resize(cols, rows)

	d.mu.Lock()
	if len(d.clients) >= core.Config.MaxClients {
		d.mu.Unlock()
		conn.Close()
		return
	}
	d.clients[conn] = struct{}{}
	d.writeInfoLocked()
	d.mu.Unlock()

	slog.Info("client attached", "name", d.name, "clients", d.clientCount())
	if d.events != nil {
		d.events.LogSessionEvent(d.name, "attached", "")
	}

	for {
		conn.SetReadDeadline(time.Now().Add(clientTimeout))
		msgType, payload, err := protocol.ReadMessage(conn)
		if err != nil {
			break
		}
		switch msgType {
		case protocol.MsgData:
			d.ptmx.Write(payload)
		case protocol.MsgWinch:
			if cols, rows, err := protocol.ParseWinsize(payload); err == nil {
				d.resize(cols, rows)
			}
		case protocol.MsgDetach:
			d.removeClient(conn, "detached")
			return
		default:
			// Unknown types are ignored for forward compatibility.
		}
	}
	d.removeClient(conn, "disconnected")
}

// removeClient drops conn from the client set and rewrites the info file.
// Idempotent: broadcast may already have removed it.
func (d *Daemon) removeClient(conn net.Conn, reason string) {
	d.mu.Lock()
	_, present := d.clients[conn]
	if present {
		delete(d.clients, conn)
		d.writeInfoLocked()
	}
	d.mu.Unlock()
	conn.Close()

	if present {
		slog.Info("client removed", "name", d.name, "reason", reason)
		if d.events != nil {
			d.events.LogSessionEvent(d.name, "detached", reason)
		}
	}
}

func (d *Daemon) resize(cols, rows uint16) {
	pty.Setsize(d.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

func (d *Daemon) clientCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *Daemon) writeInfo(clients int) {
	if err := registry.WriteInfo(d.name, os.Getpid(), clients, d.created.Unix(), d.displayCmd()); err != nil {
		slog.Warn("write info file", "error", err)
	}
}

// writeInfoLocked rewrites the info file with the current client count.
// Callers must hold d.mu.
func (d *Daemon) writeInfoLocked() {
	registry.WriteInfo(d.name, os.Getpid(), len(d.clients), d.created.Unix(), d.displayCmd())
}

func (d *Daemon) displayCmd() string {
	if d.cmdline == "" {
		return "bash"
	}
	return d.cmdline
}

// recordExit captures the child's exit code exactly once. Only the child
// waiter calls it, whether the child dies on its own or is ended by
// terminateChild (the waiter then records 128+signo).
func (d *Daemon) recordExit(code int) {
	d.exitOnce.Do(func() {
		d.exitCode = code
	})
}

// terminateChild ends the child if it is still running, escalating
// SIGHUP → SIGTERM → SIGKILL with short waits between. The PTY child is its
// own session leader, so the whole group is signalled.
func (d *Daemon) terminateChild() {
	if d.cmd == nil || d.cmd.Process == nil {
		return
	}
	pid := d.cmd.Process.Pid

	for _, sig := range []unix.Signal{unix.SIGHUP, unix.SIGTERM, unix.SIGKILL} {
		if !registry.AlivePid(pid) {
			return
		}
		pgid, err := unix.Getpgid(pid)
		if err == nil && pgid > 0 {
			unix.Kill(-pgid, sig)
		} else {
			unix.Kill(pid, sig)
		}
		for i := 0; i < 2; i++ {
			time.Sleep(50 * time.Millisecond)
			if !registry.AlivePid(pid) {
				return
			}
		}
	}
}

// shutdown broadcasts EXIT, tears down all connections, and removes the
// registry files. Clean exits leave nothing behind.
func (d *Daemon) shutdown() {
	d.mu.Lock()
	for conn := range d.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		protocol.WriteExit(conn, byte(d.exitCode))
		conn.Close()
	}
	d.clients = make(map[net.Conn]struct{})
	d.mu.Unlock()

	if d.listener != nil {
		d.listener.Close()
	}
	d.ptmx.Close()

	slog.Info("session ended", "name", d.name, "exit_code", d.exitCode)
	if d.events != nil {
		d.events.LogSessionEvent(d.name, "exited", fmt.Sprintf("exit code %d", d.exitCode))
		d.events.Close()
	}

	registry.Cleanup(d.name)
}

// isExecFailure reports whether the shell itself could not be executed,
// as opposed to PTY allocation failing.
func isExecFailure(err error) bool {
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission)
}

// exitStatus maps a Wait error to the exit code contract: the child's own
// status for normal exits, 128+signo when killed by a signal.
func exitStatus(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 128 + int(ws.Signal())
			}
			return ws.ExitStatus()
		}
	}
	return 1
}
