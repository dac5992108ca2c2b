package session

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"go.mkern.dev/moor/internal/protocol"
	"go.mkern.dev/moor/internal/registry"
)

// DetachByte is the in-band escape a client watches for on stdin: Ctrl+\.
// It is never forwarded to the PTY.
const DetachByte = 0x1C

// Attach connects the calling terminal to the named session and blocks
// until the session ends or the user detaches. The returned code is the
// process exit status: the child's exit code when the session ended, 0 on
// user detach.
func Attach(name string) (int, error) {
	if !registry.ValidName(name) {
		return 1, fmt.Errorf("invalid session name %q", name)
	}
	if _, err := registry.EnsureDir(); err != nil {
		return 1, err
	}

	conn, err := net.Dial("unix", registry.SocketPath(name))
	if err != nil {
		return 1, fmt.Errorf("no session '%s'", name)
	}
	defer conn.Close()

	fd := int(os.Stdin.Fd())
	cols, rows := terminalSize(fd)
	if err := protocol.WriteHello(conn, cols, rows); err != nil {
		return 1, fmt.Errorf("handshake with session '%s': %w", name, err)
	}

	// Raw mode so keystrokes pass through unmodified. Restored on every
	// exit path before anything is printed.
	var oldState *term.State
	if term.IsTerminal(fd) {
		oldState, err = term.MakeRaw(fd)
		if err != nil {
			return 1, fmt.Errorf("set raw mode: %w", err)
		}
	}
	restore := func() {
		if oldState != nil {
			term.Restore(fd, oldState)
			oldState = nil
		}
	}
	defer restore()

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)

	done := make(chan struct{}, 1)
	finish := func() {
		select {
		case done <- struct{}{}:
		default:
		}
	}

	var detached bool
	var exitCode int

	// Stdin → DATA frames, with detach-byte scanning.
	go func() {
		buf := make([]byte, readBufSize)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				forward, wantDetach := scanDetach(buf[:n])
				if wantDetach {
					protocol.WriteDetach(conn)
					detached = true
					finish()
					return
				}
				if err := protocol.WriteData(conn, forward); err != nil {
					finish()
					return
				}
			}
			if err != nil {
				finish()
				return
			}
		}
	}()

	// Socket → stdout, until EXIT or hang-up.
	go func() {
		for {
			msgType, payload, err := protocol.ReadMessage(conn)
			if err != nil {
				finish()
				return
			}
			switch msgType {
			case protocol.MsgData:
				os.Stdout.Write(payload)
			case protocol.MsgExit:
				if len(payload) > 0 {
					exitCode = int(payload[0])
				}
				finish()
				return
			default:
				// Ignore anything the daemon may grow to send.
			}
		}
	}()

	// Window-size changes → WINCH frames.
	go func() {
		for range winchCh {
			cols, rows := terminalSize(fd)
			protocol.WriteWinch(conn, cols, rows)
		}
	}()

	<-done
	restore()

	if detached {
		fmt.Fprintf(os.Stderr, "\r\n[detached from '%s']\r\n", name)
		return 0, nil
	}
	return exitCode, nil
}

// scanDetach inspects one stdin read. When the detach byte appears anywhere
// in buf, the whole read is discarded and the client detaches; the byte is
// never forwarded to the PTY.
func scanDetach(buf []byte) (forward []byte, detach bool) {
	if bytes.IndexByte(buf, DetachByte) >= 0 {
		return nil, true
	}
	return buf, false
}

// terminalSize returns the controlling terminal's size, defaulting to 80×24
// when there is no terminal (scripted clients, pipes).
func terminalSize(fd int) (cols, rows uint16) {
	if c, r, err := term.GetSize(fd); err == nil && c > 0 && r > 0 {
		return uint16(c), uint16(r)
	}
	return 80, 24
}
